package alpaca

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFeed 模拟 Alpaca 行情服务端
type fakeFeed struct {
	t        *testing.T
	secret   string
	mu       sync.Mutex
	actions  []actionMsg
	gotUnsub chan struct{}
	once     sync.Once

	// dropFirst 第一个连接在回复订阅后立即断开
	dropFirst bool
	// rejectAfterFirst 第一个连接之后的鉴权全部失败
	rejectAfterFirst bool
	conns            int
}

func newFakeFeed(t *testing.T, secret string) (*fakeFeed, *httptest.Server) {
	f := &fakeFeed{t: t, secret: secret, gotUnsub: make(chan struct{})}
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		f.mu.Lock()
		f.conns++
		n := f.conns
		f.mu.Unlock()
		f.serve(conn, n)
	}))
	return f, srv
}

func (f *fakeFeed) serve(conn *websocket.Conn, n int) {
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"T":"success","msg":"connected"}]`))
	for {
		var a actionMsg
		if err := conn.ReadJSON(&a); err != nil {
			return
		}
		f.mu.Lock()
		f.actions = append(f.actions, a)
		f.mu.Unlock()

		switch a.Action {
		case "auth":
			if a.Secret != f.secret || (f.rejectAfterFirst && n > 1) {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"T":"error","code":402,"msg":"auth failed"}]`))
				return
			}
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"T":"success","msg":"authenticated"}]`))
		case "subscribe":
			b, _ := json.Marshal(a.Trades)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"T":"subscription","trades":`+string(b)+`}]`))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(
				`[{"T":"t","S":"ABCD","i":1,"x":"V","p":11.25,"s":300,"t":"2026-10-15T13:30:01.5Z","c":["@"],"z":"C"},`+
					`{"T":"t","S":"WXYZ","i":2,"x":"V","p":4.1,"s":100,"t":"2026-10-15T13:30:02Z","c":["@"],"z":"C"}]`))
			if f.dropFirst && n == 1 {
				return
			}
		case "unsubscribe":
			f.once.Do(func() { close(f.gotUnsub) })
		}
	}
}

func (f *fakeFeed) subscribes() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, a := range f.actions {
		if a.Action == "subscribe" {
			out = append(out, a.Trades)
		}
	}
	return out
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStream_AuthSubscribeAndTrades(t *testing.T) {
	feed, srv := newFakeFeed(t, "secret")
	defer srv.Close()

	s := NewStream(wsURL(srv), "key", "secret")
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.SubscribeTrades(ctx, []string{"ABCD", "WXYZ"}))

	got := make([]string, 0, 2)
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case tr := <-s.Trades():
			got = append(got, tr.Symbol)
			if tr.Symbol == "ABCD" {
				assert.Equal(t, 11.25, tr.Price)
				assert.Equal(t, int64(300), tr.Size)
				assert.Equal(t, time.Date(2026, 10, 15, 13, 30, 1, 500_000_000, time.UTC), tr.Timestamp.UTC())
			}
		case <-timeout:
			t.Fatal("未收到成交")
		}
	}
	assert.Equal(t, []string{"ABCD", "WXYZ"}, got)

	require.NoError(t, s.Close())
	select {
	case <-feed.gotUnsub:
	case <-time.After(2 * time.Second):
		t.Fatal("关闭时应发送 unsubscribe")
	}

	// 通道已关闭
	_, ok := <-s.Trades()
	assert.False(t, ok)

	// 重复关闭是 no-op
	assert.NoError(t, s.Close())
}

func TestStream_ReconnectsAndResubscribes(t *testing.T) {
	feed, srv := newFakeFeed(t, "secret")
	defer srv.Close()
	feed.dropFirst = true

	s := NewStream(wsURL(srv), "key", "secret")
	s.reconnectDelay = 10 * time.Millisecond
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	defer s.Close()
	require.NoError(t, s.SubscribeTrades(ctx, []string{"ABCD", "WXYZ"}))

	// 断线前 2 笔 + 重连后 2 笔
	n := 0
	timeout := time.After(3 * time.Second)
	for n < 4 {
		select {
		case _, ok := <-s.Trades():
			require.True(t, ok, "重连期间成交通道不应关闭")
			n++
		case <-timeout:
			t.Fatalf("重连后未恢复成交，已收到 %d 笔", n)
		}
	}

	select {
	case <-s.Reconnected():
	case <-time.After(time.Second):
		t.Fatal("重连成功后应发出信号")
	}

	subs := feed.subscribes()
	require.Len(t, subs, 2)
	assert.Equal(t, []string{"ABCD", "WXYZ"}, subs[0])
	assert.Equal(t, subs[0], subs[1], "重连后按原标的重新订阅")
}

func TestStream_GivesUpAfterMaxReconnects(t *testing.T) {
	feed, srv := newFakeFeed(t, "secret")
	defer srv.Close()
	feed.dropFirst = true
	feed.rejectAfterFirst = true

	s := NewStream(wsURL(srv), "key", "secret")
	s.reconnectDelay = 5 * time.Millisecond
	s.maxReconnects = 2
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	defer s.Close()
	require.NoError(t, s.SubscribeTrades(ctx, []string{"ABCD"}))

	// 断线前的 2 笔成交，之后重连全部鉴权失败，成交通道关闭
	n := 0
	timeout := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-s.Trades():
			if !ok {
				assert.Equal(t, 2, n)
				feed.mu.Lock()
				assert.Equal(t, 3, feed.conns, "首次连接 + 2 次重连")
				feed.mu.Unlock()
				return
			}
			n++
		case <-timeout:
			t.Fatal("重连失败后应关闭成交通道")
		}
	}
}

func TestStream_AuthFailure(t *testing.T) {
	_, srv := newFakeFeed(t, "secret")
	defer srv.Close()

	s := NewStream(wsURL(srv), "key", "wrong")
	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth failed")
}

func TestStream_CloseWithoutConnect(t *testing.T) {
	s := NewStream("ws://127.0.0.1:0", "k", "s")
	assert.NoError(t, s.Close())
	_, ok := <-s.Trades()
	assert.False(t, ok)
	assert.Error(t, s.Connect(context.Background()), "关闭后不能再连接")
}

func TestWireMsg_TimestampDoesNotClobberType(t *testing.T) {
	var msgs []wireMsg
	require.NoError(t, json.Unmarshal([]byte(`[{"T":"t","S":"A","p":1.5,"s":10,"t":"2026-10-15T13:30:00Z"}]`), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "t", msgs[0].T)
	assert.Equal(t, "A", msgs[0].Symbol)
	assert.Equal(t, int64(10), msgs[0].Size)
}

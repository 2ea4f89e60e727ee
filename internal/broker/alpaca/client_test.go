package alpaca

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/hodbot/internal/broker"
	"github.com/betbot/hodbot/internal/domain"
	"github.com/betbot/hodbot/pkg/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.AlpacaConfig{
		APIKey:    "key",
		SecretKey: "secret",
		BaseURL:   srv.URL,
		DataURL:   srv.URL,
		Feed:      "iex",
	})
}

func TestSubmitOrder_BracketPayload(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/orders", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		assert.Equal(t, "secret", r.Header.Get("APCA-API-SECRET-KEY"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"id":"ord-1","client_order_id":"cid-1","status":"accepted"}`))
	})

	order, err := domain.NewBracketBuyOrder("ABCD", 50, 10, 0.05, 0.025)
	require.NoError(t, err)
	ack, err := c.SubmitOrder(context.Background(), order)
	require.NoError(t, err)

	assert.Equal(t, "ord-1", ack.OrderID)
	assert.Equal(t, "ABCD", body["symbol"])
	assert.Equal(t, "50", body["qty"])
	assert.Equal(t, "buy", body["side"])
	assert.Equal(t, "market", body["type"])
	assert.Equal(t, "day", body["time_in_force"])
	assert.Equal(t, "bracket", body["order_class"])
	assert.Equal(t, map[string]any{"limit_price": "10.50"}, body["take_profit"])
	assert.Equal(t, map[string]any{"stop_price": "9.75"}, body["stop_loss"])
	assert.Equal(t, order.ClientOrderID, body["client_order_id"])
}

func TestSubmitOrder_ClassifiesErrors(t *testing.T) {
	status := int32(http.StatusUnprocessableEntity)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(atomic.LoadInt32(&status)))
		_, _ = w.Write([]byte(`{"code":42210000,"message":"qty must be > 0"}`))
	})
	order, _ := domain.NewBracketBuyOrder("ABCD", 1, 10, 0.05, 0.025)

	_, err := c.SubmitOrder(context.Background(), order)
	require.Error(t, err)
	assert.False(t, broker.IsRetryable(err), "422 为永久错误")

	atomic.StoreInt32(&status, http.StatusServiceUnavailable)
	_, err = c.SubmitOrder(context.Background(), order)
	require.Error(t, err)
	assert.True(t, broker.IsRetryable(err), "503 可重试")
}

func TestOrderByClientID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/orders:by_client_order_id", r.URL.Path)
		if r.URL.Query().Get("client_order_id") != "cid-1" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":40410000,"message":"order not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"ord-9","client_order_id":"cid-1","status":"new"}`))
	})

	ack, err := c.OrderByClientID(context.Background(), "cid-1")
	require.NoError(t, err)
	assert.Equal(t, "ord-9", ack.OrderID)
	assert.Equal(t, "new", ack.Status)

	_, err = c.OrderByClientID(context.Background(), "cid-2")
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrOrderNotFound)
}

func TestOpenOrderIDs_IncludesLegs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "open", r.URL.Query().Get("status"))
		_, _ = w.Write([]byte(`[{"id":"p1","legs":[{"id":"tp1"},{"id":"sl1"}]},{"id":"p2"}]`))
	})
	ids, err := c.OpenOrderIDs(context.Background())
	require.NoError(t, err)
	for _, id := range []string{"p1", "tp1", "sl1", "p2"} {
		assert.Contains(t, ids, id)
	}
	assert.Len(t, ids, 4)
}

func TestAccountEquity_ParsesAndCaches(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"equity":"25123.45","cash":"1000"}`))
	})
	eq, err := c.AccountEquity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25123.45, eq)

	_, err = c.AccountEquity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "短时间内命中缓存")
}

func TestAccountEquity_BadNumber(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"equity":"n/a"}`))
	})
	_, err := c.AccountEquity(context.Background())
	assert.Error(t, err)
}

func TestDailyBars_KeepsLastN(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/stocks/ABCD/bars", r.URL.Path)
		assert.Equal(t, "1Day", r.URL.Query().Get("timeframe"))
		assert.Equal(t, "iex", r.URL.Query().Get("feed"))
		_, _ = w.Write([]byte(`{"bars":[
			{"t":"2026-10-12T04:00:00Z","o":1,"h":1,"l":1,"c":9,"v":100},
			{"t":"2026-10-13T04:00:00Z","o":1,"h":1,"l":1,"c":10,"v":200},
			{"t":"2026-10-14T04:00:00Z","o":1,"h":1,"l":1,"c":11,"v":300}
		],"symbol":"ABCD","next_page_token":null}`))
	})
	c.now = func() time.Time { return time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC) }

	bars, err := c.DailyBars(context.Background(), "abcd", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 10.0, bars[0].Close)
	assert.Equal(t, 11.0, bars[1].Close)
	assert.Equal(t, 300.0, bars[1].Volume)
}

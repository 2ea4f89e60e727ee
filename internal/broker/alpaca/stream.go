package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/betbot/hodbot/internal/broker"
	"github.com/betbot/hodbot/internal/domain"
	"github.com/betbot/hodbot/pkg/sigchan"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 20 * time.Second
	handshakeWait  = 10 * time.Second
	writeWait      = 5 * time.Second
	tradeBufferLen = 1024
)

// wireMsg 行情流消息。所有字段放在同一个结构里：
// encoding/json 对 key 大小写不敏感，缺少 "t" 字段时时间戳会覆盖 "T"。
type wireMsg struct {
	T      string          `json:"T"`
	Msg    string          `json:"msg"`
	Code   int             `json:"code"`
	Symbol string          `json:"S"`
	Price  float64         `json:"p"`
	Size   int64           `json:"s"`
	Time   json.RawMessage `json:"t"`
	Trades []string        `json:"trades"`
}

type actionMsg struct {
	Action string   `json:"action"`
	Key    string   `json:"key,omitempty"`
	Secret string   `json:"secret,omitempty"`
	Trades []string `json:"trades,omitempty"`
}

// Stream Alpaca 实时逐笔成交 WebSocket 客户端
type Stream struct {
	endpoint string
	key      string
	secret   string
	dialer   *websocket.Dialer

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	symbols []string
	started bool

	trades    chan domain.Trade
	reconnect *sigchan.Chan

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	reconnectDelay time.Duration
	maxReconnects  int
}

var _ broker.TradeStream = (*Stream)(nil)

// NewStream endpoint 形如 wss://stream.data.alpaca.markets/v2/sip
func NewStream(endpoint, key, secret string) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		endpoint:       endpoint,
		key:            key,
		secret:         secret,
		dialer:         &websocket.Dialer{HandshakeTimeout: handshakeWait},
		trades:         make(chan domain.Trade, tradeBufferLen),
		reconnect:      sigchan.New(1),
		ctx:            ctx,
		cancel:         cancel,
		reconnectDelay: 2 * time.Second,
		maxReconnects:  10,
	}
}

// Connect 建立连接并完成鉴权，然后启动读循环和 PING 循环
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("行情流已连接")
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("行情流已关闭")
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.conn = conn
	s.started = true

	s.wg.Add(2)
	go s.readLoop()
	go s.pingLoop()
	log.Infof("✅ 行情 WebSocket 已连接: %s", s.endpoint)
	return nil
}

// dial 拨号 -> 等待 connected -> 发送 auth -> 等待 authenticated
func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("连接行情 WebSocket 失败: %w", err)
	}

	fail := func(err error) (*websocket.Conn, error) {
		_ = conn.Close()
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeWait))
	if err := expectControl(conn, "connected"); err != nil {
		return fail(fmt.Errorf("等待欢迎消息失败: %w", err))
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(actionMsg{Action: "auth", Key: s.key, Secret: s.secret}); err != nil {
		return fail(fmt.Errorf("发送鉴权消息失败: %w", err))
	}
	if err := expectControl(conn, "authenticated"); err != nil {
		return fail(fmt.Errorf("鉴权失败: %w", err))
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return conn, nil
}

func expectControl(conn *websocket.Conn, want string) error {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	var msgs []wireMsg
	if err := json.Unmarshal(data, &msgs); err != nil {
		return fmt.Errorf("解析控制消息失败: %w", err)
	}
	for _, m := range msgs {
		switch m.T {
		case "success":
			if m.Msg == want {
				return nil
			}
		case "error":
			return fmt.Errorf("服务端错误 %d: %s", m.Code, m.Msg)
		}
	}
	return fmt.Errorf("未收到 %q: %s", want, string(data))
}

// SubscribeTrades 订阅逐笔成交（重连后自动重新订阅）
func (s *Stream) SubscribeTrades(ctx context.Context, symbols []string) error {
	s.mu.Lock()
	s.symbols = append([]string(nil), symbols...)
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("行情流未连接")
	}
	if len(symbols) == 0 {
		return nil
	}
	if err := s.write(conn, actionMsg{Action: "subscribe", Trades: symbols}); err != nil {
		return fmt.Errorf("发送订阅消息失败: %w", err)
	}
	log.Infof("📡 已发送订阅: %d 个标的", len(symbols))
	return nil
}

func (s *Stream) write(conn *websocket.Conn, v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// Trades 成交通道，读循环退出时关闭
func (s *Stream) Trades() <-chan domain.Trade {
	return s.trades
}

// Close 取消订阅并关闭连接，只执行一次
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		conn := s.conn
		symbols := s.symbols
		started := s.started
		s.mu.Unlock()

		if conn != nil && len(symbols) > 0 {
			if uerr := s.write(conn, actionMsg{Action: "unsubscribe", Trades: symbols}); uerr != nil {
				log.Debugf("发送取消订阅失败: %v", uerr)
			}
		}
		s.cancel()

		s.mu.Lock()
		conn = s.conn
		s.mu.Unlock()
		if conn != nil {
			s.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			s.writeMu.Unlock()
			err = conn.Close()
		}

		if started {
			s.wg.Wait()
		} else {
			close(s.trades)
		}
		log.Infof("行情 WebSocket 已关闭")
	})
	return err
}

func (s *Stream) readLoop() {
	defer s.wg.Done()
	defer close(s.trades)

	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			log.Warnf("读取行情消息失败: %v，准备重连", err)
			if !s.reconnectWithBackoff() {
				return
			}
			continue
		}
		if !s.dispatch(data) {
			return
		}
	}
}

// dispatch 解析一帧消息，ctx 取消时返回 false
func (s *Stream) dispatch(data []byte) bool {
	var msgs []wireMsg
	if err := json.Unmarshal(data, &msgs); err != nil {
		log.Warnf("解析行情消息失败: %v", err)
		return true
	}
	for _, m := range msgs {
		switch m.T {
		case "t":
			tr := domain.Trade{Symbol: m.Symbol, Price: m.Price, Size: m.Size}
			var ts time.Time
			if len(m.Time) > 0 && json.Unmarshal(m.Time, &ts) == nil {
				tr.Timestamp = ts
			}
			select {
			case s.trades <- tr:
			case <-s.ctx.Done():
				return false
			}
		case "subscription":
			log.Infof("订阅已确认: trades=%d", len(m.Trades))
		case "error":
			log.Errorf("行情服务端错误 %d: %s", m.Code, m.Msg)
		case "success":
			log.Debugf("行情控制消息: %s", m.Msg)
		}
	}
	return true
}

// reconnectWithBackoff 重新拨号、鉴权并恢复订阅，失败次数超限返回 false
func (s *Stream) reconnectWithBackoff() bool {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()

	for attempt := 1; attempt <= s.maxReconnects; attempt++ {
		select {
		case <-s.ctx.Done():
			return false
		case <-time.After(s.reconnectDelay):
		}

		conn, err := s.dial(s.ctx)
		if err != nil {
			log.Warnf("重连失败 (%d/%d): %v", attempt, s.maxReconnects, err)
			continue
		}

		s.mu.Lock()
		symbols := s.symbols
		s.mu.Unlock()

		if len(symbols) > 0 {
			if err := s.write(conn, actionMsg{Action: "subscribe", Trades: symbols}); err != nil {
				log.Warnf("重连后重新订阅失败: %v", err)
				_ = conn.Close()
				continue
			}
		}

		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			_ = conn.Close()
			return false
		}
		s.conn = conn
		s.mu.Unlock()
		s.reconnect.Emit()
		log.Infof("🔄 行情 WebSocket 已重连 (第 %d 次尝试)", attempt)
		return true
	}
	log.Errorf("❌ 行情 WebSocket 重连 %d 次均失败，停止", s.maxReconnects)
	return false
}

// Reconnected 每次重连成功后收到一个信号
func (s *Stream) Reconnected() <-chan struct{} {
	return s.reconnect.C()
}

func (s *Stream) pingLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debugf("发送 PING 失败: %v", err)
			}
		}
	}
}

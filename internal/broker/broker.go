package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/betbot/hodbot/internal/domain"
)

// OrderBroker 下单 / 对账 / 账户查询
type OrderBroker interface {
	SubmitOrder(ctx context.Context, order domain.BracketBuyOrder) (domain.OrderAck, error)
	// OpenOrderIDs 返回当前所有未完成订单的 ID 集合
	OpenOrderIDs(ctx context.Context) (map[string]struct{}, error)
	// AccountEquity 账户权益，失败时调用方需要容忍
	AccountEquity(ctx context.Context) (float64, error)
}

// OrderLookup 按 client_order_id 查询订单。
// 下单响应丢失时用来确认订单是否已被券商接受。
type OrderLookup interface {
	OrderByClientID(ctx context.Context, clientOrderID string) (domain.OrderAck, error)
}

// ErrOrderNotFound 券商侧不存在该订单
var ErrOrderNotFound = errors.New("order not found")

// Bar 日线
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// BarSource 历史日线数据源
type BarSource interface {
	DailyBars(ctx context.Context, symbol string, limit int) ([]Bar, error)
}

// TradeStream 实时逐笔成交流
type TradeStream interface {
	Connect(ctx context.Context) error
	SubscribeTrades(ctx context.Context, symbols []string) error
	// Trades 成交通道；流结束（Close 或不可恢复错误）时关闭
	Trades() <-chan domain.Trade
	// Close 取消订阅并释放连接，可重复调用
	Close() error
}

// Error 券商调用错误，区分可重试与永久错误
type Error struct {
	Op         string // 例如 "submit_order"
	StatusCode int    // HTTP 状态码，网络错误为 0
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("broker %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewStatusError 按状态码分类：429 和 5xx 可重试，其余 4xx 为永久错误
func NewStatusError(op string, status int, err error) *Error {
	return &Error{
		Op:         op,
		StatusCode: status,
		Retryable:  status == http.StatusTooManyRequests || status >= 500,
		Err:        err,
	}
}

// NewNetworkError 网络层错误，一律可重试
func NewNetworkError(op string, err error) *Error {
	return &Error{Op: op, Retryable: true, Err: err}
}

// IsRetryable 判断错误是否值得重试。
// 非 *Error 的未知错误按可重试处理；context 取消 / 超时不重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Retryable
	}
	return true
}

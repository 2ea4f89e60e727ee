package journal

import (
	"context"
	"time"
)

// SignalRecord 信号记录
type SignalRecord struct {
	ID             string
	Symbol         string
	ReferencePrice float64
	Accepted       bool // false 表示执行队列已满被丢弃
	At             time.Time
}

// OrderRecord 下单结果记录
type OrderRecord struct {
	ID              string
	Symbol          string
	Qty             int64
	ReferencePrice  float64
	TakeProfitPrice string
	StopLossPrice   string
	ClientOrderID   string
	OrderID         string // 失败时为空
	Status          string // submitted / failed / rejected
	Attempts        int
	Error           string
	At              time.Time
}

// PositionEvent 持仓事件
type PositionEvent struct {
	ID      string
	Symbol  string
	OrderID string
	Event   string // opened / closed / removed / cleared
	At      time.Time
}

// Journal 交易日志
type Journal interface {
	RecordSignal(ctx context.Context, r SignalRecord) error
	RecordOrder(ctx context.Context, r OrderRecord) error
	RecordPositionEvent(ctx context.Context, e PositionEvent) error
}

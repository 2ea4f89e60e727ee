package domain

import "time"

// PositionInfo 已提交订单对应的持仓记录
type PositionInfo struct {
	Symbol     string    `json:"symbol"`
	EntryPrice float64   `json:"entry_price"`
	OrderID    string    `json:"order_id"` // 为空时对账循环不处理
	Qty        int64     `json:"qty"`
	OpenedAt   time.Time `json:"opened_at"`
}

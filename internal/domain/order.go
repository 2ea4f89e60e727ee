package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TimeInForce 订单有效期
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
)

// BracketBuyOrder 括号市价买单：入场 + 止盈限价 + 止损触发价
type BracketBuyOrder struct {
	Symbol          string
	Qty             int64
	TakeProfitPrice decimal.Decimal
	StopLossPrice   decimal.Decimal
	TimeInForce     TimeInForce
	// ClientOrderID 在同一笔提交的所有重试中保持不变，券商据此去重
	ClientOrderID string
}

// NewBracketBuyOrder 按参考价计算止盈/止损价（保留两位小数，四舍五入远离零）
func NewBracketBuyOrder(symbol string, qty int64, refPrice, takeProfitPct, stopLossPct float64) (BracketBuyOrder, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return BracketBuyOrder{}, fmt.Errorf("symbol 不能为空")
	}
	if qty < 1 {
		return BracketBuyOrder{}, fmt.Errorf("数量必须至少为 1: %d", qty)
	}
	if refPrice <= 0 {
		return BracketBuyOrder{}, fmt.Errorf("参考价必须大于 0: %v", refPrice)
	}

	one := decimal.NewFromInt(1)
	ref := decimal.NewFromFloat(refPrice)
	tp := ref.Mul(one.Add(decimal.NewFromFloat(takeProfitPct))).Round(2)
	sl := ref.Mul(one.Sub(decimal.NewFromFloat(stopLossPct))).Round(2)

	return BracketBuyOrder{
		Symbol:          symbol,
		Qty:             qty,
		TakeProfitPrice: tp,
		StopLossPrice:   sl,
		TimeInForce:     TimeInForceDay,
		ClientOrderID:   uuid.NewString(),
	}, nil
}

func (o BracketBuyOrder) String() string {
	return fmt.Sprintf("%s x%d TP=%s SL=%s", o.Symbol, o.Qty, o.TakeProfitPrice.StringFixed(2), o.StopLossPrice.StringFixed(2))
}

// OrderAck 券商受理结果
type OrderAck struct {
	OrderID       string
	ClientOrderID string
	Status        string
}

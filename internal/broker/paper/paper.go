package paper

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/hodbot/internal/broker"
	"github.com/betbot/hodbot/internal/domain"
)

var log = logrus.WithField("component", "paper")

// Broker 纸交易券商：订单只记录在内存中，不会发到交易所。
// 下单后的第一笔成交价作为入场价；之后成交价触及止盈或止损时订单结束，盈亏计入权益。
type Broker struct {
	mu     sync.Mutex
	equity float64
	open   map[string]*paperOrder // orderID -> order
	byCID  map[string]string      // clientOrderID -> orderID
	orders []domain.BracketBuyOrder
}

type paperOrder struct {
	order  domain.BracketBuyOrder
	entry  float64
	filled bool
}

var (
	_ broker.OrderBroker = (*Broker)(nil)
	_ broker.OrderLookup = (*Broker)(nil)
)

// New 创建纸交易券商
func New(equity float64) *Broker {
	return &Broker{
		equity: equity,
		open:   make(map[string]*paperOrder),
		byCID:  make(map[string]string),
	}
}

// SubmitOrder 记录订单；相同 client_order_id 重复提交返回同一个订单
func (b *Broker) SubmitOrder(ctx context.Context, order domain.BracketBuyOrder) (domain.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderAck{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if order.ClientOrderID != "" {
		if id, ok := b.byCID[order.ClientOrderID]; ok {
			return domain.OrderAck{OrderID: id, ClientOrderID: order.ClientOrderID, Status: "accepted"}, nil
		}
	}
	if order.Qty < 1 {
		return domain.OrderAck{}, broker.NewStatusError("submit_order", 422, fmt.Errorf("qty must be > 0"))
	}

	id := uuid.NewString()
	b.open[id] = &paperOrder{order: order}
	b.orders = append(b.orders, order)
	if order.ClientOrderID != "" {
		b.byCID[order.ClientOrderID] = id
	}
	log.Infof("📝 [纸交易] 下单 %s -> %s", order, id)
	return domain.OrderAck{OrderID: id, ClientOrderID: order.ClientOrderID, Status: "accepted"}, nil
}

// OrderByClientID 按 client_order_id 查询已提交的订单
func (b *Broker) OrderByClientID(ctx context.Context, clientOrderID string) (domain.OrderAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.byCID[clientOrderID]
	if !ok {
		return domain.OrderAck{}, broker.ErrOrderNotFound
	}
	status := "filled"
	if _, open := b.open[id]; open {
		status = "accepted"
	}
	return domain.OrderAck{OrderID: id, ClientOrderID: clientOrderID, Status: status}, nil
}

// OpenOrderIDs 当前 open 订单
func (b *Broker) OpenOrderIDs(ctx context.Context) (map[string]struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make(map[string]struct{}, len(b.open))
	for id := range b.open {
		ids[id] = struct{}{}
	}
	return ids, nil
}

// AccountEquity 固定权益（可通过 SetEquity 调整）
func (b *Broker) AccountEquity(ctx context.Context) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.equity, nil
}

// SetEquity 调整权益
func (b *Broker) SetEquity(v float64) {
	b.mu.Lock()
	b.equity = v
	b.mu.Unlock()
}

// OnTrade 用实时成交模拟括号单：未入场的订单按该价格成交，已入场的订单触及止盈/止损后结束
func (b *Broker) OnTrade(tr domain.Trade) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, po := range b.open {
		if po.order.Symbol != tr.Symbol {
			continue
		}
		if !po.filled {
			po.entry, po.filled = tr.Price, true
			log.Debugf("[纸交易] %s 入场 @ %.4f", po.order.Symbol, tr.Price)
		}
		tp := po.order.TakeProfitPrice.InexactFloat64()
		sl := po.order.StopLossPrice.InexactFloat64()
		var exit float64
		switch {
		case tr.Price >= tp:
			exit = tp
		case tr.Price <= sl:
			exit = sl
		default:
			continue
		}
		pnl := (exit - po.entry) * float64(po.order.Qty)
		b.equity += pnl
		delete(b.open, id)
		log.Infof("📝 [纸交易] %s 平仓 @ %.2f，盈亏 %.2f，权益 %.2f", po.order.Symbol, exit, pnl, b.equity)
	}
}

// Close 将订单标记为已完成（成交或撤单），之后不再出现在 open 列表里
func (b *Broker) Close(orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.open[orderID]; !ok {
		return false
	}
	delete(b.open, orderID)
	return true
}

// Orders 已提交订单（按提交顺序）
func (b *Broker) Orders() []domain.BracketBuyOrder {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.BracketBuyOrder(nil), b.orders...)
}

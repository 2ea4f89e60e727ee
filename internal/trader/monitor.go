package trader

import (
	"context"
	"time"

	"github.com/betbot/hodbot/internal/broker"
	"github.com/betbot/hodbot/internal/common"
	"github.com/betbot/hodbot/internal/metrics"
)

// Monitor 持仓对账：定期拉取券商未完成订单，订单已不存在的持仓视为已成交或被撤，从持仓表移除。
type Monitor struct {
	trader   *Trader
	broker   broker.OrderBroker
	interval time.Duration
	metrics  *metrics.Metrics

	loop common.Loop
}

// NewMonitor 创建对账器
func NewMonitor(t *Trader, b broker.OrderBroker, interval time.Duration, m *metrics.Metrics) *Monitor {
	return &Monitor{trader: t, broker: b, interval: interval, metrics: m}
}

// Start 启动后台对账循环（只生效一次）
func (m *Monitor) Start(ctx context.Context) {
	if !m.loop.Start(ctx, m.interval, m.run) {
		return
	}
	log.Infof("持仓对账已启动，间隔 %v", m.interval)
}

// Stop 取消循环并等待退出
func (m *Monitor) Stop() {
	m.loop.Stop()
	log.Infof("持仓对账已停止")
}

func (m *Monitor) run(ctx context.Context, tickC <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tickC:
			m.PollOnce(ctx)
		}
	}
}

// PollOnce 执行一次对账，返回被移除的持仓数。拉取失败只记日志。
func (m *Monitor) PollOnce(ctx context.Context) int {
	ids, err := m.broker.OpenOrderIDs(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warnf("获取未完成订单失败，下个周期重试: %v", err)
		}
		m.metrics.MonitorPoll("error")
		return 0
	}
	m.metrics.MonitorPoll("ok")

	removed := 0
	for _, pos := range m.trader.Positions() {
		if pos.OrderID == "" {
			continue
		}
		if _, open := ids[pos.OrderID]; open {
			continue
		}
		if m.trader.removeClosed(pos.Symbol, pos.OrderID) {
			removed++
			log.Infof("📤 %s 订单 %s 已不在未完成列表（成交或撤单），移除持仓", pos.Symbol, pos.OrderID)
		}
	}
	return removed
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 机器人运行指标。所有方法对 nil 接收者安全，组件可以不注入指标。
type Metrics struct {
	reg *prometheus.Registry

	ticks          prometheus.Counter
	qualifiedTicks prometheus.Counter
	signals        prometheus.Counter
	signalDrops    prometheus.Counter
	orders         *prometheus.CounterVec
	submitAttempts prometheus.Counter
	riskRejections *prometheus.CounterVec
	monitorPolls   *prometheus.CounterVec
	positionRemove *prometheus.CounterVec
	watchlistSize  prometheus.Gauge
	openPositions  prometheus.Gauge
	equity         prometheus.Gauge
}

// New 创建指标并注册到独立的 Registry（不污染全局 DefaultRegisterer）
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hodbot_ticks_total",
			Help: "Trade ticks processed by the scanner.",
		}),
		qualifiedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hodbot_qualified_ticks_total",
			Help: "Trade ticks that met every breakout criterion.",
		}),
		signals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hodbot_signals_total",
			Help: "Edge-triggered trade signals emitted.",
		}),
		signalDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hodbot_signal_drops_total",
			Help: "Signals dropped because the execution queue was full.",
		}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hodbot_orders_total",
			Help: "Order submissions by final result.",
		}, []string{"result"}),
		submitAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hodbot_submit_attempts_total",
			Help: "Individual broker submit calls, retries included.",
		}),
		riskRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hodbot_risk_rejections_total",
			Help: "Signals rejected by a risk gate.",
		}, []string{"gate"}),
		monitorPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hodbot_monitor_polls_total",
			Help: "Position monitor polls by outcome.",
		}, []string{"outcome"}),
		positionRemove: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hodbot_position_removals_total",
			Help: "Tracked positions removed, by reason.",
		}, []string{"reason"}),
		watchlistSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hodbot_watchlist_size",
			Help: "Symbols currently on the watchlist.",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hodbot_open_positions",
			Help: "Positions currently tracked.",
		}),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hodbot_account_equity_usd",
			Help: "Last observed account equity.",
		}),
	}
	m.reg.MustRegister(
		m.ticks, m.qualifiedTicks, m.signals, m.signalDrops, m.orders, m.submitAttempts,
		m.riskRejections, m.monitorPolls, m.positionRemove, m.watchlistSize, m.openPositions, m.equity,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry 返回底层 Registry（测试用）
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler Prometheus 抓取入口
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) TickProcessed() {
	if m != nil {
		m.ticks.Inc()
	}
}

func (m *Metrics) TickQualified() {
	if m != nil {
		m.qualifiedTicks.Inc()
	}
}

func (m *Metrics) SignalEmitted() {
	if m != nil {
		m.signals.Inc()
	}
}

func (m *Metrics) SignalDropped() {
	if m != nil {
		m.signalDrops.Inc()
	}
}

// OrderResult result: submitted / failed / rejected
func (m *Metrics) OrderResult(result string) {
	if m != nil {
		m.orders.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) SubmitAttempt() {
	if m != nil {
		m.submitAttempts.Inc()
	}
}

// RiskRejected gate: max_positions / daily_loss / sizing
func (m *Metrics) RiskRejected(gate string) {
	if m != nil {
		m.riskRejections.WithLabelValues(gate).Inc()
	}
}

// MonitorPoll outcome: ok / error
func (m *Metrics) MonitorPoll(outcome string) {
	if m != nil {
		m.monitorPolls.WithLabelValues(outcome).Inc()
	}
}

// PositionRemoved reason: closed / manual / reset
func (m *Metrics) PositionRemoved(reason string) {
	if m != nil {
		m.positionRemove.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SetWatchlistSize(n int) {
	if m != nil {
		m.watchlistSize.Set(float64(n))
	}
}

func (m *Metrics) SetOpenPositions(n int) {
	if m != nil {
		m.openPositions.Set(float64(n))
	}
}

func (m *Metrics) SetEquity(v float64) {
	if m != nil {
		m.equity.Set(v)
	}
}

package trader

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/hodbot/internal/broker"
	"github.com/betbot/hodbot/internal/domain"
	"github.com/betbot/hodbot/internal/journal"
	"github.com/betbot/hodbot/internal/metrics"
	"github.com/betbot/hodbot/pkg/config"
)

var log = logrus.WithField("component", "trader")

const lookupTimeout = 10 * time.Second

// Outcome SubmitTrade 的处理结果
type Outcome string

const (
	OutcomeSubmitted    Outcome = "submitted"
	OutcomeDuplicate    Outcome = "duplicate"     // 已有持仓，幂等跳过
	OutcomeMaxPositions Outcome = "max_positions" // 持仓数已满
	OutcomeDailyLoss    Outcome = "daily_loss"    // 触发当日亏损上限
	OutcomeInvalid      Outcome = "invalid"       // 价格 / 订单参数无效
	OutcomeFailed       Outcome = "failed"        // 重试后仍失败
)

// AssetLookup 可选的参考数据（波动率调整用）
type AssetLookup interface {
	Get(symbol string) (domain.AssetInfo, bool)
}

// Deps 交易器依赖。除 Broker 外都可以为空。
type Deps struct {
	Broker  broker.OrderBroker
	Assets  AssetLookup
	Journal journal.Journal
	Metrics *metrics.Metrics
	Session *SessionStore
}

// Trader 风控 + 下单：处理交易信号、计算仓位、带重试地提交括号单，并跟踪持仓直到平仓。
// SubmitTrade 需要由单个执行 goroutine 串行调用，幂等跳过依赖于这一点。
type Trader struct {
	sizing config.SizingConfig
	risk   config.RiskConfig
	exec   config.ExecutionConfig

	broker  broker.OrderBroker
	assets  AssetLookup
	journal journal.Journal
	metrics *metrics.Metrics
	session *SessionStore

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.RWMutex
	positions map[string]domain.PositionInfo

	eqMu        sync.Mutex
	startEquity float64
	hasStart    bool
}

// New 创建交易器并记录当日起始权益。
// 同一交易日已有持久化基准时沿用；权益暂不可用时，之后第一次成功读取的权益作为基准。
func New(ctx context.Context, cfg config.Config, deps Deps) *Trader {
	t := &Trader{
		sizing:    cfg.Sizing,
		risk:      cfg.Risk,
		exec:      cfg.Execution,
		broker:    deps.Broker,
		assets:    deps.Assets,
		journal:   deps.Journal,
		metrics:   deps.Metrics,
		session:   deps.Session,
		now:       time.Now,
		sleep:     sleepCtx,
		positions: make(map[string]domain.PositionInfo),
	}
	t.initStartEquity(ctx)
	return t
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t *Trader) sessionDate() string {
	return t.now().Format("2006-01-02")
}

func (t *Trader) initStartEquity(ctx context.Context) {
	date := t.sessionDate()
	if t.session != nil {
		v, ok, err := t.session.Load(date)
		if err != nil {
			log.Warnf("读取会话状态失败: %v", err)
		} else if ok {
			t.setStartEquity(v, false)
			log.Infof("沿用当日起始权益: %.2f (%s)", v, date)
			return
		}
	}

	eq, err := t.broker.AccountEquity(ctx)
	if err != nil {
		log.Warnf("⚠️ 获取起始权益失败，将以首次成功读取的权益为基准: %v", err)
		return
	}
	t.setStartEquity(eq, true)
	log.Infof("当日起始权益: %.2f", eq)
}

func (t *Trader) setStartEquity(v float64, persist bool) {
	t.eqMu.Lock()
	t.startEquity = v
	t.hasStart = true
	t.eqMu.Unlock()

	if persist && t.session != nil {
		if err := t.session.Save(t.sessionDate(), v); err != nil {
			log.Warnf("保存会话状态失败: %v", err)
		}
	}
}

// StartEquity 当日起始权益
func (t *Trader) StartEquity() (float64, bool) {
	t.eqMu.Lock()
	defer t.eqMu.Unlock()
	return t.startEquity, t.hasStart
}

// currentEquity 读取当前权益；失败时返回 ok=false，调用方降级处理
func (t *Trader) currentEquity(ctx context.Context) (float64, bool) {
	eq, err := t.broker.AccountEquity(ctx)
	if err != nil {
		log.Warnf("获取账户权益失败（风控与仓位计算降级）: %v", err)
		return 0, false
	}
	t.metrics.SetEquity(eq)

	t.eqMu.Lock()
	first := !t.hasStart
	t.eqMu.Unlock()
	if first {
		t.setStartEquity(eq, true)
		log.Infof("首次读取到权益，设为当日起始权益: %.2f", eq)
	}
	return eq, true
}

// SubmitTrade 处理一个交易信号
func (t *Trader) SubmitTrade(ctx context.Context, symbol string, refPrice float64) Outcome {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	// 1. 幂等：已有持仓直接跳过
	if t.HasPosition(symbol) {
		log.Debugf("%s 已有持仓，跳过", symbol)
		return OutcomeDuplicate
	}

	// 2. 持仓数上限
	if n := t.PositionCount(); t.risk.MaxPositions > 0 && n >= t.risk.MaxPositions {
		log.Infof("⛔ 持仓数已达上限 (%d/%d)，拒绝 %s", n, t.risk.MaxPositions, symbol)
		t.reject(ctx, symbol, refPrice, OutcomeMaxPositions)
		return OutcomeMaxPositions
	}

	// 3. 当日亏损上限（权益不可用时不阻塞）
	equity, equityOK := t.currentEquity(ctx)
	if equityOK && t.risk.MaxDailyLoss > 0 {
		if start, ok := t.StartEquity(); ok {
			if loss := start - equity; loss >= t.risk.MaxDailyLoss {
				log.Warnf("⛔ 当日亏损 %.2f 达到上限 %.2f，拒绝 %s", loss, t.risk.MaxDailyLoss, symbol)
				t.reject(ctx, symbol, refPrice, OutcomeDailyLoss)
				return OutcomeDailyLoss
			}
		}
	}

	in := SizeInput{Price: refPrice, Equity: equity, EquityOK: equityOK}
	if t.assets != nil {
		in.Asset, in.AssetOK = t.assets.Get(symbol)
	}
	qty, err := PositionSize(t.sizing, in)
	if err != nil {
		log.Errorf("%s 仓位计算失败: %v", symbol, err)
		t.reject(ctx, symbol, refPrice, OutcomeInvalid)
		return OutcomeInvalid
	}
	order, err := domain.NewBracketBuyOrder(symbol, qty, refPrice, t.risk.TakeProfitPct, t.risk.StopLossPct)
	if err != nil {
		log.Errorf("%s 构建订单失败: %v", symbol, err)
		t.reject(ctx, symbol, refPrice, OutcomeInvalid)
		return OutcomeInvalid
	}

	return t.submitWithRetry(ctx, order, refPrice)
}

func (t *Trader) submitWithRetry(ctx context.Context, order domain.BracketBuyOrder, refPrice float64) Outcome {
	attempts := t.exec.SubmitAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	made := 0
	// uncertain: 有一次失败属于可重试错误（超时 / 5xx），订单可能已被券商接受但响应丢失
	uncertain := false
	for attempt := 1; attempt <= attempts; attempt++ {
		made = attempt
		t.metrics.SubmitAttempt()
		ack, err := t.broker.SubmitOrder(ctx, order)
		if err == nil {
			t.recordOpened(ctx, order, refPrice, ack, attempt)
			return OutcomeSubmitted
		}
		lastErr = err
		if broker.IsRetryable(err) {
			uncertain = true
		}

		if !broker.IsRetryable(err) {
			log.Errorf("❌ %s 下单失败（不可重试）: %v", order.Symbol, err)
			break
		}
		if attempt == attempts {
			break
		}
		log.Warnf("%s 下单失败 (%d/%d)，%v 后重试: %v", order.Symbol, attempt, attempts, t.exec.RetryBackoff, err)
		if err := t.sleep(ctx, t.exec.RetryBackoff); err != nil {
			lastErr = err
			break
		}
	}

	if uncertain {
		if ack, ok := t.lookupAccepted(ctx, order); ok {
			log.Warnf("⚠️ %s 下单响应丢失，但券商已接受订单 %s，按已下单处理", order.Symbol, ack.OrderID)
			t.recordOpened(ctx, order, refPrice, ack, made)
			return OutcomeSubmitted
		}
	}

	log.Errorf("❌ %s 下单最终失败 (尝试 %d 次): %v", order.Symbol, made, lastErr)
	t.metrics.OrderResult(string(OutcomeFailed))
	t.recordOrder(ctx, journal.OrderRecord{
		Symbol:          order.Symbol,
		Qty:             order.Qty,
		ReferencePrice:  refPrice,
		TakeProfitPrice: order.TakeProfitPrice.StringFixed(2),
		StopLossPrice:   order.StopLossPrice.StringFixed(2),
		ClientOrderID:   order.ClientOrderID,
		Status:          string(OutcomeFailed),
		Attempts:        made,
		Error:           errString(lastErr),
	})
	return OutcomeFailed
}

// lookupAccepted 按 client_order_id 查询券商侧是否已有该订单。
// 重试时券商会以 "client_order_id must be unique" 拒绝重复提交，此时订单其实已存在。
func (t *Trader) lookupAccepted(ctx context.Context, order domain.BracketBuyOrder) (domain.OrderAck, bool) {
	lookup, ok := t.broker.(broker.OrderLookup)
	if !ok || order.ClientOrderID == "" {
		return domain.OrderAck{}, false
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
	defer cancel()

	ack, err := lookup.OrderByClientID(lctx, order.ClientOrderID)
	if err != nil {
		if !errors.Is(err, broker.ErrOrderNotFound) {
			log.Errorf("%s 查询订单 %s 失败，无法确认是否已下单: %v", order.Symbol, order.ClientOrderID, err)
		}
		return domain.OrderAck{}, false
	}
	if ack.OrderID == "" {
		return domain.OrderAck{}, false
	}
	return ack, true
}

func (t *Trader) recordOpened(ctx context.Context, order domain.BracketBuyOrder, refPrice float64, ack domain.OrderAck, attempts int) {
	pos := domain.PositionInfo{
		Symbol:     order.Symbol,
		EntryPrice: refPrice,
		OrderID:    ack.OrderID,
		Qty:        order.Qty,
		OpenedAt:   t.now(),
	}
	t.mu.Lock()
	t.positions[order.Symbol] = pos
	n := len(t.positions)
	t.mu.Unlock()

	t.metrics.OrderResult(string(OutcomeSubmitted))
	t.metrics.SetOpenPositions(n)
	log.Infof("✅ 已下单 %s，订单号 %s", order, ack.OrderID)

	t.recordOrder(ctx, journal.OrderRecord{
		Symbol:          order.Symbol,
		Qty:             order.Qty,
		ReferencePrice:  refPrice,
		TakeProfitPrice: order.TakeProfitPrice.StringFixed(2),
		StopLossPrice:   order.StopLossPrice.StringFixed(2),
		ClientOrderID:   order.ClientOrderID,
		OrderID:         ack.OrderID,
		Status:          string(OutcomeSubmitted),
		Attempts:        attempts,
	})
	t.recordPositionEvent(ctx, pos.Symbol, pos.OrderID, "opened")
}

func (t *Trader) reject(ctx context.Context, symbol string, refPrice float64, why Outcome) {
	t.metrics.RiskRejected(string(why))
	t.recordOrder(ctx, journal.OrderRecord{
		Symbol:         symbol,
		ReferencePrice: refPrice,
		Status:         "rejected",
		Error:          string(why),
	})
}

func (t *Trader) recordOrder(ctx context.Context, r journal.OrderRecord) {
	if t.journal == nil {
		return
	}
	r.At = t.now()
	if err := t.journal.RecordOrder(context.WithoutCancel(ctx), r); err != nil {
		log.Warnf("写入下单日志失败: %v", err)
	}
}

func (t *Trader) recordPositionEvent(ctx context.Context, symbol, orderID, event string) {
	if t.journal == nil {
		return
	}
	e := journal.PositionEvent{Symbol: symbol, OrderID: orderID, Event: event, At: t.now()}
	if err := t.journal.RecordPositionEvent(context.WithoutCancel(ctx), e); err != nil {
		log.Warnf("写入持仓日志失败: %v", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// HasPosition 是否已有持仓
func (t *Trader) HasPosition(symbol string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.positions[symbol]
	return ok
}

// PositionCount 当前持仓数
func (t *Trader) PositionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.positions)
}

// Positions 持仓快照（按 symbol 排序）
func (t *Trader) Positions() []domain.PositionInfo {
	t.mu.RLock()
	out := make([]domain.PositionInfo, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// RemovePosition 手动移除持仓；不存在时是 no-op
func (t *Trader) RemovePosition(symbol string) bool {
	t.mu.Lock()
	pos, ok := t.positions[symbol]
	if ok {
		delete(t.positions, symbol)
	}
	n := len(t.positions)
	t.mu.Unlock()

	if ok {
		t.metrics.PositionRemoved("manual")
		t.metrics.SetOpenPositions(n)
		log.Infof("移除持仓 %s", symbol)
		t.recordPositionEvent(context.Background(), symbol, pos.OrderID, "removed")
	}
	return ok
}

// ClearPositions 清空所有持仓（启动时重置）
func (t *Trader) ClearPositions() int {
	t.mu.Lock()
	old := t.positions
	t.positions = make(map[string]domain.PositionInfo)
	t.mu.Unlock()

	for sym, pos := range old {
		t.metrics.PositionRemoved("reset")
		t.recordPositionEvent(context.Background(), sym, pos.OrderID, "cleared")
	}
	t.metrics.SetOpenPositions(0)
	if len(old) > 0 {
		log.Infof("已清空 %d 个持仓", len(old))
	}
	return len(old)
}

// removeClosed 仅当持仓仍对应 orderID 时移除（避免误删期间重新建立的持仓）
func (t *Trader) removeClosed(symbol, orderID string) bool {
	t.mu.Lock()
	pos, ok := t.positions[symbol]
	if ok && pos.OrderID == orderID {
		delete(t.positions, symbol)
	} else {
		ok = false
	}
	n := len(t.positions)
	t.mu.Unlock()

	if ok {
		t.metrics.PositionRemoved("closed")
		t.metrics.SetOpenPositions(n)
		t.recordPositionEvent(context.Background(), symbol, orderID, "closed")
	}
	return ok
}

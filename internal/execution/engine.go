package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/hodbot/internal/domain"
	"github.com/betbot/hodbot/internal/journal"
	"github.com/betbot/hodbot/internal/metrics"
	"github.com/betbot/hodbot/internal/trader"
)

var log = logrus.WithField("component", "execution")

// Submitter 信号的消费者（Trader）
type Submitter interface {
	SubmitTrade(ctx context.Context, symbol string, refPrice float64) trader.Outcome
}

// Engine 执行队列：扫描器只负责把信号放进队列，单个 worker 按到达顺序串行调用 SubmitTrade。
// 下单的网络 IO 和重试等待都在 worker 里，不会阻塞逐笔成交的处理。
type Engine struct {
	submitter Submitter
	journal   journal.Journal
	metrics   *metrics.Metrics
	inFlight  *InFlightDeduper
	now       func() time.Time

	queue chan domain.Signal

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEngine queueSize <= 0 时取 64
func NewEngine(s Submitter, queueSize int, j journal.Journal, m *metrics.Metrics) *Engine {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Engine{
		submitter: s,
		journal:   j,
		metrics:   m,
		inFlight:  NewInFlightDeduper(0),
		now:       time.Now,
		queue:     make(chan domain.Signal, queueSize),
	}
}

// Start 启动 worker（只生效一次）
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("execution engine already started")
	}
	e.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.run(loopCtx)
	log.Infof("执行队列已启动，容量 %d", cap(e.queue))
	return nil
}

// Stop 停止 worker 并等待当前信号处理完；队列中未处理的信号丢弃
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	if n := len(e.queue); n > 0 {
		log.Warnf("执行队列停止，丢弃 %d 个未处理信号", n)
	}
}

// Enqueue 非阻塞入队。队列已满或同一标的已在排队时丢弃并返回 false。
func (e *Engine) Enqueue(symbol string, refPrice float64) bool {
	sig := domain.Signal{Symbol: symbol, ReferencePrice: refPrice, At: e.now()}

	if !e.inFlight.TryAcquire(symbol) {
		log.Debugf("%s 已在执行队列中，忽略重复信号", symbol)
		return false
	}

	select {
	case e.queue <- sig:
		e.recordSignal(sig, true)
		return true
	default:
		e.inFlight.Release(symbol)
		e.metrics.SignalDropped()
		log.Warnf("⚠️ 执行队列已满，丢弃信号 %s @ %.2f", symbol, refPrice)
		e.recordSignal(sig, false)
		return false
	}
}

// Pending 队列中等待处理的信号数
func (e *Engine) Pending() int {
	return len(e.queue)
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-e.queue:
			e.process(ctx, sig)
		}
	}
}

func (e *Engine) process(ctx context.Context, sig domain.Signal) {
	defer e.inFlight.Release(sig.Symbol)
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("处理信号 %s panic: %v", sig.Symbol, r)
		}
	}()

	outcome := e.submitter.SubmitTrade(ctx, sig.Symbol, sig.ReferencePrice)
	log.Debugf("信号 %s 处理完成: %s (排队 %v)", sig.Symbol, outcome, e.now().Sub(sig.At))
}

func (e *Engine) recordSignal(sig domain.Signal, accepted bool) {
	if e.journal == nil {
		return
	}
	r := journal.SignalRecord{Symbol: sig.Symbol, ReferencePrice: sig.ReferencePrice, Accepted: accepted, At: sig.At}
	if err := e.journal.RecordSignal(context.Background(), r); err != nil {
		log.Warnf("写入信号日志失败: %v", err)
	}
}

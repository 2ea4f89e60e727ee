package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/hodbot/internal/broker"
	"github.com/betbot/hodbot/internal/domain"
	"github.com/betbot/hodbot/internal/metrics"
	"github.com/betbot/hodbot/pkg/config"
)

var log = logrus.WithField("component", "scanner")

// eps 阈值比较容差：10 * (1 + 0.10) 在浮点下略大于 11，边界价格应视为满足条件
const eps = 1e-9

// ErrStreamEnded 行情流在未请求停止的情况下结束
var ErrStreamEnded = errors.New("行情流已结束")

// AssetLookup 只读参考数据
type AssetLookup interface {
	Get(symbol string) (domain.AssetInfo, bool)
	Symbols() []string
}

// SignalFunc 交易信号回调：symbol 成为观察列表榜首时调用，referencePrice 为其日内高点。
// 在行情处理 goroutine 中同步调用，实现方不能阻塞。
type SignalFunc func(symbol string, referencePrice float64)

// Scanner 逐笔成交扫描器：维护日内高点 / 累计成交量 / 观察列表，并产生边沿触发信号。
// 所有成交在同一个 goroutine 中依次处理。
type Scanner struct {
	cfg      config.ScreeningConfig
	assets   AssetLookup
	stream   broker.TradeStream
	onSignal SignalFunc
	observer func(domain.Trade)
	metrics  *metrics.Metrics

	// mu 保护下面的扫描状态，读锁供 Watchlist() 等快照使用
	mu         sync.RWMutex
	hod        map[string]float64
	volume     map[string]int64
	lastPrice  map[string]float64
	watch      watchlist
	lastSignal string

	runMu   sync.Mutex
	running bool
	stopC   chan struct{}
}

// New 创建扫描器
func New(cfg config.ScreeningConfig, assets AssetLookup, stream broker.TradeStream, onSignal SignalFunc, m *metrics.Metrics) *Scanner {
	return &Scanner{
		cfg:       cfg,
		assets:    assets,
		stream:    stream,
		onSignal:  onSignal,
		metrics:   m,
		hod:       make(map[string]float64),
		volume:    make(map[string]int64),
		lastPrice: make(map[string]float64),
	}
}

// SetTradeObserver 每笔成交先交给 fn（纸交易用它模拟括号单成交），需在 Start 之前设置
func (s *Scanner) SetTradeObserver(fn func(domain.Trade)) {
	s.observer = fn
}

// OnTrade 处理一笔成交。没有参考数据的标的直接忽略。
func (s *Scanner) OnTrade(tr domain.Trade) {
	if s.observer != nil {
		s.observer(tr)
	}
	info, ok := s.assets.Get(tr.Symbol)
	if !ok {
		return
	}
	s.metrics.TickProcessed()

	s.mu.Lock()
	sym := tr.Symbol
	if tr.Price > s.hod[sym] {
		s.hod[sym] = tr.Price
	}
	if tr.Size > 0 {
		s.volume[sym] += tr.Size
	}
	s.lastPrice[sym] = tr.Price

	hod := s.hod[sym]
	if s.meetsCriteriaLocked(sym, tr.Price, info) {
		s.metrics.TickQualified()
		s.watch.upsert(domain.WatchItem{
			Symbol:       sym,
			HODProximity: 1 - tr.Price/hod,
			HighOfDay:    hod,
			LastPrice:    tr.Price,
		})
	} else {
		// 观察列表只保留以最新价格仍满足条件的标的；移除榜首会让下一名升为榜首并触发信号
		s.watch.remove(sym)
	}
	s.metrics.SetWatchlistSize(s.watch.len())
	signal, refPrice, fire := s.checkTradeSignalLocked()
	s.mu.Unlock()

	if fire {
		s.emit(signal, refPrice)
	}
}

// MeetsCriteria 判断当前价格是否满足突破条件（使用当前的日内高点和累计成交量）
func (s *Scanner) MeetsCriteria(symbol string, price float64, info domain.AssetInfo) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meetsCriteriaLocked(symbol, price, info)
}

func (s *Scanner) meetsCriteriaLocked(symbol string, price float64, info domain.AssetInfo) bool {
	c := s.cfg
	if price < c.MinPrice-eps || price > c.MaxPrice+eps {
		return false
	}
	if price < info.PrevClose*(1+c.MinPctChange)-eps {
		return false
	}
	if float64(s.volume[symbol]) < info.AvgVolume*c.MinRelVolume-eps {
		return false
	}
	hod := s.hod[symbol]
	if hod <= 0 {
		return false
	}
	return (hod-price)/hod <= c.HODProximityPct+eps
}

// checkTradeSignalLocked 榜首变化时返回需要触发的信号
func (s *Scanner) checkTradeSignalLocked() (string, float64, bool) {
	top, ok := s.watch.top()
	if !ok || top.Symbol == s.lastSignal {
		return "", 0, false
	}
	s.lastSignal = top.Symbol
	return top.Symbol, s.hod[top.Symbol], true
}

func (s *Scanner) emit(symbol string, refPrice float64) {
	s.metrics.SignalEmitted()
	log.Infof("🚀 交易信号: %s (HOD=%.4f)", symbol, refPrice)
	if s.onSignal == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("信号回调 panic: %s: %v", symbol, r)
		}
	}()
	s.onSignal(symbol, refPrice)
}

// Watchlist 观察列表快照
func (s *Scanner) Watchlist() []domain.WatchItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watch.snapshot()
}

// LastSignal 最近一次触发信号的标的
func (s *Scanner) LastSignal() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSignal
}

// HighOfDay 日内高点（未记录时为 0）
func (s *Scanner) HighOfDay(symbol string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hod[symbol]
}

// CumulativeVolume 累计成交量
func (s *Scanner) CumulativeVolume(symbol string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.volume[symbol]
}

// Start 连接行情、订阅全部标的并处理成交，直到 ctx 取消、Stop 被调用或行情流结束。
// 返回前总会调用 Stop 释放连接。
func (s *Scanner) Start(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return fmt.Errorf("扫描器已在运行")
	}
	s.running = true
	stopC := make(chan struct{})
	s.stopC = stopC
	s.runMu.Unlock()
	defer s.Stop()

	if err := s.stream.Connect(ctx); err != nil {
		return fmt.Errorf("连接行情失败: %w", err)
	}
	symbols := s.assets.Symbols()
	if err := s.stream.SubscribeTrades(ctx, symbols); err != nil {
		return fmt.Errorf("订阅成交失败: %w", err)
	}
	log.Infof("▶️ 扫描器启动: 订阅 %d 个标的", len(symbols))

	trades := s.stream.Trades()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stopC:
			return nil
		case tr, ok := <-trades:
			if !ok {
				select {
				case <-stopC:
					return nil
				default:
				}
				return ErrStreamEnded
			}
			s.OnTrade(tr)
		}
	}
}

// Stop 停止扫描并释放行情连接；未运行时是 no-op
func (s *Scanner) Stop() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	close(s.stopC)
	log.Infof("⏹️ 扫描器停止")
	return s.stream.Close()
}

// Running 是否正在运行
func (s *Scanner) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

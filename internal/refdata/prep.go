package refdata

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/hodbot/internal/broker"
	"github.com/betbot/hodbot/internal/domain"
)

var log = logrus.WithField("component", "refdata")

// Cache 盘前数据缓存
type Cache interface {
	Get(session, symbol string) (domain.AssetInfo, bool, error)
	Put(session string, info domain.AssetInfo) error
}

// Summary 盘前准备统计
type Summary struct {
	Requested int
	Fetched   int // 从行情 API 下载
	Cached    int // 命中缓存
	Failed    int // 下载失败或数据不足，已忽略
}

// Preparer 盘前准备：下载日线并计算每个标的的参考数据
type Preparer struct {
	bars        broker.BarSource
	cache       Cache // 可为 nil
	barLimit    int
	concurrency int
	now         func() time.Time
}

// NewPreparer barLimit 为每个标的下载的日线数量，concurrency 为同时进行的请求数
func NewPreparer(bars broker.BarSource, cache Cache, barLimit, concurrency int) *Preparer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Preparer{
		bars:        bars,
		cache:       cache,
		barLimit:    barLimit,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Run 对所有标的执行盘前准备。单个标的失败只记录日志，不影响其他标的；
// 只有 ctx 被取消时返回错误。
func (p *Preparer) Run(ctx context.Context, symbols []string) (*Store, Summary, error) {
	session := p.now().Format("2006-01-02")
	log.Infof("🌅 开始盘前准备: %d 个标的, session=%s", len(symbols), session)

	var (
		mu    sync.Mutex
		infos = make([]domain.AssetInfo, 0, len(symbols))
		sum   = Summary{Requested: len(symbols)}
		wg    sync.WaitGroup
		sem   = make(chan struct{}, p.concurrency)
	)

	record := func(info domain.AssetInfo, cached, ok bool) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case !ok:
			sum.Failed++
		case cached:
			sum.Cached++
			infos = append(infos, info)
		default:
			sum.Fetched++
			infos = append(infos, info)
		}
	}

	for _, sym := range symbols {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil, sum, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			defer func() { <-sem }()
			info, cached, ok := p.prepOne(ctx, session, sym)
			record(info, cached, ok)
		}(sym)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, sum, err
	}

	store := NewStore(infos)
	log.Infof("✅ 盘前准备完成: %d 个标的可用 (下载=%d 缓存=%d 失败=%d)",
		store.Len(), sum.Fetched, sum.Cached, sum.Failed)
	return store, sum, nil
}

func (p *Preparer) prepOne(ctx context.Context, session, symbol string) (info domain.AssetInfo, cached, ok bool) {
	if p.cache != nil {
		info, found, err := p.cache.Get(session, symbol)
		if err != nil {
			log.Warnf("读取缓存失败 %s: %v", symbol, err)
		} else if found {
			return info, true, true
		}
	}

	bars, err := p.bars.DailyBars(ctx, symbol, p.barLimit)
	if err != nil {
		log.Errorf("获取日线失败 %s: %v", symbol, err)
		return domain.AssetInfo{}, false, false
	}
	info, ok = ComputeAssetInfo(symbol, bars)
	if !ok {
		log.Warnf("日线数据不足，跳过 %s (bars=%d)", symbol, len(bars))
		return domain.AssetInfo{}, false, false
	}

	if p.cache != nil {
		if err := p.cache.Put(session, info); err != nil {
			log.Warnf("写入缓存失败 %s: %v", symbol, err)
		}
	}
	return info, false, true
}

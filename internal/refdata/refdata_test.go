package refdata

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/hodbot/internal/broker"
	"github.com/betbot/hodbot/internal/domain"
)

func TestParseUniverse(t *testing.T) {
	in := "name,Symbol,float\nAcme,abcd,1000\nDup,ABCD,1\n,  ,\nWidget, wxyz ,2\n"
	syms, err := parseUniverse(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"ABCD", "WXYZ"}, syms)

	_, err = parseUniverse(strings.NewReader("ticker\nA\n"))
	assert.Error(t, err, "缺少 symbol 列")
}

func TestLoadUniverse_File(t *testing.T) {
	p := filepath.Join(t.TempDir(), "low_float_stocks.csv")
	require.NoError(t, os.WriteFile(p, []byte("\ufeffsymbol\nAAA\nBBB\n"), 0o644))
	syms, err := LoadUniverse(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "BBB"}, syms)

	_, err = LoadUniverse(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func closes(cs ...float64) []broker.Bar {
	bars := make([]broker.Bar, len(cs))
	for i, c := range cs {
		bars[i] = broker.Bar{Close: c, Volume: float64(100 * (i + 1))}
	}
	return bars
}

func TestComputeAssetInfo(t *testing.T) {
	info, ok := ComputeAssetInfo("ABCD", closes(10, 11, 9.9))
	require.True(t, ok)
	assert.Equal(t, 9.9, info.PrevClose)
	assert.Equal(t, 200.0, info.AvgVolume)
	// 收益率 0.1 和 -0.1，样本标准差 = sqrt(0.02)
	assert.True(t, info.HasVolatility)
	assert.InDelta(t, math.Sqrt(0.02), info.Volatility, 1e-9)

	// 只有一个收益率时波动率为 0
	info, ok = ComputeAssetInfo("ABCD", closes(10, 11))
	require.True(t, ok)
	assert.False(t, info.HasVolatility)
	assert.Equal(t, 0.0, info.Volatility)

	_, ok = ComputeAssetInfo("ABCD", nil)
	assert.False(t, ok)
	_, ok = ComputeAssetInfo("ABCD", closes(10, 0))
	assert.False(t, ok, "前收为 0 时无效")
}

func TestStore(t *testing.T) {
	s := NewStore([]domain.AssetInfo{{Symbol: "ZZZ", PrevClose: 1}, {Symbol: "AAA", PrevClose: 2}})
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"AAA", "ZZZ"}, s.Symbols())
	info, ok := s.Get("AAA")
	assert.True(t, ok)
	assert.Equal(t, 2.0, info.PrevClose)
	_, ok = s.Get("NOPE")
	assert.False(t, ok)
}

type fakeBars struct {
	inFlight, maxInFlight int32
	calls                 int32
	fail                  map[string]bool
}

func (f *fakeBars) DailyBars(ctx context.Context, symbol string, limit int) ([]broker.Bar, error) {
	atomic.AddInt32(&f.calls, 1)
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		m := atomic.LoadInt32(&f.maxInFlight)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxInFlight, m, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	if f.fail[symbol] {
		return nil, errors.New("not found")
	}
	return closes(5, 6, 7), nil
}

type memCache struct {
	mu sync.Mutex
	m  map[string]domain.AssetInfo
}

func (c *memCache) Get(session, symbol string) (domain.AssetInfo, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.m[session+symbol]
	return info, ok, nil
}

func (c *memCache) Put(session string, info domain.AssetInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[session+info.Symbol] = info
	return nil
}

func TestPreparer_RunBoundedAndPartial(t *testing.T) {
	src := &fakeBars{fail: map[string]bool{"BAD": true}}
	cache := &memCache{m: map[string]domain.AssetInfo{}}
	p := NewPreparer(src, cache, 50, 2)
	p.now = func() time.Time { return time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC) }

	syms := []string{"A", "B", "C", "BAD", "D", "E"}
	store, sum, err := p.Run(context.Background(), syms)
	require.NoError(t, err)

	assert.Equal(t, 5, store.Len())
	_, ok := store.Get("BAD")
	assert.False(t, ok, "失败的标的被忽略")
	assert.Equal(t, Summary{Requested: 6, Fetched: 5, Failed: 1}, sum)
	assert.LessOrEqual(t, atomic.LoadInt32(&src.maxInFlight), int32(2), "并发数受限")

	// 第二次运行命中缓存
	atomic.StoreInt32(&src.calls, 0)
	_, sum, err = p.Run(context.Background(), syms)
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Cached)
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls), "只有失败的标的重新下载")
}

func TestPreparer_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewPreparer(&fakeBars{}, nil, 50, 1)
	_, _, err := p.Run(ctx, []string{"A", "B"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBadgerCache_RoundTrip(t *testing.T) {
	c, err := OpenBadgerCache(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	_, found, err := c.Get("2026-10-15", "ABCD")
	require.NoError(t, err)
	assert.False(t, found)

	want := domain.AssetInfo{Symbol: "ABCD", PrevClose: 9.9, AvgVolume: 200, Volatility: 0.1, HasVolatility: true}
	require.NoError(t, c.Put("2026-10-15", want))

	got, found, err := c.Get("2026-10-15", "ABCD")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)

	_, found, _ = c.Get("2026-10-16", "ABCD")
	assert.False(t, found, "不同交易日不共用")
}

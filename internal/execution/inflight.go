package execution

import (
	"sync"
	"time"
)

// InFlightDeduper 同一标的的信号在排队/处理期间只保留一个。
// TTL 兜底：即使漏了 Release，过期后也允许再次进入。
type InFlightDeduper struct {
	ttl time.Duration
	now func() time.Time

	mu sync.Mutex
	m  map[string]time.Time // key -> expiresAt
}

// NewInFlightDeduper ttl <= 0 时取 2 分钟（覆盖一次下单的全部重试）
func NewInFlightDeduper(ttl time.Duration) *InFlightDeduper {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &InFlightDeduper{ttl: ttl, now: time.Now, m: make(map[string]time.Time)}
}

// TryAcquire 获取成功返回 true；key 仍在 in-flight 时返回 false
func (d *InFlightDeduper) TryAcquire(key string) bool {
	if d == nil || key == "" {
		return true
	}
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()

	if exp, ok := d.m[key]; ok && exp.After(now) {
		return false
	}
	d.m[key] = now.Add(d.ttl)
	return true
}

// Release 处理完成后释放
func (d *InFlightDeduper) Release(key string) {
	if d == nil || key == "" {
		return
	}
	d.mu.Lock()
	delete(d.m, key)
	d.mu.Unlock()
}

// Len 当前 in-flight 数量（含已过期未清理的）
func (d *InFlightDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.m)
}

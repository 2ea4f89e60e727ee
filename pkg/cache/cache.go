package cache

import (
	"sync"
	"time"
)

// Cache 通用缓存接口
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
	Size() int
}

// InMemoryCache 内存 TTL 缓存，过期项在读取时惰性清理
type InMemoryCache[K comparable, V any] struct {
	items      map[K]cacheItem[V]
	mu         sync.Mutex
	defaultTTL time.Duration
	now        func() time.Time
}

type cacheItem[V any] struct {
	value     V
	expiresAt time.Time
}

// NewInMemoryCache 创建新的内存缓存
func NewInMemoryCache[K comparable, V any](defaultTTL time.Duration) *InMemoryCache[K, V] {
	return &InMemoryCache[K, V]{
		items:      make(map[K]cacheItem[V]),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get 获取缓存值
func (c *InMemoryCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(item.expiresAt) {
		delete(c.items, key)
		var zero V
		return zero, false
	}
	return item.value, true
}

// Set 设置缓存值，ttl 为 0 时使用默认 TTL
func (c *InMemoryCache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl == 0 {
		ttl = c.defaultTTL
	}
	c.items[key] = cacheItem[V]{value: value, expiresAt: c.now().Add(ttl)}
}

// Delete 删除缓存项
func (c *InMemoryCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Size 获取缓存大小（包含尚未清理的过期项）
func (c *InMemoryCache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

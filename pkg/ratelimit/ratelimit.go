package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	GetRemaining() int
}

// SlidingWindow 滑动窗口速率限制器
type SlidingWindow struct {
	limit      int           // 窗口内允许的请求数
	windowSize time.Duration // 窗口大小
	requests   []time.Time   // 窗口内的请求时间戳（升序）
	mu         sync.Mutex
	now        func() time.Time
}

// NewSlidingWindow 创建新的滑动窗口速率限制器
func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:      limit,
		windowSize: windowSize,
		requests:   make([]time.Time, 0, limit),
		now:        time.Now,
	}
}

// evict 移除窗口外的请求（调用方持锁）
func (sw *SlidingWindow) evict(now time.Time) {
	cutoff := now.Add(-sw.windowSize)
	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}
	sw.requests = sw.requests[i:]
}

// Allow 检查是否允许请求，允许时记录本次请求
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now()
	sw.evict(now)
	if len(sw.requests) >= sw.limit {
		return false
	}
	sw.requests = append(sw.requests, now)
	return true
}

// Wait 等待直到允许请求
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if sw.Allow() {
			return nil
		}

		sw.mu.Lock()
		waitTime := 100 * time.Millisecond
		if len(sw.requests) > 0 {
			if d := sw.windowSize - sw.now().Sub(sw.requests[0]); d > 0 {
				waitTime = d
			}
		}
		sw.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

// GetRemaining 获取窗口内剩余请求数
func (sw *SlidingWindow) GetRemaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.evict(sw.now())
	if n := sw.limit - len(sw.requests); n > 0 {
		return n
	}
	return 0
}

// Manager 按端点分组的速率限制管理器。
// 未注册的端点共用 fallback 限制器（券商的限额按账户计，而不是按端点）。
type Manager struct {
	limiters map[string]RateLimiter
	fallback RateLimiter
	mu       sync.RWMutex
}

// NewManager 创建速率限制管理器
func NewManager(fallback RateLimiter) *Manager {
	return &Manager{
		limiters: make(map[string]RateLimiter),
		fallback: fallback,
	}
}

// Register 为端点注册独立限制器
func (m *Manager) Register(endpoint string, limiter RateLimiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[endpoint] = limiter
}

// GetLimiter 获取指定端点的速率限制器
func (m *Manager) GetLimiter(endpoint string) RateLimiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limiter, ok := m.limiters[endpoint]; ok {
		return limiter
	}
	return m.fallback
}

// Wait 等待直到允许请求
func (m *Manager) Wait(ctx context.Context, endpoint string) error {
	return m.GetLimiter(endpoint).Wait(ctx)
}

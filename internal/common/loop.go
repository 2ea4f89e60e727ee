package common

import (
	"context"
	"sync"
	"time"
)

// Loop 单 goroutine 周期循环：Start 只生效一次，Stop 取消并等待循环退出。
type Loop struct {
	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Start 启动循环。tick > 0 时创建 ticker 并把通道交给 run；tick <= 0 时 tickC 为 nil。
// 已启动过则返回 false。
func (l *Loop) Start(parent context.Context, tick time.Duration, run func(loopCtx context.Context, tickC <-chan time.Time)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return false
	}
	l.started = true

	loopCtx, cancel := context.WithCancel(parent)
	l.cancel = cancel
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		var tickC <-chan time.Time
		if tick > 0 {
			ticker := time.NewTicker(tick)
			defer ticker.Stop()
			tickC = ticker.C
		}
		run(loopCtx, tickC)
	}()
	return true
}

// Stop 取消循环并等待其确认退出；未启动时直接返回
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done 循环退出后关闭；未启动时返回 nil
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

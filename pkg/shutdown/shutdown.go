package shutdown

import (
	"context"
	"sync"

	"github.com/betbot/hodbot/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器。
// 回调按注册顺序依次执行：先注册的先关闭（例如先停监控，再停行情，最后关存储）。
type Manager struct {
	callbacks []namedHandler
	mu        sync.Mutex
	once      sync.Once
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{
		callbacks: make([]namedHandler, 0),
	}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, fn: handler})
}

// Shutdown 依次执行所有关闭回调（阻塞调用，只执行一次）。
// 单个回调失败只记录日志，不影响后续回调；ctx 超时后剩余回调直接跳过。
func (m *Manager) Shutdown(ctx context.Context) {
	m.once.Do(func() {
		m.mu.Lock()
		callbacks := append([]namedHandler(nil), m.callbacks...)
		m.mu.Unlock()

		if len(callbacks) == 0 {
			logger.Infof("没有注册的关闭回调")
			return
		}

		logger.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))
		for i, cb := range callbacks {
			if err := ctx.Err(); err != nil {
				logger.Warnf("关闭超时，跳过剩余 %d 个回调: %v", len(callbacks)-i, err)
				return
			}
			if err := cb.fn(ctx); err != nil {
				logger.Errorf("关闭 %s 失败: %v", cb.name, err)
				continue
			}
			logger.Debugf("已关闭: %s", cb.name)
		}
		logger.Infof("所有关闭回调已完成")
	})
}

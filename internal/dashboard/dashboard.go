package dashboard

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "dashboard")

// Dashboard 终端看板
type Dashboard struct {
	source SnapshotFunc
	onQuit func()
}

// New onQuit 在用户按 q / ctrl+c 时调用（一般是取消根 context）
func New(source SnapshotFunc, onQuit func()) *Dashboard {
	return &Dashboard{source: source, onQuit: onQuit}
}

// Run 阻塞直到用户退出或 ctx 取消
func (d *Dashboard) Run(ctx context.Context) error {
	p := tea.NewProgram(newModel(d.source, d.onQuit), tea.WithAltScreen(), tea.WithContext(ctx))
	log.Debugf("启动终端看板")
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) && ctx.Err() == nil {
		return err
	}
	return nil
}

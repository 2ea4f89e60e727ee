package dashboard

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/betbot/hodbot/internal/domain"
)

const refreshInterval = time.Second

// Snapshot 看板一次刷新的数据
type Snapshot struct {
	Watchlist    []domain.WatchItem
	LastSignal   string
	Positions    []domain.PositionInfo
	MaxPositions int
	Pending      int // 执行队列中等待的信号
	Scanning     bool
	UpdatedAt    time.Time
}

// SnapshotFunc 由调用方提供，每次刷新调用一次
type SnapshotFunc func() Snapshot

type tickMsg time.Time

type model struct {
	source   SnapshotFunc
	onQuit   func()
	snapshot Snapshot
	width    int
	maxRows  int
}

func newModel(source SnapshotFunc, onQuit func()) model {
	return model{source: source, onQuit: onQuit, maxRows: 10}
}

func (m model) tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	return tea.Batch(func() tea.Msg { return tickMsg(time.Now()) }, m.tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// 交给主程序走统一的优雅退出
			if m.onQuit != nil {
				m.onQuit()
			}
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		if msg.Height > 12 {
			m.maxRows = msg.Height - 12
		}
		return m, nil
	case tickMsg:
		if m.source != nil {
			m.snapshot = m.source()
		}
		return m, m.tick()
	}
	return m, nil
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	topStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("226"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func boxStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("39")).
		Padding(0, 1)
}

func (m model) View() string {
	snap := m.snapshot
	available := m.width - 4
	if available < 100 {
		available = 100
	}
	half := available/2 - 1

	left := boxStyle(half).Render(m.renderWatchlist(snap, half))
	right := boxStyle(half).Render(m.renderPositions(snap, half))
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right)
	footer := dimStyle.Render("q 退出")
	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(snap), body, footer)
}

func (m model) renderHeader(snap Snapshot) string {
	status := warnStyle.Render("● 未连接")
	if snap.Scanning {
		status = okStyle.Render("● 扫描中")
	}
	updated := "-"
	if !snap.UpdatedAt.IsZero() {
		updated = snap.UpdatedAt.Format("15:04:05")
	}
	return headerStyle.Render(fmt.Sprintf("HOD Scanner | %s | Queue:%d | %s", updated, snap.Pending, status))
}

func (m model) renderWatchlist(snap Snapshot, width int) string {
	var lines []string
	lines = append(lines, titleStyle.Render(fmt.Sprintf("Watchlist (%d)", len(snap.Watchlist))))
	lines = append(lines, strings.Repeat("─", max(width-4, 1)))
	if len(snap.Watchlist) == 0 {
		lines = append(lines, dimStyle.Render("暂无符合条件的标的"))
		return strings.Join(lines, "\n")
	}
	lines = append(lines, fmt.Sprintf("%-4s %-6s %8s %8s %8s", "#", "Symbol", "Prox%", "HOD", "Last"))
	for i, it := range snap.Watchlist {
		if i >= m.maxRows {
			lines = append(lines, dimStyle.Render(fmt.Sprintf("... 还有 %d 个", len(snap.Watchlist)-i)))
			break
		}
		row := fmt.Sprintf("%-4d %-6s %7.2f%% %8.2f %8.2f", i+1, it.Symbol, it.HODProximity*100, it.HighOfDay, it.LastPrice)
		if i == 0 {
			row = topStyle.Render(row)
		}
		lines = append(lines, row)
	}
	if snap.LastSignal != "" {
		lines = append(lines, "", fmt.Sprintf("Last signal: %s", snap.LastSignal))
	}
	return strings.Join(lines, "\n")
}

func (m model) renderPositions(snap Snapshot, width int) string {
	var lines []string
	title := fmt.Sprintf("Positions (%d", len(snap.Positions))
	if snap.MaxPositions > 0 {
		title += fmt.Sprintf("/%d", snap.MaxPositions)
	}
	lines = append(lines, titleStyle.Render(title+")"))
	lines = append(lines, strings.Repeat("─", max(width-4, 1)))
	if len(snap.Positions) == 0 {
		lines = append(lines, dimStyle.Render("无持仓"))
		return strings.Join(lines, "\n")
	}
	lines = append(lines, fmt.Sprintf("%-6s %6s %8s %8s", "Symbol", "Qty", "Entry", "Held"))
	now := snap.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	for _, p := range snap.Positions {
		held := "-"
		if !p.OpenedAt.IsZero() {
			held = formatDuration(now.Sub(p.OpenedAt))
		}
		lines = append(lines, fmt.Sprintf("%-6s %6d %8.2f %8s", p.Symbol, p.Qty, p.EntryPrice, held))
	}
	return strings.Join(lines, "\n")
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}

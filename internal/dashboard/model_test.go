package dashboard

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/hodbot/internal/domain"
)

func testSnapshot() Snapshot {
	now := time.Date(2026, 10, 15, 10, 30, 0, 0, time.UTC)
	return Snapshot{
		Watchlist: []domain.WatchItem{
			{Symbol: "AAA", HODProximity: 0.005, HighOfDay: 10, LastPrice: 9.95},
			{Symbol: "BBB", HODProximity: 0.02, HighOfDay: 5, LastPrice: 4.9},
		},
		LastSignal:   "AAA",
		Positions:    []domain.PositionInfo{{Symbol: "AAA", Qty: 100, EntryPrice: 10, OpenedAt: now.Add(-90 * time.Second)}},
		MaxPositions: 3,
		Scanning:     true,
		UpdatedAt:    now,
	}
}

func TestModel_TickRefreshesSnapshot(t *testing.T) {
	calls := 0
	m := newModel(func() Snapshot { calls++; return testSnapshot() }, nil)

	next, cmd := m.Update(tickMsg(time.Now()))
	require.NotNil(t, cmd, "刷新后继续计时")
	assert.Equal(t, 1, calls)

	view := next.(model).View()
	assert.Contains(t, view, "AAA")
	assert.Contains(t, view, "BBB")
	assert.Contains(t, view, "Positions (1/3)")
	assert.Contains(t, view, "1m30s")
	assert.Contains(t, view, "Last signal: AAA")
}

func TestModel_EmptyView(t *testing.T) {
	m := newModel(nil, nil)
	view := m.View()
	assert.Contains(t, view, "暂无符合条件的标的")
	assert.Contains(t, view, "无持仓")
}

func TestModel_QuitTriggersShutdown(t *testing.T) {
	quit := 0
	m := newModel(nil, func() { quit++ })

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Equal(t, 1, quit)

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, 2, quit)
}

func TestModel_WindowSizeLimitsRows(t *testing.T) {
	m := newModel(nil, nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 13})
	mm := next.(model)
	assert.Equal(t, 1, mm.maxRows)

	mm.snapshot = testSnapshot()
	assert.Contains(t, mm.View(), "还有 1 个")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", formatDuration(45*time.Second))
	assert.Equal(t, "2m05s", formatDuration(125*time.Second))
	assert.Equal(t, "1h30m", formatDuration(90*time.Minute))
	assert.Equal(t, "0s", formatDuration(-time.Second))
}

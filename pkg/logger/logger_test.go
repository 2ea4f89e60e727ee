package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionFileName(t *testing.T) {
	assert.Equal(t, filepath.Join("logs", "bot_2026-10-15.log"), sessionFileName("logs/bot.log", "2026-10-15"))
	assert.Equal(t, "bot_2026-10-15.log", sessionFileName("bot.log", "2026-10-15"))
}

func TestInit_WritesToSessionFile(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	now = func() time.Time { return day }
	defer func() { now = time.Now }()

	require.NoError(t, Init(Config{
		Level:        "debug",
		OutputFile:   filepath.Join(dir, "bot.log"),
		LogBySession: true,
		Quiet:        true,
	}))
	Infof("hello %s", "scanner")

	want := filepath.Join(dir, "bot_2026-10-15.log")
	assert.Equal(t, want, CurrentLogFile())
	b, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Contains(t, string(b), "hello scanner")
}

func TestCheckAndRotate_SwitchesOnNewDay(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, 10, 15, 15, 59, 0, 0, time.UTC)
	now = func() time.Time { return day }
	defer func() { now = time.Now }()

	require.NoError(t, Init(Config{
		OutputFile:   filepath.Join(dir, "bot.log"),
		LogBySession: true,
		Quiet:        true,
	}))

	// 同一天不切换
	require.NoError(t, CheckAndRotate())
	assert.Equal(t, filepath.Join(dir, "bot_2026-10-15.log"), CurrentLogFile())

	day = day.Add(24 * time.Hour)
	require.NoError(t, CheckAndRotate())
	assert.Equal(t, filepath.Join(dir, "bot_2026-10-16.log"), CurrentLogFile())
}

package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteJournal(t *testing.T) {
	ctx := context.Background()
	j, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "sub", "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	base := time.Date(2026, 10, 15, 14, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordSignal(ctx, SignalRecord{Symbol: "ABCD", ReferencePrice: 11, Accepted: true, At: base}))
	require.NoError(t, j.RecordOrder(ctx, OrderRecord{
		Symbol: "ABCD", Qty: 90, ReferencePrice: 11, TakeProfitPrice: "11.55", StopLossPrice: "10.73",
		ClientOrderID: "cid-1", OrderID: "ord-1", Status: "submitted", Attempts: 1, At: base,
	}))
	require.NoError(t, j.RecordOrder(ctx, OrderRecord{
		Symbol: "WXYZ", Qty: 100, ReferencePrice: 10, TakeProfitPrice: "10.50", StopLossPrice: "9.75",
		ClientOrderID: "cid-2", Status: "failed", Attempts: 3, Error: "503", At: base.Add(time.Minute),
	}))
	require.NoError(t, j.RecordPositionEvent(ctx, PositionEvent{Symbol: "ABCD", OrderID: "ord-1", Event: "opened", At: base}))
	require.NoError(t, j.RecordPositionEvent(ctx, PositionEvent{Symbol: "ABCD", OrderID: "ord-1", Event: "closed", At: base.Add(time.Hour)}))

	orders, err := j.RecentOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "WXYZ", orders[0].Symbol, "按时间倒序")
	assert.Equal(t, "failed", orders[0].Status)
	assert.Equal(t, 3, orders[0].Attempts)
	assert.Equal(t, "ord-1", orders[1].OrderID)
	assert.Equal(t, base, orders[1].At)
	assert.Len(t, orders[1].ID, 26, "ULID")

	n, err := j.CountPositionEvents(ctx, "closed")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

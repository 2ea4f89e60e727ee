package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/hodbot/internal/domain"
	"github.com/betbot/hodbot/internal/journal"
)

type fakeScanner struct{}

func (fakeScanner) Watchlist() []domain.WatchItem {
	return []domain.WatchItem{
		{Symbol: "AAA", HODProximity: 0.01, HighOfDay: 10, LastPrice: 9.9},
		{Symbol: "BBB", HODProximity: 0.02, HighOfDay: 5, LastPrice: 4.9},
	}
}
func (fakeScanner) LastSignal() string { return "AAA" }
func (fakeScanner) Running() bool      { return true }

type fakePositions struct {
	pos map[string]domain.PositionInfo
}

func (f *fakePositions) Positions() []domain.PositionInfo {
	out := []domain.PositionInfo{}
	for _, p := range f.pos {
		out = append(out, p)
	}
	return out
}

func (f *fakePositions) RemovePosition(symbol string) bool {
	_, ok := f.pos[symbol]
	delete(f.pos, symbol)
	return ok
}

func (f *fakePositions) ClearPositions() int {
	n := len(f.pos)
	f.pos = map[string]domain.PositionInfo{}
	return n
}

type fakeOrders struct {
	err   error
	limit int
}

func (f *fakeOrders) RecentOrders(ctx context.Context, limit int) ([]journal.OrderRecord, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []journal.OrderRecord{{Symbol: "AAA", Qty: 100, Status: "submitted", OrderID: "ord-1", At: time.Now()}}, nil
}

func newTestServer() (*Server, *fakePositions, *fakeOrders) {
	pos := &fakePositions{pos: map[string]domain.PositionInfo{
		"AAA": {Symbol: "AAA", Qty: 100, OrderID: "ord-1"},
	}}
	orders := &fakeOrders{}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hodbot_ticks_total 1\n"))
	})
	return New("", Deps{Scanner: fakeScanner{}, Positions: pos, Orders: orders, Metrics: metrics}), pos, orders
}

func do(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	if rec.Header().Get("Content-Type") != "" && rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthAndMetrics(t *testing.T) {
	s, _, _ := newTestServer()
	h := s.Router()

	rec, body := do(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["scanning"])

	rec, _ = do(t, h, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hodbot_ticks_total")
}

func TestWatchlist(t *testing.T) {
	s, _, _ := newTestServer()
	rec, body := do(t, s.Router(), http.MethodGet, "/api/watchlist")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AAA", body["last_signal"])

	items := body["watchlist"].([]any)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.Equal(t, float64(1), first["rank"])
	assert.Equal(t, "AAA", first["symbol"])
}

func TestPositionsAdmin(t *testing.T) {
	s, pos, _ := newTestServer()
	h := s.Router()

	_, body := do(t, h, http.MethodGet, "/api/positions")
	assert.Len(t, body["positions"], 1)

	rec, body := do(t, h, http.MethodDelete, "/api/positions/aaa")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AAA", body["symbol"])
	assert.Equal(t, true, body["removed"])
	assert.Empty(t, pos.pos)

	_, body = do(t, h, http.MethodDelete, "/api/positions/AAA")
	assert.Equal(t, false, body["removed"])

	pos.pos["BBB"] = domain.PositionInfo{Symbol: "BBB"}
	pos.pos["CCC"] = domain.PositionInfo{Symbol: "CCC"}
	_, body = do(t, h, http.MethodPost, "/api/positions/clear")
	assert.Equal(t, float64(2), body["cleared"])
}

func TestOrders(t *testing.T) {
	s, _, orders := newTestServer()
	h := s.Router()

	rec, body := do(t, h, http.MethodGet, "/api/orders?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, orders.limit)
	list := body["orders"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "ord-1", list[0].(map[string]any)["order_id"])

	rec, _ = do(t, h, http.MethodGet, "/api/orders?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	orders.err = errors.New("db locked")
	rec, _ = do(t, h, http.MethodGet, "/api/orders")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestOrders_JournalDisabled(t *testing.T) {
	s := New("", Deps{Scanner: fakeScanner{}})
	rec, _ := do(t, s.Router(), http.MethodGet, "/api/orders")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, s.Router(), http.MethodGet, "/api/positions")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStartShutdown(t *testing.T) {
	s := New("127.0.0.1:0", Deps{Scanner: fakeScanner{}})
	require.NoError(t, s.Start())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))

	// 未启动的服务关闭是 no-op
	assert.NoError(t, New("", Deps{}).Shutdown(ctx))
}

package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.TickProcessed()
	m.TickProcessed()
	m.OrderResult("submitted")
	m.RiskRejected("daily_loss")
	m.SetOpenPositions(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.orders.WithLabelValues("submitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.riskRejections.WithLabelValues("daily_loss")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.openPositions))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TickProcessed()
		m.SignalDropped()
		m.SetWatchlistSize(3)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SignalEmitted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hodbot_signals_total 1")
}

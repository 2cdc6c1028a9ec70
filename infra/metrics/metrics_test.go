package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCommand(t *testing.T) {
	m := New()
	m.ObserveCommand("BTC/USDT", "submit", "accepted", time.Now())
	m.ObserveCommand("BTC/USDT", "submit", "accepted", time.Now())
	m.ObserveCommand("BTC/USDT", "cancel", "rejected", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Commands.WithLabelValues("BTC/USDT", "submit", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("BTC/USDT", "cancel", "rejected")))
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.Halted.WithLabelValues("BTC/USDT").Set(1)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Halted.WithLabelValues("BTC/USDT")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Trades.WithLabelValues("ETH/USDT").Add(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `clob_trades_total{symbol="ETH/USDT"} 3`)
}

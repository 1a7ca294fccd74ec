package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndGauges(t *testing.T) {
	ObserveDecision("TESTUSDT", "ENTRY")
	ObserveDecision("TESTUSDT", "ENTRY")
	ObserveOrder("TESTUSDT", "BUY")
	ObserveError("TESTUSDT", "exchange")
	SetPosition("TESTUSDT", 4, 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(decisions.WithLabelValues("TESTUSDT", "ENTRY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(orders.WithLabelValues("TESTUSDT", "BUY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(failures.WithLabelValues("TESTUSDT", "exchange")))
	assert.Equal(t, 4.0, testutil.ToFloat64(cycle.WithLabelValues("TESTUSDT")))
	assert.Equal(t, 2.0, testutil.ToFloat64(marginPosition.WithLabelValues("TESTUSDT")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	ObserveReconnect("ticker")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ladder_feed_reconnects_total")
}

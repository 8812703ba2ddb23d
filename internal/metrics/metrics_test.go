package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveOperation(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry, registry)

	m.ObserveOperation("register", nil)
	m.ObserveOperation("register", nil)
	m.ObserveOperation("heartbeat", errors.New("not found"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RegistryOperations.WithLabelValues("register", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistryOperations.WithLabelValues("heartbeat", "error")))

	// nil指标不应panic
	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.ObserveOperation("register", nil) })
}

func TestHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry, registry)
	m.Routes.Set(3)
	m.RouteRefreshes.WithLabelValues("ok").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "gateway_routes 3")
	assert.Contains(t, body, `gateway_route_refreshes_total{result="ok"} 1`)
}

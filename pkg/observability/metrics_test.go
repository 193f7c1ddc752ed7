package observability

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegistersEverything(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.CacheHitsTotal.WithLabelValues("user").Inc()
	m.CacheMissesTotal.WithLabelValues("role").Add(2)
	m.EventsAppliedTotal.Inc()
	m.DecisionsTotal.WithLabelValues("deny").Inc()

	if got := testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("user")); got != 1 {
		t.Errorf("expected 1 user cache hit, got %v", got)
	}
	if got := testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("role")); got != 2 {
		t.Errorf("expected 2 role cache misses, got %v", got)
	}
	if got := testutil.ToFloat64(m.EventsAppliedTotal); got != 1 {
		t.Errorf("expected 1 applied event, got %v", got)
	}
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.DecisionsTotal.WithLabelValues("allow").Inc()

	rec := httptest.NewRecorder()
	Handler(registry).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "permit_authz_decisions_total") {
		t.Error("expected decision counter in metrics output")
	}
}

func TestNewMetricsDoubleRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewMetrics(registry)
}

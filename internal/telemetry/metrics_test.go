package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentCountsStatusClass(t *testing.T) {
	h := Instrument("test_op", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "4xx"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	after := testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "4xx"))
	if after-before != 1 {
		t.Fatalf("4xx counter moved by %v, want 1", after-before)
	}
	if v := testutil.ToFloat64(InFlight.WithLabelValues("test_op")); v != 0 {
		t.Fatalf("in-flight = %v after request", v)
	}
}

func TestObservePlan(t *testing.T) {
	ObservePlan("ok", time.Millisecond, 5, 12)
	if v := testutil.ToFloat64(LiveMembers); v != 5 {
		t.Fatalf("live_members = %v", v)
	}
	if v := testutil.ToFloat64(GenerationOffset); v != 12 {
		t.Fatalf("generation_offset = %v", v)
	}

	ObservePlan("config_error", time.Millisecond, 0, 0)
	if v := testutil.ToFloat64(GenerationOffset); v != 12 {
		t.Fatalf("failed plan overwrote generation_offset: %v", v)
	}
}

func TestMetricsHandlerExposesNamespace(t *testing.T) {
	SetBuildInfo("dev", "abc123")
	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{"zephyrrotor_build_info", "zephyrrotor_uptime_seconds"} {
		if !strings.Contains(body, name) {
			t.Fatalf("/metrics missing %s", name)
		}
	}
}

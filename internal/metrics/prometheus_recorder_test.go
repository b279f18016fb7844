package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObservePhaseDuration("preBuild", 150*time.Millisecond)
	pr.ObserveCycleDuration(500 * time.Millisecond)
	pr.IncPhaseResult("preBuild", ResultSuccess)
	pr.IncCycleOutcome("success")
	pr.ObserveBackendDuration("esbuild/esm", 20*time.Millisecond, false)
	pr.IncWatchTrigger(true)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(mfs))
	for _, mf := range mfs {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "tsbuild_cycle_duration_seconds")
	assert.Contains(t, names, "tsbuild_backend_compile_duration_seconds")
	assert.Contains(t, names, "tsbuild_watch_triggers_total")
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	assert.NotPanics(t, func() {
		pr.ObservePhaseDuration("x", time.Second)
		pr.IncCycleOutcome("failed")
		pr.IncWatchTrigger(false)
	})
}

func TestHTTPHandlerServesRegistry(t *testing.T) {
	reg := prom.NewRegistry()
	NewPrometheusRecorder(reg).IncCycleOutcome("success")

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `tsbuild_cycle_outcomes_total{outcome="success"} 1`)
}

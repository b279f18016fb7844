package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "tsbuild"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	phaseDuration   *prom.HistogramVec
	cycleDuration   prom.Histogram
	phaseResults    *prom.CounterVec
	cycleOutcome    *prom.CounterVec
	backendDuration *prom.HistogramVec
	watchTriggers   *prom.CounterVec
}

// NewPrometheusRecorder constructs the metrics and registers them with reg.
// A nil reg gets a private registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		phaseDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Duration of individual compile cycle phases",
			Buckets:   prom.DefBuckets,
		}, []string{"phase"}),
		cycleDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Total compile cycle duration",
			Buckets:   prom.DefBuckets,
		}),
		phaseResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "phase_results_total",
			Help:      "Phase result counts by outcome",
		}, []string{"phase", "result"}),
		cycleOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_outcomes_total",
			Help:      "Compile cycle outcomes by final status",
		}, []string{"outcome"}),
		backendDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_compile_duration_seconds",
			Help:      "Duration of individual backend compiles",
			Buckets:   prom.DefBuckets,
		}, []string{"backend", "result"}),
		watchTriggers: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "watch_triggers_total",
			Help:      "Watch-triggered cycles, split by whether changes were coalesced",
		}, []string{"coalesced"}),
	}
	reg.MustRegister(pr.phaseDuration, pr.cycleDuration, pr.phaseResults, pr.cycleOutcome, pr.backendDuration, pr.watchTriggers)
	return pr
}

func (p *PrometheusRecorder) ObservePhaseDuration(phase string, d time.Duration) {
	if p == nil {
		return
	}
	p.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveCycleDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.cycleDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncPhaseResult(phase string, result ResultLabel) {
	if p == nil {
		return
	}
	p.phaseResults.WithLabelValues(phase, string(result)).Inc()
}

func (p *PrometheusRecorder) IncCycleOutcome(outcome string) {
	if p == nil {
		return
	}
	p.cycleOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveBackendDuration(backend string, d time.Duration, success bool) {
	if p == nil {
		return
	}
	p.backendDuration.WithLabelValues(backend, resultLabel(success)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncWatchTrigger(coalesced bool) {
	if p == nil {
		return
	}
	label := "false"
	if coalesced {
		label = "true"
	}
	p.watchTriggers.WithLabelValues(label).Inc()
}

func resultLabel(success bool) string {
	if success {
		return string(ResultSuccess)
	}
	return string(ResultFailed)
}

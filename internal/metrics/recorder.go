package metrics

import "time"

// ResultLabel enumerates phase result categories for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultFailed  ResultLabel = "failed"
	ResultSkipped ResultLabel = "skipped"
)

// Recorder defines observability hooks for compile cycles. Implementations
// may forward to Prometheus or anything else; NoopRecorder is the default.
type Recorder interface {
	ObservePhaseDuration(phase string, d time.Duration)
	ObserveCycleDuration(d time.Duration)
	IncPhaseResult(phase string, result ResultLabel)
	IncCycleOutcome(outcome string) // outcome: success|failed
	ObserveBackendDuration(backend string, d time.Duration, success bool)
	IncWatchTrigger(coalesced bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are disabled).
type NoopRecorder struct{}

func (NoopRecorder) ObservePhaseDuration(string, time.Duration)         {}
func (NoopRecorder) ObserveCycleDuration(time.Duration)                 {}
func (NoopRecorder) IncPhaseResult(string, ResultLabel)                 {}
func (NoopRecorder) IncCycleOutcome(string)                             {}
func (NoopRecorder) ObserveBackendDuration(string, time.Duration, bool) {}
func (NoopRecorder) IncWatchTrigger(bool)                               {}

package events

import "time"

// CycleStarted is published by the runner before the first phase of a
// compile cycle runs.
type CycleStarted struct {
	ID        string
	Mode      string
	StartedAt time.Time
}

// CycleFinished is published once per cycle, after the last phase ran or the
// first phase failed.
type CycleFinished struct {
	ID        string
	Mode      string
	StartedAt time.Time
	Duration  time.Duration
	Phases    map[string]time.Duration
	Err       error
}

// Succeeded reports whether the cycle completed every phase.
func (e CycleFinished) Succeeded() bool { return e.Err == nil }

// Outcome is a short label for metrics and persistence.
func (e CycleFinished) Outcome() string {
	if e.Err != nil {
		return "failed"
	}
	return "success"
}

// FilesChanged is published by the watcher when a debounced batch of file
// events is about to trigger a rebuild.
type FilesChanged struct {
	Paths     []string
	Coalesced int // raw triggers folded into the batch
	At        time.Time
}

// Package runner drives a session through its lifecycle: configuration,
// backend creation, compile cycles and teardown.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/tsbuild/internal/backend"
	"git.home.luguber.info/inful/tsbuild/internal/events"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
	"git.home.luguber.info/inful/tsbuild/internal/metrics"
	"git.home.luguber.info/inful/tsbuild/internal/session"
	"git.home.luguber.info/inful/tsbuild/internal/shutdown"
)

// State is the runner lifecycle position.
type State int32

const (
	StateConstructed State = iota
	StateBackendsCreated
	StateCompiling
	StateIdle
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateBackendsCreated:
		return "backends-created"
	case StateCompiling:
		return "compiling"
	case StateIdle:
		return "idle"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = ferrors.InternalError("runner already started").Fatal().Build()
	// ErrTerminated is returned by Cycle after Terminate.
	ErrTerminated = ferrors.InternalError("runner terminated").Build()
)

// Option customizes a Runner.
type Option func(*Runner)

// WithFactory replaces the backend constructors.
func WithFactory(f backend.Factory) Option {
	return func(r *Runner) { r.factory = f }
}

// WithShutdown registers Terminate with a coordinator on Start.
func WithShutdown(c *shutdown.Coordinator) Option {
	return func(r *Runner) { r.coordinator = c }
}

func WithRecorder(rec metrics.Recorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// Runner owns the backends of one session and serializes its compile cycles.
type Runner struct {
	session     *session.Session
	factory     backend.Factory
	coordinator *shutdown.Coordinator
	recorder    metrics.Recorder
	logger      *slog.Logger

	state   atomic.Int32
	started atomic.Bool

	cycleMu  sync.Mutex
	backends *backend.Set
	stopSub  func()

	terminateOnce sync.Once
	terminateErr  error
}

func New(s *session.Session, opts ...Option) *Runner {
	r := &Runner{
		session:  s,
		factory:  backend.DefaultFactory(),
		recorder: metrics.NoopRecorder{},
		logger:   s.Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current lifecycle state.
func (r *Runner) State() State { return State(r.state.Load()) }

// Backends returns the backend set, or nil before Start created it.
func (r *Runner) Backends() *backend.Set {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()
	return r.backends
}

// Start configures the session, creates and initialises the backends and runs
// the first cycle. In dev mode it then hands control to the watcher and
// returns; the first cycle's failure is logged, not returned. In build mode
// it terminates and returns the cycle error, or the terminate error.
func (r *Runner) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if r.coordinator != nil {
		r.coordinator.Register("runner", r.Terminate)
	}

	if err := r.prepare(ctx); err != nil {
		return r.abort(ctx, err)
	}

	pipeline := r.session.Plugins.Pipeline()
	if err := pipeline.OnStartup(ctx); err != nil {
		return r.abort(ctx, err)
	}

	cycleErr := r.Cycle(ctx)

	if r.session.Build.IsDev() {
		if cycleErr != nil {
			r.logger.Error("Initial build failed, waiting for changes", logfields.Error(cycleErr))
		}
		if ctx.Err() != nil {
			// Shutdown began during the first cycle; its handler terminates us.
			return nil
		}
		stop := events.Listen(r.session.Bus(), 8, func(evt events.FilesChanged) {
			r.recorder.IncWatchTrigger(evt.Coalesced > 1)
		})
		r.cycleMu.Lock()
		r.stopSub = stop
		r.cycleMu.Unlock()
		if err := r.session.Watch.OnChange(r.compileFromWatch); err != nil {
			return r.abort(ctx, err)
		}
		if err := r.session.Watch.Start(ctx); err != nil {
			return r.abort(ctx, err)
		}
		r.logger.Info("Watching for changes", logfields.Path(r.session.Build.RootDirectory))
		return nil
	}

	termErr := r.Terminate(context.WithoutCancel(ctx))
	if cycleErr != nil {
		return cycleErr
	}
	return termErr
}

// prepare runs the configuration phase and brings up the backends.
func (r *Runner) prepare(ctx context.Context) error {
	if err := r.session.Plugins.ModifyConfig(ctx); err != nil {
		return err
	}
	if err := r.session.Seal(); err != nil {
		return err
	}

	set, err := backend.NewSet(r.session, r.factory)
	if err != nil {
		return err
	}
	set.Observe(func(label string, d time.Duration, err error) {
		r.recorder.ObserveBackendDuration(label, d, err == nil)
	})

	r.cycleMu.Lock()
	r.backends = set
	r.cycleMu.Unlock()
	r.state.Store(int32(StateBackendsCreated))

	r.logger.Debug("Initialising backends", logfields.Count(set.Len()))
	return set.Initialise(ctx)
}

// abort tears everything down after a startup failure and returns err.
func (r *Runner) abort(ctx context.Context, err error) error {
	if termErr := r.Terminate(context.WithoutCancel(ctx)); termErr != nil {
		r.logger.Warn("Terminate after startup failure", logfields.Error(termErr))
	}
	return err
}

func (r *Runner) compileFromWatch(ctx context.Context) error {
	if err := r.Cycle(ctx); err != nil && !errors.Is(err, ErrTerminated) {
		r.logger.Error("Rebuild failed", logfields.Error(err))
	}
	return nil
}

type phase struct {
	name string
	run  func(context.Context) error
}

// Cycle runs one compile cycle. Cycles never overlap and are never
// canceled: a shutdown that starts mid-cycle waits for it in Terminate.
func (r *Runner) Cycle(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	if r.State() == StateTerminated {
		return ErrTerminated
	}
	if r.backends == nil {
		return ferrors.InternalError("cycle before backends were created").Fatal().Build()
	}

	id := uuid.NewString()
	mode := string(r.session.Mode())
	started := time.Now()
	logger := r.logger.With(logfields.CycleID(id))
	bus := r.session.Bus()

	r.state.Store(int32(StateCompiling))
	defer r.state.CompareAndSwap(int32(StateCompiling), int32(StateIdle))

	if err := bus.Publish(ctx, events.CycleStarted{ID: id, Mode: mode, StartedAt: started}); err != nil {
		logger.Debug("Publish cycle start failed", logfields.Error(err))
	}

	pipeline := r.session.Plugins.Pipeline()
	set := r.backends
	phases := []phase{
		{PhasePreBuild, pipeline.PreBuild},
		{PhaseOnBuildStart, pipeline.OnBuildStart},
		{PhaseCompile, func(ctx context.Context) error {
			pending := pipeline.StartOnBuild(ctx)
			compileErr := set.Compile(ctx)
			buildErr := pending.Wait()
			if compileErr != nil {
				return compileErr
			}
			return buildErr
		}},
		{PhaseOnBuildEnd, pipeline.OnBuildEnd},
		{PhasePostBuild, pipeline.PostBuild},
	}

	durations := make(map[string]time.Duration, len(phases))
	var cycleErr error
	for _, p := range phases {
		if cycleErr != nil {
			r.recorder.IncPhaseResult(p.name, metrics.ResultSkipped)
			continue
		}
		start := time.Now()
		err := p.run(ctx)
		d := time.Since(start)
		durations[p.name] = d
		r.recorder.ObservePhaseDuration(p.name, d)
		if err != nil {
			r.recorder.IncPhaseResult(p.name, metrics.ResultFailed)
			cycleErr = err
			continue
		}
		r.recorder.IncPhaseResult(p.name, metrics.ResultSuccess)
	}

	total := time.Since(started)
	finished := events.CycleFinished{
		ID:        id,
		Mode:      mode,
		StartedAt: started,
		Duration:  total,
		Phases:    durations,
		Err:       cycleErr,
	}
	r.recorder.ObserveCycleDuration(total)
	r.recorder.IncCycleOutcome(finished.Outcome())
	logPhases(logger, phases, durations)
	logger.Debug("Cycle finished",
		slog.String("outcome", finished.Outcome()),
		logfields.Duration(total))

	if err := bus.Publish(ctx, finished); err != nil {
		logger.Debug("Publish cycle finish failed", logfields.Error(err))
	}
	return cycleErr
}

func logPhases(logger *slog.Logger, phases []phase, durations map[string]time.Duration) {
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for _, p := range phases {
		d, ran := durations[p.name]
		if !ran {
			logger.Debug("Phase skipped", logfields.Phase(p.name))
			continue
		}
		logger.Debug("Phase", logfields.Phase(p.name), logfields.Duration(d))
	}
}

// Terminate waits for the in-flight cycle, fires OnShutdown, terminates the
// backends and then the session. Later calls return the first result.
func (r *Runner) Terminate(ctx context.Context) error {
	r.terminateOnce.Do(func() {
		r.cycleMu.Lock()
		set, stopSub := r.backends, r.stopSub
		r.state.Store(int32(StateTerminated))
		r.cycleMu.Unlock()

		if stopSub != nil {
			stopSub()
		}

		var errs []error
		if r.started.Load() && set != nil {
			if err := r.session.Plugins.Pipeline().OnShutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if set != nil {
			if err := set.Terminate(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := r.session.Terminate(ctx); err != nil {
			errs = append(errs, err)
		}
		r.terminateErr = joinErrors(errs)
		r.logger.Debug("Runner terminated", logfields.Error(r.terminateErr))
	})
	return r.terminateErr
}

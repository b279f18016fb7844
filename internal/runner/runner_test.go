package runner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/tsbuild/internal/backend"
	"git.home.luguber.info/inful/tsbuild/internal/config"
	"git.home.luguber.info/inful/tsbuild/internal/events"
	"git.home.luguber.info/inful/tsbuild/internal/metrics"
	"git.home.luguber.info/inful/tsbuild/internal/plugin"
	"git.home.luguber.info/inful/tsbuild/internal/session"
	"git.home.luguber.info/inful/tsbuild/internal/shutdown"
)

type fakeBackend struct {
	mu          sync.Mutex
	compileErr  error
	compiles    int
	terminated  int
	active      atomic.Int32
	overlapped  atomic.Bool
	canceled    atomic.Bool
	compileHook func()
}

func (f *fakeBackend) Initialise(context.Context) error { return nil }

func (f *fakeBackend) Compile(ctx context.Context) error {
	if f.active.Add(1) > 1 {
		f.overlapped.Store(true)
	}
	defer f.active.Add(-1)
	if f.compileHook != nil {
		f.compileHook()
	}
	if ctx.Err() != nil {
		f.canceled.Store(true)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compiles++
	return f.compileErr
}

func (f *fakeBackend) Terminate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated++
	return nil
}

func (f *fakeBackend) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.compiles, f.terminated
}

func singleFactory(b *fakeBackend) backend.Factory {
	return backend.Factory{
		Esbuild:  func(*session.Session, config.Format, bool) backend.Backend { return b },
		Rolldown: func(*session.Session) backend.Backend { return b },
	}
}

// hookLog records hook invocations in order.
type hookLog struct {
	mu    sync.Mutex
	calls []string
}

func (h *hookLog) add(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, name)
}

func (h *hookLog) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func recordingPlugin(log *hookLog, failOn string) session.Plugin {
	return func(context.Context, *session.Session) (*plugin.Activated, error) {
		hook := func(name string) plugin.Hook {
			return func(context.Context) error {
				log.add(name)
				if name == failOn {
					return errors.New(name + " failed")
				}
				return nil
			}
		}
		return &plugin.Activated{
			Name: "recorder",
			ModifyConfig: func(_ context.Context, cfg *config.Config) error {
				log.add(plugin.HookModifyConfig)
				cfg.Outdir = "build"
				return nil
			},
			OnStartup:    hook(plugin.HookOnStartup),
			OnShutdown:   hook(plugin.HookOnShutdown),
			PreBuild:     hook(plugin.HookPreBuild),
			OnBuildStart: hook(plugin.HookOnBuildStart),
			OnBuildEnd:   hook(plugin.HookOnBuildEnd),
			PostBuild:    hook(plugin.HookPostBuild),
		}, nil
	}
}

func newSession(t *testing.T, mode session.Mode, plugins ...session.Plugin) *session.Session {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"package.json": `{"name":"demo"}`,
		"src/index.ts": "export const a = 1\n",
	}
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	cfg := config.Defaults()
	cfg.Root = root
	cfg.Entrypoints = []string{"src/index.ts"}
	cfg.Watch.Debounce = 20 * time.Millisecond
	cfg.Watch.MaxDelay = 200 * time.Millisecond

	s, err := session.Create(t.Context(), cfg, mode,
		session.WithPlugins(plugins...),
		session.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Terminate(context.Background()) })
	return s
}

func TestBuildModeRunsPhasesInOrderAndTerminates(t *testing.T) {
	log := &hookLog{}
	s := newSession(t, session.ModeBuild, recordingPlugin(log, ""))
	fb := &fakeBackend{}
	finished, unsubscribe := events.Subscribe[events.CycleFinished](s.Bus(), 1)
	defer unsubscribe()

	r := New(s, WithFactory(singleFactory(fb)))
	require.NoError(t, r.Start(t.Context()))

	assert.Equal(t, []string{
		plugin.HookModifyConfig,
		plugin.HookOnStartup,
		plugin.HookPreBuild,
		plugin.HookOnBuildStart,
		plugin.HookOnBuildEnd,
		plugin.HookPostBuild,
		plugin.HookOnShutdown,
	}, log.snapshot())
	assert.True(t, s.Sealed())
	assert.Equal(t, filepath.Join(s.Build.RootDirectory, "build"), s.Build.OutputDirectory)
	assert.Equal(t, StateTerminated, r.State())

	compiles, terminated := fb.counts()
	assert.Equal(t, 1, compiles)
	assert.Equal(t, 1, terminated)

	select {
	case evt := <-finished:
		assert.True(t, evt.Succeeded())
		assert.NotEmpty(t, evt.ID)
		assert.Contains(t, evt.Phases, PhaseCompile)
	case <-time.After(time.Second):
		t.Fatal("no CycleFinished event")
	}
}

func TestBuildModeFailingBackendSkipsLaterPhases(t *testing.T) {
	log := &hookLog{}
	s := newSession(t, session.ModeBuild, recordingPlugin(log, ""))
	fb := &fakeBackend{compileErr: errors.New("syntax error")}

	r := New(s, WithFactory(singleFactory(fb)))
	err := r.Start(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error")

	calls := log.snapshot()
	assert.NotContains(t, calls, plugin.HookOnBuildEnd)
	assert.NotContains(t, calls, plugin.HookPostBuild)
	assert.Contains(t, calls, plugin.HookOnShutdown)
	_, terminated := fb.counts()
	assert.Equal(t, 1, terminated)
}

func TestFirstFailingHookStopsCycle(t *testing.T) {
	log := &hookLog{}
	s := newSession(t, session.ModeBuild, recordingPlugin(log, plugin.HookPreBuild))
	fb := &fakeBackend{}

	err := New(s, WithFactory(singleFactory(fb))).Start(t.Context())
	require.Error(t, err)
	compiles, _ := fb.counts()
	assert.Zero(t, compiles)
	assert.NotContains(t, log.snapshot(), plugin.HookOnBuildStart)
}

func TestDevModeSwallowsFirstFailureAndRebuildsOnChange(t *testing.T) {
	s := newSession(t, session.ModeDev)
	fb := &fakeBackend{compileErr: errors.New("broken")}

	r := New(s, WithFactory(singleFactory(fb)))
	require.NoError(t, r.Start(t.Context()))
	t.Cleanup(func() { _ = r.Terminate(context.Background()) })
	assert.Equal(t, StateIdle, r.State())

	fb.mu.Lock()
	fb.compileErr = nil
	fb.mu.Unlock()

	path := filepath.Join(s.Build.RootDirectory, "src", "index.ts")
	require.NoError(t, os.WriteFile(path, []byte("export const a = 2\n"), 0o644))

	require.Eventually(t, func() bool {
		compiles, _ := fb.counts()
		return compiles >= 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestCyclesNeverOverlap(t *testing.T) {
	s := newSession(t, session.ModeDev)
	fb := &fakeBackend{compileHook: func() { time.Sleep(10 * time.Millisecond) }}

	r := New(s, WithFactory(singleFactory(fb)))
	require.NoError(t, r.Start(t.Context()))
	t.Cleanup(func() { _ = r.Terminate(context.Background()) })

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Cycle(t.Context())
		}()
	}
	wg.Wait()

	compiles, _ := fb.counts()
	assert.Equal(t, 6, compiles)
	assert.False(t, fb.overlapped.Load())
}

func TestTerminateIsIdempotent(t *testing.T) {
	log := &hookLog{}
	s := newSession(t, session.ModeDev, recordingPlugin(log, ""))
	fb := &fakeBackend{}

	r := New(s, WithFactory(singleFactory(fb)))
	require.NoError(t, r.Start(t.Context()))

	require.NoError(t, r.Terminate(t.Context()))
	require.NoError(t, r.Terminate(t.Context()))
	_, terminated := fb.counts()
	assert.Equal(t, 1, terminated)

	shutdowns := 0
	for _, c := range log.snapshot() {
		if c == plugin.HookOnShutdown {
			shutdowns++
		}
	}
	assert.Equal(t, 1, shutdowns)
	assert.ErrorIs(t, r.Cycle(t.Context()), ErrTerminated)
}

func TestSecondStartIsRejected(t *testing.T) {
	s := newSession(t, session.ModeBuild)
	r := New(s, WithFactory(singleFactory(&fakeBackend{})))
	require.NoError(t, r.Start(t.Context()))
	assert.ErrorIs(t, r.Start(t.Context()), ErrAlreadyStarted)
}

func TestShutdownCoordinatorTerminatesRunner(t *testing.T) {
	s := newSession(t, session.ModeDev)
	fb := &fakeBackend{}
	coord := shutdown.New(t.Context(), shutdown.WithLogger(slog.New(slog.DiscardHandler)))

	r := New(s, WithFactory(singleFactory(fb)), WithShutdown(coord))
	require.NoError(t, r.Start(coord.Context()))

	require.NoError(t, coord.Shutdown(t.Context()))
	assert.Equal(t, StateTerminated, r.State())
	_, terminated := fb.counts()
	assert.Equal(t, 1, terminated)
}

func TestSignalDuringCycleDrains(t *testing.T) {
	log := &hookLog{}
	s := newSession(t, session.ModeBuild, recordingPlugin(log, ""))
	signals := make(chan os.Signal, 2)
	coord := shutdown.New(t.Context(),
		shutdown.WithSignals(signals),
		shutdown.WithExit(func(int) { t.Error("second-signal exit on a single signal") }),
		shutdown.WithLogger(slog.New(slog.DiscardHandler)))
	stop := coord.Listen()
	defer stop()

	fb := &fakeBackend{compileHook: func() {
		signals <- os.Interrupt
		select {
		case <-coord.Context().Done():
		case <-time.After(time.Second):
			t.Error("signal did not start shutdown")
		}
	}}

	r := New(s, WithFactory(singleFactory(fb)), WithShutdown(coord))
	require.NoError(t, r.Start(coord.Context()))

	select {
	case <-coord.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not drain")
	}
	assert.False(t, fb.canceled.Load(), "in-flight compile saw a canceled context")
	compiles, terminated := fb.counts()
	assert.Equal(t, 1, compiles)
	assert.Equal(t, 1, terminated)

	calls := log.snapshot()
	assert.Contains(t, calls, plugin.HookPostBuild)
	assert.Equal(t, plugin.HookOnShutdown, calls[len(calls)-1])
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes []string
	phases   map[string]int
	backends int
}

func (c *countingRecorder) ObservePhaseDuration(phase string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phases == nil {
		c.phases = map[string]int{}
	}
	c.phases[phase]++
}

func (c *countingRecorder) ObserveCycleDuration(time.Duration)         {}
func (c *countingRecorder) IncPhaseResult(string, metrics.ResultLabel) {}

func (c *countingRecorder) IncCycleOutcome(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, outcome)
}

func (c *countingRecorder) ObserveBackendDuration(string, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backends++
}

func (c *countingRecorder) IncWatchTrigger(bool) {}

func TestCycleRecordsMetrics(t *testing.T) {
	s := newSession(t, session.ModeBuild)
	rec := &countingRecorder{}

	r := New(s, WithFactory(singleFactory(&fakeBackend{})), WithRecorder(rec))
	require.NoError(t, r.Start(t.Context()))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"success"}, rec.outcomes)
	assert.Equal(t, 1, rec.backends)
	assert.Equal(t, 1, rec.phases[PhaseCompile])
	assert.Equal(t, 1, rec.phases[PhasePostBuild])
}

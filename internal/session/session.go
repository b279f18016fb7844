// Package session holds the context graph of one orchestrator run: the
// invocation settings, entry points, repository facts, activated plugins and
// the dev-mode watcher.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	"git.home.luguber.info/inful/tsbuild/internal/events"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
)

// Option customizes Create.
type Option func(*Session)

// WithPlugins sets the plugin factories in registration order.
func WithPlugins(plugins ...Plugin) Option {
	return func(s *Session) { s.factories = append(s.factories, plugins...) }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBus shares an existing event bus. The session does not close it.
func WithBus(bus *events.Bus) Option {
	return func(s *Session) {
		if bus != nil {
			s.bus = bus
			s.ownsBus = false
		}
	}
}

// WithWorkingDir sets the directory used when the config has no root.
func WithWorkingDir(dir string) Option {
	return func(s *Session) { s.workDir = dir }
}

// Session is the context graph. Sub-contexts are available once Create returns.
type Session struct {
	cfg       *config.Config
	logger    *slog.Logger
	bus       *events.Bus
	ownsBus   bool
	workDir   string
	factories []Plugin

	Build       *BuildContext
	Entrypoints *EntrypointContext
	Repository  *RepositoryContext
	Plugins     *PluginContext
	Watch       *WatchContext

	sealed        atomic.Bool
	terminateOnce sync.Once
	terminateErr  error
}

// Create builds every sub-context in order. On failure the sub-contexts that
// were already built are torn down in reverse and the error is returned.
func Create(ctx context.Context, cfg *config.Config, mode Mode, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, ferrors.ConfigError("configuration is required").Fatal().Build()
	}
	s := &Session{cfg: cfg, logger: slog.Default(), bus: events.NewBus(), ownsBus: true}
	for _, opt := range opts {
		opt(s)
	}

	var unwind []func(context.Context) error
	fail := func(err error) (*Session, error) {
		cleanup := context.WithoutCancel(ctx)
		for i := len(unwind) - 1; i >= 0; i-- {
			if uerr := unwind[i](cleanup); uerr != nil {
				s.logger.Warn("Session teardown failed", logfields.Error(uerr))
			}
		}
		if s.ownsBus {
			s.bus.Close()
		}
		return nil, err
	}

	var err error
	if s.Build, err = newBuildContext(cfg, mode, s.workDir); err != nil {
		return fail(err)
	}
	if s.Entrypoints, err = newEntrypointContext(cfg, s.Build.RootDirectory); err != nil {
		return fail(err)
	}
	if s.Repository, err = newRepositoryContext(s.Build.RootDirectory, s.logger); err != nil {
		return fail(err)
	}
	if s.Plugins, err = newPluginContext(ctx, s, s.factories); err != nil {
		return fail(err)
	}
	unwind = append(unwind, s.Plugins.terminate)
	if s.Watch, err = newWatchContext(cfg, s.Build, s.bus, s.logger); err != nil {
		return fail(err)
	}

	s.logger.Debug("Session created",
		logfields.Mode(string(mode)),
		logfields.Path(s.Build.RootDirectory),
		logfields.Project(s.Repository.Name))
	return s, nil
}

// Seal normalizes and validates the configuration and makes it read-only for
// plugins. Derived settings are refreshed from the final configuration.
func (s *Session) Seal() error {
	if s.sealed.Load() {
		return nil
	}
	res, err := config.NormalizeConfig(s.cfg)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		s.logger.Warn("Configuration normalized", slog.String("detail", w))
	}
	if err := config.NewDefaultApplier().ApplyDefaults(s.cfg); err != nil {
		return err
	}
	if err := config.ValidateConfig(s.cfg); err != nil {
		return err
	}

	s.Build.refresh(s.cfg)
	s.Watch.ignore(s.Build.OutputDirectory)
	declared, err := declaredEntrypoints(s.cfg, s.Build.RootDirectory)
	if err != nil {
		return err
	}
	s.Entrypoints.redeclare(declared)
	s.sealed.Store(true)
	return nil
}

// Sealed reports whether Seal has completed.
func (s *Session) Sealed() bool { return s.sealed.Load() }

// Config returns the configuration. Treat it as read-only once sealed.
func (s *Session) Config() *config.Config { return s.cfg }

func (s *Session) Mode() Mode           { return s.Build.Mode }
func (s *Session) Bus() *events.Bus     { return s.bus }
func (s *Session) Logger() *slog.Logger { return s.logger }

// Terminate tears down the watch, plugin, repository and build contexts
// concurrently, joining every error. Later calls return the first result.
func (s *Session) Terminate(ctx context.Context) error {
	s.terminateOnce.Do(func() {
		p := pool.New().WithErrors().WithContext(ctx)
		p.Go(func(context.Context) error { return s.Watch.terminate() })
		p.Go(s.Plugins.terminate)
		p.Go(func(context.Context) error { return s.Repository.terminate() })
		p.Go(func(context.Context) error { return s.Build.terminate() })
		s.terminateErr = p.Wait()
		if s.ownsBus {
			s.bus.Close()
		}
	})
	return s.terminateErr
}

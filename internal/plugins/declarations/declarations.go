// Package declarations emits type declarations alongside every build. Each
// backend gets its own worker; emission starts with the build and the build
// end waits for it. Declaration failures are logged, never propagated.
package declarations

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/evanw/esbuild/pkg/api"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	"git.home.luguber.info/inful/tsbuild/internal/declaration"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
	"git.home.luguber.info/inful/tsbuild/internal/plugin"
	"git.home.luguber.info/inful/tsbuild/internal/session"
)

const (
	Name = "declarations"
	// SkipEnv disables the plugin when set to any non-empty value.
	SkipEnv = "SKIP_DECLARATIONS"
)

type Options struct {
	// CompilerOptions are layered over the generated compiler options.
	CompilerOptions map[string]any `mapstructure:"compiler_options"`
	// Factory replaces the tsc compiler.
	Factory declaration.CompilerFactory `mapstructure:"-"`
}

func Factory(raw map[string]any) (session.Plugin, error) {
	var opts Options
	if err := config.DecodeOptions(Name, raw, &opts); err != nil {
		return nil, err
	}
	return New(opts), nil
}

func New(opts Options) session.Plugin {
	return func(_ context.Context, s *session.Session) (*plugin.Activated, error) {
		cfg := s.Config()
		if os.Getenv(SkipEnv) != "" || !cfg.DeclarationsEnabled() {
			return nil, nil
		}
		if cfg.Backend == config.BackendRolldown {
			s.Logger().Warn("Declarations are not emitted with the rolldown backend")
			return nil, nil
		}
		e := &emitter{session: s, opts: opts, logger: s.Logger().With(logfields.Plugin(Name))}
		return &plugin.Activated{
			Name:       Name,
			Initialise: e.initialise,
			Terminate:  e.terminate,
			Esbuild:    e.esbuild,
		}, nil
	}
}

type emitter struct {
	session *session.Session
	opts    Options
	logger  *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	factory declaration.CompilerFactory
	handles []*declaration.Handle
}

func (e *emitter) initialise(ctx context.Context) error {
	e.mu.Lock()
	e.ctx = context.WithoutCancel(ctx)
	e.mu.Unlock()
	return nil
}

// compilerFactory is built on first use so it sees the sealed configuration.
func (e *emitter) compilerFactory() declaration.CompilerFactory {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.factory == nil {
		e.factory = e.opts.Factory
	}
	if e.factory == nil {
		cfg := e.session.Config()
		e.factory = declaration.NewTscFactory(declaration.TscOptions{
			Root:     e.session.Build.RootDirectory,
			Command:  cfg.Declarations.Compiler,
			Tsconfig: cfg.Declarations.Tsconfig,
			Logger:   e.logger,
		})
	}
	return e.factory
}

func (e *emitter) spawn(format config.Format, outdir string) *declaration.Handle {
	factory := e.compilerFactory()
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	h := declaration.Spawn(ctx, declaration.Payload{
		Format:            format,
		Outdir:            outdir,
		CompilerOverrides: e.opts.CompilerOptions,
		Entrypoints:       e.entrypoints(),
	}, factory, e.logger)

	e.mu.Lock()
	e.handles = append(e.handles, h)
	e.mu.Unlock()
	return h
}

// entrypoints is the generic set. Backends resolve it before creating the
// engine context, so it is only missing when the plugin runs outside one.
func (e *emitter) entrypoints() []string {
	if e.session.Entrypoints.Resolved() {
		return e.session.Entrypoints.Generic()
	}
	e.logger.Debug("Entry points not resolved, declaring the configured set")
	return e.session.Entrypoints.Declared()
}

func (e *emitter) esbuild(bool) *api.Plugin {
	return &api.Plugin{
		Name: "tsbuild:" + Name,
		Setup: func(build api.PluginBuild) {
			format := config.FormatESM
			if build.InitialOptions.Format == api.FormatCommonJS {
				format = config.FormatCJS
			}
			h := e.spawn(format, build.InitialOptions.Outdir)
			logger := e.logger.With(logfields.Format(string(format)))

			build.OnStart(func() (api.OnStartResult, error) {
				err := h.Emit(context.Background())
				switch {
				case errors.Is(err, declaration.ErrEmitInFlight):
					logger.Debug("Declaration emit still running")
				case err != nil:
					logger.Warn("Declaration emit not started", logfields.Error(err))
				}
				return api.OnStartResult{}, nil
			})
			build.OnEnd(func(*api.BuildResult) (api.OnEndResult, error) {
				if err := h.AwaitComplete(context.Background()); err == nil {
					logger.Debug("Declarations emitted")
				}
				return api.OnEndResult{}, nil
			})
		},
	}
}

func (e *emitter) terminate(ctx context.Context) error {
	e.mu.Lock()
	handles := e.handles
	e.handles = nil
	e.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := h.Exit(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

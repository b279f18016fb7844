package plugin

import (
	"context"
	"log/slog"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/net/html"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
)

// Pipeline dispatches hooks across activated plugins in registration order.
// Configuration and document hooks run sequentially; build-cycle hooks run
// concurrently and report every failure.
type Pipeline struct {
	plugins []*Activated
	logger  *slog.Logger
}

// NewPipeline returns a pipeline over plugins. Nil entries are dropped.
func NewPipeline(plugins []*Activated, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	kept := make([]*Activated, 0, len(plugins))
	for _, p := range plugins {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return &Pipeline{plugins: kept, logger: logger}
}

// Plugins returns the activated plugins in registration order.
func (p *Pipeline) Plugins() []*Activated {
	out := make([]*Activated, len(p.plugins))
	copy(out, p.plugins)
	return out
}

// Names returns the activated plugin names in registration order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.plugins))
	for i, a := range p.plugins {
		names[i] = a.Name
	}
	return names
}

// ModifyConfig runs every ModifyConfig hook in order and stops at the first error.
func (p *Pipeline) ModifyConfig(ctx context.Context, cfg *config.Config) error {
	for _, a := range p.plugins {
		if a.ModifyConfig == nil {
			continue
		}
		if err := a.ModifyConfig(ctx, cfg); err != nil {
			return hookError(err, a.Name, HookModifyConfig)
		}
	}
	return nil
}

// EsbuildPlugins collects the engine-native plugins for one backend instance.
func (p *Pipeline) EsbuildPlugins(leader bool) []api.Plugin {
	var out []api.Plugin
	for _, a := range p.plugins {
		if a.Esbuild == nil {
			continue
		}
		if ep := a.Esbuild(leader); ep != nil {
			out = append(out, *ep)
		}
	}
	return out
}

// TransformIndexHTML runs every document transform in order on doc.
func (p *Pipeline) TransformIndexHTML(ctx context.Context, doc *html.Node) error {
	for _, a := range p.plugins {
		if a.TransformIndexHTML == nil {
			continue
		}
		if err := a.TransformIndexHTML(ctx, doc); err != nil {
			return hookError(err, a.Name, HookTransformIndexHTML)
		}
	}
	return nil
}

func (p *Pipeline) Initialise(ctx context.Context) error {
	return p.run(ctx, HookInitialise)
}

func (p *Pipeline) Terminate(ctx context.Context) error {
	return p.run(ctx, HookTerminate)
}

func (p *Pipeline) OnStartup(ctx context.Context) error {
	return p.run(ctx, HookOnStartup)
}

func (p *Pipeline) OnShutdown(ctx context.Context) error {
	return p.run(ctx, HookOnShutdown)
}

func (p *Pipeline) PreBuild(ctx context.Context) error {
	return p.run(ctx, HookPreBuild)
}

func (p *Pipeline) OnBuildStart(ctx context.Context) error {
	return p.run(ctx, HookOnBuildStart)
}

func (p *Pipeline) OnBuildEnd(ctx context.Context) error {
	return p.run(ctx, HookOnBuildEnd)
}

func (p *Pipeline) PostBuild(ctx context.Context) error {
	return p.run(ctx, HookPostBuild)
}

// Pending is an OnBuild dispatch that has been started but not awaited.
type Pending struct {
	done chan struct{}
	err  error
}

// Wait blocks until every OnBuild hook has returned and reports their joined error.
func (pd *Pending) Wait() error {
	<-pd.done
	return pd.err
}

// StartOnBuild launches the OnBuild hooks without waiting for them. The
// hooks race with compilation; callers synchronize through Wait.
func (p *Pipeline) StartOnBuild(ctx context.Context) *Pending {
	pd := &Pending{done: make(chan struct{})}
	go func() {
		defer close(pd.done)
		pd.err = p.run(ctx, HookOnBuild)
	}()
	return pd
}

// run invokes one hook on every plugin concurrently and joins all errors.
func (p *Pipeline) run(ctx context.Context, name string) error {
	wp := pool.New().WithErrors().WithContext(ctx)
	for _, a := range p.plugins {
		h := a.hook(name)
		if h == nil {
			continue
		}
		wp.Go(func(ctx context.Context) error {
			p.logger.Debug("Running plugin hook", logfields.Plugin(a.Name), logfields.Hook(name))
			if err := h(ctx); err != nil {
				return hookError(err, a.Name, name)
			}
			return nil
		})
	}
	return wp.Wait()
}

func hookError(err error, plugin, hook string) error {
	return ferrors.WrapError(err, ferrors.CategoryPlugin, "plugin hook failed").
		WithContext("plugin", plugin).
		WithContext("hook", hook).
		Build()
}

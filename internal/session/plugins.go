package session

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/plugin"
)

// Plugin activates against a session. It returns nil, nil to decline.
type Plugin func(ctx context.Context, s *Session) (*plugin.Activated, error)

// ErrConfigSealed is returned when configuration is mutated after Seal.
var ErrConfigSealed = ferrors.InternalError("configuration is sealed").Fatal().Build()

// PluginContext owns the activated plugin pipeline.
type PluginContext struct {
	pipeline *plugin.Pipeline
	cfg      *config.Config
	sealed   *atomic.Bool
}

func newPluginContext(ctx context.Context, s *Session, factories []Plugin) (*PluginContext, error) {
	activated := make([]*plugin.Activated, len(factories))
	p := pool.New().WithErrors().WithContext(ctx)
	for i, factory := range factories {
		if factory == nil {
			continue
		}
		p.Go(func(ctx context.Context) error {
			a, err := factory(ctx, s)
			if err != nil {
				return ferrors.WrapError(err, ferrors.CategoryPlugin, "plugin activation failed").
					WithContext("index", i).
					Build()
			}
			activated[i] = a
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	pipeline := plugin.NewPipeline(activated, s.logger)
	if err := pipeline.Initialise(ctx); err != nil {
		// Plugins that did initialise still get their Terminate.
		_ = pipeline.Terminate(context.WithoutCancel(ctx))
		return nil, err
	}
	s.logger.Debug("Plugins activated", slog.Any("plugins", pipeline.Names()))
	return &PluginContext{pipeline: pipeline, cfg: s.cfg, sealed: &s.sealed}, nil
}

// Pipeline returns the activated plugins.
func (p *PluginContext) Pipeline() *plugin.Pipeline { return p.pipeline }

// ModifyConfig lets plugins mutate the configuration. It fails once the
// session is sealed.
func (p *PluginContext) ModifyConfig(ctx context.Context) error {
	if p.sealed.Load() {
		return ErrConfigSealed
	}
	return p.pipeline.ModifyConfig(ctx, p.cfg)
}

func (p *PluginContext) terminate(ctx context.Context) error {
	return p.pipeline.Terminate(ctx)
}

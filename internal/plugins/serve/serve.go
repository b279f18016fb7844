// Package serve runs a dev server next to the leader backend. Web projects
// get the output served over HTTP with live reload; node applications are
// restarted after every successful build.
package serve

import (
	"context"
	"io"
	"path/filepath"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
	prom "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/html"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	"git.home.luguber.info/inful/tsbuild/internal/devserver"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/htmldoc"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
	"git.home.luguber.info/inful/tsbuild/internal/plugin"
	"git.home.luguber.info/inful/tsbuild/internal/plugins"
	"git.home.luguber.info/inful/tsbuild/internal/session"
)

const Name = "serve"

// Options carries what cannot come from the configuration file.
type Options struct {
	// Registry exposes metrics on the web server when set.
	Registry *prom.Registry
	// Stdout and Stderr receive application output; default to the process streams.
	Stdout io.Writer
	Stderr io.Writer
}

// NewFactory adapts New to the plugin registry. Server settings live in the
// server section of the configuration, so no raw options are accepted.
func NewFactory(opts Options) plugins.Factory {
	return func(raw map[string]any) (session.Plugin, error) {
		if err := config.DecodeOptions(Name, raw, &struct{}{}); err != nil {
			return nil, err
		}
		return New(opts), nil
	}
}

// Variant is the kind of dev server.
type Variant string

const (
	VariantWeb Variant = "web"
	VariantApp Variant = "app"
)

// VariantFor picks the server variant for cfg.
func VariantFor(cfg *config.Config) Variant {
	if cfg.Preset == config.PresetNodeApp || (cfg.Preset == "" && cfg.Platform == config.PlatformNode) {
		return VariantApp
	}
	return VariantWeb
}

// New declines outside dev mode, for libraries, when serving is disabled and
// for the rolldown backend, which has no engine plugin hooks.
func New(opts Options) session.Plugin {
	return func(_ context.Context, s *session.Session) (*plugin.Activated, error) {
		cfg := s.Config()
		if !s.Build.IsDev() || cfg.IsLibrary() || !cfg.ServeEnabled() {
			return nil, nil
		}
		if cfg.Backend == config.BackendRolldown {
			s.Logger().Warn("Dev server is not available with the rolldown backend")
			return nil, nil
		}

		entry, err := entrypointFor(cfg, s)
		if err != nil {
			return nil, err
		}
		p := &servePlugin{
			session: s,
			opts:    opts,
			variant: VariantFor(cfg),
			entry:   entry,
		}
		a := &plugin.Activated{
			Name:      Name,
			OnStartup: p.start,
			Terminate: p.close,
			Esbuild:   p.esbuild,
		}
		if p.variant == VariantWeb && cfg.ReloadEnabled() {
			a.TransformIndexHTML = injectReload
		}
		return a, nil
	}
}

// entrypointFor returns the source the app variant runs. More than one
// declared entry needs server.entrypoint, except for web apps.
func entrypointFor(cfg *config.Config, s *session.Session) (string, error) {
	if e := cfg.Server.Entrypoint; e != "" {
		if !filepath.IsAbs(e) {
			e = filepath.Join(s.Build.RootDirectory, e)
		}
		return filepath.Clean(e), nil
	}
	declared := s.Entrypoints.Declared()
	if len(declared) > 1 && cfg.Preset != config.PresetWebApp {
		return "", ferrors.ValidationError("serving needs a single entrypoint; set server.entrypoint").
			WithContext("count", len(declared)).
			Fatal().
			Build()
	}
	if len(declared) == 0 {
		return "", nil
	}
	return declared[0], nil
}

func injectReload(_ context.Context, doc *html.Node) error {
	return htmldoc.AddInlineScript(doc, devserver.LiveReloadScript)
}

type servePlugin struct {
	session *session.Session
	opts    Options
	variant Variant
	entry   string

	mu     sync.Mutex
	server devserver.Server
	ctx    context.Context
}

// start builds the server once the configuration is sealed.
func (p *servePlugin) start(ctx context.Context) error {
	cfg := p.session.Config()
	logger := p.session.Logger().With(logfields.Plugin(Name))

	var srv devserver.Server
	switch p.variant {
	case VariantApp:
		srv = devserver.NewAppServer(devserver.AppOptions{
			Command:     cfg.Server.Command,
			NodeArgs:    cfg.Server.NodeArgs,
			Root:        p.session.Build.RootDirectory,
			Entrypoint:  p.entry,
			KillTimeout: cfg.Server.KillTimeout,
			Stdout:      p.opts.Stdout,
			Stderr:      p.opts.Stderr,
			Logger:      logger,
		})
	default:
		web, err := devserver.NewWebServer(devserver.WebOptions{
			Host:     cfg.Server.Host,
			Port:     cfg.Server.Port,
			Outdir:   p.session.Build.OutputDirectory,
			Proxy:    cfg.Server.Proxy,
			Registry: p.opts.Registry,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		srv = web
	}

	p.mu.Lock()
	p.server = srv
	p.ctx = context.WithoutCancel(ctx)
	p.mu.Unlock()
	logger.Debug("Dev server prepared", "variant", string(p.variant))
	return nil
}

func (p *servePlugin) current() (devserver.Server, context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.server, p.ctx
}

func (p *servePlugin) close(ctx context.Context) error {
	srv, _ := p.current()
	if srv == nil {
		return nil
	}
	return srv.Close(ctx)
}

// esbuild hooks the leader only: the lock is held from build start to
// build end and the server starts with every error-free result.
func (p *servePlugin) esbuild(leader bool) *api.Plugin {
	if !leader {
		return nil
	}
	return &api.Plugin{
		Name: "tsbuild:" + Name,
		Setup: func(build api.PluginBuild) {
			build.OnStart(func() (api.OnStartResult, error) {
				srv, _ := p.current()
				if srv == nil {
					return api.OnStartResult{}, nil
				}
				return api.OnStartResult{}, srv.AcquireLock()
			})
			build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
				srv, ctx := p.current()
				if srv == nil {
					return api.OnEndResult{}, nil
				}
				srv.ReleaseLock()
				if len(result.Errors) > 0 {
					return api.OnEndResult{}, nil
				}
				return api.OnEndResult{}, srv.Start(ctx, *result)
			})
		},
	}
}

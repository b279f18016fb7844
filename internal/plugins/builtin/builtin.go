// Package builtin registers every plugin shipped with tsbuild and derives
// the implicit plugin list from the configuration.
package builtin

import (
	"io"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	"git.home.luguber.info/inful/tsbuild/internal/plugins"
	"git.home.luguber.info/inful/tsbuild/internal/plugins/declarations"
	"git.home.luguber.info/inful/tsbuild/internal/plugins/diagnostics"
	"git.home.luguber.info/inful/tsbuild/internal/plugins/history"
	"git.home.luguber.info/inful/tsbuild/internal/plugins/html"
	"git.home.luguber.info/inful/tsbuild/internal/plugins/notify"
	"git.home.luguber.info/inful/tsbuild/internal/plugins/optionaldeps"
	"git.home.luguber.info/inful/tsbuild/internal/plugins/output"
	"git.home.luguber.info/inful/tsbuild/internal/plugins/serve"
	"git.home.luguber.info/inful/tsbuild/internal/session"
)

// Options carries process-level dependencies some plugins need.
type Options struct {
	Registry *prom.Registry
	Stdout   io.Writer
	Stderr   io.Writer
}

// Registry returns a registry holding every built-in plugin.
func Registry(opts Options) *plugins.Registry {
	r := plugins.NewRegistry()
	for name, f := range map[string]plugins.Factory{
		optionaldeps.Name: optionaldeps.Factory,
		html.Name:         html.Factory,
		declarations.Name: declarations.Factory,
		output.Name:       output.Factory,
		serve.Name: serve.NewFactory(serve.Options{
			Registry: opts.Registry,
			Stdout:   opts.Stdout,
			Stderr:   opts.Stderr,
		}),
		diagnostics.Name: diagnostics.Factory,
		history.Name:     history.Factory,
		notify.Name:      notify.Factory,
	} {
		// Names are distinct constants.
		_ = r.Register(name, f)
	}
	return r
}

// Implicit lists the plugins every session gets, in hook order. Plugins that
// decline on their own (html without a document, serve outside dev) are
// always listed; the others only when their section is configured.
func Implicit(cfg *config.Config) []string {
	names := []string{optionaldeps.Name, html.Name, declarations.Name}
	if cfg.Output.AssetNames != "" {
		names = append(names, output.Name)
	}
	names = append(names, serve.Name, diagnostics.Name)
	if cfg.History.Path != "" {
		names = append(names, history.Name)
	}
	if cfg.Notify.URL != "" {
		names = append(names, notify.Name)
	}
	return names
}

// Plugins resolves the session plugin list for cfg.
func Plugins(cfg *config.Config, opts Options) ([]session.Plugin, error) {
	return Registry(opts).Resolve(Implicit(cfg), cfg.Plugins)
}

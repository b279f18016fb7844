package commands

import (
	"git.home.luguber.info/inful/tsbuild/internal/config"
	"git.home.luguber.info/inful/tsbuild/internal/session"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Entrypoints []string `arg:"" optional:"" help:"Entry points, overriding the configured list"`
	Release     bool     `help:"Production build (no sourcemaps, NODE_ENV=production)"`
	Minify      bool     `help:"Minify output"`
	Format      []string `short:"f" help:"Output formats (esm, cjs)"`
	Outdir      string   `short:"o" help:"Output directory"`
	Preset      string   `short:"p" help:"Configuration preset (nodeApp, webApp, lib, nodeLib, webLib)"`
}

func (b *BuildCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.load(b.overrides())
	if err != nil {
		return err
	}
	return run(g, cfg, session.ModeBuild)
}

func (b *BuildCmd) overrides() *config.Config {
	o := &config.Config{
		Entrypoints: b.Entrypoints,
		Outdir:      b.Outdir,
		Preset:      config.Preset(b.Preset),
	}
	if b.Release {
		o.Release = config.Bool(true)
	}
	if b.Minify {
		o.Minify = config.Bool(true)
	}
	for _, f := range b.Format {
		o.Formats = append(o.Formats, config.Format(f))
	}
	return o
}

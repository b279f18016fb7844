package commands

import (
	"log/slog"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	"git.home.luguber.info/inful/tsbuild/internal/session"
)

// DevCmd implements the 'dev' command.
type DevCmd struct {
	BuildCmd `embed:""`

	Port    int    `help:"Dev server port"`
	Host    string `help:"Dev server host"`
	NoServe bool   `name:"no-serve" help:"Watch and rebuild without a server"`
}

func (d *DevCmd) Run(g *Global, root *CLI) error {
	o := d.overrides()
	o.Server.Port = d.Port
	o.Server.Host = d.Host
	if d.NoServe {
		o.Serve = config.Bool(false)
	}

	cfg, err := root.load(o)
	if err != nil {
		return err
	}
	// dev serves applications unless the configuration says otherwise.
	if cfg.Serve == nil && !cfg.IsLibrary() {
		cfg.Serve = config.Bool(true)
	}
	g.Logger.Debug("Starting dev session",
		slog.Bool("serve", cfg.ServeEnabled()),
		slog.String("preset", string(cfg.Preset)))
	return run(g, cfg, session.ModeDev)
}

package commands

import (
	"context"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
	"git.home.luguber.info/inful/tsbuild/internal/metrics"
	"git.home.luguber.info/inful/tsbuild/internal/plugins/builtin"
	"git.home.luguber.info/inful/tsbuild/internal/runner"
	"git.home.luguber.info/inful/tsbuild/internal/session"
	"git.home.luguber.info/inful/tsbuild/internal/shutdown"
)

// Global is passed to every command's Run.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path (default: search upward for tsbuild.yaml or package.json)"`
	EnvFile string           `name:"env-file" help:"Load environment variables from this file instead of .env"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build   BuildCmd   `cmd:"" default:"withargs" help:"Build the project once"`
	Dev     DevCmd     `cmd:"" help:"Build, watch for changes and serve"`
	Init    InitCmd    `cmd:"" help:"Write a starter configuration file"`
	History HistoryCmd `cmd:"" help:"Show recent compile cycles from the build history"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply(g *Global) error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	if g != nil {
		g.Logger = logger
	}
	return nil
}

func (c *CLI) load(overrides *config.Config) (*config.Config, error) {
	return config.Load(config.LoadOptions{
		Path:      c.Config,
		EnvFile:   c.EnvFile,
		Overrides: overrides,
	})
}

// run drives one session to completion. Build mode returns after the single
// cycle; dev mode returns once a signal has drained the shutdown handlers.
func run(g *Global, cfg *config.Config, mode session.Mode) error {
	logger := g.Logger
	coordinator := shutdown.New(context.Background(), shutdown.WithLogger(logger))
	stop := coordinator.Listen()
	defer stop()
	ctx := coordinator.Context()

	var (
		reg      *prom.Registry
		recorder metrics.Recorder = metrics.NoopRecorder{}
	)
	if cfg.MetricsEnabled() {
		reg = prom.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		recorder = metrics.NewPrometheusRecorder(reg)
	}

	plugins, err := builtin.Plugins(cfg, builtin.Options{Registry: reg})
	if err != nil {
		return err
	}
	s, err := session.Create(ctx, cfg, mode,
		session.WithLogger(logger),
		session.WithPlugins(plugins...))
	if err != nil {
		return err
	}

	r := runner.New(s, runner.WithShutdown(coordinator), runner.WithRecorder(recorder))
	if err := r.Start(ctx); err != nil {
		return err
	}
	if mode == session.ModeBuild {
		logger.Info("Build complete", logfields.Path(s.Build.OutputDirectory))
		return nil
	}

	<-coordinator.Done()
	return coordinator.Shutdown(context.Background())
}

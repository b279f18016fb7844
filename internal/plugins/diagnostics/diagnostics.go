// Package diagnostics logs the start and end of every compile cycle.
package diagnostics

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	"git.home.luguber.info/inful/tsbuild/internal/events"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
	"git.home.luguber.info/inful/tsbuild/internal/plugin"
	"git.home.luguber.info/inful/tsbuild/internal/session"
)

const Name = "diagnostics"

type Options struct {
	// Level for cycle records; failures always log at error.
	Level string `mapstructure:"level"`
}

// Factory decodes options for the plugin registry.
func Factory(raw map[string]any) (session.Plugin, error) {
	var opts Options
	if err := config.DecodeOptions(Name, raw, &opts); err != nil {
		return nil, err
	}
	return New(opts), nil
}

func New(opts Options) session.Plugin {
	return func(_ context.Context, s *session.Session) (*plugin.Activated, error) {
		level := slog.LevelInfo
		if opts.Level != "" {
			if err := level.UnmarshalText([]byte(strings.ToUpper(opts.Level))); err != nil {
				return nil, err
			}
		}
		d := &reporter{
			bus:    s.Bus(),
			level:  level,
			logger: s.Logger().With(logfields.Project(s.Repository.Name)),
		}
		return &plugin.Activated{
			Name:       Name,
			Initialise: d.subscribe,
			Terminate:  d.unsubscribe,
		}, nil
	}
}

type reporter struct {
	bus    *events.Bus
	level  slog.Level
	logger *slog.Logger

	mu   sync.Mutex
	stop []func()
}

func (d *reporter) subscribe(context.Context) error {
	started := events.Listen(d.bus, 4, d.started)
	finished := events.Listen(d.bus, 4, d.finished)
	d.mu.Lock()
	d.stop = append(d.stop, started, finished)
	d.mu.Unlock()
	return nil
}

func (d *reporter) unsubscribe(context.Context) error {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()
	for _, fn := range stop {
		fn()
	}
	return nil
}

func (d *reporter) started(e events.CycleStarted) {
	d.logger.Log(context.Background(), d.level, "Build started",
		logfields.CycleID(e.ID),
		logfields.Mode(e.Mode))
}

func (d *reporter) finished(e events.CycleFinished) {
	if e.Err != nil {
		d.logger.Error("Build failed",
			logfields.CycleID(e.ID),
			logfields.Duration(e.Duration),
			logfields.Error(e.Err))
		return
	}
	d.logger.Log(context.Background(), d.level, "Build finished",
		logfields.CycleID(e.ID),
		logfields.Duration(e.Duration))
}

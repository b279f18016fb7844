package session

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	"git.home.luguber.info/inful/tsbuild/internal/events"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/watch"
)

// ErrWatchDisabled is returned by OnChange and Start outside dev mode.
var ErrWatchDisabled = ferrors.ValidationError("watching is only available in dev mode").Build()

// WatchContext owns the dev-mode watcher. It is inert in build mode.
type WatchContext struct {
	watcher *watch.Watcher
}

func newWatchContext(cfg *config.Config, b *BuildContext, bus *events.Bus, logger *slog.Logger) (*WatchContext, error) {
	if !b.IsDev() {
		return &WatchContext{}, nil
	}
	w, err := watch.New(watch.Options{
		Root:         b.RootDirectory,
		IgnoredDirs:  []string{b.OutputDirectory},
		ExcludeGlobs: cfg.Watch.ExcludeGlobs,
		Debounce:     cfg.Watch.Debounce,
		MaxDelay:     cfg.Watch.MaxDelay,
		PollInterval: cfg.Watch.PollInterval,
		Bus:          bus,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	return &WatchContext{watcher: w}, nil
}

// Enabled reports whether a watcher exists.
func (w *WatchContext) Enabled() bool { return w.watcher != nil }

// OnChange registers the single rebuild callback.
func (w *WatchContext) OnChange(cb watch.Callback) error {
	if w.watcher == nil {
		return ErrWatchDisabled
	}
	return w.watcher.OnChange(cb)
}

// Start begins watching.
func (w *WatchContext) Start(ctx context.Context) error {
	if w.watcher == nil {
		return ErrWatchDisabled
	}
	return w.watcher.Start(ctx)
}

// Watcher returns the underlying watcher, or nil in build mode.
func (w *WatchContext) Watcher() *watch.Watcher { return w.watcher }

func (w *WatchContext) ignore(dir string) {
	if w.watcher != nil {
		w.watcher.Filter().AddIgnoredDir(dir)
	}
}

func (w *WatchContext) terminate() error {
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}

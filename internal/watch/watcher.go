// Package watch turns filesystem changes below a project root into
// debounced, coalesced rebuild callbacks.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/tsbuild/internal/events"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
)

// Callback runs once per coalesced batch of changes.
type Callback func(ctx context.Context) error

// ErrAlreadyRegistered is returned by a second OnChange.
var ErrAlreadyRegistered = ferrors.ValidationError("watch callback already registered").Build()

type Options struct {
	Root         string
	IgnoredDirs  []string
	ExcludeGlobs []string
	Debounce     time.Duration
	MaxDelay     time.Duration
	// PollInterval enables mtime polling alongside notifications when > 0.
	PollInterval time.Duration
	// Bus receives a FilesChanged event per batch when set.
	Bus    *events.Bus
	Logger *slog.Logger
}

// Watcher is a single-subscriber watch over a directory tree.
type Watcher struct {
	opts   Options
	filter *Filter
	logger *slog.Logger

	mu        sync.Mutex
	cb        Callback
	started   bool
	closed    bool
	fsw       *fsnotify.Watcher
	poller    *Poller
	coalescer *Coalescer
	cancel    context.CancelFunc
	loopDone  chan struct{}
}

func New(opts Options) (*Watcher, error) {
	if opts.Root == "" {
		return nil, ferrors.ValidationError("watch root is required").Build()
	}
	filter, err := NewFilter(opts.Root, opts.IgnoredDirs, opts.ExcludeGlobs)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{opts: opts, filter: filter, logger: logger}, nil
}

// Filter returns the path filter in use.
func (w *Watcher) Filter() *Filter { return w.filter }

// OnChange registers the callback. Only one registration is allowed.
func (w *Watcher) OnChange(cb Callback) error {
	if cb == nil {
		return ferrors.ValidationError("watch callback is nil").Build()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cb != nil {
		return ErrAlreadyRegistered
	}
	w.cb = cb
	return nil
}

// Start begins watching. The callback must be registered first.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ferrors.WatchError("watcher closed").Build()
	}
	if w.started {
		return nil
	}
	if w.cb == nil {
		return ferrors.ValidationError("no watch callback registered").Build()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryWatch, "create filesystem watcher").Build()
	}
	if err := w.addRecursive(fsw, w.filter.Root()); err != nil {
		_ = fsw.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.coalescer = NewCoalescer(runCtx, w.opts.Debounce, w.opts.MaxDelay, w.runBatch)

	if w.opts.PollInterval > 0 {
		p, err := NewPoller(w.filter, w.opts.PollInterval, w.coalescer.Trigger, w.logger)
		if err != nil {
			cancel()
			_ = fsw.Close()
			return err
		}
		w.poller = p
		p.Start()
	}

	w.fsw = fsw
	w.cancel = cancel
	w.loopDone = make(chan struct{})
	w.started = true
	go w.loop(runCtx, fsw, w.loopDone)

	w.logger.Info("Watching for changes",
		logfields.Path(w.filter.Root()),
		slog.Duration("debounce", w.coalescer.quiet))
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	if w.filter.Ignored(ev.Name) {
		return
	}
	if ev.Op.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			_ = w.addRecursive(fsw, ev.Name)
		}
	}
	w.logger.Debug("File change detected", logfields.Path(ev.Name), slog.String("op", ev.Op.String()))
	w.coalescer.Trigger(ev.Name)
}

func (w *Watcher) runBatch(ctx context.Context, b Batch) {
	w.mu.Lock()
	cb := w.cb
	w.mu.Unlock()

	if w.opts.Bus != nil {
		_ = w.opts.Bus.Publish(ctx, events.FilesChanged{Paths: b.Paths, Coalesced: b.Coalesced, At: time.Now()})
	}
	if err := cb(ctx); err != nil {
		w.logger.Warn("Watch callback failed", logfields.Count(len(b.Paths)), logfields.Error(err))
	}
}

func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return ferrors.WrapError(err, ferrors.CategoryWatch, "walk watch root").
					WithContext("path", path).
					Build()
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.filter.IgnoredDir(path) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			w.logger.Warn("Watch add failed", logfields.Path(path), logfields.Error(err))
		}
		return nil
	})
}

// Running reports whether the callback is executing.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	c := w.coalescer
	w.mu.Unlock()
	return c != nil && c.Running()
}

// Pending reports whether a follow-up run is queued.
func (w *Watcher) Pending() bool {
	w.mu.Lock()
	c := w.coalescer
	w.mu.Unlock()
	return c != nil && c.Pending()
}

// Close stops notifications, polling and timers, then waits for the
// in-flight callback. It is idempotent.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	started := w.started
	fsw, poller, coalescer, cancel, done := w.fsw, w.poller, w.coalescer, w.cancel, w.loopDone
	w.mu.Unlock()

	if !started {
		return nil
	}

	var firstErr error
	if err := fsw.Close(); err != nil {
		firstErr = ferrors.WrapError(err, ferrors.CategoryWatch, "close filesystem watcher").Build()
	}
	<-done
	if poller != nil {
		if err := poller.Stop(); err != nil && firstErr == nil {
			firstErr = ferrors.WrapError(err, ferrors.CategoryWatch, "stop poll scheduler").Build()
		}
	}
	coalescer.Close()
	cancel()
	return firstErr
}

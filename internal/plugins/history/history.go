// Package history records every finished compile cycle in the SQLite
// build history.
package history

import (
	"context"
	"path/filepath"
	"sync"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	"git.home.luguber.info/inful/tsbuild/internal/events"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	store "git.home.luguber.info/inful/tsbuild/internal/history"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
	"git.home.luguber.info/inful/tsbuild/internal/plugin"
	"git.home.luguber.info/inful/tsbuild/internal/session"
)

const Name = "history"

type Options struct {
	// Path overrides history.path. Relative paths are resolved against the
	// project root.
	Path string `mapstructure:"path"`
}

func Factory(raw map[string]any) (session.Plugin, error) {
	var opts Options
	if err := config.DecodeOptions(Name, raw, &opts); err != nil {
		return nil, err
	}
	return New(opts), nil
}

func New(opts Options) session.Plugin {
	return func(_ context.Context, s *session.Session) (*plugin.Activated, error) {
		path := opts.Path
		if path == "" {
			path = s.Config().History.Path
		}
		if path == "" {
			return nil, nil
		}
		if path != ":memory:" && !filepath.IsAbs(path) {
			path = filepath.Join(s.Build.RootDirectory, path)
		}
		r := &recorder{
			path:     path,
			bus:      s.Bus(),
			revision: s.Repository.Revision,
			session:  s,
		}
		return &plugin.Activated{
			Name:       Name,
			Initialise: r.open,
			Terminate:  r.close,
		}, nil
	}
}

type recorder struct {
	path     string
	bus      *events.Bus
	revision string
	session  *session.Session

	mu    sync.Mutex
	store *store.SQLiteStore
	stop  func()
	ctx   context.Context
}

func (r *recorder) open(ctx context.Context) error {
	st, err := store.NewSQLiteStore(r.path)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "open build history").
			WithContext("path", r.path).
			Build()
	}
	r.mu.Lock()
	r.store = st
	r.ctx = context.WithoutCancel(ctx)
	r.mu.Unlock()
	r.stop = events.Listen(r.bus, 8, r.record)
	return nil
}

func (r *recorder) record(e events.CycleFinished) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store == nil {
		return
	}
	if err := r.store.Append(r.ctx, store.FromEvent(e, r.revision)); err != nil {
		r.session.Logger().Warn("Failed to record build history",
			logfields.CycleID(e.ID),
			logfields.Error(err))
	}
}

func (r *recorder) close(context.Context) error {
	if r.stop != nil {
		r.stop()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store == nil {
		return nil
	}
	err := r.store.Close()
	r.store = nil
	return err
}


// Package backend drives the bundling engines. One esbuild backend exists per
// output format; rolldown runs as a single external process for all formats.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/pool"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
	"git.home.luguber.info/inful/tsbuild/internal/session"
)

// Backend is one engine instance. Backends never retry; the runner decides
// what a failed Compile means.
type Backend interface {
	Initialise(ctx context.Context) error
	Compile(ctx context.Context) error
	Terminate(ctx context.Context) error
}

// Factory constructs backends. Tests substitute fakes.
type Factory struct {
	Esbuild  func(s *session.Session, format config.Format, leader bool) Backend
	Rolldown func(s *session.Session) Backend
}

// DefaultFactory builds the real engine backends.
func DefaultFactory() Factory {
	return Factory{
		Esbuild: func(s *session.Session, format config.Format, leader bool) Backend {
			return NewEsbuild(s, format, leader)
		},
		Rolldown: func(s *session.Session) Backend {
			return NewRolldown(s)
		},
	}
}

// Observer receives the duration and outcome of each backend compile.
type Observer func(label string, d time.Duration, err error)

// Set is the ordered collection of backends for one session. The first
// backend is the leader.
type Set struct {
	backends []Backend
	labels   []string
	logger   *slog.Logger
	observe  Observer
}

// NewSet creates one esbuild backend per format, or one rolldown backend.
// The session must be sealed.
func NewSet(s *session.Session, f Factory) (*Set, error) {
	if !s.Sealed() {
		return nil, ferrors.InternalError("backends created before configuration was sealed").Fatal().Build()
	}
	cfg := s.Config()
	set := &Set{logger: s.Logger()}

	switch cfg.Backend {
	case config.BackendRolldown:
		set.add(f.Rolldown(s), string(config.BackendRolldown))
	case config.BackendEsbuild, "":
		for i, format := range cfg.Formats {
			set.add(f.Esbuild(s, format, i == 0), fmt.Sprintf("%s/%s", config.BackendEsbuild, format))
		}
	default:
		return nil, ferrors.ConfigError("unknown backend").WithContext("backend", string(cfg.Backend)).Build()
	}
	if len(set.backends) == 0 {
		return nil, ferrors.ConfigError("no output formats configured").Fatal().Build()
	}
	return set, nil
}

func (s *Set) add(b Backend, label string) {
	s.backends = append(s.backends, b)
	s.labels = append(s.labels, label)
}

// Observe installs a compile observer.
func (s *Set) Observe(o Observer) { s.observe = o }

func (s *Set) Len() int { return len(s.backends) }

// Backends returns the backends in creation order.
func (s *Set) Backends() []Backend {
	out := make([]Backend, len(s.backends))
	copy(out, s.backends)
	return out
}

// Labels names each backend, e.g. "esbuild/cjs".
func (s *Set) Labels() []string {
	out := make([]string, len(s.labels))
	copy(out, s.labels)
	return out
}

// Initialise initialises every backend concurrently and waits for all of them.
func (s *Set) Initialise(ctx context.Context) error {
	return s.each(ctx, "initialise", func(ctx context.Context, b Backend) error { return b.Initialise(ctx) })
}

// Compile compiles every backend concurrently and joins every failure.
func (s *Set) Compile(ctx context.Context) error {
	return s.each(ctx, "compile", func(ctx context.Context, b Backend) error { return b.Compile(ctx) })
}

// Terminate terminates every backend concurrently, collecting every outcome.
func (s *Set) Terminate(ctx context.Context) error {
	return s.each(ctx, "terminate", func(ctx context.Context, b Backend) error { return b.Terminate(ctx) })
}

func (s *Set) each(ctx context.Context, op string, fn func(context.Context, Backend) error) error {
	p := pool.New().WithErrors().WithContext(ctx)
	for i, b := range s.backends {
		label := s.labels[i]
		p.Go(func(ctx context.Context) error {
			start := time.Now()
			err := fn(ctx, b)
			if op == "compile" && s.observe != nil {
				s.observe(label, time.Since(start), err)
			}
			if err != nil {
				s.logger.Debug("Backend "+op+" failed", logfields.Backend(label), logfields.Error(err))
				if ferrors.IsClassified(err) {
					return err
				}
				return ferrors.WrapError(err, ferrors.CategoryBackend, "backend "+op+" failed").
					WithContext("backend", label).
					Build()
			}
			return nil
		})
	}
	return p.Wait()
}

package session

import (
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	"git.home.luguber.info/inful/tsbuild/internal/entrypoint"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/fsutil"
)

// DefaultEntrypoint is used when no entry points are declared.
const DefaultEntrypoint = "index.html"

// EntrypointContext holds the declared entry points and, once a backend has
// resolved them, the bundled and generic sets. The first Set wins.
type EntrypointContext struct {
	mu       sync.RWMutex
	declared []string
	bundled  []string
	generic  []string
	resolved bool
}

func newEntrypointContext(cfg *config.Config, root string) (*EntrypointContext, error) {
	declared, err := declaredEntrypoints(cfg, root)
	if err != nil {
		return nil, err
	}
	return &EntrypointContext{declared: declared}, nil
}

func declaredEntrypoints(cfg *config.Config, root string) ([]string, error) {
	if len(cfg.Entrypoints) == 0 {
		fallback := filepath.Join(root, DefaultEntrypoint)
		if !fsutil.Exists(fallback) {
			return nil, ferrors.ConfigError("no entrypoints configured and no index.html found").
				Fatal().
				WithContext("path", fallback).
				Build()
		}
		return []string{fallback}, nil
	}

	out := make([]string, 0, len(cfg.Entrypoints))
	for _, e := range cfg.Entrypoints {
		if !filepath.IsAbs(e) {
			e = filepath.Join(root, e)
		}
		e = filepath.Clean(e)
		if !strings.ContainsAny(e, "*?[") && !fsutil.Exists(e) {
			return nil, ferrors.ConfigError("entrypoint not found").
				Fatal().
				WithContext("path", e).
				Build()
		}
		if !slices.Contains(out, e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// redeclare replaces the declared set. It is a no-op once resolved.
func (e *EntrypointContext) redeclare(declared []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.resolved {
		e.declared = declared
	}
}

// Declared returns the declared entry points as absolute paths.
func (e *EntrypointContext) Declared() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.declared)
}

// Set stores resolved sets. It reports false when sets were already stored.
func (e *EntrypointContext) Set(s entrypoint.Sets) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resolved {
		return false
	}
	e.bundled = slices.Clone(s.Bundled)
	e.generic = slices.Clone(s.Generic)
	e.resolved = true
	return true
}

func (e *EntrypointContext) Resolved() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.resolved
}

// Bundled returns the entry points fed to the engine.
func (e *EntrypointContext) Bundled() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.bundled)
}

// Generic returns every project source reachable from the declared entries.
func (e *EntrypointContext) Generic() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.generic)
}

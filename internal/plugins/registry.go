// Package plugins maps plugin names to factories so a configuration can
// enable plugins by name.
package plugins

import (
	"slices"
	"sync"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/session"
)

// Factory builds a session plugin from the raw options of its config entry.
// opts is nil when the plugin is enabled without options.
type Factory func(opts map[string]any) (session.Plugin, error)

// Registry manages plugin registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Names are unique.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return ferrors.InternalError("plugin registration needs a name and a factory").Build()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return ferrors.InternalError("plugin already registered").WithContext("plugin", name).Build()
	}
	r.factories[name] = f
	return nil
}

// Get returns the factory registered under name.
func (r *Registry) Get(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		return nil, ferrors.NotFoundError("plugin not registered").WithContext("plugin", name).Build()
	}
	return f, nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Resolve builds the plugin list for a session. implicit names come first in
// the given order; configured entries follow unless already listed. An entry
// for an implicit name only supplies its options.
func (r *Registry) Resolve(implicit []string, entries []config.PluginConfig) ([]session.Plugin, error) {
	order := slices.Clone(implicit)
	options := make(map[string]map[string]any, len(entries))
	for _, e := range entries {
		if !r.Has(e.Name) {
			return nil, ferrors.ConfigError("unknown plugin").
				WithContext("plugin", e.Name).
				WithContext("known", r.Names()).
				Fatal().
				Build()
		}
		if _, dup := options[e.Name]; dup {
			return nil, ferrors.ConfigError("plugin configured twice").WithContext("plugin", e.Name).Build()
		}
		options[e.Name] = e.Options
		if !slices.Contains(order, e.Name) {
			order = append(order, e.Name)
		}
	}

	out := make([]session.Plugin, 0, len(order))
	for _, name := range order {
		f, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		p, err := f(options[name])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

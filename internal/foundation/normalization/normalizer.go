// Package normalization maps loosely written configuration strings onto
// enum values.
package normalization

import (
	"slices"
	"strings"

	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
)

// Func cleans a raw string before lookup.
type Func func(string) string

// Normalizer maps cleaned aliases to enum values.
type Normalizer[T comparable] struct {
	name     string
	clean    Func
	values   map[string]T
	fallback T
	keys     []string
}

// Lower trims and lower-cases.
func Lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Compact is Lower with dashes and underscores removed, so "node-app",
// "node_app" and "nodeApp" share a key.
func Compact(s string) string {
	return strings.NewReplacer("-", "", "_", "").Replace(Lower(s))
}

// New builds a normalizer named name for error messages. Aliases are cleaned
// with clean; unknown input yields fallback.
func New[T comparable](name string, aliases map[string]T, fallback T, clean Func) *Normalizer[T] {
	if clean == nil {
		clean = Lower
	}
	n := &Normalizer[T]{
		name:     name,
		clean:    clean,
		values:   make(map[string]T, len(aliases)),
		fallback: fallback,
	}
	for k, v := range aliases {
		key := clean(k)
		n.values[key] = v
		n.keys = append(n.keys, key)
	}
	slices.Sort(n.keys)
	return n
}

// Normalize returns the value for raw, or the fallback.
func (n *Normalizer[T]) Normalize(raw string) T {
	if v, ok := n.values[n.clean(raw)]; ok {
		return v
	}
	return n.fallback
}

// Parse is Normalize that reports unknown input as a validation error.
func (n *Normalizer[T]) Parse(raw string) (T, error) {
	if v, ok := n.values[n.clean(raw)]; ok {
		return v, nil
	}
	var zero T
	return zero, ferrors.ValidationError("unknown "+n.name).
		WithContext("value", raw).
		WithContext("valid", n.keys).
		Build()
}

// Valid reports whether raw names a known value.
func (n *Normalizer[T]) Valid(raw string) bool {
	_, ok := n.values[n.clean(raw)]
	return ok
}

// Keys returns the accepted spellings, sorted.
func (n *Normalizer[T]) Keys() []string { return slices.Clone(n.keys) }

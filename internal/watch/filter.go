package watch

import (
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/fsutil"
)

// DefaultIgnoredDirs are skipped below every watch root.
var DefaultIgnoredDirs = []string{"node_modules", ".git"}

// Filter decides which paths may trigger a rebuild.
type Filter struct {
	root        string
	ignoredDirs []string
	excludes    []glob.Glob
	patterns    []string
}

// NewFilter compiles exclude patterns with "/" as the separator. ignoredDirs
// may be absolute or relative to root; DefaultIgnoredDirs are always added.
func NewFilter(root string, ignoredDirs, excludes []string) (*Filter, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "resolve watch root").Build()
	}

	f := &Filter{root: absRoot}
	for _, d := range append(append([]string{}, DefaultIgnoredDirs...), ignoredDirs...) {
		if d == "" {
			continue
		}
		if !filepath.IsAbs(d) {
			d = filepath.Join(absRoot, d)
		}
		f.ignoredDirs = append(f.ignoredDirs, filepath.Clean(d))
	}

	for _, pattern := range excludes {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid watch exclude pattern").
				WithContext("pattern", pattern).
				Build()
		}
		f.excludes = append(f.excludes, g)
		f.patterns = append(f.patterns, pattern)
	}
	return f, nil
}

// Root returns the absolute watch root.
func (f *Filter) Root() string { return f.root }

// Ignored reports whether a change at path must not arm the debounce.
func (f *Filter) Ignored(path string) bool {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(f.root, abs)
	}
	abs = filepath.Clean(abs)

	if f.IgnoredDir(abs) {
		return true
	}
	if isEditorArtifact(filepath.Base(abs)) {
		return true
	}

	slashAbs := filepath.ToSlash(abs)
	rel, err := filepath.Rel(f.root, abs)
	slashRel := ""
	if err == nil {
		slashRel = filepath.ToSlash(rel)
	}
	for _, g := range f.excludes {
		if g.Match(slashAbs) || (slashRel != "" && g.Match(slashRel)) {
			return true
		}
	}
	return false
}

// AddIgnoredDir ignores dir from now on. It must be called before watching starts.
func (f *Filter) AddIgnoredDir(dir string) {
	if dir == "" {
		return
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(f.root, dir)
	}
	f.ignoredDirs = append(f.ignoredDirs, filepath.Clean(dir))
}

// IgnoredDir reports whether path is, or lies below, an ignored directory.
func (f *Filter) IgnoredDir(path string) bool {
	for _, d := range f.ignoredDirs {
		if fsutil.Within(d, path) {
			return true
		}
	}
	return false
}

// isEditorArtifact matches swap, backup and OS metadata files.
func isEditorArtifact(base string) bool {
	switch {
	case strings.HasSuffix(base, "~"),
		strings.HasSuffix(base, ".swp"),
		strings.HasSuffix(base, ".swx"),
		strings.HasPrefix(base, ".#"),
		strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#"),
		base == ".DS_Store",
		base == "Thumbs.db":
		return true
	}
	return false
}

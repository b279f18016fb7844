package session

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ggit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/fsutil"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
)

// PackageManager identifies the tool that owns the lockfile.
type PackageManager string

const (
	PackageManagerUnknown PackageManager = ""
	PackageManagerNPM     PackageManager = "npm"
	PackageManagerPNPM    PackageManager = "pnpm"
	PackageManagerYarn    PackageManager = "yarn"
	PackageManagerBun     PackageManager = "bun"
)

var lockfiles = []struct {
	name    string
	manager PackageManager
}{
	{"pnpm-lock.yaml", PackageManagerPNPM},
	{"yarn.lock", PackageManagerYarn},
	{"bun.lock", PackageManagerBun},
	{"bun.lockb", PackageManagerBun},
	{"package-lock.json", PackageManagerNPM},
}

// PeerDependencyMeta mirrors an entry of peerDependenciesMeta.
type PeerDependencyMeta struct {
	Optional bool `json:"optional"`
}

type packageJSON struct {
	Name                 string                        `json:"name"`
	Dependencies         map[string]string             `json:"dependencies"`
	DevDependencies      map[string]string             `json:"devDependencies"`
	PeerDependencies     map[string]string             `json:"peerDependencies"`
	PeerDependenciesMeta map[string]PeerDependencyMeta `json:"peerDependenciesMeta"`
	Workspaces           json.RawMessage               `json:"workspaces"`
}

// Project is one package of a workspace.
type Project struct {
	Name string
	Path string
}

// RepositoryContext describes the project the session builds.
type RepositoryContext struct {
	// ProjectRoot is the directory holding package.json.
	ProjectRoot string
	Name        string

	Dependencies         map[string]string
	DevDependencies      map[string]string
	PeerDependencies     map[string]string
	PeerDependenciesMeta map[string]PeerDependencyMeta

	PackageManager PackageManager
	LockfilePath   string

	// WorktreeRoot and Revision are empty outside a git repository.
	WorktreeRoot string
	Revision     string

	workspacePatterns []string
}

func newRepositoryContext(root string, logger *slog.Logger) (*RepositoryContext, error) {
	r := &RepositoryContext{}
	r.detectGit(root, logger)

	pkgPath, err := fsutil.FindUp(root, r.WorktreeRoot, "package.json")
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "search for package.json").Build()
	}
	if pkgPath == "" {
		return nil, ferrors.ConfigError("not in a project: no package.json found").
			Fatal().
			WithContext("path", root).
			Build()
	}

	data, err := os.ReadFile(pkgPath)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "read package.json").
			WithContext("path", pkgPath).
			Build()
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "parse package.json").
			WithContext("path", pkgPath).
			Build()
	}

	r.ProjectRoot = filepath.Dir(pkgPath)
	r.Name = pkg.Name
	r.Dependencies = orEmpty(pkg.Dependencies)
	r.DevDependencies = orEmpty(pkg.DevDependencies)
	r.PeerDependencies = orEmpty(pkg.PeerDependencies)
	r.PeerDependenciesMeta = pkg.PeerDependenciesMeta
	if r.PeerDependenciesMeta == nil {
		r.PeerDependenciesMeta = map[string]PeerDependencyMeta{}
	}
	r.workspacePatterns = parseWorkspaces(pkg.Workspaces)

	r.detectPackageManager(root, logger)
	return r, nil
}

// terminate is a no-op; repository metadata is read once in Create.
func (r *RepositoryContext) terminate() error { return nil }

// detectGit records the worktree root and HEAD revision when root is inside a repository.
func (r *RepositoryContext) detectGit(root string, logger *slog.Logger) {
	repo, err := ggit.PlainOpenWithOptions(root, &ggit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if !errors.Is(err, ggit.ErrRepositoryNotExists) {
			logger.Debug("Git repository not readable", logfields.Path(root), logfields.Error(err))
		}
		return
	}
	if wt, err := repo.Worktree(); err == nil {
		r.WorktreeRoot = wt.Filesystem.Root()
	}
	ref, err := repo.Head()
	if err != nil {
		if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			logger.Debug("Git HEAD not readable", logfields.Error(err))
		}
		return
	}
	r.Revision = ref.Hash().String()
}

func (r *RepositoryContext) detectPackageManager(root string, logger *slog.Logger) {
	names := make([]string, len(lockfiles))
	for i, l := range lockfiles {
		names[i] = l.name
	}
	path, err := fsutil.FindUp(root, r.WorktreeRoot, names...)
	if err != nil || path == "" {
		logger.Warn("No lockfile found; package manager unknown", logfields.Path(root))
		return
	}
	r.LockfilePath = path
	for _, l := range lockfiles {
		if filepath.Base(path) == l.name {
			r.PackageManager = l.manager
			break
		}
	}

	if r.PackageManager == PackageManagerPNPM {
		ws := filepath.Join(filepath.Dir(path), "pnpm-workspace.yaml")
		if data, err := os.ReadFile(ws); err == nil {
			var doc struct {
				Packages []string `yaml:"packages"`
			}
			if yaml.Unmarshal(data, &doc) == nil {
				r.workspacePatterns = doc.Packages
			}
		}
	}
}

// RepositoryRoot is the directory holding the lockfile, or the project root.
func (r *RepositoryContext) RepositoryRoot() string {
	if r.LockfilePath != "" {
		return filepath.Dir(r.LockfilePath)
	}
	return r.ProjectRoot
}

// DependencyVersion returns the declared range of a runtime or dev dependency.
func (r *RepositoryContext) DependencyVersion(name string) (string, bool) {
	if v, ok := r.Dependencies[name]; ok {
		return v, true
	}
	v, ok := r.DevDependencies[name]
	return v, ok
}

// HasDependency reports whether name appears in any dependency map.
func (r *RepositoryContext) HasDependency(name string) bool {
	if _, ok := r.DependencyVersion(name); ok {
		return true
	}
	_, ok := r.PeerDependencies[name]
	return ok
}

// OptionalPeer reports whether name is a peer dependency marked optional.
func (r *RepositoryContext) OptionalPeer(name string) bool {
	return r.PeerDependenciesMeta[name].Optional
}

// IsWorkspace reports whether the repository declares workspace packages.
func (r *RepositoryContext) IsWorkspace() bool { return len(r.workspacePatterns) > 0 }

// LocateProjects lists the named packages matched by the workspace patterns.
// Patterns starting with "!" exclude.
func (r *RepositoryContext) LocateProjects() ([]Project, error) {
	if !r.IsWorkspace() {
		return nil, nil
	}
	var include, exclude []glob.Glob
	for _, p := range r.workspacePatterns {
		neg := strings.HasPrefix(p, "!")
		g, err := glob.Compile(strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(p, "!"), "./"), "/"), '/')
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid workspace pattern").
				WithContext("pattern", p).
				Build()
		}
		if neg {
			exclude = append(exclude, g)
		} else {
			include = append(include, g)
		}
	}

	base := r.RepositoryRoot()
	var out []Project
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if name := d.Name(); name == "node_modules" || name == ".git" {
			return filepath.SkipDir
		}
		rel, _ := filepath.Rel(base, path)
		rel = filepath.ToSlash(rel)
		if rel == "." || !matchAny(include, rel) || matchAny(exclude, rel) {
			return nil
		}
		data, err := os.ReadFile(filepath.Join(path, "package.json"))
		if err != nil {
			return nil
		}
		var pkg packageJSON
		if json.Unmarshal(data, &pkg) == nil && pkg.Name != "" {
			out = append(out, Project{Name: pkg.Name, Path: path})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

func matchAny(gs []glob.Glob, s string) bool {
	for _, g := range gs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// parseWorkspaces accepts both the array and the {packages: [...]} forms.
func parseWorkspaces(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return list
	}
	var obj struct {
		Packages []string `json:"packages"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Packages
	}
	return nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

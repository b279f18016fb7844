// Package optionaldeps marks optional peer dependencies that are not
// installed as external, so bundling does not fail on them.
package optionaldeps

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	cmap "github.com/orcaman/concurrent-map/v2"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/fsutil"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
	"git.home.luguber.info/inful/tsbuild/internal/plugin"
	"git.home.luguber.info/inful/tsbuild/internal/session"
)

const Name = "optionaldeps"

func Factory(raw map[string]any) (session.Plugin, error) {
	if err := config.DecodeOptions(Name, raw, &struct{}{}); err != nil {
		return nil, err
	}
	return New(), nil
}

func New() session.Plugin {
	return func(_ context.Context, s *session.Session) (*plugin.Activated, error) {
		r := NewResolver(s.Repository.WorktreeRoot)
		logger := s.Logger()
		return &plugin.Activated{
			Name: Name,
			Esbuild: func(bool) *api.Plugin {
				return &api.Plugin{
					Name: "tsbuild:" + Name,
					Setup: func(build api.PluginBuild) {
						build.OnResolve(api.OnResolveOptions{Filter: ".*", Namespace: "file"},
							func(args api.OnResolveArgs) (api.OnResolveResult, error) {
								external, err := r.External(args.Path, args.ResolveDir)
								if err != nil || !external {
									return api.OnResolveResult{}, err
								}
								logger.Debug("Optional dependency not installed", logfields.Path(args.Path))
								return api.OnResolveResult{Path: args.Path, External: true}, nil
							})
					},
				}
			},
		}, nil
	}
}

// Resolver decides whether a bare import names a missing optional peer.
// Decisions are cached per import path and package manifests per file.
type Resolver struct {
	stopDir   string
	decisions cmap.ConcurrentMap[string, bool]
	manifests cmap.ConcurrentMap[string, map[string]bool]
}

// NewResolver bounds manifest and node_modules lookups at stopDir; empty
// means the filesystem root.
func NewResolver(stopDir string) *Resolver {
	return &Resolver{
		stopDir:   stopDir,
		decisions: cmap.New[bool](),
		manifests: cmap.New[map[string]bool](),
	}
}

// External reports whether path, imported from resolveDir, should be left
// external. Relative and absolute imports never are.
func (r *Resolver) External(path, resolveDir string) (bool, error) {
	if path == "" || strings.HasPrefix(path, ".") || filepath.IsAbs(path) {
		return false, nil
	}
	if v, ok := r.decisions.Get(path); ok {
		return v, nil
	}

	name := ModuleName(path)
	manifest, err := fsutil.FindUp(resolveDir, r.stopDir, "package.json")
	if err != nil {
		return false, ferrors.WrapError(err, ferrors.CategoryFileSystem, "search for package.json").
			WithContext("path", resolveDir).
			Build()
	}
	if manifest == "" {
		return false, ferrors.NotFoundError("no package.json found for import").
			WithContext("import", path).
			WithContext("path", resolveDir).
			Build()
	}
	optional, err := r.optionalPeers(manifest)
	if err != nil {
		return false, err
	}

	external := false
	if optional[name] {
		installed, err := fsutil.FindUp(resolveDir, r.stopDir, filepath.Join("node_modules", filepath.FromSlash(name)))
		if err != nil {
			return false, ferrors.WrapError(err, ferrors.CategoryFileSystem, "search node_modules").
				WithContext("import", path).
				Build()
		}
		external = installed == ""
	}
	r.decisions.Set(path, external)
	return external, nil
}

func (r *Resolver) optionalPeers(manifest string) (map[string]bool, error) {
	if v, ok := r.manifests.Get(manifest); ok {
		return v, nil
	}
	data, err := os.ReadFile(manifest)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "read package.json").
			WithContext("path", manifest).
			Build()
	}
	var pkg struct {
		PeerDependenciesMeta map[string]struct {
			Optional bool `json:"optional"`
		} `json:"peerDependenciesMeta"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "parse package.json").
			WithContext("path", manifest).
			Build()
	}
	optional := make(map[string]bool, len(pkg.PeerDependenciesMeta))
	for name, meta := range pkg.PeerDependenciesMeta {
		if meta.Optional {
			optional[name] = true
		}
	}
	r.manifests.Set(manifest, optional)
	return optional, nil
}

// ModuleName returns the package part of a bare import: "lodash/fp" gives
// "lodash" and "@scope/pkg/sub" gives "@scope/pkg".
func ModuleName(path string) string {
	parts := strings.SplitN(path, "/", 3)
	if strings.HasPrefix(path, "@") && len(parts) > 1 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

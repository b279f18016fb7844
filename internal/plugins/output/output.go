// Package output takes over writing build output from the engine so asset
// file names can follow a configured pattern.
package output

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
	"git.home.luguber.info/inful/tsbuild/internal/plugin"
	"git.home.luguber.info/inful/tsbuild/internal/session"
)

const Name = "output"

// Files whose names other outputs refer to are never renamed.
var codeExtensions = []string{".js", ".mjs", ".cjs", ".css", ".map", ".json"}

type Options struct {
	// AssetNames overrides output.asset_names.
	AssetNames string `mapstructure:"asset_names"`
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
		w := &Writer{Pattern: opts.AssetNames, Logger: s.Logger()}
		return &plugin.Activated{
			Name: Name,
			ModifyConfig: func(_ context.Context, cfg *config.Config) error {
				cfg.Esbuild.Write = config.Bool(false)
				if w.Pattern == "" {
					w.Pattern = cfg.Output.AssetNames
				}
				return nil
			},
			Esbuild: func(bool) *api.Plugin {
				return &api.Plugin{
					Name: "tsbuild:" + Name,
					Setup: func(build api.PluginBuild) {
						build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
							if len(result.Errors) > 0 {
								return api.OnEndResult{}, nil
							}
							return api.OnEndResult{}, w.Write(result.OutputFiles)
						})
					},
				}
			},
		}, nil
	}
}

// Writer writes engine output files, renaming assets through Pattern.
type Writer struct {
	Pattern string
	Logger  *slog.Logger
}

// Write writes every file and returns the first failure.
func (w *Writer) Write(files []api.OutputFile) error {
	for _, f := range files {
		path := f.Path
		if w.Pattern != "" && isAsset(path) {
			path = filepath.Join(filepath.Dir(path), Rename(w.Pattern, filepath.Base(path), f.Hash))
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create output directory").
				WithContext("path", path).
				Build()
		}
		if err := os.WriteFile(path, f.Contents, 0o644); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write output file").
				WithContext("path", path).
				Build()
		}
	}
	if w.Logger != nil {
		w.Logger.Debug("Output written", logfields.Count(len(files)))
	}
	return nil
}

// Rename expands [name], [hash] and [ext] in pattern for one file. ext keeps
// its leading dot and hash is cut to eight characters.
func Rename(pattern, base, hash string) string {
	ext := filepath.Ext(base)
	if len(hash) > 8 {
		hash = hash[:8]
	}
	return strings.NewReplacer(
		"[name]", strings.TrimSuffix(base, ext),
		"[hash]", hash,
		"[ext]", ext,
	).Replace(pattern)
}

func isAsset(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, c := range codeExtensions {
		if ext == c {
			return false
		}
	}
	return true
}

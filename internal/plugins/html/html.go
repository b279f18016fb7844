// Package html bundles .html entry points. Each document's scripts become
// imports of a generated module; after a successful build the document is
// re-emitted with the built script and stylesheets injected.
package html

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	"git.home.luguber.info/inful/tsbuild/internal/entrypoint"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/htmldoc"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
	"git.home.luguber.info/inful/tsbuild/internal/plugin"
	"git.home.luguber.info/inful/tsbuild/internal/session"
)

const Name = "html"

var documentPattern = regexp.MustCompile(`\.html?$`)

func Factory(raw map[string]any) (session.Plugin, error) {
	if err := config.DecodeOptions(Name, raw, &struct{}{}); err != nil {
		return nil, err
	}
	return New(), nil
}

// New declines unless an entry point is an HTML document.
func New() session.Plugin {
	return func(_ context.Context, s *session.Session) (*plugin.Activated, error) {
		if !hasDocument(s.Entrypoints.Declared()) {
			return nil, nil
		}
		e := &Emitter{
			Root:      s.Build.RootDirectory,
			Transform: func() *plugin.Pipeline { return s.Plugins.Pipeline() },
			sources:   make(map[string][]byte),
		}
		logger := s.Logger()
		return &plugin.Activated{
			Name: Name,
			Esbuild: func(leader bool) *api.Plugin {
				return &api.Plugin{
					Name: "tsbuild:" + Name,
					Setup: func(build api.PluginBuild) {
						build.OnLoad(api.OnLoadOptions{Filter: documentPattern.String(), Namespace: "file"}, e.Load)
						if !leader {
							return
						}
						opts := build.InitialOptions
						build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
							if len(result.Errors) > 0 {
								return api.OnEndResult{}, nil
							}
							n, err := e.Emit(context.Background(), result, opts.Outdir, opts.Write)
							if err == nil {
								logger.Debug("HTML documents emitted", logfields.Count(n))
							}
							return api.OnEndResult{}, err
						})
					},
				}
			},
		}, nil
	}
}

func hasDocument(entries []string) bool {
	for _, e := range entries {
		if documentPattern.MatchString(e) {
			return true
		}
	}
	return false
}

// Emitter keeps the source of every loaded document so each build starts
// from a pristine tree.
type Emitter struct {
	// Root is the engine working directory metafile paths are relative to.
	Root string
	// Transform returns the pipeline whose document hooks run before emission.
	Transform func() *plugin.Pipeline

	mu      sync.Mutex
	sources map[string][]byte
}

// Load turns a document into a module importing its scripts.
func (e *Emitter) Load(args api.OnLoadArgs) (api.OnLoadResult, error) {
	src, err := os.ReadFile(args.Path)
	if err != nil {
		return api.OnLoadResult{}, ferrors.WrapError(err, ferrors.CategoryFileSystem, "read html entry").
			WithContext("path", args.Path).
			Build()
	}
	doc, err := htmldoc.Parse(src)
	if err != nil {
		return api.OnLoadResult{}, err
	}
	e.mu.Lock()
	if e.sources == nil {
		e.sources = make(map[string][]byte)
	}
	e.sources[args.Path] = src
	e.mu.Unlock()

	contents := htmldoc.ImportModule(doc)
	return api.OnLoadResult{
		Contents:   &contents,
		Loader:     api.LoaderJS,
		ResolveDir: filepath.Dir(args.Path),
	}, nil
}

// Emit injects the built script and stylesheets into every loaded document
// that produced an output. Documents go to outdir when write is set and are
// appended to result.OutputFiles otherwise. It returns the number emitted.
func (e *Emitter) Emit(ctx context.Context, result *api.BuildResult, outdir string, write bool) (int, error) {
	meta, err := entrypoint.ParseMetafile(result.Metafile)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	sources := make(map[string][]byte, len(e.sources))
	for k, v := range e.sources {
		sources[k] = v
	}
	e.mu.Unlock()

	css := meta.CSSOutputs(e.Root)
	emitted := 0
	for path, src := range sources {
		script, ok := meta.OutputForSource(e.Root, path)
		if !ok {
			continue
		}
		doc, err := htmldoc.Parse(src)
		if err != nil {
			return emitted, err
		}
		// Strips the bundler-ignore markers.
		_ = htmldoc.Scripts(doc)
		if err := htmldoc.AddModuleScript(doc, publicPath(outdir, script)); err != nil {
			return emitted, documentError(err, path)
		}
		for _, sheet := range css {
			if err := htmldoc.AddStylesheet(doc, publicPath(outdir, sheet)); err != nil {
				return emitted, documentError(err, path)
			}
		}
		if e.Transform != nil {
			if p := e.Transform(); p != nil {
				if err := p.TransformIndexHTML(ctx, doc); err != nil {
					return emitted, err
				}
			}
		}
		out, err := htmldoc.Render(doc)
		if err != nil {
			return emitted, documentError(err, path)
		}

		target := filepath.Join(outdir, filepath.Base(path))
		if write {
			if err := os.MkdirAll(outdir, 0o755); err != nil {
				return emitted, ferrors.WrapError(err, ferrors.CategoryFileSystem, "create output directory").
					WithContext("path", outdir).
					Build()
			}
			if err := os.WriteFile(target, out, 0o644); err != nil {
				return emitted, ferrors.WrapError(err, ferrors.CategoryFileSystem, "write html document").
					WithContext("path", target).
					Build()
			}
		} else {
			result.OutputFiles = append(result.OutputFiles, api.OutputFile{Path: target, Contents: out})
		}
		emitted++
	}
	return emitted, nil
}

// publicPath is the server path of an output file below outdir.
func publicPath(outdir, path string) string {
	rel, err := filepath.Rel(outdir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(path)
	}
	return "/" + filepath.ToSlash(rel)
}

func documentError(err error, path string) error {
	return ferrors.WrapError(err, ferrors.CategoryBuild, "emit html document").
		WithContext("path", path).
		Build()
}

// Package entrypoint discovers every project source reachable from the
// declared entry points by running one throwaway engine pass.
package entrypoint

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"git.home.luguber.info/inful/tsbuild/internal/buildmsg"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/htmldoc"
	"git.home.luguber.info/inful/tsbuild/internal/util/sets"
)

const gatherPluginName = "tsbuild:gather-entrypoints"

// Input describes one resolution pass.
type Input struct {
	// Options is the backend's option snapshot. It is copied, never mutated.
	Options api.BuildOptions
	// Declared are absolute entry point paths.
	Declared []string
	// ProjectRoot bounds which inputs count as project sources.
	ProjectRoot string
	// Bundle selects whether the bundled set is Declared or Generic.
	Bundle bool
}

// Sets is the outcome of a resolution pass. Paths are absolute and sorted.
type Sets struct {
	// Bundled is what the backend feeds to the engine.
	Bundled []string
	// Generic is every project source reachable from the declared entries.
	Generic []string
}

// Resolve runs a bundling pass that never writes, marks every bare import
// external, and collects the project inputs from the metafile.
func Resolve(ctx context.Context, in Input) (Sets, error) {
	if err := ctx.Err(); err != nil {
		return Sets{}, err
	}

	opts := in.Options
	opts.EntryPoints = slices.Clone(in.Declared)
	opts.Bundle = true
	opts.Metafile = true
	opts.Write = false
	opts.LogLevel = api.LogLevelSilent
	opts.Plugins = []api.Plugin{gatherPlugin(in.Declared)}

	bc, cerr := api.Context(opts)
	if cerr != nil {
		return Sets{}, buildmsg.Error("entry point resolution failed", cerr.Errors)
	}
	defer bc.Dispose()

	stop := context.AfterFunc(ctx, bc.Cancel)
	defer stop()

	result := bc.Rebuild()
	if err := ctx.Err(); err != nil {
		return Sets{}, err
	}
	if err := buildmsg.Error("entry point resolution failed", result.Errors); err != nil {
		return Sets{}, err
	}

	meta, err := ParseMetafile(result.Metafile)
	if err != nil {
		return Sets{}, err
	}

	workDir := opts.AbsWorkingDir
	if workDir == "" {
		workDir = in.ProjectRoot
	}
	generic := ProjectInputs(meta, workDir, in.ProjectRoot)

	declared := slices.Clone(in.Declared)
	slices.Sort(declared)
	if in.Bundle {
		return Sets{Bundled: declared, Generic: generic}, nil
	}
	return Sets{Bundled: generic, Generic: slices.Clone(generic)}, nil
}

// ProjectInputs returns the absolute, sorted metafile inputs that lie under
// projectRoot and outside node_modules. Inputs from plugin namespaces are dropped.
func ProjectInputs(meta *Metafile, workDir, projectRoot string) []string {
	root := filepath.Clean(projectRoot) + string(filepath.Separator)
	out := sets.New[string]()
	for input := range meta.Inputs {
		if strings.Contains(input, "node_modules") || hasNamespace(input) {
			continue
		}
		abs := input
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(workDir, filepath.FromSlash(input))
		}
		abs = filepath.Clean(abs)
		if !strings.HasPrefix(abs, root) {
			continue
		}
		out.Add(abs)
	}
	return sets.Sorted(out)
}

func hasNamespace(input string) bool {
	i := strings.Index(input, ":")
	// A single letter before the colon is a drive, not a namespace.
	return i > 1
}

func gatherPlugin(declared []string) api.Plugin {
	isDeclared := sets.New(declared...)
	return api.Plugin{
		Name: gatherPluginName,
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: ".*"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				if args.Kind == api.ResolveEntryPoint || isDeclared.Has(args.Path) {
					return api.OnResolveResult{}, nil
				}
				if strings.HasPrefix(args.Path, ".") {
					return api.OnResolveResult{}, nil
				}
				return api.OnResolveResult{Path: args.Path, External: true}, nil
			})

			// HTML entries contribute their scripts as imports.
			build.OnLoad(api.OnLoadOptions{Filter: `\.html?$`}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
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
				contents := htmldoc.ImportModule(doc)
				return api.OnLoadResult{
					Contents:   &contents,
					Loader:     api.LoaderJS,
					ResolveDir: filepath.Dir(args.Path),
				}, nil
			})
		},
	}
}

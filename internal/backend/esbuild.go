package backend

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/evanw/esbuild/pkg/api"

	"git.home.luguber.info/inful/tsbuild/internal/buildmsg"
	"git.home.luguber.info/inful/tsbuild/internal/config"
	"git.home.luguber.info/inful/tsbuild/internal/entrypoint"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
	"git.home.luguber.info/inful/tsbuild/internal/session"
)

const commonJSMarker = `{"type":"commonjs"}` + "\n"

// Esbuild compiles one output format with an incremental esbuild context.
type Esbuild struct {
	session *session.Session
	format  config.Format
	leader  bool

	mu      sync.Mutex
	options api.BuildOptions
	ctx     api.BuildContext
	last    api.BuildResult
}

func NewEsbuild(s *session.Session, format config.Format, leader bool) *Esbuild {
	return &Esbuild{session: s, format: format, leader: leader}
}

func (e *Esbuild) Format() config.Format { return e.format }
func (e *Esbuild) Leader() bool          { return e.leader }

// Options returns the option snapshot taken by Initialise.
func (e *Esbuild) Options() api.BuildOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.options
}

// Initialise snapshots the options, resolves entry points and creates the
// engine context.
func (e *Esbuild) Initialise(ctx context.Context) error {
	opts, err := EsbuildOptions(e.session, e.format, e.leader)
	if err != nil {
		return err
	}

	sets, err := entrypoint.Resolve(ctx, entrypoint.Input{
		Options:     opts,
		Declared:    e.session.Entrypoints.Declared(),
		ProjectRoot: e.session.Repository.ProjectRoot,
		Bundle:      opts.Bundle,
	})
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryBackend, "resolve entry points").
			WithContext("format", string(e.format)).
			Build()
	}
	e.session.Entrypoints.Set(sets)
	opts.EntryPoints = sets.Bundled

	bc, cerr := api.Context(opts)
	if cerr != nil {
		return ferrors.WrapError(buildmsg.Error("esbuild context failed", cerr.Errors), ferrors.CategoryBackend, "create esbuild context").
			WithContext("format", string(e.format)).
			Build()
	}

	e.mu.Lock()
	e.options = opts
	e.ctx = bc
	e.mu.Unlock()

	e.session.Logger().Debug("Esbuild backend initialised",
		logfields.Format(string(e.format)),
		logfields.Count(len(opts.EntryPoints)),
		logfields.Path(opts.Outdir))
	return nil
}

// Compile rebuilds. Engine messages become one classified build error.
func (e *Esbuild) Compile(ctx context.Context) error {
	e.mu.Lock()
	bc := e.ctx
	outdir := e.options.Outdir
	e.mu.Unlock()
	if bc == nil {
		return ferrors.InternalError("esbuild backend not initialised").
			WithContext("format", string(e.format)).
			Build()
	}

	stop := context.AfterFunc(ctx, bc.Cancel)
	result := bc.Rebuild()
	stop()

	e.mu.Lock()
	e.last = result
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := buildmsg.Error("esbuild compile failed", result.Errors); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryBuild, "compile failed").
			WithContext("format", string(e.format)).
			Build()
	}

	if e.format == config.FormatCJS && len(e.session.Config().Formats) > 1 {
		if err := writeCommonJSMarker(outdir); err != nil {
			return err
		}
	}
	return nil
}

// LastResult returns the result of the most recent Compile.
func (e *Esbuild) LastResult() api.BuildResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Terminate disposes the engine context. It is idempotent.
func (e *Esbuild) Terminate(context.Context) error {
	e.mu.Lock()
	bc := e.ctx
	e.ctx = nil
	e.mu.Unlock()
	if bc != nil {
		bc.Dispose()
	}
	return nil
}

// writeCommonJSMarker makes node treat the cjs subdirectory as CommonJS when
// the root package is ESM.
func writeCommonJSMarker(outdir string) error {
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create output directory").
			WithContext("path", outdir).
			Build()
	}
	path := filepath.Join(outdir, "package.json")
	if err := os.WriteFile(path, []byte(commonJSMarker), 0o644); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write commonjs marker").
			WithContext("path", path).
			Build()
	}
	return nil
}

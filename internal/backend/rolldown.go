package backend

import (
	"context"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"sync"

	"github.com/valyala/bytebufferpool"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	"git.home.luguber.info/inful/tsbuild/internal/entrypoint"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/fsutil"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
	"git.home.luguber.info/inful/tsbuild/internal/session"
)

// Rolldown runs the rolldown CLI. With a config file it runs once; otherwise
// once per format with arguments derived from the configuration.
type Rolldown struct {
	session *session.Session

	mu     sync.Mutex
	binary string
	argv   [][]string
	cancel context.CancelFunc
}

func NewRolldown(s *session.Session) *Rolldown {
	return &Rolldown{session: s}
}

// Argv returns the argument lists snapshotted by Initialise.
func (r *Rolldown) Argv() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.argv))
	for i, a := range r.argv {
		out[i] = append([]string(nil), a...)
	}
	return out
}

// Initialise resolves the binary and snapshots the invocations.
func (r *Rolldown) Initialise(context.Context) error {
	cfg := r.session.Config()
	command := cfg.Rolldown.Command
	if command == "" {
		command = "rolldown"
	}
	bin := fsutil.LookBin(r.session.Build.RootDirectory, command)
	if bin == "" {
		return ferrors.BackendError("rolldown binary not found").
			WithContext("command", command).
			Fatal().
			Build()
	}

	declared := r.session.Entrypoints.Declared()
	// Rolldown always bundles the declared entries.
	r.session.Entrypoints.Set(entrypointSets(declared))

	r.mu.Lock()
	r.binary = bin
	r.argv = RolldownArgs(r.session, declared)
	r.mu.Unlock()
	return nil
}

// RolldownArgs derives one argument list per invocation.
func RolldownArgs(s *session.Session, entries []string) [][]string {
	cfg := s.Config()
	if cfg.Rolldown.ConfigFile != "" {
		args := []string{"--config", cfg.Rolldown.ConfigFile}
		return [][]string{append(args, cfg.Rolldown.Args...)}
	}

	var out [][]string
	for _, format := range cfg.Formats {
		args := append([]string{}, entries...)
		args = append(args,
			"--dir", FormatOutdir(cfg, s.Build.OutputDirectory, format),
			"--format", string(format))
		if cfg.Platform != "" {
			args = append(args, "--platform", string(cfg.Platform))
		}
		switch {
		case cfg.Sourcemap == config.SourcemapInline:
			args = append(args, "--sourcemap", "inline")
		case cfg.Sourcemap != "" && cfg.Sourcemap != config.SourcemapNone:
			args = append(args, "--sourcemap")
		case cfg.Sourcemap == "" && !cfg.IsRelease():
			args = append(args, "--sourcemap")
		}
		if cfg.IsMinify() && !s.Build.IsDev() {
			args = append(args, "--minify")
		}
		for _, ext := range cfg.Externals {
			args = append(args, "--external", ext)
		}
		out = append(out, append(args, cfg.Rolldown.Args...))
	}
	return out
}

// Compile runs every invocation in order and stops at the first failure.
func (r *Rolldown) Compile(ctx context.Context) error {
	r.mu.Lock()
	bin, argv := r.binary, r.argv
	r.mu.Unlock()
	if bin == "" {
		return ferrors.InternalError("rolldown backend not initialised").Build()
	}
	for _, args := range argv {
		if err := r.run(ctx, bin, args); err != nil {
			return err
		}
	}
	return nil
}

func (r *Rolldown) run(ctx context.Context, bin string, args []string) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(runCtx, bin, args...)
	cmd.Dir = r.session.Build.RootDirectory
	stdout := bytebufferpool.Get()
	stderr := bytebufferpool.Get()
	defer bytebufferpool.Put(stdout)
	defer bytebufferpool.Put(stderr)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
	}()

	logger := r.session.Logger()
	logger.Debug("Running rolldown", logfields.Path(bin), logfields.Count(len(args)))
	err := cmd.Run()

	if out := strings.TrimSpace(stdout.String()); out != "" {
		logger.Debug("rolldown stdout", "output", out)
	}
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		msg = strings.TrimSpace(stdout.String())
	}
	if msg != "" {
		err = fmt.Errorf("%w\n%s", err, msg)
	}
	return ferrors.WrapError(err, ferrors.CategoryBuild, "rolldown failed").
		WithContext("backend", string(config.BackendRolldown)).
		Build()
}

// Terminate kills a running invocation.
func (r *Rolldown) Terminate(context.Context) error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func entrypointSets(declared []string) entrypoint.Sets {
	sorted := slices.Sorted(slices.Values(declared))
	return entrypoint.Sets{Bundled: sorted, Generic: slices.Clone(sorted)}
}

package devserver

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/shirou/gopsutil/v3/process"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	"git.home.luguber.info/inful/tsbuild/internal/entrypoint"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
)

type AppOptions struct {
	// Command runs the built entrypoint; defaults to node.
	Command  string
	NodeArgs []string
	// Root is the engine working directory metafile paths are relative to.
	Root string
	// Entrypoint is the absolute source path whose output is run.
	Entrypoint  string
	KillTimeout time.Duration
	Stdout      io.Writer
	Stderr      io.Writer
	Logger      *slog.Logger
}

// AppServer restarts the built application after every successful build.
type AppServer struct {
	opts   AppOptions
	logger *slog.Logger
	lock   BuildLock

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  chan struct{}
	outfile string
}

func NewAppServer(opts AppOptions) *AppServer {
	if opts.Command == "" {
		opts.Command = "node"
	}
	if opts.KillTimeout <= 0 {
		opts.KillTimeout = config.DefaultKillTimeout
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AppServer{opts: opts, logger: logger}
}

func (s *AppServer) AcquireLock() error { return s.lock.Acquire() }
func (s *AppServer) ReleaseLock()       { s.lock.Release() }

// PID returns the running process id, or 0.
func (s *AppServer) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Start stops the previous process tree and launches the new output.
func (s *AppServer) Start(ctx context.Context, result api.BuildResult) error {
	outfile, err := OutputFor(result.Metafile, s.opts.Root, s.opts.Entrypoint)
	if err != nil {
		return err
	}

	s.stop(ctx)

	args := append(append([]string{}, s.opts.NodeArgs...), outfile)
	cmd := exec.Command(s.opts.Command, args...)
	cmd.Dir = s.opts.Root
	cmd.Stdin = os.Stdin
	cmd.Stdout = s.opts.Stdout
	cmd.Stderr = s.opts.Stderr
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryProcess, "start application").
			WithContext("command", s.opts.Command).
			WithContext("path", outfile).
			Build()
	}

	exited := make(chan struct{})
	s.mu.Lock()
	s.cmd, s.exited, s.outfile = cmd, exited, outfile
	s.mu.Unlock()

	pid := cmd.Process.Pid
	s.logger.Info("Application started", logfields.PID(pid), logfields.Path(outfile))
	go func() {
		defer close(exited)
		if err := cmd.Wait(); err != nil {
			s.logger.Debug("Application exited", logfields.PID(pid), logfields.Error(err))
		}
	}()
	return nil
}

// Close stops the running process tree.
func (s *AppServer) Close(ctx context.Context) error {
	s.stop(ctx)
	s.lock.Release()
	return nil
}

// stop signals the whole tree with SIGTERM, waits up to KillTimeout and then
// kills survivors. Failures are logged only.
func (s *AppServer) stop(ctx context.Context) {
	s.mu.Lock()
	cmd, exited := s.cmd, s.exited
	s.cmd, s.exited = nil, nil
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	root := cmd.Process.Pid
	select {
	case <-exited:
		return
	default:
	}

	tree := processTree(ctx, int32(root), s.logger)
	for _, p := range tree {
		if err := p.TerminateWithContext(ctx); err != nil {
			s.logger.Debug("SIGTERM failed", logfields.PID(int(p.Pid)), logfields.Error(err))
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = s.opts.KillTimeout
	waitErr := backoff.Retry(func() error {
		if alive := survivors(ctx, tree, root, exited); len(alive) > 0 {
			return ferrors.ProcessError("processes still running").WithContext("count", len(alive)).Build()
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if waitErr == nil {
		s.logger.Debug("Application stopped", logfields.PID(root))
		return
	}

	for _, p := range survivors(context.WithoutCancel(ctx), tree, root, exited) {
		s.logger.Warn("Killing process after timeout", logfields.PID(int(p.Pid)))
		if err := p.KillWithContext(context.WithoutCancel(ctx)); err != nil {
			s.logger.Debug("SIGKILL failed", logfields.PID(int(p.Pid)), logfields.Error(err))
		}
	}
}

// processTree returns root and every descendant, parents first.
func processTree(ctx context.Context, root int32, logger *slog.Logger) []*process.Process {
	p, err := process.NewProcessWithContext(ctx, root)
	if err != nil {
		logger.Debug("Process lookup failed", logfields.PID(int(root)), logfields.Error(err))
		return nil
	}
	tree := []*process.Process{p}
	for i := 0; i < len(tree); i++ {
		children, err := tree[i].ChildrenWithContext(ctx)
		if err != nil {
			continue
		}
		tree = append(tree, children...)
	}
	return tree
}

// survivors lists tree members still running. The root is our own child and
// is reaped by its Wait goroutine, so its exit is read from exited.
func survivors(ctx context.Context, tree []*process.Process, root int, exited <-chan struct{}) []*process.Process {
	var alive []*process.Process
	for _, p := range tree {
		if int(p.Pid) == root {
			select {
			case <-exited:
			default:
				alive = append(alive, p)
			}
			continue
		}
		if ok, err := process.PidExistsWithContext(ctx, p.Pid); err == nil && ok {
			alive = append(alive, p)
		}
	}
	return alive
}

// OutputFor finds the output file built from entry in an esbuild metafile.
// Paths in the metafile are relative to root.
func OutputFor(meta, root, entry string) (string, error) {
	if meta == "" {
		return "", ferrors.ServerError("build result has no metafile").Build()
	}
	m, err := entrypoint.ParseMetafile(meta)
	if err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryServer, "parse metafile").Build()
	}
	if out, ok := m.OutputForSource(root, entry); ok {
		return out, nil
	}
	return "", ferrors.NotFoundError("no output for entrypoint").
		WithContext("path", entry).
		Build()
}

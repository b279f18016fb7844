// Package shutdown coordinates process teardown. The first interrupt cancels
// the root context, which stops new work, and drains registered handlers.
// Work that must finish detaches from the root context and is awaited by its
// handler. A second interrupt exits immediately.
package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
)

// Handler releases one resource. Handlers run in reverse registration order.
type Handler func(ctx context.Context) error

type entry struct {
	name string
	fn   Handler
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithSignals replaces the OS signal source.
func WithSignals(ch <-chan os.Signal) Option {
	return func(c *Coordinator) { c.signals = ch }
}

// WithExit replaces os.Exit.
func WithExit(exit func(code int)) Option {
	return func(c *Coordinator) { c.exit = exit }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Coordinator owns the root context of a run.
type Coordinator struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
	exit   func(int)

	signals <-chan os.Signal
	stopSig func()

	mu       sync.Mutex
	handlers []entry

	once sync.Once
	done chan struct{}
	err  error
}

// New returns a coordinator whose context derives from parent.
func New(parent context.Context, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(parent)
	c := &Coordinator{
		ctx:    ctx,
		cancel: cancel,
		logger: slog.Default(),
		exit:   os.Exit,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Context is canceled on the first signal or when Shutdown starts.
func (c *Coordinator) Context() context.Context { return c.ctx }

// Done is closed once every handler has returned.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Register adds a handler. Handlers registered after Shutdown began are ignored.
func (c *Coordinator) Register(name string, fn Handler) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, entry{name: name, fn: fn})
}

// Listen starts reacting to SIGINT and SIGTERM. Call the returned func to stop.
func (c *Coordinator) Listen() (stop func()) {
	sigs := c.signals
	if sigs == nil {
		ch := make(chan os.Signal, 2)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigs = ch
		c.stopSig = func() { signal.Stop(ch) }
	}

	quit := make(chan struct{})
	go func() {
		received := 0
		for {
			select {
			case <-quit:
				return
			case sig, ok := <-sigs:
				if !ok {
					return
				}
				received++
				if received > 1 {
					c.logger.Warn("Second signal received, exiting", slog.String("signal", sig.String()))
					c.exit(ExitCode(sig))
					return
				}
				c.logger.Info("Shutting down", slog.String("signal", sig.String()))
				go func() { _ = c.Shutdown(context.WithoutCancel(c.ctx)) }()
			}
		}
	}()

	var stopOnce sync.Once
	return func() {
		stopOnce.Do(func() {
			close(quit)
			if c.stopSig != nil {
				c.stopSig()
			}
		})
	}
}

// Shutdown cancels the root context and runs every handler in reverse order,
// joining their errors. Later calls wait for the first and return its result.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		defer close(c.done)
		c.cancel()

		c.mu.Lock()
		handlers := c.handlers
		c.handlers = nil
		c.mu.Unlock()

		var errs []error
		for i := len(handlers) - 1; i >= 0; i-- {
			h := handlers[i]
			if err := h.fn(ctx); err != nil {
				c.logger.Error("Shutdown handler failed", slog.String("handler", h.name), logfields.Error(err))
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			c.err = ferrors.WrapError(errors.Join(errs...), ferrors.CategoryRuntime, "shutdown").Build()
		}
	})
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.err
}

// ExitCode follows the shell convention of 128 plus the signal number.
func ExitCode(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return 128 + int(s)
	}
	return 130
}

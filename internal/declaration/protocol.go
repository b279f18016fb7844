// Package declaration runs type declaration emitters in worker goroutines,
// one per output format, driven over a typed channel protocol.
package declaration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
)

// Kind is the closed set of protocol messages.
type Kind int

const (
	MsgReady Kind = iota + 1
	MsgEmit
	MsgEmitComplete
	MsgExit
)

func (k Kind) String() string {
	switch k {
	case MsgReady:
		return "ready"
	case MsgEmit:
		return "emit"
	case MsgEmitComplete:
		return "emitComplete"
	case MsgExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Message travels in either direction. Err is set on ready when the
// compiler could not be built and on emitComplete when emission failed.
type Message struct {
	Kind Kind
	Err  error
}

var (
	// ErrEmitInFlight rejects an emit issued before the previous one completed.
	ErrEmitInFlight = ferrors.DeclarationError("declaration emit already in flight").Build()
	// ErrWorkerExited is returned once the worker has stopped.
	ErrWorkerExited = ferrors.DeclarationError("declaration worker exited").Build()
)

// Payload configures one worker.
type Payload struct {
	Format            config.Format
	Outdir            string
	CompilerOverrides map[string]any
	Entrypoints       []string
}

// Compiler is one format's emission unit.
type Compiler interface {
	Emit(ctx context.Context) error
	Close() error
}

// CompilerFactory builds the compiler inside the worker.
type CompilerFactory func(ctx context.Context, p Payload) (Compiler, error)

// Spawn starts a worker goroutine and returns the parent side of the channel
// pair. The worker stops on MsgExit or when ctx is done.
func Spawn(ctx context.Context, p Payload, factory CompilerFactory, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	in := make(chan Message, 1)
	out := make(chan Message, 2)
	h := &Handle{
		format:   p.Format,
		in:       in,
		ready:    make(chan struct{}),
		complete: make(chan error, 1),
		done:     make(chan struct{}),
	}
	go work(ctx, p, factory, in, out, logger.With(logfields.Format(string(p.Format))))
	go h.pump(out)
	return h
}

func work(ctx context.Context, p Payload, factory CompilerFactory, in <-chan Message, out chan<- Message, logger *slog.Logger) {
	defer close(out)

	compiler, initErr := build(ctx, p, factory)
	if initErr != nil {
		logger.Error("Declaration compiler unavailable", logfields.Error(initErr))
	}
	out <- Message{Kind: MsgReady, Err: initErr}

	for {
		var msg Message
		select {
		case <-ctx.Done():
			closeCompiler(compiler, logger)
			return
		case msg = <-in:
		}

		switch msg.Kind {
		case MsgEmit:
			err := initErr
			if compiler != nil {
				err = emit(ctx, compiler)
			}
			if err != nil {
				logger.Error("Declaration emit failed", logfields.Error(err))
			}
			out <- Message{Kind: MsgEmitComplete, Err: err}
		case MsgExit:
			closeCompiler(compiler, logger)
			return
		default:
			logger.Warn("Unexpected declaration message", "kind", msg.Kind.String())
		}
	}
}

// build and emit contain panics from the compiler so a broken emission
// pass never reaches the orchestrator.
func build(ctx context.Context, p Payload, factory CompilerFactory) (c Compiler, err error) {
	defer recoverInto(&err, "declaration compiler panicked")
	return factory(ctx, p)
}

func emit(ctx context.Context, c Compiler) (err error) {
	defer recoverInto(&err, "declaration emit panicked")
	return c.Emit(ctx)
}

func recoverInto(err *error, msg string) {
	r := recover()
	if r == nil {
		return
	}
	*err = ferrors.DeclarationError(msg).
		WithContext("panic", fmt.Sprint(r)).
		WithContext("stack", string(debug.Stack())).
		Build()
}

func closeCompiler(c Compiler, logger *slog.Logger) {
	if c == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("Declaration compiler close panicked", "panic", fmt.Sprint(r))
		}
	}()
	if err := c.Close(); err != nil {
		logger.Debug("Declaration compiler close failed", logfields.Error(err))
	}
}

// Handle is the parent side of one worker. At most one emit is outstanding.
type Handle struct {
	format config.Format
	in     chan<- Message

	ready    chan struct{}
	readyErr error
	complete chan error
	done     chan struct{}

	mu       sync.Mutex
	inFlight bool
	exitOnce sync.Once
}

func (h *Handle) pump(out <-chan Message) {
	defer close(h.done)
	for msg := range out {
		switch msg.Kind {
		case MsgReady:
			h.readyErr = msg.Err
			close(h.ready)
		case MsgEmitComplete:
			h.complete <- msg.Err
		}
	}
}

func (h *Handle) Format() config.Format { return h.format }

// Ready waits for the worker's ready message and returns its error.
func (h *Handle) Ready(ctx context.Context) error {
	select {
	case <-h.ready:
		return h.readyErr
	case <-h.done:
		return ErrWorkerExited
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Emit starts one emission once the worker is ready.
func (h *Handle) Emit(ctx context.Context) error {
	h.mu.Lock()
	if h.inFlight {
		h.mu.Unlock()
		return ErrEmitInFlight
	}
	h.inFlight = true
	h.mu.Unlock()

	err := h.send(ctx, Message{Kind: MsgEmit})
	if err != nil {
		h.clearInFlight()
	}
	return err
}

func (h *Handle) send(ctx context.Context, msg Message) error {
	select {
	case <-h.ready:
	case <-h.done:
		return ErrWorkerExited
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case h.in <- msg:
		return nil
	case <-h.done:
		return ErrWorkerExited
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) clearInFlight() {
	h.mu.Lock()
	h.inFlight = false
	h.mu.Unlock()
}

// InFlight reports whether an emit awaits completion.
func (h *Handle) InFlight() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inFlight
}

// AwaitComplete waits for the outstanding emit and returns its error. It
// returns nil at once when nothing is outstanding.
func (h *Handle) AwaitComplete(ctx context.Context) error {
	if !h.InFlight() {
		return nil
	}
	select {
	case err := <-h.complete:
		h.clearInFlight()
		return err
	case <-h.done:
		h.clearInFlight()
		return ErrWorkerExited
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Exit asks the worker to stop and waits until it has.
func (h *Handle) Exit(ctx context.Context) error {
	var err error
	h.exitOnce.Do(func() {
		err = h.send(ctx, Message{Kind: MsgExit})
	})
	if err != nil && !errors.Is(err, ErrWorkerExited) {
		return err
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the worker has stopped.
func (h *Handle) Done() <-chan struct{} { return h.done }

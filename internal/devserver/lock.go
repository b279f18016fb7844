package devserver

import (
	"context"
	"sync"

	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
)

// ErrLockHeld is returned by Acquire while a build holds the lock.
var ErrLockHeld = ferrors.InternalError("build lock already held").Fatal().Build()

// BuildLock makes requests wait while the leader backend is compiling. It is
// not reentrant.
type BuildLock struct {
	mu     sync.Mutex
	waiter chan struct{}
}

// Acquire takes the lock or returns ErrLockHeld.
func (l *BuildLock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.waiter != nil {
		return ErrLockHeld
	}
	l.waiter = make(chan struct{})
	return nil
}

// Release wakes every waiter. It is a no-op when the lock is free.
func (l *BuildLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.waiter == nil {
		return
	}
	close(l.waiter)
	l.waiter = nil
}

// Wait returns once the lock is free or ctx is done.
func (l *BuildLock) Wait(ctx context.Context) error {
	l.mu.Lock()
	w := l.waiter
	l.mu.Unlock()
	if w == nil {
		return nil
	}
	select {
	case <-w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *BuildLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiter != nil
}

package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
)

func quiet() Option { return WithLogger(slog.New(slog.DiscardHandler)) }

func TestShutdownRunsHandlersInReverse(t *testing.T) {
	c := New(t.Context(), quiet())
	var mu sync.Mutex
	var order []string
	for _, name := range []string{"session", "backends", "server"} {
		c.Register(name, func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, c.Shutdown(t.Context()))
	assert.Equal(t, []string{"server", "backends", "session"}, order)
	assert.Error(t, c.Context().Err())
}

func TestShutdownJoinsErrorsAndIsIdempotent(t *testing.T) {
	c := New(t.Context(), quiet())
	first := errors.New("first")
	second := errors.New("second")
	calls := 0
	c.Register("a", func(context.Context) error { calls++; return first })
	c.Register("b", func(context.Context) error { calls++; return second })

	err := c.Shutdown(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryRuntime))

	assert.Equal(t, err, c.Shutdown(t.Context()))
	assert.Equal(t, 2, calls)
}

func TestFirstSignalDrainsSecondExits(t *testing.T) {
	sigs := make(chan os.Signal, 2)
	exited := make(chan int, 1)
	release := make(chan struct{})

	c := New(t.Context(), quiet(), WithSignals(sigs), WithExit(func(code int) { exited <- code }))
	c.Register("slow", func(context.Context) error {
		<-release
		return nil
	})
	stop := c.Listen()
	defer stop()

	sigs <- os.Interrupt
	select {
	case <-c.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after first signal")
	}

	sigs <- syscall.SIGTERM
	select {
	case code := <-exited:
		assert.Equal(t, 128+int(syscall.SIGTERM), code)
	case <-time.After(2 * time.Second):
		t.Fatal("second signal did not exit")
	}

	close(release)
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not finish")
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 130, ExitCode(os.Interrupt))
	assert.Equal(t, 143, ExitCode(syscall.SIGTERM))
}

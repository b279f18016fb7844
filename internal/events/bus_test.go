package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
)

type outcomer interface {
	Outcome() string
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(250 * time.Millisecond):
		t.Fatal("no event delivered")
	}
	var zero T
	return zero
}

func TestSubscribeReceivesExactType(t *testing.T) {
	b := NewBus()
	t.Cleanup(b.Close)

	started, stop := Subscribe[CycleStarted](b, 1)
	defer stop()
	finished, stopFinished := Subscribe[CycleFinished](b, 1)
	defer stopFinished()

	require.NoError(t, b.Publish(t.Context(), CycleStarted{ID: "c1"}))

	assert.Equal(t, "c1", receive(t, started).ID)
	assert.Empty(t, finished)
}

func TestInterfaceSubscription(t *testing.T) {
	b := NewBus()
	t.Cleanup(b.Close)

	ch, stop := Subscribe[outcomer](b, 1)
	defer stop()

	require.NoError(t, b.Publish(t.Context(), CycleFinished{ID: "c1", Err: errors.New("boom")}))
	assert.Equal(t, "failed", receive(t, ch).Outcome())
}

func TestPublishBlocksUntilContextEnds(t *testing.T) {
	b := NewBus()
	t.Cleanup(b.Close)

	_, stop := Subscribe[CycleStarted](b, 0)
	defer stop()

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	err := b.Publish(ctx, CycleStarted{ID: "c1"})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryRuntime))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnsubscribeReleasesBlockedPublisher(t *testing.T) {
	b := NewBus()
	t.Cleanup(b.Close)

	_, stop := Subscribe[CycleStarted](b, 0)

	errCh := make(chan error, 1)
	go func() { errCh <- b.Publish(t.Context(), CycleStarted{ID: "c1"}) }()

	time.Sleep(20 * time.Millisecond)
	stop()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publisher still blocked after unsubscribe")
	}
}

func TestCloseClosesChannelsAndRejectsPublish(t *testing.T) {
	b := NewBus()
	ch, _ := Subscribe[CycleStarted](b, 1)

	b.Close()
	b.Close()

	_, open := <-ch
	assert.False(t, open)
	assert.Error(t, b.Publish(t.Context(), CycleStarted{ID: "c1"}))

	late, _ := Subscribe[CycleStarted](b, 1)
	_, open = <-late
	assert.False(t, open)
}

func TestPublishRejectsNil(t *testing.T) {
	b := NewBus()
	t.Cleanup(b.Close)
	assert.True(t, ferrors.HasCategory(b.Publish(t.Context(), nil), ferrors.CategoryValidation))
}

func TestListenDrainsBeforeStop(t *testing.T) {
	b := NewBus()
	t.Cleanup(b.Close)

	var (
		mu  sync.Mutex
		ids []string
	)
	stop := Listen(b, 4, func(evt CycleFinished) {
		mu.Lock()
		ids = append(ids, evt.ID)
		mu.Unlock()
	})

	require.NoError(t, b.Publish(t.Context(), CycleFinished{ID: "a"}))
	require.NoError(t, b.Publish(t.Context(), CycleFinished{ID: "b"}))
	stop()
	stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, ids)
	assert.Zero(t, SubscriberCount[CycleFinished](b))
}

package watch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalescerBurstRunsOnce(t *testing.T) {
	runs := make(chan Batch, 4)
	c := NewCoalescer(t.Context(), 30*time.Millisecond, time.Second, func(_ context.Context, b Batch) {
		runs <- b
	})
	t.Cleanup(c.Close)

	for _, p := range []string{"b.ts", "a.ts", "b.ts"} {
		c.Trigger(p)
	}

	select {
	case b := <-runs:
		assert.Equal(t, []string{"a.ts", "b.ts"}, b.Paths)
		assert.Equal(t, 3, b.Coalesced)
	case <-time.After(time.Second):
		t.Fatal("burst did not fire")
	}

	select {
	case <-runs:
		t.Fatal("burst fired twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCoalescerMaxDelayBoundsContinuousTriggers(t *testing.T) {
	fired := make(chan time.Time, 1)
	c := NewCoalescer(t.Context(), 50*time.Millisecond, 150*time.Millisecond, func(context.Context, Batch) {
		select {
		case fired <- time.Now():
		default:
		}
	})
	t.Cleanup(c.Close)

	start := time.Now()
	stop := time.After(500 * time.Millisecond)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case at := <-fired:
			assert.Less(t, at.Sub(start), 400*time.Millisecond)
			return
		case <-tick.C:
			c.Trigger("src/index.ts")
		case <-stop:
			t.Fatal("max delay did not fire during a continuous burst")
		}
	}
}

func TestCoalescerQueuesExactlyOneFollowUp(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	var runs atomic.Int32

	c := NewCoalescer(t.Context(), 10*time.Millisecond, 50*time.Millisecond, func(context.Context, Batch) {
		if runs.Add(1) == 1 {
			started <- struct{}{}
			<-release
		}
	})
	t.Cleanup(c.Close)

	c.Trigger("a.ts")
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first run did not start")
	}
	require.True(t, c.Running())

	// Two separate bursts while running fold into one follow-up.
	c.Trigger("b.ts")
	require.Eventually(t, c.Pending, time.Second, 5*time.Millisecond)
	c.Trigger("c.ts")
	time.Sleep(60 * time.Millisecond)

	close(release)
	require.Eventually(t, func() bool { return !c.Running() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), runs.Load())
	assert.False(t, c.Pending())
}

func TestCoalescerCloseWaitsForRun(t *testing.T) {
	var mu sync.Mutex
	finished := false
	started := make(chan struct{})

	c := NewCoalescer(context.Background(), 5*time.Millisecond, 20*time.Millisecond, func(context.Context, Batch) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		finished = true
		mu.Unlock()
	})

	c.Trigger("a.ts")
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("run did not start")
	}
	c.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, finished)

	c.Trigger("b.ts")
	assert.False(t, c.Running(), "closed coalescer ignores triggers")
}

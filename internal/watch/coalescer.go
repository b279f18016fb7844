package watch

import (
	"context"
	"sync"
	"time"

	"git.home.luguber.info/inful/tsbuild/internal/util/sets"
)

// Batch is one coalesced set of changes handed to the callback.
type Batch struct {
	Paths []string
	// Coalesced counts the raw triggers folded into this batch.
	Coalesced int
}

// Coalescer folds bursts of triggers into single runs. A burst fires once
// its quiet window elapses, or once MaxDelay has passed since its first
// trigger. A trigger arriving while the callback runs queues exactly one
// follow-up run.
type Coalescer struct {
	quiet    time.Duration
	maxDelay time.Duration
	run      func(ctx context.Context, b Batch)
	ctx      context.Context

	mu         sync.Mutex
	gen        uint64
	quietTimer *time.Timer
	maxTimer   *time.Timer
	armed      sets.Set[string]
	armedCount int
	queued     sets.Set[string]
	queuedN    int
	running    bool
	pending    bool
	closed     bool
	wg         sync.WaitGroup
}

// NewCoalescer returns a coalescer that calls run with ctx. Non-positive
// durations fall back to 250ms and 2s.
func NewCoalescer(ctx context.Context, quiet, maxDelay time.Duration, run func(ctx context.Context, b Batch)) *Coalescer {
	if quiet <= 0 {
		quiet = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if maxDelay < quiet {
		maxDelay = quiet
	}
	return &Coalescer{
		quiet:    quiet,
		maxDelay: maxDelay,
		run:      run,
		ctx:      ctx,
		armed:    sets.New[string](),
		queued:   sets.New[string](),
	}
}

// Trigger records a change at path and (re)arms the quiet window.
func (c *Coalescer) Trigger(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	first := c.armedCount == 0
	c.armed.Add(path)
	c.armedCount++
	gen := c.gen

	if c.quietTimer != nil {
		c.quietTimer.Stop()
	}
	c.quietTimer = time.AfterFunc(c.quiet, func() { c.fire(gen) })
	if first {
		c.maxTimer = time.AfterFunc(c.maxDelay, func() { c.fire(gen) })
	}
}

// fire ends the burst identified by gen. Stale timer callbacks from an
// earlier burst see a newer generation and return.
func (c *Coalescer) fire(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.armedCount == 0 {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.stopTimersLocked()

	if c.running {
		for p := range c.armed {
			c.queued.Add(p)
		}
		c.queuedN += c.armedCount
		c.pending = true
		c.resetArmedLocked()
		c.mu.Unlock()
		return
	}

	batch := Batch{Paths: sets.Sorted(c.armed), Coalesced: c.armedCount}
	c.resetArmedLocked()
	c.running = true
	c.wg.Add(1)
	c.mu.Unlock()

	go c.loop(batch)
}

func (c *Coalescer) loop(batch Batch) {
	defer c.wg.Done()
	for {
		c.run(c.ctx, batch)

		c.mu.Lock()
		if !c.pending || c.closed {
			c.running = false
			c.pending = false
			c.mu.Unlock()
			return
		}
		c.pending = false
		batch = Batch{Paths: sets.Sorted(c.queued), Coalesced: c.queuedN}
		c.queued = sets.New[string]()
		c.queuedN = 0
		c.mu.Unlock()
	}
}

// Running reports whether the callback is executing.
func (c *Coalescer) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Pending reports whether a follow-up run is queued.
func (c *Coalescer) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Close cancels armed timers, drops queued work and waits for an in-flight run.
func (c *Coalescer) Close() {
	c.mu.Lock()
	c.closed = true
	c.stopTimersLocked()
	c.resetArmedLocked()
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Coalescer) stopTimersLocked() {
	if c.quietTimer != nil {
		c.quietTimer.Stop()
		c.quietTimer = nil
	}
	if c.maxTimer != nil {
		c.maxTimer.Stop()
		c.maxTimer = nil
	}
}

func (c *Coalescer) resetArmedLocked() {
	c.armed = sets.New[string]()
	c.armedCount = 0
}

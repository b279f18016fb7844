package events

import (
	"context"
	"reflect"
	"sync"

	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
)

// Bus delivers session events to typed subscribers in process. Publish
// blocks until every matching subscriber has taken the event, so a slow
// listener applies backpressure to the runner. Nothing is persisted.
type Bus struct {
	mu     sync.RWMutex
	closed bool
	next   uint64
	subs   map[uint64]*subscription
}

// subscription owns one channel. done is closed before ch so a blocked
// sender gives up instead of writing to a closed channel.
type subscription struct {
	typ     reflect.Type
	deliver func(ctx context.Context, evt any) error
	done    chan struct{}
	closeCh func()
	once    sync.Once
}

func (s *subscription) accepts(t reflect.Type) bool {
	if s.typ == t {
		return true
	}
	return s.typ.Kind() == reflect.Interface && t.Implements(s.typ)
}

func (s *subscription) close() {
	s.once.Do(func() {
		close(s.done)
		s.closeCh()
	})
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*subscription)}
}

// Subscribe returns a channel of events assignable to T and a func that
// unsubscribes and closes it. An interface T receives every event type
// implementing it. On a closed bus the channel is already closed.
func Subscribe[T any](b *Bus, buffer int) (<-chan T, func()) {
	ch := make(chan T, buffer)
	sub := &subscription{typ: reflect.TypeFor[T](), done: make(chan struct{})}

	// Senders hold sendMu for reading; closing takes it for writing.
	var sendMu sync.RWMutex
	sub.closeCh = func() {
		sendMu.Lock()
		close(ch)
		sendMu.Unlock()
	}
	sub.deliver = func(ctx context.Context, evt any) error {
		sendMu.RLock()
		defer sendMu.RUnlock()
		select {
		case <-sub.done:
			return nil
		default:
		}
		select {
		case ch <- evt.(T):
			return nil
		case <-sub.done:
			return nil
		case <-ctx.Done():
			return ferrors.WrapError(ctx.Err(), ferrors.CategoryRuntime, "event delivery canceled").
				WithContext("event", sub.typ.String()).
				Build()
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return ch, func() {}
	}
	b.next++
	id := b.next
	b.subs[id] = sub
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.close()
	}
}

// SubscriberCount reports how many subscriptions were made for exactly T.
func SubscriberCount[T any](b *Bus) int {
	if b == nil {
		return 0
	}
	want := reflect.TypeFor[T]()
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.subs {
		if s.typ == want {
			n++
		}
	}
	return n
}

// Publish hands evt to each matching subscriber in turn. It stops at the
// first subscriber that cannot take the event before ctx ends.
func (b *Bus) Publish(ctx context.Context, evt any) error {
	if evt == nil {
		return ferrors.ValidationError("event cannot be nil").Build()
	}
	t := reflect.TypeOf(evt)

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ferrors.RuntimeError("event bus is closed").WithContext("event", t.String()).Build()
	}
	var targets []*subscription
	for _, s := range b.subs {
		if s.accepts(t) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if err := s.deliver(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// Close rejects further publishing and closes every subscription channel.
// It is safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}

// Listen runs fn for every T on its own goroutine. stop unsubscribes, lets
// fn drain what was already delivered and waits for it to return.
func Listen[T any](b *Bus, buffer int, fn func(T)) (stop func()) {
	ch, unsubscribe := Subscribe[T](b, buffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range ch {
			fn(evt)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			<-done
		})
	}
}

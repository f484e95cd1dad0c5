//go:build linux

// Package broadcast implements lossy fan-out of values to any number of
// subscribers, each with its own bounded channel and wakeup counter.
//
// A subscriber whose channel is full misses the new value. Values already
// queued are kept, so a slow subscriber sees the oldest values, and a gap.
// Other subscribers are unaffected.
package broadcast

import (
	"errors"
	"sync"

	"code.hybscloud.com/iox"
	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/go-reactor/bounded"
)

// ErrClosed is returned by operations on a closed Broadcaster.
var ErrClosed = errors.New("broadcast: closed")

// Option configures a Broadcaster.
type Option[T any] func(*Broadcaster[T])

// WithClone sets the function used to copy each value, for every
// subscriber. By default values are copied by assignment.
func WithClone[T any](clone func(T) T) Option[T] {
	return func(b *Broadcaster[T]) {
		b.clone = clone
	}
}

// Broadcaster sends each value to every subscriber. It is safe for
// concurrent use.
type Broadcaster[T any] struct {
	clone       func(T) T
	subscribers []*bounded.Sender[T]
	capacity    int
	dropped     uint64
	mu          sync.Mutex
	closed      bool
}

// New returns a Broadcaster with a per-subscriber capacity.
func New[T any](capacity int, opts ...Option[T]) (*Broadcaster[T], error) {
	if capacity <= 0 {
		return nil, errors.New("broadcast: capacity must be positive")
	}
	b := &Broadcaster[T]{capacity: capacity}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// Subscribe adds a subscriber, which will receive every value sent after
// this call, that fits. Closing the subscriber's receiver unsubscribes it.
func (x *Broadcaster[T]) Subscribe() (*bounded.UnarmedReceiver[T], error) {
	return x.SubscribeCapacity(x.capacity)
}

// SubscribeCapacity is like Subscribe, with a capacity for this subscriber.
func (x *Broadcaster[T]) SubscribeCapacity(capacity int) (*bounded.UnarmedReceiver[T], error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil, ErrClosed
	}
	tx, rx, err := bounded.New[T](capacity)
	if err != nil {
		return nil, err
	}
	x.subscribers = append(x.subscribers, tx)
	return rx, nil
}

// Send delivers v to every subscriber, waking each. It returns the number
// of subscribers that dropped v.
func (x *Broadcaster[T]) Send(v T) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return 0, ErrClosed
	}
	x.prune()
	var (
		dropped int
		errs    []error
	)
	for _, tx := range x.subscribers {
		c := v
		if x.clone != nil {
			c = x.clone(v)
		}
		if err := tx.Send(c); err != nil {
			if iox.IsWouldBlock(err) {
				dropped++
				continue
			}
			errs = append(errs, err)
		}
	}
	x.dropped += uint64(dropped)
	return dropped, errors.Join(errs...)
}

// Dropped returns the total number of values dropped, across subscribers.
func (x *Broadcaster[T]) Dropped() uint64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.dropped
}

// Len returns the number of subscribers.
func (x *Broadcaster[T]) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.prune()
	return len(x.subscribers)
}

// prune closes and removes subscribers whose receiver has been closed.
func (x *Broadcaster[T]) prune() {
	live := x.subscribers[:0]
	for _, tx := range x.subscribers {
		if tx.Detached() {
			_ = tx.Close()
			continue
		}
		live = append(live, tx)
	}
	clear(x.subscribers[len(live):])
	x.subscribers = live
}

// Close closes every subscriber's channel. Subscribers receive values
// already queued, then [bounded.ErrClosed].
func (x *Broadcaster[T]) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	var errs []error
	for _, tx := range x.subscribers {
		if err := tx.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	x.subscribers = nil
	return errors.Join(errs...)
}

// React sends every Value it is given, yielding Continue. Events are passed
// through, since a Broadcaster has no identity.
func (x *Broadcaster[T]) React(reaction reactor.Reaction[T]) reactor.Reaction[struct{}] {
	if v, ok := reaction.Value(); ok {
		_, _ = x.Send(v)
		return reactor.Continue[struct{}]()
	}
	return reactor.Forward[struct{}](reaction)
}

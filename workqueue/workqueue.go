//go:build linux

// Package workqueue distributes values from one producer to any number of
// consumers, each driven by its own [reactor.System], typically on different
// threads.
//
// The producer, a [Worker], owns a [Deque]. Each consumer, a [Stealer], owns
// its own wakeup counter and identity. Every send wakes every consumer, and
// each consumer steals at most one value per event.
package workqueue

import (
	"errors"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/spin"
	"github.com/joeycumines/go-reactor"
)

// ErrClosed is returned by operations on a closed Worker.
var ErrClosed = errors.New("workqueue: closed")

// consumer is the producer's view of a Stealer.
type consumer struct {
	waker    *reactor.Waker
	detached atomic.Bool
}

// Worker is the producing side. Send and Pop may only be called by a single
// goroutine, while Dequeue may be called from any.
type Worker[T any] struct {
	deque     *Deque[T]
	consumers []*consumer
	mu        sync.Mutex
	closed    bool
}

// UnarmedStealer is a consumer that has not been registered with a System.
type UnarmedStealer[T any] struct {
	deque    *Deque[T]
	consumer *consumer
	waker    *reactor.Waker
}

// Stealer is a consumer registered with a System.
type Stealer[T any] struct {
	deque    *Deque[T]
	consumer *consumer
	evented  *reactor.Evented
	wait     spin.Wait
}

// New returns a Worker with no consumers.
func New[T any]() *Worker[T] {
	return &Worker[T]{deque: NewDeque[T]()}
}

// Dequeue returns a new consumer, with its own wakeup counter.
func (x *Worker[T]) Dequeue() (*UnarmedStealer[T], error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil, ErrClosed
	}
	waker, err := reactor.NewWaker()
	if err != nil {
		return nil, err
	}
	clone, err := waker.Clone()
	if err != nil {
		_ = waker.Close()
		return nil, err
	}
	c := &consumer{waker: waker}
	x.consumers = append(x.consumers, c)
	return &UnarmedStealer[T]{deque: x.deque, consumer: c, waker: clone}, nil
}

// Send pushes v, then wakes every consumer.
func (x *Worker[T]) Send(v T) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrClosed
	}
	x.deque.Push(v)
	var errs []error
	live := x.consumers[:0]
	for _, c := range x.consumers {
		if c.detached.Load() {
			_ = c.waker.Close()
			continue
		}
		live = append(live, c)
		if err := c.waker.Poke(); err != nil {
			errs = append(errs, err)
		}
	}
	clear(x.consumers[len(live):])
	x.consumers = live
	return errors.Join(errs...)
}

// Pop removes the most recently pushed value, if any, for the producer to
// handle itself.
func (x *Worker[T]) Pop() (T, bool) {
	return x.deque.Pop()
}

// Len returns the number of values waiting to be stolen.
func (x *Worker[T]) Len() int { return x.deque.Len() }

// Close stops the Worker, releasing its handles to every consumer's counter.
// Values not yet stolen remain available to consumers.
func (x *Worker[T]) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	var errs []error
	for _, c := range x.consumers {
		if err := c.waker.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	x.consumers = nil
	return errors.Join(errs...)
}

// React sends every Value it is given. Events are passed through, since a
// Worker has no identity.
func (x *Worker[T]) React(reaction reactor.Reaction[T]) reactor.Reaction[struct{}] {
	if v, ok := reaction.Value(); ok {
		_ = x.Send(v)
		return reactor.Continue[struct{}]()
	}
	return reactor.Forward[struct{}](reaction)
}

// Arm registers the consumer with sys, consuming x.
func (x *UnarmedStealer[T]) Arm(sys *reactor.System) (*Stealer[T], error) {
	evented, err := x.waker.Arm(sys)
	if err != nil {
		return nil, err
	}
	return &Stealer[T]{deque: x.deque, consumer: x.consumer, evented: evented}, nil
}

// Close discards a consumer that was never armed.
func (x *UnarmedStealer[T]) Close() error {
	x.consumer.detached.Store(true)
	return x.waker.Close()
}

// ID returns the identity the consumer's events are tagged with.
func (x *Stealer[T]) ID() reactor.Identity { return x.evented.ID() }

// Steal attempts to steal one value, spinning while it loses races, and
// never sleeping.
func (x *Stealer[T]) Steal() (T, bool) {
	return stealRetry(x.deque.Steal, &x.wait)
}

// stealRetry calls steal until it reports Success or Empty. Retry means
// another thief won the race, so the wait is a short CPU pause, yielding
// the processor after repeated losses.
func stealRetry[T any](steal func() (T, Status), wait *spin.Wait) (T, bool) {
	defer wait.Reset()
	for {
		v, status := steal()
		switch status {
		case Success:
			return v, true
		case Empty:
			return v, false
		}
		wait.Once()
	}
}

// React claims events for this consumer, stealing one value per event, and
// waking itself while values remain. Empty yields Continue.
func (x *Stealer[T]) React(reaction reactor.Reaction[struct{}]) reactor.Reaction[reactor.Result[T]] {
	if !reactor.Claims(reaction, x.evented.ID()) {
		return reactor.Forward[reactor.Result[T]](reaction)
	}
	if _, err := x.evented.ConsumeEvent(); err != nil {
		return reactor.Value(reactor.Err[T](err))
	}
	v, ok := x.Steal()
	if !ok {
		return reactor.Continue[reactor.Result[T]]()
	}
	if x.deque.Len() != 0 {
		_ = x.evented.Poke()
	}
	return reactor.Value(reactor.Ok(v))
}

// Close unregisters the consumer. The Worker stops waking it.
func (x *Stealer[T]) Close() error {
	x.consumer.detached.Store(true)
	return x.evented.Close()
}

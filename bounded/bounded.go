//go:build linux

// Package bounded implements a fixed capacity channel, from one sending
// thread to a receiver driven by a [reactor.System].
package bounded

import (
	"errors"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
	"github.com/joeycumines/go-reactor"
)

// ErrClosed is returned by a Sender after Close, and delivered once to the
// Receiver, after every value sent before Close has been received.
var ErrClosed = errors.New("bounded: channel closed")

type channel[T any] struct {
	ring     lfq.SPSC[T]
	length   atomic.Int64
	capacity int64
	closed   atomic.Bool
	// detached is set once the receiver is closed
	detached atomic.Bool
}

// Sender is the sending half of a channel. It is safe for concurrent use,
// though sends are serialized.
type Sender[T any] struct {
	mu    sync.Mutex
	ch    *channel[T]
	waker *reactor.Waker
}

// UnarmedReceiver is the receiving half of a channel, before it has been
// registered with a System. It may be moved to the thread that will own it.
type UnarmedReceiver[T any] struct {
	ch    *channel[T]
	waker *reactor.Waker
}

// Receiver is the receiving half of a channel, registered with a System.
type Receiver[T any] struct {
	ch         *channel[T]
	evented    *reactor.Evented
	closedSeen bool
}

// New creates a channel that holds at most capacity values.
func New[T any](capacity int) (*Sender[T], *UnarmedReceiver[T], error) {
	if capacity <= 0 {
		return nil, nil, errors.New("bounded: capacity must be positive")
	}
	waker, err := reactor.NewWaker()
	if err != nil {
		return nil, nil, err
	}
	clone, err := waker.Clone()
	if err != nil {
		_ = waker.Close()
		return nil, nil, err
	}
	ch := &channel[T]{capacity: int64(capacity)}
	ch.ring.Init(ringSize(capacity))
	return &Sender[T]{ch: ch, waker: waker}, &UnarmedReceiver[T]{ch: ch, waker: clone}, nil
}

// ringSize returns the smallest power of two not less than capacity.
func ringSize(capacity int) int {
	n := 2
	for n < capacity {
		n <<= 1
	}
	return n
}

// Send enqueues v without blocking, returning [iox.ErrWouldBlock] if the
// channel is full. The receiver is woken regardless of the outcome.
func (x *Sender[T]) Send(v T) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.ch.closed.Load() {
		return ErrClosed
	}
	err := x.enqueue(v)
	if perr := x.waker.Poke(); err == nil {
		err = perr
	}
	return err
}

func (x *Sender[T]) enqueue(v T) error {
	if x.ch.length.Load() >= x.ch.capacity {
		return iox.ErrWouldBlock
	}
	if err := x.ch.ring.Enqueue(&v); err != nil {
		return err
	}
	x.ch.length.Add(1)
	return nil
}

// Detached reports whether the receiving half has been closed, after which
// nothing will receive values sent.
func (x *Sender[T]) Detached() bool { return x.ch.detached.Load() }

// React sends every Value it is given, yielding the outcome, including
// [iox.ErrWouldBlock] if the channel was full. Events are passed through,
// since a Sender has no identity.
func (x *Sender[T]) React(reaction reactor.Reaction[T]) reactor.Reaction[reactor.Result[struct{}]] {
	if v, ok := reaction.Value(); ok {
		if err := x.Send(v); err != nil {
			return reactor.Value(reactor.Err[struct{}](err))
		}
		return reactor.Value(reactor.Ok(struct{}{}))
	}
	return reactor.Forward[reactor.Result[struct{}]](reaction)
}

// Close marks the channel closed, waking the receiver. Values already sent
// remain receivable.
func (x *Sender[T]) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.ch.closed.Swap(true) {
		return nil
	}
	err := x.waker.Poke()
	if cerr := x.waker.Close(); err == nil {
		err = cerr
	}
	return err
}

// Arm registers the receiver with sys. It is the only way to obtain a
// Receiver, and consumes x.
func (x *UnarmedReceiver[T]) Arm(sys *reactor.System) (*Receiver[T], error) {
	evented, err := x.waker.Arm(sys)
	if err != nil {
		return nil, err
	}
	return &Receiver[T]{ch: x.ch, evented: evented}, nil
}

// Close discards a receiver that was never armed.
func (x *UnarmedReceiver[T]) Close() error {
	x.ch.detached.Store(true)
	return x.waker.Close()
}

// ID returns the identity the receiver's events are tagged with.
func (x *Receiver[T]) ID() reactor.Identity { return x.evented.ID() }

// Len returns the number of values waiting to be received.
func (x *Receiver[T]) Len() int { return int(x.ch.length.Load()) }

// TryRecv dequeues the next value, returning [iox.ErrWouldBlock] if the
// channel is empty, or ErrClosed if it is empty and closed.
func (x *Receiver[T]) TryRecv() (v T, err error) {
	v, err = x.ch.ring.Dequeue()
	if err != nil && x.ch.closed.Load() {
		// a send may have completed before the close was observed
		v, err = x.ch.ring.Dequeue()
		if err != nil {
			return v, ErrClosed
		}
	}
	if err != nil {
		return v, iox.ErrWouldBlock
	}
	x.ch.length.Add(-1)
	return v, nil
}

// React claims events for this receiver, yielding one value per event.
// While a backlog remains, the receiver wakes itself, so the next value is
// delivered by a later event. An empty channel yields Continue. ErrClosed is
// emitted once.
func (x *Receiver[T]) React(reaction reactor.Reaction[struct{}]) reactor.Reaction[reactor.Result[T]] {
	if !reactor.Claims(reaction, x.evented.ID()) {
		return reactor.Forward[reactor.Result[T]](reaction)
	}
	if _, err := x.evented.ConsumeEvent(); err != nil {
		return reactor.Value(reactor.Err[T](err))
	}
	v, err := x.TryRecv()
	switch {
	case err == nil:
		if x.ch.length.Load() > 0 || x.ch.closed.Load() {
			_ = x.evented.Poke()
		}
		return reactor.Value(reactor.Ok(v))
	case iox.IsWouldBlock(err):
		return reactor.Continue[reactor.Result[T]]()
	case x.closedSeen:
		return reactor.Continue[reactor.Result[T]]()
	default:
		x.closedSeen = true
		return reactor.Value(reactor.Err[T](err))
	}
}

// Close unregisters the receiver.
func (x *Receiver[T]) Close() error {
	x.ch.detached.Store(true)
	return x.evented.Close()
}

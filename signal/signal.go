//go:build linux

// Package signal implements an unbounded channel, with a single receiver
// driven by a [reactor.System].
//
// The receiver cannot be cloned. A wakeup counter may only be registered
// under one identity at a time, so fan-out to multiple receivers is the
// domain of the broadcast package, which gives each its own counter.
package signal

import (
	"errors"
	"sync"

	"code.hybscloud.com/iox"
	"github.com/eapache/queue"
	"github.com/joeycumines/go-reactor"
)

// ErrClosed is returned by a Sender after Close, and delivered once to the
// Receiver, after every value sent before Close has been received.
var ErrClosed = errors.New("signal: channel closed")

type channel[T any] struct {
	queue  *queue.Queue
	mu     sync.Mutex
	closed bool
}

// Sender is the sending half of a channel. It is safe for concurrent use.
type Sender[T any] struct {
	ch    *channel[T]
	waker *reactor.Waker
}

// UnarmedReceiver is the receiving half of a channel, before it has been
// registered with a System.
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

// New creates an unbounded channel.
func New[T any]() (*Sender[T], *UnarmedReceiver[T], error) {
	waker, err := reactor.NewWaker()
	if err != nil {
		return nil, nil, err
	}
	clone, err := waker.Clone()
	if err != nil {
		_ = waker.Close()
		return nil, nil, err
	}
	ch := &channel[T]{queue: queue.New()}
	return &Sender[T]{ch: ch, waker: waker}, &UnarmedReceiver[T]{ch: ch, waker: clone}, nil
}

// Send enqueues v, and wakes the receiver.
func (x *Sender[T]) Send(v T) error {
	x.ch.mu.Lock()
	if x.ch.closed {
		x.ch.mu.Unlock()
		return ErrClosed
	}
	x.ch.queue.Add(v)
	x.ch.mu.Unlock()
	return x.waker.Poke()
}

// React sends every Value it is given, yielding the outcome. Events are
// passed through, since a Sender has no identity.
func (x *Sender[T]) React(reaction reactor.Reaction[T]) reactor.Reaction[reactor.Result[struct{}]] {
	if v, ok := reaction.Value(); ok {
		if err := x.Send(v); err != nil {
			return reactor.Value(reactor.Err[struct{}](err))
		}
		return reactor.Value(reactor.Ok(struct{}{}))
	}
	return reactor.Forward[reactor.Result[struct{}]](reaction)
}

// Close marks the channel closed, and wakes the receiver.
func (x *Sender[T]) Close() error {
	x.ch.mu.Lock()
	if x.ch.closed {
		x.ch.mu.Unlock()
		return nil
	}
	x.ch.closed = true
	x.ch.mu.Unlock()
	err := x.waker.Poke()
	if cerr := x.waker.Close(); err == nil {
		err = cerr
	}
	return err
}

// Arm registers the receiver with sys, consuming x.
func (x *UnarmedReceiver[T]) Arm(sys *reactor.System) (*Receiver[T], error) {
	evented, err := x.waker.Arm(sys)
	if err != nil {
		return nil, err
	}
	return &Receiver[T]{ch: x.ch, evented: evented}, nil
}

// Close discards a receiver that was never armed.
func (x *UnarmedReceiver[T]) Close() error {
	return x.waker.Close()
}

// ID returns the identity the receiver's events are tagged with.
func (x *Receiver[T]) ID() reactor.Identity { return x.evented.ID() }

// Len returns the number of values waiting to be received.
func (x *Receiver[T]) Len() int {
	x.ch.mu.Lock()
	defer x.ch.mu.Unlock()
	return x.ch.queue.Length()
}

// TryRecv dequeues the next value, returning [iox.ErrWouldBlock] if there is
// none, or ErrClosed if there is none and the channel is closed.
func (x *Receiver[T]) TryRecv() (T, error) {
	v, _, err := x.recv()
	return v, err
}

// recv additionally reports whether more values (or the close) remain.
func (x *Receiver[T]) recv() (v T, more bool, err error) {
	x.ch.mu.Lock()
	defer x.ch.mu.Unlock()
	if x.ch.queue.Length() == 0 {
		if x.ch.closed {
			return v, false, ErrClosed
		}
		return v, false, iox.ErrWouldBlock
	}
	v = x.ch.queue.Remove().(T)
	return v, x.ch.queue.Length() != 0 || x.ch.closed, nil
}

// React claims events for this receiver, yielding one value per event, and
// waking itself while a backlog remains.
func (x *Receiver[T]) React(reaction reactor.Reaction[struct{}]) reactor.Reaction[reactor.Result[T]] {
	if !reactor.Claims(reaction, x.evented.ID()) {
		return reactor.Forward[reactor.Result[T]](reaction)
	}
	if _, err := x.evented.ConsumeEvent(); err != nil {
		return reactor.Value(reactor.Err[T](err))
	}
	v, more, err := x.recv()
	switch {
	case err == nil:
		if more {
			_ = x.evented.Poke()
		}
		return reactor.Value(reactor.Ok(v))
	case iox.IsWouldBlock(err), x.closedSeen:
		return reactor.Continue[reactor.Result[T]]()
	default:
		x.closedSeen = true
		return reactor.Value(reactor.Err[T](err))
	}
}

// Close unregisters the receiver.
func (x *Receiver[T]) Close() error {
	return x.evented.Close()
}

package workqueue

import (
	"sync/atomic"
)

// Status is the outcome of a [Deque.Steal].
type Status uint8

const (
	// Empty means there was nothing to steal.
	Empty Status = iota
	// Success means a value was stolen.
	Success
	// Retry means the steal lost a race with another consumer, and should
	// be attempted again.
	Retry
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case Empty:
		return "Empty"
	case Success:
		return "Success"
	case Retry:
		return "Retry"
	default:
		return "Unknown"
	}
}

const minRingSize = 32

// ring is a power of two sized circular buffer. It is replaced, never
// resized, so stealers holding an old ring still read valid values.
type ring[T any] struct {
	values []atomic.Pointer[T]
	mask   int64
}

func newRing[T any](size int64) *ring[T] {
	return &ring[T]{values: make([]atomic.Pointer[T], size), mask: size - 1}
}

func (r *ring[T]) size() int64 { return r.mask + 1 }

func (r *ring[T]) load(i int64) *T { return r.values[i&r.mask].Load() }

func (r *ring[T]) store(i int64, v *T) { r.values[i&r.mask].Store(v) }

func (r *ring[T]) grow(top, bottom int64) *ring[T] {
	n := newRing[T](r.size() << 1)
	for i := top; i < bottom; i++ {
		n.store(i, r.load(i))
	}
	return n
}

// Deque is an unbounded Chase-Lev work-stealing deque. Push and Pop may only
// be called by the owner, while Steal may be called from any goroutine.
type Deque[T any] struct {
	top    atomic.Int64
	bottom atomic.Int64
	ring   atomic.Pointer[ring[T]]
}

// NewDeque returns an empty deque.
func NewDeque[T any]() *Deque[T] {
	d := &Deque[T]{}
	d.ring.Store(newRing[T](minRingSize))
	return d
}

// Push adds v to the bottom. Owner only.
func (d *Deque[T]) Push(v T) {
	b := d.bottom.Load()
	t := d.top.Load()
	r := d.ring.Load()
	if b-t >= r.size()-1 {
		r = r.grow(t, b)
		d.ring.Store(r)
	}
	r.store(b, &v)
	d.bottom.Store(b + 1)
}

// Pop removes from the bottom, in LIFO order. Owner only.
func (d *Deque[T]) Pop() (v T, ok bool) {
	b := d.bottom.Load() - 1
	r := d.ring.Load()
	d.bottom.Store(b)
	t := d.top.Load()
	if t > b {
		d.bottom.Store(b + 1)
		return v, false
	}
	p := r.load(b)
	if t == b {
		// last value, race any stealers for it
		if !d.top.CompareAndSwap(t, t+1) {
			d.bottom.Store(b + 1)
			return v, false
		}
		d.bottom.Store(b + 1)
	}
	return *p, true
}

// Steal removes from the top, in FIFO order.
func (d *Deque[T]) Steal() (v T, status Status) {
	t := d.top.Load()
	b := d.bottom.Load()
	if t >= b {
		return v, Empty
	}
	p := d.ring.Load().load(t)
	if !d.top.CompareAndSwap(t, t+1) {
		return v, Retry
	}
	return *p, Success
}

// Len returns the number of values, which may be stale by the time it is
// used.
func (d *Deque[T]) Len() int {
	n := d.bottom.Load() - d.top.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

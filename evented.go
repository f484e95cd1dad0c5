//go:build linux

package reactor

import (
	"encoding/binary"
	"sync"

	"golang.org/x/sys/unix"
)

// counter is an eventfd, shared by every clone of a Waker or Evented.
// The mutex guards the descriptor number against reuse after close, since
// pokes may come from any thread.
type counter struct {
	mu     sync.RWMutex
	fd     int
	refs   int
	closed bool
}

func newCounter() (*counter, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, osError(`eventfd`, err)
	}
	return &counter{fd: fd, refs: 1}, nil
}

// acquire adds a reference, failing if the counter was already closed.
func (c *counter) acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.refs++
	return nil
}

// release drops a reference, closing the descriptor with the last one.
func (c *counter) release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.refs--
	if c.refs > 0 {
		return nil
	}
	c.closed = true
	return unix.Close(c.fd)
}

// poke adds 1 to the counter. The kernel requires the value in native byte
// order. A full counter is already readable, so EAGAIN is not an error.
func (c *counter) poke() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(c.fd, buf[:]); err != nil && err != unix.EAGAIN {
		return osError(`write`, err)
	}
	return nil
}

// drain reads and resets the counter, returning 0 if it was already zero.
func (c *counter) drain() (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0, ErrClosed
	}
	var buf [8]byte
	if _, err := unix.Read(c.fd, buf[:]); err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, err
	}
	return binary.NativeEndian.Uint64(buf[:]), nil
}

// Waker is the unarmed form of an [Evented]: a wakeup counter that may be
// poked from any goroutine, but is not registered with any System.
// It may be constructed on one thread, and armed on another.
type Waker struct {
	c *counter
}

// NewWaker allocates a new wakeup counter.
func NewWaker() (*Waker, error) {
	c, err := newCounter()
	if err != nil {
		return nil, err
	}
	return &Waker{c: c}, nil
}

// Poke increments the counter, waking any armed reader. It never blocks.
func (w *Waker) Poke() error {
	if w.c == nil {
		return ErrClosed
	}
	return w.c.poke()
}

// Clone returns another handle to the same counter.
func (w *Waker) Clone() (*Waker, error) {
	if w.c == nil {
		return nil, ErrClosed
	}
	if err := w.c.acquire(); err != nil {
		return nil, err
	}
	return &Waker{c: w.c}, nil
}

// Close drops this handle. The descriptor is closed with the last handle.
func (w *Waker) Close() error {
	c := w.c
	if c == nil {
		return nil
	}
	w.c = nil
	return osError(`close`, c.release())
}

// Arm registers the counter with sys, for Read interest, under a newly
// reserved identity. On success the Waker is consumed, ownership of its
// reference transferring to the returned Evented.
//
// A descriptor may only be registered with one System at a time. Arming
// clones of the same counter on more than one System is not supported.
func (w *Waker) Arm(sys *System) (*Evented, error) {
	if w.c == nil {
		return nil, ErrClosed
	}
	id := sys.Reserve()
	if err := sys.Arm(w.c.fd, Read, id); err != nil {
		sys.Free(id)
		return nil, err
	}
	e := &Evented{sys: sys, c: w.c, id: id, armed: true}
	w.c = nil
	return e, nil
}

// Evented is a wakeup counter registered with a System, under its own
// identity. Every delivered event must be followed by a call to
// [Evented.ConsumeEvent], or no further events will be delivered.
type Evented struct {
	sys *System
	c   *counter
	id  Identity
	// armed is set for the handle that reserved id, which frees it on close
	armed  bool
	closed bool
}

// NewEvented allocates a wakeup counter and arms it with sys.
func NewEvented(sys *System) (*Evented, error) {
	w, err := NewWaker()
	if err != nil {
		return nil, err
	}
	e, err := w.Arm(sys)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	return e, nil
}

// ID returns the identity events for this counter are tagged with.
func (e *Evented) ID() Identity { return e.id }

// Fd returns the eventfd descriptor.
func (e *Evented) Fd() int { return e.c.fd }

// Poke increments the counter. It is safe to call from any goroutine.
func (e *Evented) Poke() error {
	return e.c.poke()
}

// ConsumeEvent reads and resets the counter, then re-arms it. It returns the
// counter value, which is zero for a spurious wakeup.
func (e *Evented) ConsumeEvent() (uint64, error) {
	if e.closed {
		return 0, ErrClosed
	}
	n, err := e.c.drain()
	if err != nil {
		return 0, osError(`read`, err)
	}
	if err := e.Rearm(); err != nil {
		return n, err
	}
	return n, nil
}

// Rearm re-enables delivery of the next event, without reading the counter.
func (e *Evented) Rearm() error {
	if e.closed {
		return ErrClosed
	}
	return e.sys.Rearm(e.c.fd, Read, e.id)
}

// Clone returns a handle sharing the descriptor and the identity. Only the
// original handle frees the identity, when closed.
//
// Once the original handle is closed the descriptor is disarmed, so clones
// receive no further events, and Rearm or ConsumeEvent on a clone fails.
// Pokes through a clone still succeed until the last handle is closed.
func (e *Evented) Clone() (*Evented, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if err := e.c.acquire(); err != nil {
		return nil, err
	}
	return &Evented{sys: e.sys, c: e.c, id: e.id}, nil
}

// Waker returns a poke-only handle to the same counter, for other threads.
// It must be closed independently.
func (e *Evented) Waker() (*Waker, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if err := e.c.acquire(); err != nil {
		return nil, err
	}
	return &Waker{c: e.c}, nil
}

// Close drops this handle. The handle that armed the counter disarms it and
// frees the identity. Must be called on the System's thread.
func (e *Evented) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	var err error
	if e.armed {
		err = e.sys.Disarm(e.c.fd)
		e.sys.Free(e.id)
	}
	if cerr := osError(`close`, e.c.release()); err == nil {
		err = cerr
	}
	return err
}

// React claims events for this counter, consuming them, and emitting the
// counter value. Spurious wakeups yield Continue.
func (e *Evented) React(reaction Reaction[struct{}]) Reaction[Result[uint64]] {
	if !Claims(reaction, e.id) {
		return Forward[Result[uint64]](reaction)
	}
	n, err := e.ConsumeEvent()
	if err != nil {
		return Value(Err[uint64](err))
	}
	if n == 0 {
		return Continue[Result[uint64]]()
	}
	return Value(Ok(n))
}

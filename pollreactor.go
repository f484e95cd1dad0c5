//go:build linux

package reactor

import (
	"errors"
	"io"

	"code.hybscloud.com/iox"
	"golang.org/x/sys/unix"
)

// Resource is a descriptor-owning value, e.g. a non-blocking socket.
// A resource may additionally implement io.Reader, io.Writer, and
// io.Closer, which PollReactor will use.
type Resource interface {
	Fd() int
}

// PollReactor binds a resource to an identity, tracking the most recently
// observed readiness of the resource.
//
// Readable and Writable are set by claimed events, and cleared by Read and
// Write, on would-block, and by Read on end-of-stream. They are exported so
// that pipelines may test them directly.
type PollReactor[T Resource] struct {
	sys      *System
	inner    T
	id       Identity
	interest Interest
	closed   bool

	Readable bool
	Writable bool
}

// NewPollReactor reserves an identity for resource, and arms it with
// interest.
func NewPollReactor[T Resource](sys *System, resource T, interest Interest) (*PollReactor[T], error) {
	id := sys.Reserve()
	if err := sys.Arm(resource.Fd(), interest, id); err != nil {
		sys.Free(id)
		return nil, err
	}
	return &PollReactor[T]{
		sys:      sys,
		inner:    resource,
		id:       id,
		interest: interest,
	}, nil
}

// ID returns the identity the resource's events are tagged with.
func (p *PollReactor[T]) ID() Identity { return p.id }

// Inner returns the wrapped resource.
func (p *PollReactor[T]) Inner() T { return p.inner }

// Interest returns the interest most recently registered.
func (p *PollReactor[T]) Interest() Interest { return p.interest }

// Rearm re-registers the resource, which is required after every delivered
// event, before the next may be delivered.
func (p *PollReactor[T]) Rearm(interest Interest) error {
	if p.closed {
		return ErrClosed
	}
	if err := p.sys.Rearm(p.inner.Fd(), interest, p.id); err != nil {
		return err
	}
	p.interest = interest
	return nil
}

// Claim updates the readiness flags from ev, if it is owned by this
// resource, returning true if it was.
func (p *PollReactor[T]) Claim(ev Event) bool {
	if ev.Owner != p.id || p.closed {
		return false
	}
	if ev.Readable {
		p.Readable = true
	}
	if ev.Writable {
		p.Writable = true
	}
	return true
}

// React claims events for this resource, emitting a Value to signal that
// the readiness flags changed, and that I/O should be attempted.
func (p *PollReactor[T]) React(reaction Reaction[struct{}]) Reaction[struct{}] {
	if ev, ok := reaction.Event(); ok && p.Claim(ev) {
		return Value(struct{}{})
	}
	return Forward[struct{}](reaction)
}

// Read reads from the resource. A would-block outcome clears Readable,
// re-arms, and returns [iox.ErrWouldBlock]. A zero-length read, or any other
// error, clears Readable.
func (p *PollReactor[T]) Read(b []byte) (int, error) {
	r, ok := any(p.inner).(io.Reader)
	if !ok {
		return 0, ErrUnsupported
	}
	n, err := r.Read(b)
	switch {
	case isWouldBlock(err):
		p.Readable = false
		return n, p.wouldBlock()
	case err != nil, n == 0 && len(b) != 0:
		p.Readable = false
	}
	return n, err
}

// Write writes to the resource. A would-block outcome clears Writable,
// re-arms, and returns [iox.ErrWouldBlock]. Any other error clears Writable.
func (p *PollReactor[T]) Write(b []byte) (int, error) {
	w, ok := any(p.inner).(io.Writer)
	if !ok {
		return 0, ErrUnsupported
	}
	n, err := w.Write(b)
	if isWouldBlock(err) {
		p.Writable = false
		return n, p.wouldBlock()
	}
	if err != nil {
		p.Writable = false
	}
	return n, err
}

// wouldBlock re-arms for every registered direction that is not ready.
func (p *PollReactor[T]) wouldBlock() error {
	var want Interest
	if p.interest&Read != 0 && !p.Readable {
		want |= Read
	}
	if p.interest&Write != 0 && !p.Writable {
		want |= Write
	}
	if want == 0 {
		return iox.ErrWouldBlock
	}
	if err := p.sys.Rearm(p.inner.Fd(), want, p.id); err != nil {
		return err
	}
	// interest is left as registered, so a later would-block on the other
	// direction restores it
	return iox.ErrWouldBlock
}

// Close disarms the resource, frees the identity, and closes the resource,
// if it implements io.Closer. Events already queued for the identity will
// not be claimed by anything.
func (p *PollReactor[T]) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	err := p.sys.Disarm(p.inner.Fd())
	p.sys.Free(p.id)
	if c, ok := any(p.inner).(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func isWouldBlock(err error) bool {
	return err != nil && (iox.IsWouldBlock(err) || errors.Is(err, unix.EAGAIN))
}

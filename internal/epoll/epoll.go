//go:build linux

// Package epoll is a thin wrapper over epoll(7), restricted to edge-triggered,
// one-shot registrations tagged with an opaque 64-bit value.
package epoll

import (
	"errors"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Interest is the readiness direction a descriptor is registered for.
type Interest uint8

const (
	// Read registers for EPOLLIN and EPOLLRDHUP.
	Read Interest = 1 << iota
	// Write registers for EPOLLOUT.
	Write
	// ReadWrite is the union of Read and Write.
	ReadWrite = Read | Write
)

// String returns a human-readable representation of the interest.
func (x Interest) String() string {
	switch x {
	case Read:
		return "Read"
	case Write:
		return "Write"
	case ReadWrite:
		return "ReadWrite"
	default:
		return "None"
	}
}

// ErrClosed is returned by every operation on a closed Poller.
var ErrClosed = errors.New("epoll: poller closed")

// Ready is a single readiness notification, as reported by Wait.
type Ready struct {
	Tag      uint64
	Readable bool
	Writable bool
}

// Poller owns one epoll instance.
type Poller struct {
	events []unix.EpollEvent
	epfd   int
	closed atomic.Bool
}

// Create obtains a new epoll instance, with a wait buffer of capacity events.
func Create(capacity int) (*Poller, error) {
	if capacity <= 0 {
		capacity = 1
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, capacity),
	}, nil
}

// Fd returns the epoll descriptor.
func (p *Poller) Fd() int { return p.epfd }

// Capacity is the maximum number of events a single Wait may return.
func (p *Poller) Capacity() int { return len(p.events) }

// Close releases the epoll instance. Calling it more than once is a no-op.
func (p *Poller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(p.epfd)
}

// Arm adds fd to the interest list. Arming an already armed fd fails with
// EEXIST.
func (p *Poller) Arm(fd int, interest Interest, tag uint64) error {
	return p.control(unix.EPOLL_CTL_ADD, fd, interest, tag)
}

// Rearm re-enables a one-shot registration, which the kernel disables after
// delivering each event.
func (p *Poller) Rearm(fd int, interest Interest, tag uint64) error {
	return p.control(unix.EPOLL_CTL_MOD, fd, interest, tag)
}

// Disarm removes fd from the interest list.
func (p *Poller) Disarm(fd int) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *Poller) control(op int, fd int, interest Interest, tag uint64) error {
	if p.closed.Load() {
		return ErrClosed
	}
	ev := unix.EpollEvent{Events: Flags(interest)}
	setTag(&ev, tag)
	return unix.EpollCtl(p.epfd, op, fd, &ev)
}

// Wait polls for events, writing up to len(out) of them into out, and returns
// the count. A zero timeout returns immediately, a negative one blocks. A wait
// interrupted by a signal reports zero events.
func (p *Poller) Wait(out []Ready, timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	buf := p.events
	if len(out) < len(buf) {
		buf = buf[:len(out)]
	}
	if len(buf) == 0 {
		return 0, nil
	}

	n, err := unix.EpollWait(p.epfd, buf, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	for i := 0; i < n; i++ {
		out[i] = Ready{
			Tag:      getTag(&buf[i]),
			Readable: buf[i].Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			Writable: buf[i].Events&(unix.EPOLLOUT|unix.EPOLLERR) != 0,
		}
	}
	return n, nil
}

// Flags converts an Interest to the epoll event mask used for registration.
// Every registration is edge-triggered and one-shot.
func Flags(interest Interest) uint32 {
	events := uint32(unix.EPOLLET | unix.EPOLLONESHOT)
	if interest&Read != 0 {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&Write != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

// The kernel treats epoll_data as an opaque 8 bytes, which x/sys exposes as
// the Fd and Pad fields.
func setTag(ev *unix.EpollEvent, tag uint64) {
	ev.Fd = int32(uint32(tag))
	ev.Pad = int32(uint32(tag >> 32))
}

func getTag(ev *unix.EpollEvent) uint64 {
	return uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32
}

//go:build linux

package reactor

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"
)

// Timer is a timerfd on the monotonic clock, registered with a System for
// Read interest. Expirations that elapse between polls are coalesced, and
// reported as a count.
type Timer struct {
	sys    *System
	fd     int
	id     Identity
	closed bool
}

// NewTimer creates a timer that first expires after initial, then, if
// interval is positive, every interval thereafter. A zero initial is
// treated as the smallest positive duration, since zero would disarm the
// timer.
func NewTimer(sys *System, initial, interval time.Duration) (*Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return nil, osError(`timerfd_create`, err)
	}
	if err := settime(fd, initial, interval); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	id := sys.Reserve()
	if err := sys.Arm(fd, Read, id); err != nil {
		sys.Free(id)
		_ = unix.Close(fd)
		return nil, err
	}
	return &Timer{sys: sys, fd: fd, id: id}, nil
}

func settime(fd int, initial, interval time.Duration) error {
	if initial <= 0 {
		initial = 1
	}
	if interval < 0 {
		interval = 0
	}
	its := unix.ItimerSpec{
		Value:    unix.NsecToTimespec(int64(initial)),
		Interval: unix.NsecToTimespec(int64(interval)),
	}
	return osError(`timerfd_settime`, unix.TimerfdSettime(fd, 0, &its, nil))
}

// ID returns the identity the timer's events are tagged with.
func (t *Timer) ID() Identity { return t.id }

// Fd returns the timerfd descriptor.
func (t *Timer) Fd() int { return t.fd }

// ConsumeEvent drains the expiration count, then re-arms. A spurious wakeup
// yields zero.
func (t *Timer) ConsumeEvent() (uint64, error) {
	if t.closed {
		return 0, ErrClosed
	}
	var buf [8]byte
	var n uint64
	if _, err := unix.Read(t.fd, buf[:]); err != nil {
		if err != unix.EAGAIN {
			return 0, osError(`read`, err)
		}
	} else {
		n = binary.NativeEndian.Uint64(buf[:])
	}
	if err := t.sys.Rearm(t.fd, Read, t.id); err != nil {
		return n, err
	}
	return n, nil
}

// Reset reprograms the timer. It does not affect the one-shot registration,
// which is re-armed only by ConsumeEvent.
func (t *Timer) Reset(initial, interval time.Duration) error {
	if t.closed {
		return ErrClosed
	}
	return settime(t.fd, initial, interval)
}

// Close disarms the timer, frees its identity, and closes the descriptor.
func (t *Timer) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	err := t.sys.Disarm(t.fd)
	t.sys.Free(t.id)
	if cerr := osError(`close`, unix.Close(t.fd)); err == nil {
		err = cerr
	}
	return err
}

// React claims events for this timer, emitting the number of expirations.
// Spurious wakeups yield Continue.
func (t *Timer) React(reaction Reaction[struct{}]) Reaction[Result[uint64]] {
	if !Claims(reaction, t.id) {
		return Forward[Result[uint64]](reaction)
	}
	n, err := t.ConsumeEvent()
	if err != nil {
		return Value(Err[uint64](err))
	}
	if n == 0 {
		return Continue[Result[uint64]]()
	}
	return Value(Ok(n))
}

//go:build linux

package reactor

import (
	"testing"

	"code.hybscloud.com/iox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// rawFd is a minimal non-blocking descriptor resource.
type rawFd int

func (x rawFd) Fd() int { return int(x) }

func (x rawFd) Read(b []byte) (int, error) {
	n, err := unix.Read(int(x), b)
	if n < 0 {
		n = 0
	}
	return n, err
}

func (x rawFd) Write(b []byte) (int, error) {
	n, err := unix.Write(int(x), b)
	if n < 0 {
		n = 0
	}
	return n, err
}

func (x rawFd) Close() error { return unix.Close(int(x)) }

func newSocketPair(t *testing.T) (rawFd, rawFd) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	return rawFd(fds[0]), rawFd(fds[1])
}

func TestPollReactor_OneShot(t *testing.T) {
	for _, rearm := range []bool{false, true} {
		name := "without rearm"
		if rearm {
			name = "with rearm"
		}
		t.Run(name, func(t *testing.T) {
			sys := newTestSystem(t)
			a, b := newSocketPair(t)
			defer b.Close()
			p, err := NewPollReactor(sys, a, Read)
			require.NoError(t, err)
			defer p.Close()

			_, err = b.Write([]byte("one"))
			require.NoError(t, err)
			events, err := sys.Wait()
			require.NoError(t, err)
			require.Len(t, events, 1)
			require.True(t, p.Claim(events[0]))
			assert.True(t, p.Readable)

			// data arrives, but no event until rearm
			_, err = b.Write([]byte("two"))
			require.NoError(t, err)
			if rearm {
				require.NoError(t, p.Rearm(Read))
			}
			events, err = sys.Wait()
			require.NoError(t, err)
			if rearm {
				require.Len(t, events, 1)
				assert.Equal(t, p.ID(), events[0].Owner)
			} else {
				assert.Empty(t, events)
			}
		})
	}
}

func TestPollReactor_ReadUntilWouldBlock(t *testing.T) {
	sys := newTestSystem(t)
	a, b := newSocketPair(t)
	p, err := NewPollReactor(sys, a, Read)
	require.NoError(t, err)
	defer p.Close()

	_, err = b.Write([]byte("hello"))
	require.NoError(t, err)
	events, err := sys.Wait()
	require.NoError(t, err)
	require.Len(t, events, 1)
	v, ok := p.React(EventReaction[struct{}](events[0])).Value()
	require.True(t, ok)
	assert.Equal(t, struct{}{}, v)

	buf := make([]byte, 64)
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	_, err = p.Read(buf)
	assert.True(t, iox.IsWouldBlock(err))
	assert.False(t, p.Readable)

	// the would-block re-armed the registration
	_, err = b.Write([]byte("again"))
	require.NoError(t, err)
	events, err = sys.Wait()
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.True(t, p.Claim(events[0]))

	// end of stream clears readable
	require.NoError(t, b.Close())
	n, err = p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "again", string(buf[:n]))
	p.Readable = true
	n, err = p.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, p.Readable)
}

func TestPollReactor_WouldBlockKeepsRemainingInterest(t *testing.T) {
	sys := newTestSystem(t)
	a, b := newSocketPair(t)
	defer b.Close()
	p, err := NewPollReactor(sys, a, ReadWrite)
	require.NoError(t, err)
	defer p.Close()

	events, err := sys.Wait()
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.True(t, p.Claim(events[0]))
	assert.True(t, p.Writable)
	assert.False(t, p.Readable)

	// read would-block re-arms for read only, write still being ready
	_, err = p.Read(make([]byte, 8))
	assert.True(t, iox.IsWouldBlock(err))
	assert.Equal(t, ReadWrite, p.Interest())

	events, err = sys.Wait()
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = b.Write([]byte("x"))
	require.NoError(t, err)
	events, err = sys.Wait()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Readable)
}

func TestPollReactor_CloseFreesIdentity(t *testing.T) {
	sys := newTestSystem(t)
	a, b := newSocketPair(t)
	defer b.Close()
	p, err := NewPollReactor(sys, a, Read)
	require.NoError(t, err)

	_, err = b.Write([]byte("stale"))
	require.NoError(t, err)
	events, err := sys.Wait()
	require.NoError(t, err)
	require.Len(t, events, 1)
	stale := events[0]

	id := p.ID()
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.False(t, sys.ids.occupied(id))
	assert.False(t, p.Claim(stale))
	assert.Equal(t, KindEvent, p.React(EventReaction[struct{}](stale)).Kind())
}

type fdOnly int

func (x fdOnly) Fd() int { return int(x) }

func TestPollReactor_Unsupported(t *testing.T) {
	sys := newTestSystem(t)
	a, b := newSocketPair(t)
	defer a.Close()
	defer b.Close()
	p, err := NewPollReactor(sys, fdOnly(a), Read)
	require.NoError(t, err)
	defer p.Close()
	_, err = p.Read(nil)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = p.Write(nil)
	assert.ErrorIs(t, err, ErrUnsupported)
}

// resetFd fails every read as if the peer reset the connection.
type resetFd struct{ rawFd }

func (x resetFd) Read([]byte) (int, error) { return 0, unix.ECONNRESET }

func TestPollReactor_ErrorClearsReadiness(t *testing.T) {
	sys := newTestSystem(t)
	a, b := newSocketPair(t)
	p, err := NewPollReactor(sys, resetFd{a}, ReadWrite)
	require.NoError(t, err)
	defer p.Close()

	require.True(t, p.Claim(Event{Owner: p.ID(), Readable: true, Writable: true}))
	_, err = p.Read(make([]byte, 8))
	assert.ErrorIs(t, err, unix.ECONNRESET)
	assert.False(t, p.Readable)
	assert.True(t, p.Writable)

	require.NoError(t, b.Close())
	_, err = p.Write([]byte("x"))
	assert.ErrorIs(t, err, unix.EPIPE)
	assert.False(t, p.Writable)
}

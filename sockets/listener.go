//go:build linux

package sockets

import (
	"fmt"
	"net"
	"os"

	"code.hybscloud.com/iox"
	"github.com/joeycumines/go-reactor"
	"golang.org/x/sys/unix"
)

// Stream is a connected socket, registered with a System.
type Stream = reactor.PollReactor[*Socket]

// NewStream registers sock with sys, for interest.
func NewStream(sys *reactor.System, sock *Socket, interest reactor.Interest) (*Stream, error) {
	return reactor.NewPollReactor(sys, sock, interest)
}

// Listener is a listening socket, registered with a System for Read
// interest. It accepts one connection per event.
type Listener struct {
	poll *reactor.PollReactor[*Socket]
	addr net.Addr
}

// ListenTCP listens on addr, e.g. "127.0.0.1:0", with SO_REUSEADDR and
// SO_REUSEPORT set, so that multiple Systems may each listen on the same
// port.
func ListenTCP(sys *reactor.System, addr string, backlog int) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr(`tcp`, addr)
	if err != nil {
		return nil, err
	}
	var (
		family = unix.AF_INET
		sa     unix.Sockaddr
	)
	if ip4 := tcpAddr.IP.To4(); ip4 != nil || tcpAddr.IP == nil {
		sa4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(sa4.Addr[:], ip4)
		sa = sa4
	} else {
		family = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
		copy(sa6.Addr[:], tcpAddr.IP.To16())
		sa = sa6
	}
	return listen(sys, family, sa, backlog, func(fd int) error {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return os.NewSyscallError(`setsockopt(SO_REUSEADDR)`, err)
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			return os.NewSyscallError(`setsockopt(SO_REUSEPORT)`, err)
		}
		return nil
	})
}

// ListenUnix listens on the Unix domain socket at path, which must not
// exist.
func ListenUnix(sys *reactor.System, path string, backlog int) (*Listener, error) {
	return listen(sys, unix.AF_UNIX, &unix.SockaddrUnix{Name: path}, backlog, nil)
}

func listen(sys *reactor.System, family int, sa unix.Sockaddr, backlog int, setup func(fd int) error) (*Listener, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, os.NewSyscallError(`socket`, err)
	}
	sock := NewSocket(fd)
	if err := func() error {
		if setup != nil {
			if err := setup(fd); err != nil {
				return err
			}
		}
		if err := unix.Bind(fd, sa); err != nil {
			return os.NewSyscallError(`bind`, err)
		}
		if err := unix.Listen(fd, backlog); err != nil {
			return os.NewSyscallError(`listen`, err)
		}
		return nil
	}(); err != nil {
		_ = sock.Close()
		return nil, err
	}
	addr, err := sock.LocalAddr()
	if err != nil {
		_ = sock.Close()
		return nil, err
	}
	poll, err := reactor.NewPollReactor(sys, sock, reactor.Read)
	if err != nil {
		_ = sock.Close()
		return nil, err
	}
	return &Listener{poll: poll, addr: addr}, nil
}

// ID returns the identity the listener's events are tagged with.
func (x *Listener) ID() reactor.Identity { return x.poll.ID() }

// Addr returns the bound address, which includes the port allocated for
// port 0.
func (x *Listener) Addr() net.Addr { return x.addr }

// Accept accepts one pending connection, without blocking, returning
// [iox.ErrWouldBlock] if there is none. The listener is re-armed either way.
func (x *Listener) Accept() (*Socket, error) {
	fd, _, err := unix.Accept4(x.poll.Inner().Fd(), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if rerr := x.poll.Rearm(reactor.Read); rerr != nil {
		if err == nil {
			_ = unix.Close(fd)
		}
		return nil, rerr
	}
	if err != nil {
		return nil, syscallError(`accept4`, err)
	}
	return NewSocket(fd), nil
}

// React claims events for this listener, accepting one connection per
// event. A spurious wakeup yields Continue.
func (x *Listener) React(reaction reactor.Reaction[struct{}]) reactor.Reaction[reactor.Result[*Socket]] {
	ev, ok := reaction.Event()
	if !ok || !x.poll.Claim(ev) {
		return reactor.Forward[reactor.Result[*Socket]](reaction)
	}
	sock, err := x.Accept()
	switch {
	case err == nil:
		return reactor.Value(reactor.Ok(sock))
	case iox.IsWouldBlock(err):
		return reactor.Continue[reactor.Result[*Socket]]()
	default:
		return reactor.Value(reactor.Err[*Socket](fmt.Errorf("sockets: accept on %s: %w", x.addr, err)))
	}
}

// Close unregisters and closes the listener. A Unix domain socket's path is
// not removed.
func (x *Listener) Close() error {
	return x.poll.Close()
}

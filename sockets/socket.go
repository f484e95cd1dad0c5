//go:build linux

// Package sockets adapts non-blocking TCP and Unix domain sockets to a
// [reactor.System].
package sockets

import (
	"io"
	"net"
	"os"
	"sync"

	"code.hybscloud.com/iox"
	"golang.org/x/sys/unix"
)

// Socket is a raw, non-blocking socket descriptor.
// Read and Write return [iox.ErrWouldBlock] rather than blocking.
type Socket struct {
	once sync.Once
	fd   int
	err  error
}

// NewSocket wraps fd, which must already be in non-blocking mode.
func NewSocket(fd int) *Socket {
	return &Socket{fd: fd}
}

// Pair returns a connected pair of Unix domain stream sockets.
func Pair() (*Socket, *Socket, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, os.NewSyscallError(`socketpair`, err)
	}
	return NewSocket(fds[0]), NewSocket(fds[1]), nil
}

// Fd returns the descriptor.
func (x *Socket) Fd() int { return x.fd }

// Read implements io.Reader. A closed peer yields io.EOF.
func (x *Socket) Read(b []byte) (int, error) {
	n, err := unix.Read(x.fd, b)
	if err != nil {
		return 0, syscallError(`read`, err)
	}
	if n == 0 && len(b) != 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write implements io.Writer, performing at most one write call, so it may
// write fewer bytes than len(b), if the socket buffer fills.
func (x *Socket) Write(b []byte) (int, error) {
	n, err := unix.Write(x.fd, b)
	if err != nil {
		if n < 0 {
			n = 0
		}
		return n, syscallError(`write`, err)
	}
	return n, nil
}

// Shutdown shuts down one or both directions, e.g. [unix.SHUT_WR].
func (x *Socket) Shutdown(how int) error {
	return syscallError(`shutdown`, unix.Shutdown(x.fd, how))
}

// LocalAddr returns the bound address.
func (x *Socket) LocalAddr() (net.Addr, error) {
	sa, err := unix.Getsockname(x.fd)
	if err != nil {
		return nil, os.NewSyscallError(`getsockname`, err)
	}
	return sockaddrToAddr(sa), nil
}

// Close closes the descriptor. Subsequent calls return the first result.
func (x *Socket) Close() error {
	x.once.Do(func() {
		x.err = syscallError(`close`, unix.Close(x.fd))
	})
	return x.err
}

func syscallError(op string, err error) error {
	switch err {
	case nil:
		return nil
	case unix.EAGAIN:
		return iox.ErrWouldBlock
	default:
		return os.NewSyscallError(op, err)
	}
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port}
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: sa.Name, Net: `unix`}
	default:
		return nil
	}
}

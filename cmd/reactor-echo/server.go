//go:build linux

package main

import (
	"errors"
	"io"

	"code.hybscloud.com/iox"
	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/go-reactor/sockets"
	"github.com/joeycumines/logiface"
)

// server echoes every connection accepted by one listener, on one System.
type server struct {
	logger   *logiface.Logger[logiface.Event]
	listener *sockets.Listener
	sys      *reactor.System
	conns    map[reactor.Identity]*conn
	buf      []byte
}

type conn struct {
	stream  *sockets.Stream
	pending []byte
}

func newServer(sys *reactor.System, listener *sockets.Listener, logger *logiface.Logger[logiface.Event], bufferSize int) *server {
	return &server{
		logger:   logger,
		listener: listener,
		sys:      sys,
		conns:    make(map[reactor.Identity]*conn),
		buf:      make([]byte, bufferSize),
	}
}

// Reactor returns the root reactor: the listener, with accepted sockets
// registered as streams, chained with the dispatch of stream events.
func (x *server) Reactor() reactor.Reactor[struct{}, struct{}] {
	return reactor.Chain[struct{}, struct{}, struct{}](
		reactor.Map[struct{}, reactor.Result[*sockets.Socket], struct{}](x.listener, x.accept),
		reactor.Func[struct{}, struct{}](x.dispatch),
	)
}

func (x *server) accept(r reactor.Result[*sockets.Socket]) struct{} {
	sock, err := r.Get()
	if err != nil {
		x.logger.Err().Err(err).Log(`accept failed`)
		return struct{}{}
	}
	stream, err := sockets.NewStream(x.sys, sock, reactor.Read)
	if err != nil {
		_ = sock.Close()
		x.logger.Err().Err(err).Log(`register failed`)
		return struct{}{}
	}
	x.conns[stream.ID()] = &conn{stream: stream}
	x.logger.Debug().
		Uint64(`id`, uint64(stream.ID())).
		Int(`fd`, sock.Fd()).
		Log(`connection accepted`)
	return struct{}{}
}

func (x *server) dispatch(reaction reactor.Reaction[struct{}]) reactor.Reaction[struct{}] {
	ev, ok := reaction.Event()
	if !ok {
		return reactor.Continue[struct{}]()
	}
	c := x.conns[ev.Owner]
	if c == nil || !c.stream.Claim(ev) {
		return reaction
	}
	x.service(c)
	return reactor.Continue[struct{}]()
}

// service echoes until the connection would block, in which case it is
// always left re-armed, or is closed.
func (x *server) service(c *conn) {
	for {
		if len(c.pending) != 0 {
			n, err := c.stream.Write(c.pending)
			c.pending = c.pending[n:]
			switch {
			case err == nil:
				continue
			case iox.IsWouldBlock(err):
				if err := c.stream.Rearm(reactor.ReadWrite); err != nil {
					x.close(c, err)
				}
			default:
				x.close(c, err)
			}
			return
		}

		if !c.stream.Readable {
			if err := c.stream.Rearm(reactor.Read); err != nil {
				x.close(c, err)
			}
			return
		}

		n, err := c.stream.Read(x.buf)
		c.pending = append(c.pending[:0], x.buf[:n]...)
		switch {
		case err == nil:
		case iox.IsWouldBlock(err):
			if len(c.pending) == 0 {
				return
			}
		case errors.Is(err, io.EOF):
			x.close(c, nil)
			return
		default:
			x.close(c, err)
			return
		}
	}
}

func (x *server) close(c *conn, cause error) {
	id := c.stream.ID()
	delete(x.conns, id)
	err := c.stream.Close()
	if cause == nil {
		cause = err
	}
	if cause != nil {
		x.logger.Warning().
			Uint64(`id`, uint64(id)).
			Err(cause).
			Log(`connection closed`)
		return
	}
	x.logger.Debug().
		Uint64(`id`, uint64(id)).
		Log(`connection closed`)
}

// Close closes every connection.
func (x *server) Close() {
	for _, c := range x.conns {
		x.close(c, nil)
	}
}

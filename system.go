//go:build linux

package reactor

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/joeycumines/go-reactor/internal/epoll"
	"github.com/joeycumines/logiface"
)

// Interest is the readiness direction a descriptor is registered for.
// Every registration is edge-triggered and one-shot.
type Interest = epoll.Interest

const (
	// Read interest, i.e. readable or remote hangup.
	Read = epoll.Read
	// Write interest.
	Write = epoll.Write
	// ReadWrite is the union of Read and Write.
	ReadWrite = epoll.ReadWrite
)

// systems is the ambient registry backing [Current], keyed by the goroutine
// id of each System's owner.
var systems sync.Map

// SystemBuilder configures a [System], see [Builder].
type SystemBuilder struct {
	opts []Option
}

// System is the per-thread dispatcher. It owns one epoll instance and one
// identity allocator, neither of which are shared with any other thread.
//
// A System is bound to the goroutine that called [SystemBuilder.Finish],
// which is locked to its OS thread until [System.Shutdown]. Methods that
// mutate registrations must be called from that goroutine. The exceptions
// are [System.Handle], [System.State], and [System.ID].
type System struct {
	logger *logiface.Logger[logiface.Event]
	opts   *systemOptions
	poller *epoll.Poller
	ids    *identities
	stop   *Evented
	ready  []epoll.Ready
	events []Event
	owner  uint64
	state  systemState
	id     uuid.UUID
	// stopRequested is set by Wait, when it observes the stop event
	stopRequested bool
}

// Handle is a cross-thread reference to a System, used to request that
// [Start] return.
type Handle struct {
	stop *counter
}

// Builder returns a new SystemBuilder, which will apply opts.
func Builder(opts ...Option) *SystemBuilder {
	return &SystemBuilder{opts: opts}
}

// With appends to the options of the builder.
func (b *SystemBuilder) With(opts ...Option) *SystemBuilder {
	b.opts = append(b.opts, opts...)
	return b
}

// Finish creates the System, and binds it to the calling goroutine, which is
// locked to its current OS thread. Only one running System is permitted per
// goroutine, a second attempt fails with [ErrAlreadyInitialized].
func (b *SystemBuilder) Finish() (*System, error) {
	cfg, err := resolveSystemOptions(b.opts)
	if err != nil {
		return nil, err
	}

	owner := getGoroutineID()
	if _, ok := systems.Load(owner); ok {
		return nil, ErrAlreadyInitialized
	}

	poller, err := epoll.Create(cfg.eventCapacity)
	if err != nil {
		return nil, osError(`epoll_create1`, err)
	}

	runtime.LockOSThread()

	s := &System{
		opts:   cfg,
		poller: poller,
		ids:    newIdentities(cfg.identityCapacity),
		ready:  make([]epoll.Ready, poller.Capacity()),
		events: make([]Event, 0, poller.Capacity()),
		owner:  owner,
		id:     uuid.New(),
	}
	s.logger = newSystemLogger(cfg.logger, s.id.String())
	s.state.TryTransition(StateUninitialized, StateRunning)

	if s.stop, err = NewEvented(s); err != nil {
		s.state.TryTransition(StateRunning, StateStopped)
		_ = poller.Close()
		runtime.UnlockOSThread()
		return nil, err
	}

	systems.Store(owner, s)

	s.logger.Info().
		Int(`events`, poller.Capacity()).
		Int(`identities`, cfg.identityCapacity).
		Log(`system started`)

	return s, nil
}

// Current returns the running System bound to the calling goroutine.
func Current() (*System, error) {
	if v, ok := systems.Load(getGoroutineID()); ok {
		return v.(*System), nil
	}
	return nil, ErrNotInitialized
}

// ID returns the unique id of this System instance, which is attached to
// every log event.
func (s *System) ID() uuid.UUID { return s.id }

// State returns the current lifecycle state.
func (s *System) State() State { return s.state.Load() }

// Handle returns a handle that may be used from any goroutine.
func (s *System) Handle() *Handle {
	s.mustRun(`handle`, false)
	return &Handle{stop: s.stop.c}
}

// Stop requests that the dispatch loop return, after it finishes delivering
// the event that is in flight, if any. Stopping a System that has already
// shut down is a no-op.
func (h *Handle) Stop() error {
	if err := h.stop.poke(); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

// Reserve allocates an identity, for a new registration.
func (s *System) Reserve() Identity {
	s.mustRun(`reserve`, true)
	return s.ids.reserve()
}

// Free releases an identity. A double free is reported, and leaves the
// allocator untouched, see [WithStrictUsage].
//
// Free is a no-op on a stopped System, so that components may be closed after
// [Start] returns.
func (s *System) Free(id Identity) {
	if s.state.Load() == StateStopped {
		return
	}
	s.mustRun(`free`, true)
	if err := s.ids.free(id); err != nil {
		if s.opts.strictUsage {
			panic(&UsageError{Op: `free`, Err: err})
		}
		s.logUsage(`free`, id, err)
	}
}

// Arm registers fd with interest, tagged with id. The fd must not already be
// registered.
func (s *System) Arm(fd int, interest Interest, id Identity) error {
	s.mustRun(`arm`, false)
	return osError(`epoll_ctl(add)`, s.poller.Arm(fd, interest, uint64(id)))
}

// Rearm re-enables delivery for fd, which is disabled after every event.
func (s *System) Rearm(fd int, interest Interest, id Identity) error {
	s.mustRun(`rearm`, false)
	return osError(`epoll_ctl(mod)`, s.poller.Rearm(fd, interest, uint64(id)))
}

// Disarm removes fd. Like [System.Free], it is a no-op on a stopped System.
func (s *System) Disarm(fd int) error {
	if s.state.Load() == StateStopped {
		return nil
	}
	s.mustRun(`disarm`, false)
	return osError(`epoll_ctl(del)`, s.poller.Disarm(fd))
}

// Wait polls once, using the configured timeout, returning the events in the
// order the kernel reported them. The returned slice is only valid until the
// next call.
//
// The System's own stop event is never returned, instead it is consumed, and
// [System.StopRequested] will report true.
func (s *System) Wait() ([]Event, error) {
	s.mustRun(`wait`, true)
	events, err := s.poll()
	if err != nil {
		return nil, err
	}
	out := events[:0]
	for _, ev := range events {
		if ev.Owner == s.stop.id {
			if _, err := s.stop.c.drain(); err != nil {
				return nil, osError(`read`, err)
			}
			s.stopRequested = true
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// StopRequested reports whether [System.Wait] has observed a stop request.
func (s *System) StopRequested() bool { return s.stopRequested }

func (s *System) poll() ([]Event, error) {
	n, err := s.poller.Wait(s.ready, s.opts.timeoutMillis())
	if err != nil {
		return nil, osError(`epoll_wait`, err)
	}
	s.events = s.events[:0]
	for _, r := range s.ready[:n] {
		s.events = append(s.events, Event{
			Owner:    Identity(r.Tag),
			Readable: r.Readable,
			Writable: r.Writable,
		})
	}
	return s.events, nil
}

// Start runs the dispatch loop, delivering every event to root, in the order
// they were reported by the kernel. Any value root produces is discarded,
// pipelines are expected to act on values themselves, e.g. via [Map].
//
// The loop exits when it observes the stop event, which is delivered between
// events, after either [Handle.Stop] or the cancellation of ctx. The System
// is always shut down before Start returns. The result is nil if stopped via
// the handle, ctx.Err() if ctx was cancelled, or the error from polling.
func Start[O any](ctx context.Context, sys *System, root Reactor[struct{}, O]) error {
	sys.mustRun(`start`, true)
	defer sys.Shutdown()

	if ctx.Done() != nil {
		done := make(chan struct{})
		defer close(done)
		handle := sys.Handle()
		go func() {
			select {
			case <-ctx.Done():
				_ = handle.Stop()
			case <-done:
			}
		}()
	}

	if sys.stopRequested {
		return ctx.Err()
	}

	for {
		events, err := sys.poll()
		if err != nil {
			sys.logSyscall(`epoll_wait`, err)
			return err
		}
		for _, ev := range events {
			if ev.Owner == sys.stop.id {
				sys.logger.Debug().Log(`stop event received`)
				return ctx.Err()
			}
			root.React(EventReaction[struct{}](ev))
		}
	}
}

// Shutdown releases the epoll instance, and unbinds the System. It is
// idempotent. The OS thread is unlocked if called from the owning goroutine.
//
// Components still holding identities may be closed after shutdown.
func (s *System) Shutdown() error {
	for {
		state := s.state.Load()
		if state == StateStopped {
			return nil
		}
		if s.state.TryTransition(state, StateStopped) {
			break
		}
	}

	var errs []error
	if s.stop != nil {
		s.stop.closed = true
		if err := s.stop.c.release(); err != nil {
			errs = append(errs, osError(`close`, err))
		}
	}
	if s.poller != nil {
		if err := s.poller.Close(); err != nil {
			errs = append(errs, osError(`close`, err))
		}
	}

	systems.CompareAndDelete(s.owner, s)
	if s.owner != 0 && getGoroutineID() == s.owner {
		runtime.UnlockOSThread()
	}

	s.logger.Info().Log(`system stopped`)

	return errors.Join(errs...)
}

// mustRun panics with a [*UsageError] unless the System is running, and,
// if owned is set, the caller is the owning goroutine.
func (s *System) mustRun(op string, owned bool) {
	switch s.state.Load() {
	case StateRunning:
	case StateStopped:
		panic(&UsageError{Op: op, Err: ErrStopped})
	default:
		panic(&UsageError{Op: op, Err: ErrNotInitialized})
	}
	if owned && getGoroutineID() != s.owner {
		panic(&UsageError{Op: op, Err: ErrWrongThread})
	}
}

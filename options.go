package reactor

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
)

const (
	// DefaultEventCapacity is the default maximum number of events returned
	// by a single poll.
	DefaultEventCapacity = 1024

	// DefaultIdentityCapacity is the default number of identity slots
	// preallocated, the table grows on demand.
	DefaultIdentityCapacity = 1024
)

// systemOptions holds configuration options for System creation.
type systemOptions struct {
	logger           *logiface.Logger[logiface.Event]
	eventCapacity    int
	identityCapacity int
	waitTimeout      time.Duration
	strictUsage      bool
}

// Option configures a System instance.
type Option interface {
	applySystem(*systemOptions) error
}

// systemOptionImpl implements Option.
type systemOptionImpl struct {
	applySystemFunc func(*systemOptions) error
}

func (o *systemOptionImpl) applySystem(opts *systemOptions) error {
	return o.applySystemFunc(opts)
}

// WithEventCapacity sets the maximum number of events a single poll may
// return, i.e. the size of the epoll_wait buffer.
func WithEventCapacity(n int) Option {
	return &systemOptionImpl{func(opts *systemOptions) error {
		if n <= 0 {
			return errors.New("reactor: event capacity must be positive")
		}
		opts.eventCapacity = n
		return nil
	}}
}

// WithIdentityCapacity preallocates n identity slots.
func WithIdentityCapacity(n int) Option {
	return &systemOptionImpl{func(opts *systemOptions) error {
		if n < 0 {
			return errors.New("reactor: identity capacity must not be negative")
		}
		opts.identityCapacity = n
		return nil
	}}
}

// WithWaitTimeout sets the timeout of each poll performed by [Start].
// The default, zero, polls without blocking, any application level waiting
// being the responsibility of reactors. A negative value blocks until an
// event arrives, which includes the stop event.
// Timeouts are truncated to milliseconds.
func WithWaitTimeout(d time.Duration) Option {
	return &systemOptionImpl{func(opts *systemOptions) error {
		opts.waitTimeout = d
		return nil
	}}
}

// WithLogger sets the structured logger. A nil logger (the default) disables
// logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &systemOptionImpl{func(opts *systemOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithStrictUsage configures whether freeing a vacant identity panics, with
// a [*UsageError]. When disabled (default), it is logged at error level, and
// otherwise ignored. The allocator is never corrupted, either way.
func WithStrictUsage(enabled bool) Option {
	return &systemOptionImpl{func(opts *systemOptions) error {
		opts.strictUsage = enabled
		return nil
	}}
}

// resolveSystemOptions applies Option instances to systemOptions.
func resolveSystemOptions(opts []Option) (*systemOptions, error) {
	cfg := &systemOptions{
		eventCapacity:    DefaultEventCapacity,
		identityCapacity: DefaultIdentityCapacity,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applySystem(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// timeoutMillis converts the wait timeout to the epoll_wait argument.
func (x *systemOptions) timeoutMillis() int {
	switch {
	case x.waitTimeout < 0:
		return -1
	case x.waitTimeout == 0:
		return 0
	default:
		ms := x.waitTimeout.Milliseconds()
		if ms == 0 {
			ms = 1
		}
		return int(ms)
	}
}

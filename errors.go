package reactor

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrNotInitialized indicates there is no System bound to the calling
	// thread, or that a System was used before Finish.
	ErrNotInitialized = errors.New("reactor: system not initialized")

	// ErrAlreadyInitialized is returned by Finish if the calling thread
	// already has a running System.
	ErrAlreadyInitialized = errors.New("reactor: system already initialized on this thread")

	// ErrStopped indicates an operation on a System that has been shut down.
	ErrStopped = errors.New("reactor: system stopped")

	// ErrWrongThread indicates thread-local System state was accessed from a
	// goroutine other than the one that finished the System.
	ErrWrongThread = errors.New("reactor: system accessed from a foreign thread")

	// ErrIdentityVacant indicates an attempt to free an identity that is not
	// currently reserved (a double free).
	ErrIdentityVacant = errors.New("reactor: identity is vacant")

	// ErrIdentityUnknown indicates an attempt to free an identity that was
	// never handed out.
	ErrIdentityUnknown = errors.New("reactor: identity was never reserved")

	// ErrClosed indicates an operation on a closed Evented, Waker, or Timer.
	ErrClosed = errors.New("reactor: closed")

	// ErrUnsupported indicates the wrapped resource does not implement the
	// requested I/O direction.
	ErrUnsupported = errors.New("reactor: operation not supported by resource")
)

// OSError wraps a failing kernel call.
type OSError struct {
	Err error
	Op  string
}

// Error implements the error interface.
func (e *OSError) Error() string {
	if e.Op == "" {
		return "reactor: " + e.Err.Error()
	}
	return "reactor: " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying cause, typically a [golang.org/x/sys/unix.Errno].
func (e *OSError) Unwrap() error {
	return e.Err
}

// osError returns nil if err is nil, otherwise err wrapped as an [OSError].
func osError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OSError{Op: op, Err: err}
}

// UsageError is the panic value for programmer errors, such as operating on
// an uninitialized or stopped System, or freeing a vacant identity while
// [WithStrictUsage] is enabled.
type UsageError struct {
	Err error
	Op  string
}

// Error implements the error interface.
func (e *UsageError) Error() string {
	return fmt.Sprintf("reactor: invalid %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause, for use with [errors.Is].
func (e *UsageError) Unwrap() error {
	return e.Err
}

package reactor

import (
	"fmt"
)

// Event is the record the System delivers for each kernel readiness
// notification.
type Event struct {
	Owner    Identity
	Readable bool
	Writable bool
}

// Kind discriminates the variants of a [Reaction].
type Kind uint8

const (
	// KindContinue means there is nothing to report.
	KindContinue Kind = iota
	// KindValue carries a produced or forwarded payload.
	KindValue
	// KindEvent carries an Event that no stage has claimed yet.
	KindEvent
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindContinue:
		return "Continue"
	case KindValue:
		return "Value"
	case KindEvent:
		return "Event"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Reaction is the single message type exchanged by every [Reactor.React]
// call. The zero value is Continue.
type Reaction[T any] struct {
	value T
	event Event
	kind  Kind
}

// Continue returns a Reaction reporting nothing.
func Continue[T any]() Reaction[T] {
	return Reaction[T]{}
}

// Value returns a Reaction carrying v.
func Value[T any](v T) Reaction[T] {
	return Reaction[T]{kind: KindValue, value: v}
}

// EventReaction returns a Reaction carrying the undispatched ev.
func EventReaction[T any](ev Event) Reaction[T] {
	return Reaction[T]{kind: KindEvent, event: ev}
}

// Kind returns the variant.
func (r Reaction[T]) Kind() Kind { return r.kind }

// IsContinue is shorthand for r.Kind() == KindContinue.
func (r Reaction[T]) IsContinue() bool { return r.kind == KindContinue }

// Value returns the payload, and true, if r is a Value.
func (r Reaction[T]) Value() (v T, ok bool) {
	if r.kind != KindValue {
		return v, false
	}
	return r.value, true
}

// Event returns the event, and true, if r is an Event.
func (r Reaction[T]) Event() (Event, bool) {
	if r.kind != KindEvent {
		return Event{}, false
	}
	return r.event, true
}

// String implements fmt.Stringer, for debugging.
func (r Reaction[T]) String() string {
	switch r.kind {
	case KindValue:
		return fmt.Sprintf("Value(%v)", r.value)
	case KindEvent:
		return fmt.Sprintf("Event(%+v)", r.event)
	default:
		return "Continue"
	}
}

// Result is the payload type for reactors whose per-event work may fail,
// e.g. receivers and timers. Errors encountered while handling an event are
// reported as a Value carrying a Result, rather than aborting the System.
type Result[T any] struct {
	Value T
	Err   error
}

// Ok returns a successful Result.
func Ok[T any](v T) Result[T] { return Result[T]{Value: v} }

// Err returns a failed Result.
func Err[T any](err error) Result[T] { return Result[T]{Err: err} }

// Get returns the value and error.
func (r Result[T]) Get() (T, error) { return r.Value, r.Err }

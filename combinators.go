package reactor

// Chain composes two reactors in sequence, the output of first being the
// input of second.
//
// An Event is first offered to first. If first produces a Value, that value is
// the input of second, for the same call. If first produces Continue or passes
// the Event through, second is still probed with the same Event, so either
// stage may claim it.
func Chain[A, B, C any](first Reactor[A, B], second Reactor[B, C]) Reactor[A, C] {
	return &chain[A, B, C]{first: first, second: second}
}

type chain[A, B, C any] struct {
	first  Reactor[A, B]
	second Reactor[B, C]
}

func (x *chain[A, B, C]) React(reaction Reaction[A]) Reaction[C] {
	out := x.first.React(reaction)
	switch out.kind {
	case KindValue:
		return x.second.React(Value(out.value))
	case KindEvent:
		return x.second.React(EventReaction[B](out.event))
	}
	if reaction.kind == KindEvent {
		return x.second.React(EventReaction[B](reaction.event))
	}
	return Continue[C]()
}

// Map applies f to every Value produced by r. Continue and unclaimed events
// pass through unmodified.
func Map[In, T, U any](r Reactor[In, T], f func(T) U) Reactor[In, U] {
	return &mapper[In, T, U]{reactor: r, f: f}
}

type mapper[In, T, U any] struct {
	reactor Reactor[In, T]
	f       func(T) U
}

func (x *mapper[In, T, U]) React(reaction Reaction[In]) Reaction[U] {
	out := x.reactor.React(reaction)
	switch out.kind {
	case KindValue:
		return Value(x.f(out.value))
	case KindEvent:
		return EventReaction[U](out.event)
	default:
		return Continue[U]()
	}
}

// FilterMap is like [Map], but f may reject a value, by returning false,
// in which case the result is Continue.
func FilterMap[In, T, U any](r Reactor[In, T], f func(T) (U, bool)) Reactor[In, U] {
	return &filterMapper[In, T, U]{reactor: r, f: f}
}

type filterMapper[In, T, U any] struct {
	reactor Reactor[In, T]
	f       func(T) (U, bool)
}

func (x *filterMapper[In, T, U]) React(reaction Reaction[In]) Reaction[U] {
	out := x.reactor.React(reaction)
	switch out.kind {
	case KindValue:
		if v, ok := x.f(out.value); ok {
			return Value(v)
		}
		return Continue[U]()
	case KindEvent:
		return EventReaction[U](out.event)
	default:
		return Continue[U]()
	}
}

package reactor

// Reactor is implemented by every component driven by a [System].
//
// Given an Event, a reactor either claims it (the event's Owner is one of its
// identities), producing a Value or Continue, or returns the Event unchanged,
// so that a later stage of a pipeline may claim it. Given a Value, it performs
// its transformation. Continue never advances state.
type Reactor[In, Out any] interface {
	React(reaction Reaction[In]) Reaction[Out]
}

// Func adapts an ordinary function to the [Reactor] interface.
type Func[In, Out any] func(reaction Reaction[In]) Reaction[Out]

// React calls f(reaction).
func (f Func[In, Out]) React(reaction Reaction[In]) Reaction[Out] {
	return f(reaction)
}

// Claims reports whether r is an Event owned by id.
func Claims[T any](r Reaction[T], id Identity) bool {
	ev, ok := r.Event()
	return ok && ev.Owner == id
}

// Forward converts a Reaction that carries no Value of type In into the
// equivalent Reaction of type Out. Values are dropped, yielding Continue.
func Forward[Out, In any](r Reaction[In]) Reaction[Out] {
	if ev, ok := r.Event(); ok {
		return EventReaction[Out](ev)
	}
	return Continue[Out]()
}

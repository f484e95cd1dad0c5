// Package reactor implements a per-thread event dispatcher, built directly on
// Linux epoll, with every registration edge-triggered and one-shot.
//
// A [System] is bound to the goroutine that creates it, which is locked to
// its OS thread. Components reserve an [Identity] from the System, and
// register a descriptor under it. Each kernel notification is delivered as an
// [Event] to a root [Reactor], which is typically a pipeline built with
// [Chain], [Map], and [FilterMap]. Each stage claims the events carrying its
// own identity, and passes every other event through, unchanged.
//
// Because registrations are one-shot, a component must re-arm its descriptor
// after every event it claims, or it will receive no further events.
//
// The [Evented] wakeup counter (an eventfd) is the basis of the cross-thread
// primitives in the bounded, broadcast, signal, and workqueue packages, which
// allow producers on any thread to wake a System's dispatch loop.
//
// Basic usage:
//
//	sys, err := reactor.Builder(reactor.WithWaitTimeout(-1)).Finish()
//	if err != nil {
//		return err
//	}
//	timer, err := reactor.NewTimer(sys, time.Second, time.Second)
//	if err != nil {
//		return err
//	}
//	defer timer.Close()
//	return reactor.Start(ctx, sys, reactor.Map(timer, func(r reactor.Result[uint64]) struct{} {
//		log.Println("tick", r.Value)
//		return struct{}{}
//	}))
package reactor

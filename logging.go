//go:build linux

package reactor

import (
	"github.com/joeycumines/logiface"
)

// newSystemLogger returns a sub-logger of parent that tags every event with
// the system instance, or nil, if parent is nil (logging disabled).
func newSystemLogger(parent *logiface.Logger[logiface.Event], system string) *logiface.Logger[logiface.Event] {
	return parent.Clone().
		Str(`system`, system).
		Logger()
}

// logUsage reports a programmer error that was absorbed rather than raised.
func (s *System) logUsage(op string, id Identity, err error) {
	s.logger.Err().
		Str(`op`, op).
		Uint64(`id`, uint64(id)).
		Err(err).
		Log(`usage error`)
}

// logSyscall reports a failed kernel call made by the dispatch loop itself.
func (s *System) logSyscall(op string, err error) {
	s.logger.Err().
		Str(`op`, op).
		Err(err).
		Log(`kernel call failed`)
}

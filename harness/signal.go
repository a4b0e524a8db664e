package harness

import "sync/atomic"

// Signal is the stop flag shared by the coordinator and its workers.
// It starts in the run state and flips to stopped at most once.
type Signal struct {
	stopped atomic.Bool
}

// Raise stops the benchmark window. It reports whether this call made the
// transition; later calls are no-ops.
func (s *Signal) Raise() bool {
	return s.stopped.CompareAndSwap(false, true)
}

// Stopped reports whether Raise has been called.
func (s *Signal) Stopped() bool {
	return s.stopped.Load()
}

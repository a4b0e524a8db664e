package harness

import "sync/atomic"

// Counter counts completed workload calls across all workers.
type Counter struct {
	n atomic.Uint64
}

// Inc adds one completed operation.
func (c *Counter) Inc() {
	c.n.Add(1)
}

// Load returns the current total. After every worker has been joined it is
// the exact number of increments performed.
func (c *Counter) Load() uint64 {
	return c.n.Load()
}

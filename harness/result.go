// Package harness runs a CPU workload for a fixed wall-clock window and
// measures how many times it completed.
package harness

import "time"

// Variant selects between the single- and multi-threaded benchmark.
type Variant string

const (
	VariantSingle Variant = "single"
	VariantMulti  Variant = "multi"
)

// Result is the outcome of one benchmark run.
type Result struct {
	Variant         Variant
	Threads         int
	TotalOperations uint64
	Elapsed         time.Duration
	OpsPerSecond    float64
	// Partial is set when the join timed out and some workers were still
	// running; TotalOperations then undercounts.
	Partial bool
}

func newResult(
	variant Variant,
	threads int,
	total uint64,
	elapsed time.Duration,
) *Result {
	var ops float64
	if elapsed > 0 {
		ops = float64(total) / elapsed.Seconds()
	}

	return &Result{
		Variant:         variant,
		Threads:         threads,
		TotalOperations: total,
		Elapsed:         elapsed,
		OpsPerSecond:    ops,
	}
}

// ElapsedSeconds returns the measured window in seconds.
func (r *Result) ElapsedSeconds() float64 {
	return r.Elapsed.Seconds()
}

package harness

import "runtime"

// Detect returns the number of logical CPUs usable by this process.
func Detect() int {
	return max(1, runtime.NumCPU())
}

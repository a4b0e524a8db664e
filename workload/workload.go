// Package workload provides the CPU-bound computation the benchmark burns
// cycles on. The result of each call is discarded by the harness; only the
// time it takes matters.
package workload

import (
	"errors"
	"fmt"
	"math/big"
)

// DefaultFactorialN is the input used when none is configured.
const DefaultFactorialN = 500

// ErrNegativeInput is returned by Factorial for n < 0.
var ErrNegativeInput = errors.New("factorial is not defined for negative numbers")

// Task is one unit of benchmark work. It must be safe to call from many
// goroutines at once and must not touch shared state.
type Task func() error

// Factorial computes n! with arbitrary precision.
func Factorial(n int) (*big.Int, error) {
	if n < 0 {
		return nil, fmt.Errorf("factorial(%d): %w", n, ErrNegativeInput)
	}

	result := big.NewInt(1)

	var factor big.Int
	for i := 2; i <= n; i++ {
		result.Mul(result, factor.SetInt64(int64(i)))
	}

	return result, nil
}

// FactorialTask returns a Task that computes n! and drops the result.
func FactorialTask(n int) Task {
	return func() error {
		_, err := Factorial(n)

		return err
	}
}

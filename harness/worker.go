package harness

import (
	"fmt"
	"sync/atomic"

	"github.com/weiihann/cpubench/workload"
)

// State is a worker's lifecycle state.
type State int32

const (
	StateRunning State = iota
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Worker repeatedly runs a task and counts it until the signal is raised.
type Worker struct {
	ID      int
	task    workload.Task
	signal  *Signal
	counter *Counter

	ops   atomic.Uint64
	state atomic.Int32
}

// NewWorker creates a Worker in the running state.
func NewWorker(
	id int,
	task workload.Task,
	signal *Signal,
	counter *Counter,
) *Worker {
	return &Worker{
		ID:      id,
		task:    task,
		signal:  signal,
		counter: counter,
	}
}

// Run loops until the stop signal is observed at the top of an iteration.
// Each iteration calls the task once and then increments the shared
// counter once. A task error stops the worker and is returned.
func (w *Worker) Run() error {
	defer w.state.Store(int32(StateStopped))

	for !w.signal.Stopped() {
		if err := w.task(); err != nil {
			return fmt.Errorf("worker %d: %w", w.ID, err)
		}

		w.counter.Inc()
		w.ops.Add(1)
	}

	return nil
}

// Ops returns how many operations this worker has completed.
func (w *Worker) Ops() uint64 {
	return w.ops.Load()
}

// State returns the worker's current state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

package harness

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiihann/cpubench/workload"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// spinTask busy-waits for d of wall time.
func spinTask(d time.Duration) workload.Task {
	return func() error {
		start := time.Now()
		for time.Since(start) < d {
		}

		return nil
	}
}

func noopTask() error { return nil }

func TestSignalRaiseOnce(t *testing.T) {
	var s Signal

	assert.False(t, s.Stopped())
	assert.True(t, s.Raise(), "first raise should transition")
	assert.True(t, s.Stopped())
	assert.False(t, s.Raise(), "second raise should be a no-op")
	assert.True(t, s.Stopped(), "signal must never revert")
}

func TestSignalObservedByReaders(t *testing.T) {
	var s Signal

	const readers = 8

	var wg sync.WaitGroup

	for range readers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for !s.Stopped() {
				runtime.Gosched()
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	s.Raise()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("readers did not observe the stop signal")
	}
}

func TestCounterConcurrentInc(t *testing.T) {
	const (
		goroutines = 50
		hits       = 2000
	)

	var (
		c  Counter
		wg sync.WaitGroup
	)

	for range goroutines {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range hits {
				c.Inc()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, uint64(goroutines*hits), c.Load())
}

func TestWorkerPreRaisedSignal(t *testing.T) {
	var (
		signal  Signal
		counter Counter
		calls   atomic.Int64
	)

	signal.Raise()

	w := NewWorker(0, func() error {
		calls.Add(1)

		return nil
	}, &signal, &counter)

	assert.Equal(t, StateRunning, w.State())
	require.NoError(t, w.Run())

	assert.Equal(t, StateStopped, w.State())
	assert.Zero(t, w.Ops())
	assert.Zero(t, counter.Load())
	assert.Zero(t, calls.Load())
}

func TestWorkerReturnsTaskError(t *testing.T) {
	var (
		signal  Signal
		counter Counter
		calls   int
	)

	errBoom := errors.New("boom")

	w := NewWorker(3, func() error {
		calls++
		if calls == 5 {
			return errBoom
		}

		return nil
	}, &signal, &counter)

	err := w.Run()
	require.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "worker 3")

	assert.Equal(t, StateStopped, w.State())
	assert.Equal(t, uint64(4), w.Ops(), "failed call must not be counted")
	assert.Equal(t, uint64(4), counter.Load())
}

func TestStartWorkersPreRaisedSignal(t *testing.T) {
	var (
		signal  Signal
		counter Counter
	)

	signal.Raise()

	crew := startWorkers(context.Background(), 4, noopTask, &signal, &counter)

	joined, err := crew.join(5 * time.Second)
	require.NoError(t, err)
	require.True(t, joined)

	assert.Zero(t, counter.Load())
	assert.Zero(t, crew.sum())

	for _, w := range crew.workers {
		assert.Zero(t, w.Ops(), "worker %d", w.ID)
		assert.Equal(t, StateStopped, w.State())
	}
}

func TestStartWorkersNoLostUpdates(t *testing.T) {
	var (
		signal  Signal
		counter Counter
	)

	crew := startWorkers(context.Background(), 8, noopTask, &signal, &counter)

	time.Sleep(50 * time.Millisecond)
	signal.Raise()

	joined, err := crew.join(5 * time.Second)
	require.NoError(t, err)
	require.True(t, joined)

	assert.Positive(t, counter.Load())
	assert.Equal(t, crew.sum(), counter.Load())
	assert.Zero(t, crew.running())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid",
			cfg:  Config{Duration: time.Second, Grace: time.Second, Threads: 2, Task: noopTask},
		},
		{
			name: "detect threads",
			cfg:  Config{Duration: time.Second, Grace: time.Second, Task: noopTask},
		},
		{
			name:    "zero duration",
			cfg:     Config{Grace: time.Second},
			wantErr: true,
		},
		{
			name:    "negative duration",
			cfg:     Config{Duration: -time.Second, Grace: time.Second},
			wantErr: true,
		},
		{
			name:    "zero grace",
			cfg:     Config{Duration: time.Second},
			wantErr: true,
		},
		{
			name:    "negative threads",
			cfg:     Config{Duration: time.Second, Grace: time.Second, Threads: -1},
			wantErr: true,
		},
		{
			name:    "missing task",
			cfg:     Config{Duration: time.Second, Grace: time.Second, Threads: 1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewRunnerDefaults(t *testing.T) {
	r := NewRunner(Config{Duration: time.Second}, discardLogger())

	assert.Equal(t, time.Second, r.Config.Duration)
	assert.Equal(t, DefaultGrace, r.Config.Grace)
	assert.Equal(t, Detect(), r.Config.Threads)
	assert.NotNil(t, r.Config.Task)
	assert.NoError(t, r.Config.Validate())
}

func TestDetect(t *testing.T) {
	assert.GreaterOrEqual(t, Detect(), 1)
}

func TestRunElapsedCoversWindow(t *testing.T) {
	const window = 50 * time.Millisecond

	r := NewRunner(Config{
		Duration: window,
		Threads:  2,
		Task:     workload.FactorialTask(50),
	}, discardLogger())

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, VariantMulti, result.Variant)
	assert.Equal(t, 2, result.Threads)
	assert.False(t, result.Partial)
	assert.GreaterOrEqual(t, result.Elapsed, window)
	assert.Positive(t, result.TotalOperations)
	assert.InEpsilon(t,
		float64(result.TotalOperations)/result.ElapsedSeconds(),
		result.OpsPerSecond, 1e-9)
}

func TestRunOneSecondSingleThread(t *testing.T) {
	if testing.Short() {
		t.Skip("one second window")
	}

	r := NewRunner(Config{Duration: time.Second, Threads: 1}, discardLogger())

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Threads)
	assert.Positive(t, result.TotalOperations)
	assert.GreaterOrEqual(t, result.ElapsedSeconds(), 1.0)
	assert.Less(t, result.ElapsedSeconds(), 1.5)
}

func TestRunAccumulatesWithTime(t *testing.T) {
	task := spinTask(time.Millisecond)

	run := func(d time.Duration) uint64 {
		r := NewRunner(Config{Duration: d, Threads: 1, Task: task},
			discardLogger())

		result, err := r.Run(context.Background())
		require.NoError(t, err)

		return result.TotalOperations
	}

	short := run(30 * time.Millisecond)
	long := run(150 * time.Millisecond)

	assert.Greater(t, long, short)
}

func TestRunScalesWithThreads(t *testing.T) {
	if testing.Short() {
		t.Skip("two one-second windows")
	}

	if runtime.NumCPU() < 4 {
		t.Skip("needs at least 4 CPUs")
	}

	task := spinTask(time.Millisecond)

	run := func(threads int) uint64 {
		r := NewRunner(Config{
			Duration: time.Second,
			Threads:  threads,
			Task:     task,
		}, discardLogger())

		result, err := r.Run(context.Background())
		require.NoError(t, err)

		return result.TotalOperations
	}

	single := run(1)
	quad := run(4)

	require.Positive(t, single)

	ratio := float64(quad) / float64(single)
	assert.InDelta(t, 4.0, ratio, 1.0, "single=%d quad=%d", single, quad)
}

func TestRunWorkerErrorFailsRun(t *testing.T) {
	var calls atomic.Int64

	task := func() error {
		if calls.Add(1) == 100 {
			_, err := workload.Factorial(-1)

			return err
		}

		return nil
	}

	r := NewRunner(Config{
		Duration: 30 * time.Second,
		Threads:  4,
		Task:     task,
	}, discardLogger())

	start := time.Now()
	result, err := r.Run(context.Background())

	require.ErrorIs(t, err, workload.ErrNegativeInput)
	assert.Nil(t, result)
	assert.Less(t, time.Since(start), 10*time.Second,
		"a failing worker should end the window early")
}

func TestRunJoinTimeoutIsPartial(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var calls atomic.Int64

	task := func() error {
		if calls.Add(1) == 1 {
			<-release
		}

		return nil
	}

	r := NewRunner(Config{
		Duration: 20 * time.Millisecond,
		Grace:    20 * time.Millisecond,
		Threads:  1,
		Task:     task,
	}, discardLogger())

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Partial)
	assert.Zero(t, result.TotalOperations)
}

func TestRunWorkerErrorWithHungPeer(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	errBoom := errors.New("boom")

	var calls atomic.Int64

	task := func() error {
		switch calls.Add(1) {
		case 1:
			<-release
		case 50:
			return errBoom
		}

		return nil
	}

	r := NewRunner(Config{
		Duration: 5 * time.Second,
		Grace:    50 * time.Millisecond,
		Threads:  2,
		Task:     task,
	}, discardLogger())

	start := time.Now()
	result, err := r.Run(context.Background())

	require.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "run workers")
	assert.Nil(t, result)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestJoinTimeoutAfterParentCancelIsNotWorkerError(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithCancel(context.Background())

	var (
		signal  Signal
		counter Counter
	)

	crew := startWorkers(ctx, 1, func() error {
		<-release

		return nil
	}, &signal, &counter)

	cancel()
	signal.Raise()

	joined, err := crew.join(20 * time.Millisecond)
	assert.False(t, joined)
	assert.NoError(t, err)
}

func TestRunContextCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(),
		20*time.Millisecond)
	defer cancel()

	r := NewRunner(Config{
		Duration: 30 * time.Second,
		Threads:  2,
		Task:     noopTask,
	}, discardLogger())

	start := time.Now()
	result, err := r.Run(ctx)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, result)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunInvalidConfig(t *testing.T) {
	r := NewRunner(Config{Duration: -1}, discardLogger())

	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = r.RunSingle(context.Background())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunSingle(t *testing.T) {
	const window = 50 * time.Millisecond

	r := NewRunner(Config{Duration: window}, discardLogger())

	result, err := r.RunSingle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, VariantSingle, result.Variant)
	assert.Equal(t, 1, result.Threads)
	assert.Positive(t, result.TotalOperations)
	assert.GreaterOrEqual(t, result.Elapsed, window)
	assert.InEpsilon(t,
		float64(result.TotalOperations)/result.ElapsedSeconds(),
		result.OpsPerSecond, 1e-9)
}

func TestRunSingleOneSecond(t *testing.T) {
	if testing.Short() {
		t.Skip("one second window")
	}

	r := NewRunner(Config{Duration: time.Second}, discardLogger())

	result, err := r.RunSingle(context.Background())
	require.NoError(t, err)

	assert.Positive(t, result.TotalOperations)
	assert.GreaterOrEqual(t, result.ElapsedSeconds(), 1.0)
	assert.Less(t, result.ElapsedSeconds(), 1.5)
}

func TestRunSingleTaskError(t *testing.T) {
	r := NewRunner(Config{
		Duration: time.Second,
		Task:     workload.FactorialTask(-1),
	}, discardLogger())

	result, err := r.RunSingle(context.Background())
	require.ErrorIs(t, err, workload.ErrNegativeInput)
	assert.Nil(t, result)
}

func TestRunSingleContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int

	r := NewRunner(Config{
		Duration: 30 * time.Second,
		Task: func() error {
			calls++

			return nil
		},
	}, discardLogger())

	_, err := r.RunSingle(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

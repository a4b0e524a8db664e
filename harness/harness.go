package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/weiihann/cpubench/workload"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultDuration is the benchmark window used by the CLI.
	DefaultDuration = 60 * time.Second
	// DefaultGrace bounds how long the coordinator waits for workers
	// after raising the stop signal.
	DefaultGrace = 10 * time.Second
)

// ErrInvalidConfig is returned for a Config that cannot be run.
var ErrInvalidConfig = errors.New("invalid benchmark config")

// Config holds parameters for a benchmark run.
type Config struct {
	Duration time.Duration
	Grace    time.Duration
	// Threads is the number of workers for the multi-threaded variant.
	// Zero means one per detected CPU.
	Threads int
	// Task defaults to workload.FactorialTask(workload.DefaultFactorialN).
	Task workload.Task
}

// Validate checks that the config describes a runnable benchmark.
func (c Config) Validate() error {
	if c.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %s",
			ErrInvalidConfig, c.Duration)
	}

	if c.Grace <= 0 {
		return fmt.Errorf("%w: grace must be positive, got %s",
			ErrInvalidConfig, c.Grace)
	}

	if c.Threads < 0 {
		return fmt.Errorf("%w: threads must not be negative, got %d",
			ErrInvalidConfig, c.Threads)
	}

	if c.Task == nil {
		return fmt.Errorf("%w: no task", ErrInvalidConfig)
	}

	return nil
}

func (c Config) withDefaults() Config {
	if c.Grace == 0 {
		c.Grace = DefaultGrace
	}

	if c.Threads == 0 {
		c.Threads = Detect()
	}

	if c.Task == nil {
		c.Task = workload.FactorialTask(workload.DefaultFactorialN)
	}

	return c
}

// Runner times a workload over a fixed window.
type Runner struct {
	Config Config
	Logger *slog.Logger
}

// NewRunner creates a Runner, filling in defaults for unset fields.
func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	return &Runner{
		Config: cfg.withDefaults(),
		Logger: logger.With(slog.String("component", "harness")),
	}
}

// Run executes the multi-threaded benchmark: one worker per configured
// thread, a sleep for the target duration, then a stop signal and a
// bounded join. A worker error ends the window early and fails the run.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	cfg := r.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	signal := &Signal{}
	counter := &Counter{}

	start := time.Now()
	crew := startWorkers(ctx, cfg.Threads, cfg.Task, signal, counter)

	r.Logger.InfoContext(ctx, "workers started",
		slog.Int("threads", cfg.Threads),
		slog.Duration("duration", cfg.Duration),
	)

	timer := time.NewTimer(cfg.Duration)

	select {
	case <-timer.C:
	case <-crew.ctx.Done():
	}

	timer.Stop()

	if signal.Raise() {
		r.Logger.DebugContext(ctx, "stop signal raised",
			slog.Duration("since_start", time.Since(start)),
		)
	}

	joined, err := crew.join(cfg.Grace)
	elapsed := time.Since(start)

	if err != nil {
		return nil, fmt.Errorf("run workers: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := newResult(VariantMulti, cfg.Threads, counter.Load(), elapsed)

	if !joined {
		result.Partial = true

		r.Logger.WarnContext(ctx, "join timed out, operation count is partial",
			slog.Duration("grace", cfg.Grace),
			slog.Int("still_running", crew.running()),
		)
	} else {
		r.Logger.InfoContext(ctx, "workers joined",
			slog.Duration("elapsed", elapsed),
			slog.Uint64("operations", result.TotalOperations),
			slog.Uint64("worker_sum", crew.sum()),
		)
	}

	for _, w := range crew.workers {
		r.Logger.DebugContext(ctx, "worker finished",
			slog.Int("worker", w.ID),
			slog.Uint64("operations", w.Ops()),
			slog.String("state", w.State().String()),
		)
	}

	return result, nil
}

// RunSingle executes the single-threaded benchmark inline. The elapsed
// time is checked after every workload call instead of using a signal.
func (r *Runner) RunSingle(ctx context.Context) (*Result, error) {
	cfg := r.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.Logger.InfoContext(ctx, "running inline",
		slog.Duration("duration", cfg.Duration),
	)

	var ops uint64

	start := time.Now()

	for {
		if err := cfg.Task(); err != nil {
			return nil, fmt.Errorf("run workload: %w", err)
		}

		ops++

		if time.Since(start) >= cfg.Duration {
			break
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	elapsed := time.Since(start)

	return newResult(VariantSingle, 1, ops, elapsed), nil
}

// crew is a fixed set of workers sharing one signal and one counter.
type crew struct {
	workers []*Worker
	group   *errgroup.Group
	// ctx is cancelled when a worker fails or the parent is cancelled.
	ctx    context.Context
	parent context.Context
}

func startWorkers(
	ctx context.Context,
	n int,
	task workload.Task,
	signal *Signal,
	counter *Counter,
) *crew {
	group, groupCtx := errgroup.WithContext(ctx)

	workers := make([]*Worker, n)
	for i := range workers {
		w := NewWorker(i, task, signal, counter)
		workers[i] = w

		group.Go(func() error {
			if err := w.Run(); err != nil {
				signal.Raise()

				return err
			}

			return nil
		})
	}

	return &crew{
		workers: workers,
		group:   group,
		ctx:     groupCtx,
		parent:  ctx,
	}
}

// join waits up to grace for every worker to stop. It reports false if
// the wait timed out. A worker error is returned even when other workers
// are still running.
func (c *crew) join(grace time.Duration) (bool, error) {
	done := make(chan error, 1)

	go func() {
		done <- c.group.Wait()
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-done:
		return true, err
	case <-timer.C:
		if c.ctx.Err() != nil && c.parent.Err() == nil {
			return false, context.Cause(c.ctx)
		}

		return false, nil
	}
}

func (c *crew) running() int {
	var n int

	for _, w := range c.workers {
		if w.State() == StateRunning {
			n++
		}
	}

	return n
}

func (c *crew) sum() uint64 {
	var total uint64

	for _, w := range c.workers {
		total += w.Ops()
	}

	return total
}

// Package main provides the CLI entry point for cpubench, a CPU
// throughput benchmark.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/weiihann/cpubench/harness"
	"github.com/weiihann/cpubench/hoststat"
	"github.com/weiihann/cpubench/report"
	"github.com/weiihann/cpubench/workload"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(logger, level)
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("benchmark failed", slog.String("error", err.Error()))
		stop()
		os.Exit(1)
	}
}

type runConfig struct {
	variant    harness.Variant
	duration   time.Duration
	grace      time.Duration
	threads    int
	factorialN int
}

func newRootCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	var (
		cfg   = runConfig{variant: harness.VariantMulti}
		debug bool
	)

	root := &cobra.Command{
		Use:   "cpubench",
		Short: "CPU throughput benchmark",
		Long: `Cpubench runs a fixed CPU-bound workload on every available core for
a bounded wall-clock window and reports the number of completed operations
per second.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if debug {
				level.Set(slog.LevelDebug)
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBenchmark(cmd.Context(), logger, cmd.OutOrStdout(), cfg)
		},
	}

	pflags := root.PersistentFlags()
	pflags.DurationVar(&cfg.duration, "duration", harness.DefaultDuration,
		"Target benchmark window")
	pflags.IntVar(&cfg.factorialN, "factorial-n", workload.DefaultFactorialN,
		"Input size of the factorial workload")
	pflags.BoolVar(&debug, "debug", false,
		"Enable debug logging")

	flags := root.Flags()
	flags.IntVar(&cfg.threads, "threads", 0,
		"Number of workers (0 = one per available CPU)")
	flags.DurationVar(&cfg.grace, "grace", harness.DefaultGrace,
		"How long to wait for workers after the window closes")

	root.AddCommand(newSingleCmd(logger, &cfg))
	root.AddCommand(newGenCmd(logger))

	return root
}

func newSingleCmd(logger *slog.Logger, parent *runConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "single",
		Short: "Run the single-threaded benchmark",
		Long: `Run the workload in a single loop that checks the elapsed time after
every call, without spawning workers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := *parent
			cfg.variant = harness.VariantSingle
			cfg.threads = 1

			return runBenchmark(cmd.Context(), logger, cmd.OutOrStdout(), cfg)
		},
	}
}

func newGenCmd(logger *slog.Logger) *cobra.Command {
	var cfg workload.SourceConfig

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate Java sources for a compile-load benchmark",
		Long: `Write a deterministic set of cross-referencing Java classes, an
interface, an abstract base and a Main that loads a sample of them, for
timing a compiler and class loader.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return generateSources(cmd.Context(), logger, cmd.OutOrStdout(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.OutDir, "out", "",
		"Output directory for generated sources")
	flags.IntVar(&cfg.Count, "count", workload.DefaultSourceCount,
		"Number of classes to generate")
	flags.StringVar(&cfg.Package, "package", workload.DefaultSourcePackage,
		"Java package name")

	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func generateSources(
	ctx context.Context,
	logger *slog.Logger,
	out io.Writer,
	cfg workload.SourceConfig,
) error {
	gen := workload.NewSourceGenerator(cfg)

	summary, err := gen.Generate()
	if err != nil {
		return fmt.Errorf("generate sources: %w", err)
	}

	logger.InfoContext(ctx, "sources generated",
		slog.String("dir", summary.Dir),
		slog.Int("files", summary.Files),
		slog.Int("classes", summary.Classes),
		slog.Int("implements", summary.Implements),
		slog.Int("extends", summary.Extends),
	)

	_, err = fmt.Fprintf(out, "Generated %d classes in package %s at %s\n",
		summary.Classes, cfg.Package, summary.Dir)

	return err
}

func runBenchmark(
	ctx context.Context,
	logger *slog.Logger,
	out io.Writer,
	cfg runConfig,
) error {
	if cfg.factorialN < 0 {
		return fmt.Errorf("--factorial-n must not be negative, got %d",
			cfg.factorialN)
	}

	runner := harness.NewRunner(harness.Config{
		Duration: cfg.duration,
		Grace:    cfg.grace,
		Threads:  cfg.threads,
		Task:     workload.FactorialTask(cfg.factorialN),
	}, logger)

	if err := runner.Config.Validate(); err != nil {
		return err
	}

	logger.InfoContext(ctx, "starting benchmark",
		slog.String("variant", string(cfg.variant)),
		slog.Duration("duration", runner.Config.Duration),
		slog.Int("threads", runner.Config.Threads),
		slog.Int("factorial_n", cfg.factorialN),
	)

	logHost(ctx, logger)

	if err := report.WriteBanner(out, report.Banner{
		Variant:  cfg.variant,
		Duration: runner.Config.Duration,
		Detected: harness.Detect(),
	}); err != nil {
		return fmt.Errorf("write banner: %w", err)
	}

	before, sampleErr := hoststat.Sample()

	var (
		result *harness.Result
		err    error
	)

	if cfg.variant == harness.VariantSingle {
		result, err = runner.RunSingle(ctx)
	} else {
		result, err = runner.Run(ctx)
	}

	if err != nil {
		return fmt.Errorf("run benchmark: %w", err)
	}

	if sampleErr == nil {
		logUsage(ctx, logger, before)
	}

	if err := report.Generate(out, result); err != nil {
		return fmt.Errorf("generate report: %w", err)
	}

	logger.InfoContext(ctx, "benchmark complete",
		slog.Uint64("operations", result.TotalOperations),
		slog.Duration("elapsed", result.Elapsed),
		slog.Float64("ops_per_second", result.OpsPerSecond),
		slog.Bool("partial", result.Partial),
	)

	return nil
}

func logHost(ctx context.Context, logger *slog.Logger) {
	host, err := hoststat.Describe(ctx)
	if err != nil {
		logger.WarnContext(ctx, "failed to describe host cpu",
			slog.String("error", err.Error()),
		)

		return
	}

	logger.InfoContext(ctx, "host cpu",
		slog.String("model", host.Model),
		slog.Float64("mhz", host.MHz),
		slog.Int("logical", host.Logical),
		slog.Int("physical", host.Physical),
	)
}

func logUsage(ctx context.Context, logger *slog.Logger, before hoststat.Snapshot) {
	after, err := hoststat.Sample()
	if err != nil {
		logger.WarnContext(ctx, "failed to sample cpu usage",
			slog.String("error", err.Error()),
		)

		return
	}

	usage := after.Since(before)

	logger.InfoContext(ctx, "cpu utilisation",
		slog.Float64("busy_pct", usage.Busy),
		slog.Float64("user_pct", usage.User),
		slog.Float64("system_pct", usage.System),
	)
}

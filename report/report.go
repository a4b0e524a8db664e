// Package report writes the plain-text banner and summary of a benchmark
// run.
package report

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/weiihann/cpubench/harness"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const rule = "-----------------------------------------"

// Banner describes a run that is about to start.
type Banner struct {
	Variant  harness.Variant
	Duration time.Duration
	// Detected is the processor count reported for the multi-threaded
	// variant.
	Detected int
}

// WriteBanner writes the lines printed before the window opens.
func WriteBanner(w io.Writer, b Banner) error {
	secs := formatSeconds(b.Duration)
	ew := newErrWriter(w)

	ew.println("Starting benchmark...")
	ew.printf(
		"Running computationally intensive task for approximately %s seconds.\n",
		secs)

	if b.Variant == harness.VariantMulti {
		ew.printf("Detected %d available processor core(s).\n", b.Detected)
	}

	ew.printf("Benchmark running for approximately %s seconds...\n", secs)

	return ew.err
}

// Generate writes the summary block for a finished run.
func Generate(w io.Writer, r *harness.Result) error {
	if r == nil {
		return errors.New("no result to report")
	}

	ew := newErrWriter(w)

	ew.println()
	ew.println("Benchmark finished.")
	ew.println(rule)

	if r.Variant == harness.VariantMulti {
		ew.printf("Threads used: %d\n", r.Threads)
	}

	ew.groupedf("Total operations completed: %d\n", r.TotalOperations)
	ew.printf("Actual execution time: %.2f seconds\n", r.ElapsedSeconds())
	ew.groupedf("Operations per second (Score): %.2f\n", r.OpsPerSecond)
	ew.println(rule)

	return ew.err
}

// errWriter keeps the first write error and turns later writes into
// no-ops.
type errWriter struct {
	w   io.Writer
	p   *message.Printer
	err error
}

func newErrWriter(w io.Writer) *errWriter {
	return &errWriter{
		w: w,
		p: message.NewPrinter(language.English),
	}
}

func (ew *errWriter) println(a ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintln(ew.w, a...)
}

func (ew *errWriter) printf(format string, a ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, a...)
}

// groupedf formats numbers with thousands separators.
func (ew *errWriter) groupedf(format string, a ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = ew.p.Fprintf(ew.w, format, a...)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

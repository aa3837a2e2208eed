// Package tap produces test execution reports in the TAP format.
//
// A Generator is constructed with the total number of test cases the run
// will report. The plan line ("1..N") is emitted lazily, immediately before
// the first result line, so that SkipAll can still replace the plan with
// the "1..0" form. Result lines go to the output writer; diagnostics are a
// side channel ("# "-prefixed lines, stderr by default) and are never
// interpreted as results.
package tap

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// autotimeEnvVar disables the per-test duration trailer when set to "0".
const autotimeEnvVar = "TRACETEST_TAP_AUTOTIME"

// InvalidPlanError indicates that the reported results no longer fit the
// declared plan (e.g. reporting more test cases than planned).
type InvalidPlanError struct {
	Message string
}

func (e *InvalidPlanError) Error() string {
	return fmt.Sprintf("invalid test plan: %s", e.Message)
}

// BailOutError is returned by BailOut and Finalize so that callers can
// abort the run; the "Bail out!" line has already been emitted when it is
// returned.
type BailOutError struct {
	Reason string
}

func (e *BailOutError) Error() string {
	return fmt.Sprintf("bail out: %s", e.Reason)
}

// Generator accumulates ordered pass/fail outcomes against a pre-declared
// total and renders them as a TAP stream.
type Generator struct {
	mu          sync.Mutex
	total       int
	lastCaseID  int
	printedPlan bool
	hasFailure  bool
	timeTests   bool
	lastTime    time.Time
	out         io.Writer
	diag        io.Writer
}

// Option configures a Generator.
type Option func(*Generator)

// WithWriters redirects the result stream and the diagnostic stream.
func WithWriters(out, diag io.Writer) Option {
	return func(g *Generator) {
		g.out = out
		g.diag = diag
	}
}

// WithAutotime overrides the environment-driven default for the per-test
// duration trailer.
func WithAutotime(enabled bool) Option {
	return func(g *Generator) {
		g.timeTests = enabled
	}
}

// NewGenerator creates a TAP producer for a plan of totalTestCount cases.
func NewGenerator(totalTestCount int, opts ...Option) (*Generator, error) {
	if totalTestCount <= 0 {
		return nil, &InvalidPlanError{Message: "test count must be greater than zero"}
	}

	g := &Generator{
		total:     totalTestCount,
		timeTests: os.Getenv(autotimeEnvVar) != "0",
		lastTime:  time.Now(),
		out:       os.Stdout,
		diag:      os.Stderr,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Remaining returns the number of planned cases that have not been reported.
func (g *Generator) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.total - g.lastCaseID
}

// Test records one outcome. Reporting more cases than planned fails with an
// InvalidPlanError and does not emit a result line.
func (g *Generator) Test(result bool, description string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	duration := time.Since(g.lastTime)
	if g.lastCaseID == g.total {
		return &InvalidPlanError{Message: "executing too many tests"}
	}

	if !result {
		g.hasFailure = true
	}

	resultString := "ok"
	if !result {
		resultString = "not ok"
	}
	g.lastCaseID++
	g.print(fmt.Sprintf("%s %d - %s", resultString, g.lastCaseID, description))
	if g.timeTests {
		g.print(fmt.Sprintf("---\n  duration_ms: %v\n...\n", float64(duration.Nanoseconds())/1e6))
	}
	g.lastTime = time.Now()
	return nil
}

// Ok reports a passing test case.
func (g *Generator) Ok(description string) error {
	return g.Test(true, description)
}

// Fail reports a failing test case.
func (g *Generator) Fail(description string) error {
	return g.Test(false, description)
}

// Skip reports one case as skipped. Skipped cases count as executed and do
// not fail the plan.
func (g *Generator) Skip(reason string) error {
	return g.SkipCount(reason, 1)
}

// SkipCount reports skipCount consecutive cases as skipped.
func (g *Generator) SkipCount(reason string, skipCount int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := 0; i < skipCount; i++ {
		if g.lastCaseID == g.total {
			return &InvalidPlanError{Message: "skipping more tests than planned"}
		}
		g.lastCaseID++
		g.print(fmt.Sprintf("ok %d # Skip: %s", g.lastCaseID, reason))
	}
	return nil
}

// SkipAllRemaining skips every case that has not been reported yet.
func (g *Generator) SkipAllRemaining(reason string) error {
	return g.SkipCount(reason, g.Remaining())
}

// SkipAll replaces the plan with the "1..0 # Skip all" form. It is only
// legal before any case has been reported.
func (g *Generator) SkipAll(reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.lastCaseID != 0 {
		return &InvalidPlanError{Message: "can't skip all tests after running test cases"}
	}

	g.printedPlan = true
	fmt.Fprintf(g.out, "1..0 # Skip all: %s\n", reason)
	g.lastCaseID = g.total
	return nil
}

// BailOut emits a "Bail out!" line, consumes the remainder of the plan and
// returns a BailOutError for the caller to propagate.
func (g *Generator) BailOut(reason string) error {
	g.mu.Lock()
	g.print(fmt.Sprintf("Bail out! %s", reason))
	g.lastCaseID = g.total
	g.hasFailure = true
	g.mu.Unlock()
	return &BailOutError{Reason: reason}
}

// Diagnostic writes free-form progress text on the diagnostic stream. Each
// line is prefixed with "# " so that TAP consumers ignore it.
func (g *Generator) Diagnostic(msg string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, line := range strings.Split(msg, "\n") {
		fmt.Fprintf(g.diag, "# %s\n", line)
	}
}

// Diagnosticf formats a diagnostic message.
func (g *Generator) Diagnosticf(format string, args ...any) {
	g.Diagnostic(fmt.Sprintf(format, args...))
}

// IsSuccessful reports whether every planned case executed and none failed.
func (g *Generator) IsSuccessful() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastCaseID == g.total && !g.hasFailure
}

// ExitCode returns the process exit status implied by the report: 0 when
// the run is successful, 1 otherwise.
func (g *Generator) ExitCode() int {
	if g.IsSuccessful() {
		return 0
	}
	return 1
}

// Finalize verifies that the plan was fully consumed. A short plan bails
// out, mirroring the trailing summary check of the original harness.
func (g *Generator) Finalize() error {
	if remaining := g.Remaining(); remaining > 0 {
		return g.BailOut(fmt.Sprintf("Missing %d test cases", remaining))
	}
	return nil
}

// Case runs fn as one scoped test case. An error return or a panic marks
// the case as failed and logs the cause as a diagnostic; otherwise the case
// passes. The result is reported exactly once.
func (g *Generator) Case(description string, fn func() error) {
	var failed bool

	func() {
		defer func() {
			if r := recover(); r != nil {
				g.Diagnosticf("Panic during test case `%s`, marking as failure: %v", description, r)
				failed = true
			}
		}()
		if err := fn(); err != nil {
			g.Diagnosticf("Error during test case `%s`, marking as failure: %v", description, err)
			failed = true
		}
	}()

	if err := g.Test(!failed, description); err != nil {
		g.Diagnostic(err.Error())
	}
}

// print emits one message on the result stream, writing the plan line
// first if it has not been written yet. Callers must hold g.mu.
func (g *Generator) print(msg string) {
	if !g.printedPlan {
		fmt.Fprintf(g.out, "1..%d\n", g.total)
		g.printedPlan = true
	}
	fmt.Fprintln(g.out, msg)
}

package scenario

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/tracekit/tracetest/internal/config"
	"github.com/tracekit/tracetest/internal/env"
	"github.com/tracekit/tracetest/internal/tap"
)

// RunnerOptions configures one runner invocation.
type RunnerOptions struct {
	// Out receives the TAP result stream. Defaults to stdout.
	Out io.Writer

	// Diag receives the diagnostic stream. Defaults to stderr.
	Diag io.Writer

	// Config overrides the harness configuration. Nil uses
	// config.FromEnvironment.
	Config *config.Config
}

// Run executes the given scenarios, one environment per scenario, and
// renders a single TAP report covering all of them. The returned exit
// code follows the report: 0 when every planned case passed.
func Run(ctx context.Context, scenarios []*Scenario, opts RunnerOptions) (int, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.FromEnvironment(); err != nil {
			return 0, err
		}
	}

	total := 0
	for _, s := range scenarios {
		total += s.TestCount
	}

	out, diag := opts.Out, opts.Diag
	if out == nil {
		out = os.Stdout
	}
	if diag == nil {
		diag = os.Stderr
	}
	report, err := tap.NewGenerator(total, tap.WithWriters(out, diag))
	if err != nil {
		return 0, err
	}

	for _, s := range scenarios {
		if err := runOne(ctx, s, cfg, report); err != nil {
			var bail *tap.BailOutError
			if errors.As(err, &bail) {
				return report.ExitCode(), nil
			}
			return 0, err
		}
	}

	if err := report.Finalize(); err != nil {
		var bail *tap.BailOutError
		if !errors.As(err, &bail) {
			return 0, err
		}
	}
	return report.ExitCode(), nil
}

// runOne executes a single scenario under its own environment and settles
// its slice of the plan: cases the body did not report are failed.
func runOne(ctx context.Context, s *Scenario, cfg *config.Config, report *tap.Generator) error {
	report.Diagnosticf("scenario %s: %s", s.Name, s.Description)

	if s.NeedsSessiond && len(cfg.SessiondCommand) == 0 {
		return report.SkipCount("no session daemon configured", s.TestCount)
	}

	before := report.Remaining()
	err := env.With(env.Options{
		WithSessiond: s.NeedsSessiond,
		Config:       cfg,
		Log:          report.Diagnostic,
	}, func(e *env.Environment) error {
		return s.Run(ctx, &Context{Env: e, Report: report})
	})
	if err != nil {
		report.Diagnosticf("scenario %s failed: %v", s.Name, err)
	}

	reported := before - report.Remaining()
	for missing := s.TestCount - reported; missing > 0; missing-- {
		if failErr := report.Fail(s.Name + " (not executed)"); failErr != nil {
			return failErr
		}
	}
	return nil
}

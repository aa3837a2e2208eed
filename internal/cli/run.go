package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tracekit/tracetest/internal/config"
	"github.com/tracekit/tracetest/internal/scenario"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Sessiond string // session daemon binary override
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [scenario...]",
		Short: "Run regression scenarios",
		Long: `Run the registered regression scenarios and report results as TAP.

Each scenario executes under its own scoped test environment; scenarios
that need a session daemon spawn one for their duration and are skipped
when none is configured. The TAP stream goes to stdout, diagnostics to
stderr.

Exit codes:
  0 - All planned test cases passed
  1 - One or more test cases failed
  2 - Command error (unknown scenario, invalid configuration)

Examples:
  tracetest run
  tracetest run destroy-archive-location
  tracetest run --sessiond ./stubd emitter-event-count`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Sessiond, "sessiond", "", "session daemon binary (overrides configuration)")

	return cmd
}

func runScenarios(opts *RunOptions, names []string, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	scenarios, err := scenario.Select(names)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot resolve scenarios", err)
	}

	cfg, err := config.FromEnvironment()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if opts.Sessiond != "" {
		cfg.SessiondCommand = []string{
			opts.Sessiond,
			"--rundir", config.RundirPlaceholder,
			"--socket", config.SocketPlaceholder,
		}
	}

	// Stop in-flight waits on Ctrl-C; the TAP report then fails the
	// remaining cases instead of hanging.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := scenario.Run(ctx, scenarios, scenario.RunnerOptions{
		Out:    cmd.OutOrStdout(),
		Diag:   cmd.ErrOrStderr(),
		Config: cfg,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario run aborted", err)
	}
	if code != ExitSuccess {
		return NewExitError(code, "one or more test cases failed")
	}
	return nil
}

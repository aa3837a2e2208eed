package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracekit/tracetest/internal/emitter"
	"github.com/tracekit/tracetest/internal/rendezvous"
)

// EmitOptions holds flags for the gen-events command.
type EmitOptions struct {
	Iterations          int
	WaitSeconds         float64
	FireDebugEvent      bool
	FireSecondEvent     bool
	ReadyFile           string
	GoFile              string
	PollInterval        time.Duration
	AfterFirstEventFile string
	Verbose             bool
}

// NewEmitCommand creates the gen-events root command: the test
// application that emits a configurable burst of events, optionally
// synchronized with a controller through ready/go marker files.
func NewEmitCommand() *cobra.Command {
	opts := &EmitOptions{}

	cmd := &cobra.Command{
		Use:   "gen-events",
		Short: "Emit instrumented test events",
		Long: `Emit a configurable burst of instrumented test events.

Each iteration fires one primary event, optionally accompanied by a
debug-level companion, followed by the configured wait. With
--fire-second-event one additional, distinctly named event is emitted
after the loop. Supplying --ready-file and --go-file makes the emitter
announce readiness and block until released before the first event.

Exit codes:
  0 - Events emitted
  1 - Runtime failure (stale markers, wait timeout, I/O errors)
  2 - Invalid options

Examples:
  gen-events --iter 100 --wait 0.01
  gen-events -i 3 -w 0.5 -e -r /tmp/app.ready -g /tmp/app.go`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmit(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Iterations, "iter", "i", 0, "number of primary events to emit (required)")
	cmd.Flags().Float64VarP(&opts.WaitSeconds, "wait", "w", 0, "seconds to wait after each event, fractional ok (required)")
	cmd.Flags().BoolVarP(&opts.FireDebugEvent, "fire-debug-event", "d", false, "also emit a debug-level companion event")
	cmd.Flags().BoolVarP(&opts.FireSecondEvent, "fire-second-event", "e", false, "emit one additional, distinctly named event after the loop")
	cmd.Flags().StringVarP(&opts.ReadyFile, "ready-file", "r", "", "ready marker path for the start handshake")
	cmd.Flags().StringVarP(&opts.GoFile, "go-file", "g", "", "go marker path for the start handshake")
	cmd.Flags().DurationVar(&opts.PollInterval, "poll-interval", 0, "go-marker polling cadence (default 500ms)")
	cmd.Flags().StringVar(&opts.AfterFirstEventFile, "after-first-event-file", "", "file touched once the first event has fired")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	return cmd
}

func runEmit(opts *EmitOptions, cmd *cobra.Command) error {
	// Checked by hand instead of MarkFlagRequired so that a missing flag
	// exits with the configuration-error status rather than the generic
	// failure one.
	for _, name := range []string{"iter", "wait"} {
		if !cmd.Flags().Changed(name) {
			return NewExitError(ExitCommandError, "required flag --"+name+" not set")
		}
	}

	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))

	pair, err := rendezvous.New(opts.ReadyFile, opts.GoFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid synchronization options", err)
	}
	pair.PollInterval = opts.PollInterval

	em, err := emitter.New(emitter.Config{
		Iterations:          opts.Iterations,
		Wait:                time.Duration(opts.WaitSeconds * float64(time.Second)),
		FireDebugEvent:      opts.FireDebugEvent,
		FireSecondEvent:     opts.FireSecondEvent,
		Sync:                pair,
		AfterFirstEventPath: opts.AfterFirstEventFile,
	}, nil, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid emitter options", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := em.Run(ctx); err != nil {
		var cfgErr *emitter.ConfigError
		var pairErr *rendezvous.ConfigError
		if errors.As(err, &cfgErr) || errors.As(err, &pairErr) {
			return WrapExitError(ExitCommandError, "invalid emitter options", err)
		}
		return WrapExitError(ExitFailure, "event emission failed", err)
	}
	return nil
}

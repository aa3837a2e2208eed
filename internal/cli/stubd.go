package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracekit/tracetest/internal/stubd"
)

// StubdOptions holds flags for the stubd command.
type StubdOptions struct {
	Rundir        string
	Socket        string
	RotationDelay time.Duration
	Verbose       bool
}

// NewStubdCommand creates the stubd root command: the stand-in session
// daemon used by the harness when no real one is under test.
func NewStubdCommand() *cobra.Command {
	opts := &StubdOptions{}

	cmd := &cobra.Command{
		Use:   "stubd",
		Short: "Stand-in session daemon",
		Long: `Serve the session daemon control protocol on a unix socket.

The daemon keeps its session registry under the runtime directory and
serves until interrupted. It exists so that the harness has a daemon to
drive when the real one is not the subject under test.

Examples:
  stubd --rundir /tmp/tracetest
  stubd --rundir /tmp/tracetest --socket /tmp/tracetest/s.sock --rotation-delay 50ms`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStubd(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Rundir, "rundir", "", "runtime directory (required)")
	cmd.Flags().StringVar(&opts.Socket, "socket", "", "control socket path (default <rundir>/sessiond.sock)")
	cmd.Flags().DurationVar(&opts.RotationDelay, "rotation-delay", 0, "simulated rotation duration")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	_ = cmd.MarkFlagRequired("rundir")

	return cmd
}

func runStubd(opts *StubdOptions, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))

	serverOpts := []stubd.ServerOption{stubd.WithLogger(logger)}
	if opts.Socket != "" {
		serverOpts = append(serverOpts, stubd.WithSocketPath(opts.Socket))
	}
	if opts.RotationDelay > 0 {
		serverOpts = append(serverOpts, stubd.WithRotationDelay(opts.RotationDelay))
	}

	srv, err := stubd.New(opts.Rundir, serverOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up daemon", err)
	}
	if err := srv.Start(); err != nil {
		srv.Close()
		return WrapExitError(ExitFailure, "failed to start daemon", err)
	}
	logger.Info("daemon serving", "socket", srv.SocketPath())

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	if err := srv.Close(); err != nil {
		return WrapExitError(ExitFailure, "failed to shut down cleanly", err)
	}
	return nil
}

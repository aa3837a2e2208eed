// Package env provides the scoped test environment: a private runtime
// directory, an optional session daemon bound to the environment's
// lifetime, and a client facade wired to the daemon's socket. Teardown is
// exactly-once and runs even when the test body fails.
package env

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/tracekit/tracetest/internal/config"
	"github.com/tracekit/tracetest/internal/tracing"
)

// Environment variables exported to the spawned daemon.
const (
	// RundirEnvVar carries the environment's private runtime directory.
	RundirEnvVar = "TRACETEST_RUNDIR"

	// SockEnvVar carries the control socket path the daemon must serve.
	SockEnvVar = "TRACETEST_SOCK"
)

// socketName is the control socket filename inside the rundir.
const socketName = "sessiond.sock"

// active guards against overlapping environments in one process. The
// daemon owns global resources (its socket, its rundir layout), so two
// live environments would race each other.
var active atomic.Bool

// Options configures a test environment.
type Options struct {
	// WithSessiond spawns a session daemon for the duration of the
	// environment. Without it the environment only provides the rundir.
	WithSessiond bool

	// EnableKernelDomain requires kernel-domain tracing. Construction
	// fails with a CapabilityError when the capability is unavailable
	// rather than silently downgrading.
	EnableKernelDomain bool

	// Log receives human-readable progress lines. Nil discards them.
	Log func(msg string)

	// Config overrides the harness configuration. Nil uses
	// config.FromEnvironment.
	Config *config.Config

	// kernelCheck overrides the kernel-domain availability probe in
	// tests. Nil uses the real euid check.
	kernelCheck func() bool
}

// Environment is a live test environment. It is not safe for concurrent
// use; scenarios drive it from a single goroutine.
type Environment struct {
	cfg        *config.Config
	log        func(string)
	rundir     string
	socketPath string

	cmd    *exec.Cmd
	waitCh chan error

	closeMu  sync.Mutex
	closed   bool
	closeErr error
}

// New creates an environment: it reserves the process-wide slot, checks
// capabilities, creates the rundir, and (when requested) spawns the
// session daemon and waits for it to become ready. On any failure the
// partially built environment is torn down before returning.
func New(opts Options) (*Environment, error) {
	if !active.CompareAndSwap(false, true) {
		return nil, ErrEnvironmentActive
	}

	e := &Environment{log: opts.Log}
	if e.log == nil {
		e.log = func(string) {}
	}

	if err := e.setUp(opts); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Environment) setUp(opts Options) error {
	if opts.EnableKernelDomain {
		check := opts.kernelCheck
		if check == nil {
			check = func() bool { return os.Geteuid() == 0 }
		}
		if !check() {
			return &CapabilityError{
				Capability: "kernel-domain tracing",
				Reason:     "root privileges required",
			}
		}
	}

	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.FromEnvironment(); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg

	rundir, err := os.MkdirTemp("", "tracetest-*")
	if err != nil {
		return fmt.Errorf("failed to create runtime directory: %w", err)
	}
	e.rundir = rundir
	e.socketPath = rundir + "/" + socketName
	e.logf("runtime directory %s", rundir)

	if !opts.WithSessiond {
		return nil
	}
	return e.spawnSessiond()
}

func (e *Environment) spawnSessiond() error {
	argv := e.cfg.ExpandCommand(e.rundir, e.socketPath)
	if len(argv) == 0 {
		return fmt.Errorf("no session daemon command configured; set %s or %s",
			config.ConfigPathEnvVar, config.SessiondBinEnvVar)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(),
		RundirEnvVar+"="+e.rundir,
		SockEnvVar+"="+e.socketPath,
	)
	// Keep stdout clean for the result stream; the daemon's chatter goes
	// to stderr alongside the diagnostics.
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	e.logf("launching session daemon: %s", argv[0])
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch session daemon: %w", err)
	}
	e.cmd = cmd
	e.waitCh = make(chan error, 1)
	go func() { e.waitCh <- cmd.Wait() }()

	return e.awaitReady()
}

// awaitReady polls for the daemon's control socket. The daemon signals
// readiness by creating it.
func (e *Environment) awaitReady() error {
	deadline := time.Now().Add(e.cfg.StartupTimeout())
	ticker := time.NewTicker(e.cfg.ReadyPollInterval())
	defer ticker.Stop()

	for {
		if _, err := os.Stat(e.socketPath); err == nil {
			e.logf("session daemon ready")
			return nil
		}
		select {
		case err := <-e.waitCh:
			e.waitCh = nil
			e.cmd = nil
			return fmt.Errorf("session daemon exited during startup: %w", err)
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			return &StartupTimeoutError{Timeout: e.cfg.StartupTimeout()}
		}
	}
}

// Rundir returns the environment's private runtime directory.
func (e *Environment) Rundir() string { return e.rundir }

// SocketPath returns the control socket path of the session daemon.
func (e *Environment) SocketPath() string { return e.socketPath }

// Client returns a controller facade bound to the environment's daemon.
func (e *Environment) Client() *tracing.Controller {
	return tracing.NewController(e.socketPath,
		tracing.WithLog(func(msg string) { e.logf("%s", msg) }),
		tracing.WithRotationPollInterval(e.cfg.RotationPollInterval()),
	)
}

// Close tears the environment down: terminate the daemon (SIGTERM, then
// SIGKILL after the teardown timeout), remove the rundir, and release the
// process-wide slot. It is idempotent; later calls return the first
// result.
func (e *Environment) Close() error {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	if e.closed {
		return e.closeErr
	}
	e.closed = true

	var errs []error
	if e.cmd != nil {
		errs = append(errs, e.stopSessiond())
	}
	if e.rundir != "" {
		if err := os.RemoveAll(e.rundir); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove runtime directory: %w", err))
		}
	}
	active.Store(false)

	e.closeErr = errors.Join(errs...)
	return e.closeErr
}

func (e *Environment) stopSessiond() error {
	e.logf("terminating session daemon (pid %d)", e.cmd.Process.Pid)
	if err := e.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone; reap it below.
		e.logf("SIGTERM failed: %v", err)
	}

	select {
	case <-e.waitCh:
		return nil
	case <-time.After(e.cfg.TeardownTimeout()):
	}

	e.logf("session daemon did not exit in %v, killing", e.cfg.TeardownTimeout())
	if err := e.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to kill session daemon: %w", err)
	}
	<-e.waitCh
	return nil
}

func (e *Environment) logf(format string, args ...any) {
	e.log(fmt.Sprintf(format, args...))
}

// With runs fn inside a fresh environment and guarantees teardown. A
// teardown failure is reported only when fn itself succeeded.
func With(opts Options, fn func(*Environment) error) (err error) {
	e, newErr := New(opts)
	if newErr != nil {
		return newErr
	}
	defer func() {
		if closeErr := e.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("environment teardown failed: %w", closeErr)
		}
	}()
	return fn(e)
}

// Package rendezvous implements a two-file handshake used to synchronize a
// test driver with an independently started event-generating process.
//
// The subordinate process creates the ready marker to announce it is ready,
// then blocks until the controller creates the go marker. Each marker has
// exactly one writer: the subordinate owns the ready file, the controller
// owns the go file. Existence is the entire payload; the files carry no
// content.
package rendezvous

import (
	"context"
	"fmt"
	"os"
	"time"
)

// DefaultPollInterval is the existence-check cadence for marker waits.
const DefaultPollInterval = 500 * time.Millisecond

// ConfigError indicates invalid or incomplete marker configuration, such as
// supplying only one of the two paired paths.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("rendezvous configuration: %s", e.Message)
}

// StaleMarkerError indicates that a marker file from a previous run is
// still present. Proceeding would make the handshake ambiguous, so the
// caller must clean up and retry.
type StaleMarkerError struct {
	Path string
}

func (e *StaleMarkerError) Error() string {
	return fmt.Sprintf("stale rendezvous marker: %s already exists", e.Path)
}

// WaitTimeoutError indicates that a marker wait expired before the marker
// appeared.
type WaitTimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %v waiting for marker %s", e.Timeout, e.Path)
}

// Pair holds the two marker paths of one handshake. The zero value is a
// valid, disabled pair: every operation becomes a no-op and the caller
// proceeds without synchronization.
type Pair struct {
	ReadyPath string
	GoPath    string

	// PollInterval is the existence-check cadence for waits. Zero means
	// DefaultPollInterval.
	PollInterval time.Duration

	// WaitTimeout bounds AwaitGo and AwaitReady. Zero means no timeout;
	// callers may still bound the wait through the context.
	WaitTimeout time.Duration
}

// New validates the pairing constraint and returns the resulting pair.
// Both paths must be supplied together or not at all.
func New(readyPath, goPath string) (Pair, error) {
	if (readyPath == "") != (goPath == "") {
		return Pair{}, &ConfigError{Message: "ready and go marker paths must be supplied together"}
	}
	return Pair{ReadyPath: readyPath, GoPath: goPath}, nil
}

// Enabled reports whether the handshake is configured.
func (p Pair) Enabled() bool {
	return p.ReadyPath != ""
}

// CheckPreconditions verifies that no marker survived a previous run. It
// must be called before any filesystem mutation.
func (p Pair) CheckPreconditions() error {
	if !p.Enabled() {
		return nil
	}
	for _, path := range []string{p.ReadyPath, p.GoPath} {
		if _, err := os.Stat(path); err == nil {
			return &StaleMarkerError{Path: path}
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("checking marker %s: %w", path, err)
		}
	}
	return nil
}

// SignalReady creates the ready marker. Creation is idempotent and
// truncating; the file's content has no meaning.
func (p Pair) SignalReady() error {
	if !p.Enabled() {
		return nil
	}
	f, err := os.Create(p.ReadyPath)
	if err != nil {
		return fmt.Errorf("creating ready marker: %w", err)
	}
	return f.Close()
}

// AwaitGo blocks until the controller creates the go marker, polling at the
// configured interval. Expiry of the configured timeout surfaces as a
// WaitTimeoutError; context cancellation surfaces as the context's error.
func (p Pair) AwaitGo(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return p.awaitPath(ctx, p.GoPath)
}

// Cleanup removes the ready marker. The subordinate must call it once the
// awaited work is done; a removal failure is returned, not swallowed.
func (p Pair) Cleanup() error {
	if !p.Enabled() {
		return nil
	}
	if err := os.Remove(p.ReadyPath); err != nil {
		return fmt.Errorf("removing ready marker: %w", err)
	}
	return nil
}

// AwaitReady is the controller half: it blocks until the subordinate
// creates the ready marker.
func (p Pair) AwaitReady(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return p.awaitPath(ctx, p.ReadyPath)
}

// SignalGo creates the go marker, releasing the subordinate.
func (p Pair) SignalGo() error {
	if !p.Enabled() {
		return nil
	}
	f, err := os.Create(p.GoPath)
	if err != nil {
		return fmt.Errorf("creating go marker: %w", err)
	}
	return f.Close()
}

// RemoveGo removes the go marker. The controller owns its cleanup.
func (p Pair) RemoveGo() error {
	if !p.Enabled() {
		return nil
	}
	if err := os.Remove(p.GoPath); err != nil {
		return fmt.Errorf("removing go marker: %w", err)
	}
	return nil
}

// awaitPath polls for the existence of path until it appears, the timeout
// expires or the context is cancelled.
func (p Pair) awaitPath(ctx context.Context, path string) error {
	interval := p.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	var deadline time.Time
	if p.WaitTimeout > 0 {
		deadline = time.Now().Add(p.WaitTimeout)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("checking marker %s: %w", path, err)
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return &WaitTimeoutError{Path: path, Timeout: p.WaitTimeout}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

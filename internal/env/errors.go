package env

import (
	"errors"
	"fmt"
	"time"
)

// ErrEnvironmentActive is returned when a second environment is created
// while one is already active in this process. One daemon per environment,
// one environment per process.
var ErrEnvironmentActive = errors.New("a test environment is already active in this process")

// CapabilityError indicates that a requested tracing capability is
// unavailable. It fails environment construction before any process is
// spawned; the harness never silently downgrades.
type CapabilityError struct {
	Capability string
	Reason     string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %s unavailable: %s", e.Capability, e.Reason)
}

// StartupTimeoutError indicates the daemon did not become ready in time.
// It is fatal to the scope; teardown is still attempted.
type StartupTimeoutError struct {
	Timeout time.Duration
}

func (e *StartupTimeoutError) Error() string {
	return fmt.Sprintf("session daemon did not become ready within %v", e.Timeout)
}

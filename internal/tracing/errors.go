package tracing

import "fmt"

// DaemonError indicates that the session daemon rejected a requested
// operation. Code carries the daemon's machine-readable error code.
type DaemonError struct {
	Command string
	Code    string
	Message string
}

func (e *DaemonError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("daemon rejected %s: %s: %s", e.Command, e.Code, e.Message)
	}
	return fmt.Sprintf("daemon rejected %s: %s", e.Command, e.Message)
}

// StateError indicates an operation issued against a session in an invalid
// state, such as destroying a session twice.
type StateError struct {
	Session   string
	Operation string
	State     SessionState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("session %s: cannot %s in state %s", e.Session, e.Operation, e.State)
}

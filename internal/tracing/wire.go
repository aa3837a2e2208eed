package tracing

// Wire types for the request/response exchange with the session daemon.
// The exchange is one JSON document each way per connection; the harness
// treats the daemon as a black box and only reads the decoded result.

// Commands understood by the daemon.
const (
	CommandPing          = "ping"
	CommandCreate        = "create"
	CommandStart         = "start"
	CommandStop          = "stop"
	CommandRotate        = "rotate"
	CommandRotationState = "rotation-state"
	CommandDestroy       = "destroy"
	CommandList          = "list"
)

// Rotation states reported by the daemon.
const (
	RotationNone      = "none"
	RotationOngoing   = "ongoing"
	RotationCompleted = "completed"
)

// Daemon error codes.
const (
	CodeSessionExists   = "E_EXIST"
	CodeSessionNotFound = "E_NOT_FOUND"
	CodeInvalidCommand  = "E_INVALID"
)

// Request is one command sent to the daemon.
type Request struct {
	Command     string `json:"command"`
	SessionName string `json:"session_name,omitempty"`
}

// Response is the daemon's reply. Status is "ok" or "error"; on error, Code
// and Message describe the rejection. The machine-interface fields
// (ArchiveLocation, RotationState, Sessions) are populated per command.
type Response struct {
	Status          string        `json:"status"`
	Code            string        `json:"code,omitempty"`
	Message         string        `json:"message,omitempty"`
	SessionName     string        `json:"session_name,omitempty"`
	RotationState   string        `json:"rotation_state,omitempty"`
	ArchiveLocation string        `json:"archive_location,omitempty"`
	Sessions        []SessionInfo `json:"sessions,omitempty"`
}

// SessionInfo describes one live session in a list reply.
type SessionInfo struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

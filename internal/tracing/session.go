package tracing

import (
	"context"
	"fmt"
	"time"
)

// SessionState tracks a session through its lifecycle. Destruction is
// terminal; no operation is valid afterwards.
type SessionState string

const (
	SessionCreated   SessionState = "created"
	SessionRotating  SessionState = "rotating"
	SessionDestroyed SessionState = "destroyed"
)

// Session is a named, stateful unit of trace collection owned by a
// Controller. It is driven from a single control flow and is not safe for
// concurrent use.
type Session struct {
	ctl               *Controller
	name              string
	state             SessionState
	rotationCompleted bool
}

// Name returns the session's daemon-visible name.
func (s *Session) Name() string {
	return s.name
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	return s.state
}

func (s *Session) ensureLive(op string) error {
	if s.state == SessionDestroyed {
		return &StateError{Session: s.name, Operation: op, State: s.state}
	}
	return nil
}

// Start activates tracing for the session.
func (s *Session) Start() error {
	if err := s.ensureLive("start"); err != nil {
		return err
	}
	_, err := s.ctl.roundTrip(Request{Command: CommandStart, SessionName: s.name})
	return err
}

// Stop deactivates tracing for the session.
func (s *Session) Stop() error {
	if err := s.ensureLive("stop"); err != nil {
		return err
	}
	_, err := s.ctl.roundTrip(Request{Command: CommandStop, SessionName: s.name})
	return err
}

// Rotate requests a trace archive rotation. The request is asynchronous
// relative to completion; callers must observe completion through
// AwaitRotationCompletion before relying on rotation metadata.
func (s *Session) Rotate() error {
	if err := s.ensureLive("rotate"); err != nil {
		return err
	}
	if _, err := s.ctl.roundTrip(Request{Command: CommandRotate, SessionName: s.name}); err != nil {
		return err
	}
	s.state = SessionRotating
	return nil
}

// RotationState queries the daemon for the session's rotation progress.
func (s *Session) RotationState() (string, error) {
	if err := s.ensureLive("query rotation"); err != nil {
		return "", err
	}
	resp, err := s.ctl.roundTrip(Request{Command: CommandRotationState, SessionName: s.name})
	if err != nil {
		return "", err
	}
	return resp.RotationState, nil
}

// AwaitRotationCompletion polls the daemon until the pending rotation
// completes. On success the session returns to the created state with a
// rotation-complete marker recorded.
func (s *Session) AwaitRotationCompletion(ctx context.Context) error {
	if err := s.ensureLive("await rotation"); err != nil {
		return err
	}
	if s.state != SessionRotating {
		return &StateError{Session: s.name, Operation: "await rotation", State: s.state}
	}

	ticker := time.NewTicker(s.ctl.rotationPoll)
	defer ticker.Stop()

	for {
		state, err := s.RotationState()
		if err != nil {
			return err
		}
		switch state {
		case RotationCompleted:
			s.state = SessionCreated
			s.rotationCompleted = true
			return nil
		case RotationOngoing:
		default:
			return fmt.Errorf("unexpected rotation state %q for session %s", state, s.name)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DestroyResult is the machine-interface output of a destroy operation.
// ArchiveLocation is the trace archive's final location; it is non-empty
// iff a rotation had completed prior to destruction.
type DestroyResult struct {
	ArchiveLocation string
}

// Destroy requests the session's destruction. Destruction is terminal:
// calling Destroy twice, or any operation afterwards, fails with a
// StateError.
func (s *Session) Destroy() (DestroyResult, error) {
	if err := s.ensureLive("destroy"); err != nil {
		return DestroyResult{}, err
	}

	resp, err := s.ctl.roundTrip(Request{Command: CommandDestroy, SessionName: s.name})
	if err != nil {
		return DestroyResult{}, err
	}

	s.state = SessionDestroyed
	return DestroyResult{ArchiveLocation: resp.ArchiveLocation}, nil
}

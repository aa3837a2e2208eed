// Package tracing exposes session lifecycle operations against a running
// session daemon. The daemon is an external collaborator reached over a
// unix socket; this package only observes its externally visible outcomes.
package tracing

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultRotationPoll = 50 * time.Millisecond
)

// Controller is a client bound to one daemon instance.
type Controller struct {
	socketPath   string
	dialTimeout  time.Duration
	rotationPoll time.Duration
	log          func(string)
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithLog installs a diagnostic sink; command traffic is reported there.
func WithLog(log func(string)) ControllerOption {
	return func(c *Controller) {
		c.log = log
	}
}

// WithDialTimeout bounds connection establishment to the daemon.
func WithDialTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		c.dialTimeout = d
	}
}

// WithRotationPollInterval sets the cadence used when awaiting rotation
// completion.
func WithRotationPollInterval(d time.Duration) ControllerOption {
	return func(c *Controller) {
		c.rotationPoll = d
	}
}

// NewController creates a client for the daemon listening on socketPath.
func NewController(socketPath string, opts ...ControllerOption) *Controller {
	c := &Controller{
		socketPath:   socketPath,
		dialTimeout:  defaultDialTimeout,
		rotationPoll: defaultRotationPoll,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) logf(format string, args ...any) {
	if c.log != nil {
		c.log(fmt.Sprintf(format, args...))
	}
}

// roundTrip sends one request and decodes the reply. A non-ok status is
// surfaced as a DaemonError.
func (c *Controller) roundTrip(req Request) (Response, error) {
	c.logf("sessiond <- %s %s", req.Command, req.SessionName)

	conn, err := net.DialTimeout("unix", c.socketPath, c.dialTimeout)
	if err != nil {
		return Response{}, fmt.Errorf("connecting to session daemon: %w", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("sending %s command: %w", req.Command, err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("decoding %s reply: %w", req.Command, err)
	}

	if resp.Status != "ok" {
		return Response{}, &DaemonError{
			Command: req.Command,
			Code:    resp.Code,
			Message: resp.Message,
		}
	}
	return resp, nil
}

// Ping verifies that the daemon accepts commands.
func (c *Controller) Ping() error {
	_, err := c.roundTrip(Request{Command: CommandPing})
	return err
}

// CreateSession asks the daemon to create a session. An empty name requests
// a generated one. The returned session is live and owned by the caller
// until destroyed.
func (c *Controller) CreateSession(name string) (*Session, error) {
	if name == "" {
		name = generateSessionName()
	}

	resp, err := c.roundTrip(Request{Command: CommandCreate, SessionName: name})
	if err != nil {
		return nil, err
	}
	if resp.SessionName != "" {
		name = resp.SessionName
	}

	return &Session{ctl: c, name: name, state: SessionCreated}, nil
}

// ListSessions returns the daemon's live sessions.
func (c *Controller) ListSessions() ([]SessionInfo, error) {
	resp, err := c.roundTrip(Request{Command: CommandList})
	if err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// generateSessionName produces a unique caller-side session name.
func generateSessionName() string {
	return "session-" + uuid.NewString()[:8]
}

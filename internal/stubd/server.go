// Package stubd is a stand-in session daemon for the regression harness.
//
// It implements only the externally visible surface the harness asserts on:
// session lifecycle commands over a unix socket, asynchronous rotation that
// materializes an archive directory, and a destroy reply that reports the
// archive location once a rotation has completed. It does not model a real
// tracing daemon.
package stubd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tracekit/tracetest/internal/tracing"
)

const (
	// DefaultSocketName is the socket file created under the rundir when
	// no explicit socket path is configured.
	DefaultSocketName = "sessiond.sock"

	defaultRotationDelay = 20 * time.Millisecond
)

// Server is one stub daemon instance.
type Server struct {
	rundir        string
	socketPath    string
	rotationDelay time.Duration
	log           *slog.Logger

	registry *Registry
	listener net.Listener

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithSocketPath overrides the socket location.
func WithSocketPath(path string) ServerOption {
	return func(s *Server) {
		s.socketPath = path
	}
}

// WithRotationDelay sets how long a rotation stays ongoing before the
// archive is materialized.
func WithRotationDelay(d time.Duration) ServerOption {
	return func(s *Server) {
		s.rotationDelay = d
	}
}

// WithLogger installs the server's logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.log = logger
	}
}

// New prepares a server rooted at rundir: the session registry, archive
// directories and (by default) the listening socket all live there.
func New(rundir string, opts ...ServerOption) (*Server, error) {
	s := &Server{
		rundir:        rundir,
		socketPath:    filepath.Join(rundir, DefaultSocketName),
		rotationDelay: defaultRotationDelay,
		log:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(rundir, 0o755); err != nil {
		return nil, fmt.Errorf("creating rundir: %w", err)
	}

	registry, err := OpenRegistry(filepath.Join(rundir, "sessions.db"))
	if err != nil {
		return nil, err
	}
	s.registry = registry
	return s, nil
}

// SocketPath returns the socket clients should connect to.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Start binds the socket and begins accepting commands.
func (s *Server) Start() error {
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		s.registry.Close()
		return fmt.Errorf("binding daemon socket: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Info("session daemon listening", "socket", s.socketPath)
	return nil
}

// Close stops accepting, waits for in-flight handlers and rotation timers,
// and releases the registry.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.wg.Wait()
	if err := s.registry.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Listener closed during shutdown.
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	var req tracing.Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.log.Warn("malformed request", "error", err)
		s.reply(conn, errorResponse(tracing.CodeInvalidCommand, "malformed request"))
		return
	}

	s.log.Debug("command received", "command", req.Command, "session", req.SessionName)
	s.reply(conn, s.dispatch(req))
}

func (s *Server) reply(conn net.Conn, resp tracing.Response) {
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.Warn("failed to send reply", "error", err)
	}
}

func (s *Server) dispatch(req tracing.Request) tracing.Response {
	switch req.Command {
	case tracing.CommandPing:
		return okResponse()
	case tracing.CommandCreate:
		return s.handleCreate(req)
	case tracing.CommandStart:
		return s.handleSetActive(req, true)
	case tracing.CommandStop:
		return s.handleSetActive(req, false)
	case tracing.CommandRotate:
		return s.handleRotate(req)
	case tracing.CommandRotationState:
		return s.handleRotationState(req)
	case tracing.CommandDestroy:
		return s.handleDestroy(req)
	case tracing.CommandList:
		return s.handleList()
	default:
		return errorResponse(tracing.CodeInvalidCommand, fmt.Sprintf("unknown command %q", req.Command))
	}
}

func (s *Server) handleCreate(req tracing.Request) tracing.Response {
	if req.SessionName == "" {
		return errorResponse(tracing.CodeInvalidCommand, "session name is required")
	}
	if err := s.registry.Create(req.SessionName); err != nil {
		if errors.Is(err, ErrSessionExists) {
			return errorResponse(tracing.CodeSessionExists,
				fmt.Sprintf("session %q already exists", req.SessionName))
		}
		return errorResponse(tracing.CodeInvalidCommand, err.Error())
	}
	resp := okResponse()
	resp.SessionName = req.SessionName
	return resp
}

func (s *Server) handleSetActive(req tracing.Request, active bool) tracing.Response {
	if err := s.registry.SetActive(req.SessionName, active); err != nil {
		return s.registryError(req.SessionName, err)
	}
	return okResponse()
}

func (s *Server) handleRotate(req tracing.Request) tracing.Response {
	if err := s.registry.SetRotation(req.SessionName, tracing.RotationOngoing, ""); err != nil {
		return s.registryError(req.SessionName, err)
	}

	// Rotation completes asynchronously: after the configured delay the
	// archive directory is materialized and recorded. If the session was
	// destroyed in the meantime, the update hits no row and is dropped.
	s.wg.Add(1)
	go func(name string) {
		defer s.wg.Done()
		time.Sleep(s.rotationDelay)

		archive := filepath.Join(s.rundir, "archives",
			fmt.Sprintf("%s-%d", name, time.Now().UnixNano()))
		if err := os.MkdirAll(archive, 0o755); err != nil {
			s.log.Warn("failed to materialize archive", "session", name, "error", err)
			return
		}
		if err := s.registry.SetRotation(name, tracing.RotationCompleted, archive); err != nil {
			s.log.Debug("rotation completion dropped", "session", name, "error", err)
		}
	}(req.SessionName)

	return okResponse()
}

func (s *Server) handleRotationState(req tracing.Request) tracing.Response {
	row, err := s.registry.Get(req.SessionName)
	if err != nil {
		return s.registryError(req.SessionName, err)
	}
	resp := okResponse()
	resp.RotationState = row.RotationState
	return resp
}

func (s *Server) handleDestroy(req tracing.Request) tracing.Response {
	row, err := s.registry.Get(req.SessionName)
	if err != nil {
		return s.registryError(req.SessionName, err)
	}
	if err := s.registry.Delete(req.SessionName); err != nil {
		return s.registryError(req.SessionName, err)
	}

	resp := okResponse()
	if row.RotationState == tracing.RotationCompleted {
		resp.ArchiveLocation = row.ArchivePath
	}
	return resp
}

func (s *Server) handleList() tracing.Response {
	rows, err := s.registry.List()
	if err != nil {
		return errorResponse(tracing.CodeInvalidCommand, err.Error())
	}
	resp := okResponse()
	resp.Sessions = make([]tracing.SessionInfo, 0, len(rows))
	for _, row := range rows {
		resp.Sessions = append(resp.Sessions, tracing.SessionInfo{
			Name:   row.Name,
			Active: row.Active,
		})
	}
	return resp
}

func (s *Server) registryError(name string, err error) tracing.Response {
	if errors.Is(err, ErrSessionNotFound) {
		return errorResponse(tracing.CodeSessionNotFound, fmt.Sprintf("session %q not found", name))
	}
	return errorResponse(tracing.CodeInvalidCommand, err.Error())
}

func okResponse() tracing.Response {
	return tracing.Response{Status: "ok"}
}

func errorResponse(code, message string) tracing.Response {
	return tracing.Response{Status: "error", Code: code, Message: message}
}

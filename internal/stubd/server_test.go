package stubd

import (
	"encoding/json"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracekit/tracetest/internal/tracing"
)

func startTestServer(t *testing.T) *Server {
	t.Helper()
	// Unix socket paths are length-limited; keep the rundir short.
	rundir, err := os.MkdirTemp("", "stubd-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(rundir) })

	srv, err := New(rundir, WithRotationDelay(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Close() })
	return srv
}

// rawCommand drives the server over the wire without the client facade.
func rawCommand(t *testing.T, srv *Server, req tracing.Request) tracing.Response {
	t.Helper()

	conn, err := net.Dial("unix", srv.SocketPath())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, json.NewEncoder(conn).Encode(req))
	var resp tracing.Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	return resp
}

func TestServer_Ping(t *testing.T) {
	srv := startTestServer(t)

	resp := rawCommand(t, srv, tracing.Request{Command: tracing.CommandPing})
	assert.Equal(t, "ok", resp.Status)
}

func TestServer_UnknownCommand(t *testing.T) {
	srv := startTestServer(t)

	resp := rawCommand(t, srv, tracing.Request{Command: "frobnicate"})
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, tracing.CodeInvalidCommand, resp.Code)
}

func TestServer_CreateRequiresName(t *testing.T) {
	srv := startTestServer(t)

	resp := rawCommand(t, srv, tracing.Request{Command: tracing.CommandCreate})
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, tracing.CodeInvalidCommand, resp.Code)
}

func TestServer_CreateCollision(t *testing.T) {
	srv := startTestServer(t)

	resp := rawCommand(t, srv, tracing.Request{Command: tracing.CommandCreate, SessionName: "s1"})
	require.Equal(t, "ok", resp.Status)
	assert.Equal(t, "s1", resp.SessionName)

	resp = rawCommand(t, srv, tracing.Request{Command: tracing.CommandCreate, SessionName: "s1"})
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, tracing.CodeSessionExists, resp.Code)
}

func TestServer_OperationsOnMissingSession(t *testing.T) {
	srv := startTestServer(t)

	for _, command := range []string{
		tracing.CommandStart,
		tracing.CommandStop,
		tracing.CommandRotate,
		tracing.CommandRotationState,
		tracing.CommandDestroy,
	} {
		resp := rawCommand(t, srv, tracing.Request{Command: command, SessionName: "ghost"})
		assert.Equal(t, "error", resp.Status, "command %s", command)
		assert.Equal(t, tracing.CodeSessionNotFound, resp.Code, "command %s", command)
	}
}

func TestServer_RotationCompletesAsynchronously(t *testing.T) {
	srv := startTestServer(t)

	resp := rawCommand(t, srv, tracing.Request{Command: tracing.CommandCreate, SessionName: "s1"})
	require.Equal(t, "ok", resp.Status)

	resp = rawCommand(t, srv, tracing.Request{Command: tracing.CommandRotate, SessionName: "s1"})
	require.Equal(t, "ok", resp.Status)

	// The rotation must eventually report completion.
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp = rawCommand(t, srv, tracing.Request{Command: tracing.CommandRotationState, SessionName: "s1"})
		require.Equal(t, "ok", resp.Status)
		if resp.RotationState == tracing.RotationCompleted {
			break
		}
		require.Equal(t, tracing.RotationOngoing, resp.RotationState)
		if time.Now().After(deadline) {
			t.Fatal("rotation never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_DestroyReportsArchiveAfterRotation(t *testing.T) {
	srv := startTestServer(t)

	rawCommand(t, srv, tracing.Request{Command: tracing.CommandCreate, SessionName: "s1"})
	rawCommand(t, srv, tracing.Request{Command: tracing.CommandRotate, SessionName: "s1"})

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp := rawCommand(t, srv, tracing.Request{Command: tracing.CommandRotationState, SessionName: "s1"})
		if resp.RotationState == tracing.RotationCompleted {
			break
		}
		require.False(t, time.Now().After(deadline), "rotation never completed")
		time.Sleep(5 * time.Millisecond)
	}

	resp := rawCommand(t, srv, tracing.Request{Command: tracing.CommandDestroy, SessionName: "s1"})
	require.Equal(t, "ok", resp.Status)
	require.NotEmpty(t, resp.ArchiveLocation)

	// The archive directory exists on disk.
	info, err := os.Stat(resp.ArchiveLocation)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestServer_DestroyWithoutRotationHasNoArchive(t *testing.T) {
	srv := startTestServer(t)

	rawCommand(t, srv, tracing.Request{Command: tracing.CommandCreate, SessionName: "s1"})
	resp := rawCommand(t, srv, tracing.Request{Command: tracing.CommandDestroy, SessionName: "s1"})
	require.Equal(t, "ok", resp.Status)
	assert.Empty(t, resp.ArchiveLocation)
}

func TestServer_List(t *testing.T) {
	srv := startTestServer(t)

	rawCommand(t, srv, tracing.Request{Command: tracing.CommandCreate, SessionName: "b"})
	rawCommand(t, srv, tracing.Request{Command: tracing.CommandCreate, SessionName: "a"})
	rawCommand(t, srv, tracing.Request{Command: tracing.CommandStart, SessionName: "a"})

	resp := rawCommand(t, srv, tracing.Request{Command: tracing.CommandList})
	require.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Sessions, 2)
	assert.Equal(t, tracing.SessionInfo{Name: "a", Active: true}, resp.Sessions[0])
	assert.Equal(t, tracing.SessionInfo{Name: "b", Active: false}, resp.Sessions[1])
}

func TestServer_CloseIsIdempotent(t *testing.T) {
	srv := startTestServer(t)

	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())
}

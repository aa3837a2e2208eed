package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitCommand_RequiresIterAndWait(t *testing.T) {
	_, _, err := execute(t, NewEmitCommand())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = execute(t, NewEmitCommand(), "--iter", "3")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestEmitCommand_RejectsNegativeIterations(t *testing.T) {
	_, _, err := execute(t, NewEmitCommand(), "--iter", "-1", "--wait", "0")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestEmitCommand_RejectsUnpairedMarkers(t *testing.T) {
	_, _, err := execute(t, NewEmitCommand(),
		"--iter", "1", "--wait", "0", "--ready-file", "/tmp/only-ready")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestEmitCommand_EmitsEvents(t *testing.T) {
	_, errOut, err := execute(t, NewEmitCommand(), "--iter", "2", "--wait", "0", "-e")

	require.NoError(t, err)
	assert.Contains(t, errOut, "tracetest-ev-test1")
	assert.Contains(t, errOut, "tracetest-ev-test2")
}

func TestEmitCommand_StaleMarkerIsRuntimeFailure(t *testing.T) {
	dir := t.TempDir()
	ready := filepath.Join(dir, "app.ready")
	goFile := filepath.Join(dir, "app.go")
	require.NoError(t, os.WriteFile(ready, nil, 0644))

	_, _, err := execute(t, NewEmitCommand(),
		"--iter", "1", "--wait", "0", "-r", ready, "-g", goFile)

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestEmitCommand_HandshakeRun(t *testing.T) {
	dir := t.TempDir()
	ready := filepath.Join(dir, "app.ready")
	goFile := filepath.Join(dir, "app.go")

	// Release the emitter once it announces readiness.
	go func() {
		for {
			if _, err := os.Stat(ready); err == nil {
				os.WriteFile(goFile, nil, 0644)
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()

	_, _, err := execute(t, NewEmitCommand(),
		"--iter", "1", "--wait", "0",
		"-r", ready, "-g", goFile,
		"--poll-interval", "5ms")

	require.NoError(t, err)
	// The emitter removed its ready marker on the way out.
	assert.NoFileExists(t, ready)
}

package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracekit/tracetest/internal/config"
)

// clearHarnessEnv keeps the ambient configuration out of the tests.
func clearHarnessEnv(t *testing.T) {
	t.Helper()
	t.Setenv(config.ConfigPathEnvVar, "")
	t.Setenv(config.SessiondBinEnvVar, "")
	t.Setenv("TRACETEST_TAP_AUTOTIME", "0")
}

func TestRunCommand_UnknownScenario(t *testing.T) {
	clearHarnessEnv(t)

	_, _, err := execute(t, NewRootCommand(), "run", "no-such-scenario")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunCommand_EmitterScenario(t *testing.T) {
	clearHarnessEnv(t)

	out, errOut, err := execute(t, NewRootCommand(), "run", "emitter-event-count")

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "1..3\n"), "output: %s", out)
	assert.Contains(t, out, "ok 3 - final event uses the distinct name")
	assert.Contains(t, errOut, "# scenario emitter-event-count")
}

func TestRunCommand_SkipsDaemonScenariosWithoutConfiguration(t *testing.T) {
	clearHarnessEnv(t)

	out, _, err := execute(t, NewRootCommand(), "run")

	require.NoError(t, err)
	assert.Contains(t, out, "# Skip: no session daemon configured")
	assert.NotContains(t, out, "not ok")
}

func TestListCommand_Text(t *testing.T) {
	out, _, err := execute(t, NewRootCommand(), "list")

	require.NoError(t, err)
	assert.Contains(t, out, "destroy-no-rotation")
	assert.Contains(t, out, "destroy-archive-location")
	assert.Contains(t, out, "emitter-event-count")
}

func TestListCommand_JSON(t *testing.T) {
	out, _, err := execute(t, NewRootCommand(), "list", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   []ScenarioInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 3)
}

package scenario

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracekit/tracetest/internal/config"
)

func runScenarios(t *testing.T, scenarios []*Scenario, cfg *config.Config) (int, string, string) {
	t.Helper()
	t.Setenv("TRACETEST_TAP_AUTOTIME", "0")

	var out, diag bytes.Buffer
	code, err := Run(context.Background(), scenarios, RunnerOptions{
		Out:    &out,
		Diag:   &diag,
		Config: cfg,
	})
	require.NoError(t, err)
	return code, out.String(), diag.String()
}

func TestSelect(t *testing.T) {
	all, err := Select(nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Sorted by name.
	assert.Equal(t, "destroy-archive-location", all[0].Name)
	assert.Equal(t, "destroy-no-rotation", all[1].Name)
	assert.Equal(t, "emitter-event-count", all[2].Name)

	named, err := Select([]string{"emitter-event-count"})
	require.NoError(t, err)
	require.Len(t, named, 1)
	assert.Equal(t, "emitter-event-count", named[0].Name)

	_, err = Select([]string{"no-such-scenario"})
	require.Error(t, err)
}

func TestRun_SkipsDaemonScenariosWithoutCommand(t *testing.T) {
	all, err := Select(nil)
	require.NoError(t, err)

	code, out, _ := runScenarios(t, all, config.Default())

	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(out, "1..12\n"), "output: %s", out)
	assert.Contains(t, out, "# Skip: no session daemon configured")
	assert.NotContains(t, out, "not ok")
}

func TestRun_EmitterScenarioPasses(t *testing.T) {
	s, ok := Lookup("emitter-event-count")
	require.True(t, ok)

	code, out, _ := runScenarios(t, []*Scenario{s}, config.Default())

	assert.Equal(t, 0, code)
	assert.Contains(t, out, "1..3\n")
	assert.Contains(t, out, "ok 1 - emitter fires configured event count")
	assert.Contains(t, out, "ok 2 - primary events precede the final event")
	assert.Contains(t, out, "ok 3 - final event uses the distinct name")
}

func TestRun_FailsCasesTheBodyNeverReported(t *testing.T) {
	broken := &Scenario{
		Name:        "broken",
		Description: "reports one of two cases, then aborts",
		TestCount:   2,
		Run: func(ctx context.Context, sc *Context) error {
			sc.Report.Case("first step", func() error { return nil })
			return fmt.Errorf("environment collapsed")
		},
	}

	code, out, diag := runScenarios(t, []*Scenario{broken}, config.Default())

	assert.Equal(t, 1, code)
	assert.Contains(t, out, "ok 1 - first step")
	assert.Contains(t, out, "not ok 2 - broken (not executed)")
	assert.Contains(t, diag, "environment collapsed")
}

func TestRun_DiagnosticsStayOffTheResultStream(t *testing.T) {
	s, ok := Lookup("emitter-event-count")
	require.True(t, ok)

	_, out, diag := runScenarios(t, []*Scenario{s}, config.Default())

	assert.NotContains(t, out, "# scenario")
	assert.Contains(t, diag, "# scenario emitter-event-count")
}

// The daemon-backed scenarios only run when a session daemon binary is
// supplied, keeping the suite self-contained everywhere else.
func TestRun_DaemonScenariosEndToEnd(t *testing.T) {
	if os.Getenv(config.SessiondBinEnvVar) == "" {
		t.Skipf("%s not set", config.SessiondBinEnvVar)
	}
	cfg, err := config.FromEnvironment()
	require.NoError(t, err)

	all, errSelect := Select([]string{"destroy-no-rotation", "destroy-archive-location"})
	require.NoError(t, errSelect)

	code, out, diag := runScenarios(t, all, cfg)

	assert.Equal(t, 0, code, "output:\n%s\ndiagnostics:\n%s", out, diag)
	assert.Contains(t, out, "ok 9 - destroy reports archive location")
}

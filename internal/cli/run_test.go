package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ambient/internal/journal"
)

func TestRunMissingArgs(t *testing.T) {
	_, _, err := execute(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}

func TestRunNonExistentScenario(t *testing.T) {
	out, _, err := execute(t, "run", "/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E002]")
}

func TestRunTextOutput(t *testing.T) {
	out, _, err := execute(t, "run", filepath.Join(scenarioDir, "isolation.yaml"))
	require.NoError(t, err)

	assert.Contains(t, out, "== isolation")
	assert.Contains(t, out, "B expect id = \"B\"")
	assert.Contains(t, out, "PASS isolation (10ms)")
	assert.NotContains(t, out, "Metrics:")
}

func TestRunJSONOutput(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "run",
		filepath.Join(scenarioDir, "round_trip.yaml"),
		filepath.Join(scenarioDir, "timeout.yaml"),
	)
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Scenarios, 2)
	assert.Equal(t, "round_trip", resp.Data.Scenarios[0].Name)
	assert.True(t, resp.Data.Scenarios[0].Pass)
	assert.NotEmpty(t, resp.Data.Scenarios[0].Trace)
	assert.Equal(t, int64(25), resp.Data.Scenarios[1].ElapsedMS)
	assert.Nil(t, resp.Data.Metrics)
}

func TestRunFailingScenario(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "failing.yaml", failingScenario)

	out, _, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL failing")
	assert.Contains(t, out, `expected 1, got missing`)
}

func TestRunWithMetrics(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "ok.yaml", passingScenario)

	out, _, err := execute(t, "run", "--metrics", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Metrics:")
	assert.Contains(t, out, "scopes started:     1")
	assert.Contains(t, out, "cancel callbacks:   1 (0 failed)")
}

func TestRunWithJournal(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "ok.yaml", passingScenario)
	db := filepath.Join(dir, "journal.db")

	_, _, err := execute(t, "run", "--db", db, path)
	require.NoError(t, err)

	j, err := journal.Open(db)
	require.NoError(t, err)
	defer j.Close()

	entries, err := j.Entries(t.Context(), journal.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, journal.KindStarted, entries[0].Kind)
	assert.Equal(t, "ok-1", entries[0].ScopeID, "scope IDs are prefixed with the scenario name")
	assert.Equal(t, journal.KindCancelled, entries[1].Kind)
	assert.Equal(t, 1, entries[1].Callbacks)
	assert.Equal(t, journal.KindEnded, entries[2].Kind)
}

func TestRunHelpText(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	assert.Contains(t, cmd.Long, "Exit codes")
	assert.Contains(t, cmd.Long, "--db")
}

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/factrule/internal/store"
)

// seedDatabase records one finished balance run, run-1, and returns the
// database path.
func seedDatabase(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "facts.db")
	_, err := executeRun(t, "text", "run-1", balanceRulesDir, "--facts", balanceFactsFile, "--db", dbPath)
	require.NoError(t, err)
	return dbPath
}

// addDanglingRun records a run that was begun but never finished.
func addDanglingRun(t *testing.T, dbPath, id string) {
	t.Helper()
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.BeginRun(context.Background(), store.Run{ID: id, RuleSet: "balance", RuleSetHash: "h", Rules: 4}))
}

func executeRuns(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRunsCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRunsList(t *testing.T) {
	dbPath := seedDatabase(t)

	out, err := executeRuns(t, "text", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Runs: 1")
	assert.Contains(t, out, "✓ run-1  balance  finished")
	assert.Contains(t, out, "Results: 6 from 4 rule(s)")
	assert.Contains(t, out, "✓ All runs complete")
}

func TestRunsIncomplete(t *testing.T) {
	dbPath := seedDatabase(t)
	addDanglingRun(t, dbPath, "run-2")

	t.Run("listing", func(t *testing.T) {
		out, err := executeRuns(t, "json", "--db", dbPath)
		require.NoError(t, err)

		var resp struct {
			Status string     `json:"status"`
			Data   RunsResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, 2, resp.Data.TotalRuns)
		assert.False(t, resp.Data.AllComplete)
		require.Len(t, resp.Data.Runs, 2)
		assert.Equal(t, "run-1", resp.Data.Runs[0].ID)
		assert.True(t, resp.Data.Runs[0].IsComplete)
		assert.Equal(t, 6, resp.Data.Runs[0].Stored)
		assert.Equal(t, "run-2", resp.Data.Runs[1].ID)
		assert.Equal(t, store.RunRunning, resp.Data.Runs[1].Status)
		assert.False(t, resp.Data.Runs[1].IsComplete)
	})

	t.Run("only incomplete", func(t *testing.T) {
		out, err := executeRuns(t, "text", "--db", dbPath, "--incomplete")
		require.NoError(t, err)
		assert.Contains(t, out, "Runs: 1")
		assert.Contains(t, out, "✗ run-2  balance  running")
		assert.NotContains(t, out, "run-1")
		assert.Contains(t, out, "✗ Incomplete runs found")
	})

	t.Run("check", func(t *testing.T) {
		out, err := executeRuns(t, "json", "--db", dbPath, "--check")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))

		var response CLIResponse
		require.NoError(t, json.Unmarshal([]byte(out), &response))
		assert.Equal(t, "error", response.Status)
		require.NotNil(t, response.Error)
		assert.Equal(t, "E_INCOMPLETE", response.Error.Code)
	})
}

func TestRunsEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "facts.db")
	_, err := executeLoad(t, "text", balanceFactsFile, "--db", dbPath)
	require.NoError(t, err)

	out, err := executeRuns(t, "text", "--db", dbPath, "--check")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs found in database.")
}

func TestRunsDatabaseNotFound(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.db")

	_, err := executeRuns(t, "text", "--db", missing)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
	assert.NoFileExists(t, missing)
}

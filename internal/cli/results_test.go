package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/factrule/internal/store"
)

func executeResults(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewResultsCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

type resultsResponse struct {
	Status  string        `json:"status"`
	Data    ResultsOutput `json:"data"`
	TraceID string        `json:"trace_id"`
}

func TestResultsLatestRun(t *testing.T) {
	dbPath := seedDatabase(t)

	out, err := executeResults(t, "text", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Results for Run: run-1")
	assert.Contains(t, out, "Rule set: balance")
	assert.Contains(t, out, "Status: finished (complete)")
	assert.Contains(t, out, "[info] net-assets: net assets at ")
	assert.Contains(t, out, "[info] half-assets: half of 50")
	assert.Contains(t, out, "=== Stats ===")
	assert.Contains(t, out, "  warning: 2")
}

func TestResultsFilters(t *testing.T) {
	dbPath := seedDatabase(t)

	tests := []struct {
		name  string
		args  []string
		rules []string
	}{
		{"all", nil, []string{"net-assets", "net-assets", "large-assets", "large-assets", "total-assets", "half-assets"}},
		{"by rule", []string{"--rule", "net-assets"}, []string{"net-assets", "net-assets"}},
		{"by severity", []string{"--severity", "warning"}, []string{"large-assets", "large-assets"}},
		{"no match", []string{"--rule", "nope"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--db", dbPath, "--run", "run-1"}, tt.args...)
			out, err := executeResults(t, "json", args...)
			require.NoError(t, err)

			var resp resultsResponse
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Equal(t, "run-1", resp.TraceID)

			rules := []string{}
			for _, v := range resp.Data.Results {
				rules = append(rules, v.Rule)
			}
			assert.Equal(t, tt.rules, rules)
		})
	}
}

func TestResultsWithFacts(t *testing.T) {
	dbPath := seedDatabase(t)

	out, err := executeResults(t, "json", "--db", dbPath, "--rule", "half-assets", "--facts")
	require.NoError(t, err)

	var resp resultsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Results, 1)
	assert.Equal(t, "half of 50", resp.Data.Results[0].Message)

	require.Len(t, resp.Data.Facts, 1)
	f, ok := resp.Data.Facts["2"]
	require.True(t, ok, "fact 2 contributes to half-assets")
	assert.Equal(t, "Assets", f.Concept)
	assert.Equal(t, "2020-12-31", f.Period)
	assert.Equal(t, "USD", f.Unit)
	assert.Equal(t, "100", f.Value)

	text, err := executeResults(t, "text", "--db", dbPath, "--rule", "half-assets", "--facts")
	require.NoError(t, err)
	assert.Contains(t, text, "fact #2 Assets = 100 (period=2020-12-31, unit=USD)")
}

func TestResultsIncompleteRun(t *testing.T) {
	dbPath := seedDatabase(t)
	addDanglingRun(t, dbPath, "run-2")

	out, err := executeResults(t, "json", "--db", dbPath)
	require.NoError(t, err)

	var resp resultsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "run-2", resp.Data.RunID)
	assert.Equal(t, store.RunRunning, resp.Data.Status)
	assert.False(t, resp.Data.IsComplete)
	assert.Empty(t, resp.Data.Results)
}

func TestResultsErrors(t *testing.T) {
	dbPath := seedDatabase(t)

	tests := []struct {
		name     string
		args     []string
		wantCode string
	}{
		{"unknown run", []string{"--db", dbPath, "--run", "nope"}, ErrCodeNotFound},
		{"invalid severity", []string{"--db", dbPath, "--severity", "fatal"}, ErrCodeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := executeResults(t, "json", tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))

			var response CLIResponse
			require.NoError(t, json.Unmarshal([]byte(out), &response))
			require.NotNil(t, response.Error)
			assert.Equal(t, tt.wantCode, response.Error.Code)
		})
	}
}

func TestResultsNoRuns(t *testing.T) {
	dbPath := t.TempDir() + "/facts.db"
	_, err := executeLoad(t, "text", balanceFactsFile, "--db", dbPath)
	require.NoError(t, err)

	out, err := executeResults(t, "text", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "no runs found in database")
}

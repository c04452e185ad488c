package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/factrule/internal/engine"
	"github.com/roach88/factrule/internal/store"
)

var balanceFactsFile = filepath.Join("..", "..", "testdata", "facts", "balance.yaml")

// executeRun runs the run command with a fixed run id.
func executeRun(t *testing.T, format, runID string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := newRunCommand(&RunOptions{
		RootOptions: &RootOptions{Format: format},
		RunIDs:      engine.NewFixedGenerator(runID),
	})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

type runResponse struct {
	Status  string    `json:"status"`
	Data    RunOutput `json:"data"`
	Error   *CLIError `json:"error"`
	TraceID string    `json:"trace_id"`
}

func decodeRun(t *testing.T, out string) runResponse {
	t.Helper()
	var resp runResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func TestRunMissingSourceFlag(t *testing.T) {
	_, err := executeRun(t, "text", "run-1", balanceRulesDir) // Neither --db nor --facts
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db")
	assert.Contains(t, err.Error(), "facts")
}

func TestRunBalanceSheet(t *testing.T) {
	out, err := executeRun(t, "text", "run-1", balanceRulesDir, "--facts", balanceFactsFile)
	require.NoError(t, err)

	assert.Contains(t, out, "[info] net-assets: net assets at ")
	assert.Contains(t, out, "period=2019-12-31")
	assert.Contains(t, out, " are 30")
	assert.Contains(t, out, " are 60")
	assert.Contains(t, out, "[warning] large-assets: assets above large-assets threshold")
	assert.Contains(t, out, "[info] total-assets: 300")
	assert.Contains(t, out, "Run run-1: 6 result(s) from 4 rule(s), status finished")
	assert.Contains(t, out, "  info: 4")
	assert.Contains(t, out, "  warning: 2")
	assert.Contains(t, out, "✓ Run finished")
}

func TestRunBalanceSheetJSON(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "facts.db")
	out, err := executeRun(t, "json", "run-1", balanceRulesDir, "--facts", balanceFactsFile, "--db", dbPath)
	require.NoError(t, err)

	resp := decodeRun(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.TraceID)
	assert.Equal(t, "balance", resp.Data.RuleSet)
	assert.Equal(t, store.RunFinished, resp.Data.Status)
	assert.Equal(t, 4, resp.Data.Rules)
	assert.Equal(t, 6, resp.Data.Results)
	assert.Equal(t, map[string]int{"info": 4, "warning": 2}, resp.Data.BySeverity)
	require.Len(t, resp.Data.Messages, 6)
	assert.Equal(t, "net-assets", resp.Data.Messages[0].Rule)

	// The run is recorded in the database.
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	state, err := st.GetRunState(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, state.IsComplete)
	assert.Len(t, state.Results, 6)
	assert.Equal(t, resp.Data.Hash, state.Run.RuleSetHash)
}

func TestRunFromDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "facts.db")
	_, err := executeLoad(t, "text", balanceFactsFile, "--db", dbPath)
	require.NoError(t, err)

	out, err := executeRun(t, "json", "run-db", balanceRulesDir, "--db", dbPath)
	require.NoError(t, err)
	resp := decodeRun(t, out)
	assert.Equal(t, 6, resp.Data.Results)
}

func TestRunIndexesAgree(t *testing.T) {
	run := func(args ...string) []ResultView {
		t.Helper()
		base := []string{balanceRulesDir, "--facts", balanceFactsFile}
		out, err := executeRun(t, "json", "run-1", append(base, args...)...)
		require.NoError(t, err)
		return decodeRun(t, out).Data.Messages
	}

	memory := run("--index", "memory")
	sql := run("--index", "sql")
	parallel := run("--index", "sql", "--workers", "4")

	if diff := cmp.Diff(memory, sql); diff != "" {
		t.Errorf("sql index differs from memory index (-memory +sql):\n%s", diff)
	}
	if diff := cmp.Diff(memory, parallel); diff != "" {
		t.Errorf("parallel run differs (-serial +parallel):\n%s", diff)
	}
}

func TestRunProcessingError(t *testing.T) {
	dir := writeRules(t, `
rule: ratio: {severity: "error", expr: {op: "/", args: [{lit: 1}, {lit: 0}]}}
rule: net: {severity: "info", expr: {op: "-", args: [{factset: {concept: "Assets"}}, {factset: {concept: "Liabilities"}}]}}
`)
	dbPath := filepath.Join(t.TempDir(), "facts.db")

	out, err := executeRun(t, "text", "run-1", dir, "--facts", balanceFactsFile, "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "[processing-error] ratio: ")
	assert.Contains(t, out, "division by zero")
	assert.Contains(t, out, "[info] net: 30")
	assert.Contains(t, out, "✗ rule ratio failed to evaluate")
	assert.NotContains(t, out, "✓ Run finished")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	run, ok, err := st.ReadRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.RunFailed, run.Status)
	assert.Equal(t, []string{"ratio"}, run.FailedRules)
}

func TestRunFailedConstantOnly(t *testing.T) {
	dir := writeRules(t, `
constant: broken: {op: "/", args: [{lit: 1}, {lit: 0}]}
rule: net: {severity: "info", expr: {op: "-", args: [{factset: {concept: "Assets"}}, {factset: {concept: "Liabilities"}}]}}
`)

	out, err := executeRun(t, "json", "run-1", dir, "--facts", balanceFactsFile)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeRun(t, out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeRuleFailed, resp.Error.Code)
	assert.Equal(t, "0 rule(s) and 1 constant(s) failed to evaluate", resp.Error.Message)
	assert.Empty(t, resp.Data.FailedRules)
	assert.Equal(t, []string{"broken"}, resp.Data.FailedConstants)
}

func TestRunErrorResults(t *testing.T) {
	dir := writeRules(t, `
rule: "negative-equity": {
	severity: "error"
	message:  "equity is {result}"
	expr: {op: "-", args: [{factset: {concept: "Liabilities"}}, {factset: {concept: "Assets"}}]}
}
`)

	out, err := executeRun(t, "json", "run-1", dir, "--facts", balanceFactsFile)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeRun(t, out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeRuleFailed, resp.Error.Code)
	assert.Equal(t, store.RunFinished, resp.Data.Status)
	assert.Equal(t, map[string]int{"error": 2}, resp.Data.BySeverity)
	require.Len(t, resp.Data.Messages, 2)
	assert.Equal(t, "equity is -30", resp.Data.Messages[0].Message)
}

func TestRunCommandErrors(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode string
	}{
		{
			name:     "invalid index",
			args:     []string{balanceRulesDir, "--facts", balanceFactsFile, "--index", "btree"},
			wantCode: ErrCodeGeneric,
		},
		{
			name:     "missing rules",
			args:     []string{"/nonexistent/rules", "--facts", balanceFactsFile},
			wantCode: ErrCodeNotFound,
		},
		{
			name:     "missing facts",
			args:     []string{balanceRulesDir, "--facts", "/nonexistent/facts.yaml"},
			wantCode: ErrCodeLoadFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := executeRun(t, "json", "run-1", tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestRunInvalidRules(t *testing.T) {
	dir := writeRules(t, `rule: r: expr: {var: "nope"}`)

	out, err := executeRun(t, "text", "run-1", dir, "--facts", balanceFactsFile)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error ["+ErrCodeAnalysis+"]")
}

func TestRunCancelled(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "facts.db")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	buf := &bytes.Buffer{}
	cmd := newRunCommand(&RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		RunIDs:      engine.NewFixedGenerator("run-cancelled"),
	})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{balanceRulesDir, "--db", dbPath})

	err := cmd.ExecuteContext(ctx)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

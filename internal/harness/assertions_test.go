package harness

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/factrule/internal/ir"
	"github.com/roach88/factrule/internal/store"
)

func sampleTrace() []ResultEvent {
	return []ResultEvent{
		{Seq: 1, Rule: "div", Severity: "processing-error", Value: "none", Error: "div: division by zero"},
		{Seq: 2, Rule: "net", Severity: "info", Kind: "decimal", Value: "30", Alignment: map[string]string{"period": "2019-12-31", "unit": "USD"}},
		{Seq: 3, Rule: "net", Severity: "info", Kind: "decimal", Value: "60", Alignment: map[string]string{"period": "2020-12-31", "unit": "USD"}},
		{Seq: 4, Rule: "total", Severity: "warning", Kind: "decimal", Value: "300"},
	}
}

func TestAssertResultContains(t *testing.T) {
	tests := []struct {
		name string
		a    Assertion
		ok   bool
	}{
		{"value", Assertion{Rule: "net", Value: strptr("60")}, true},
		{"value and alignment", Assertion{Rule: "net", Value: strptr("30"), Alignment: map[string]string{"period": "2019-12-31"}}, true},
		{"alignment mismatch", Assertion{Rule: "net", Value: strptr("30"), Alignment: map[string]string{"period": "2020-12-31"}}, false},
		{"severity", Assertion{Rule: "total", Severity: "warning"}, true},
		{"wrong severity", Assertion{Rule: "total", Severity: "error"}, false},
		{"errors are not results", Assertion{Rule: "div", Value: strptr("none")}, false},
		{"unknown rule", Assertion{Rule: "gross", Value: strptr("60")}, false},
		{"empty value", Assertion{Rule: "net", Value: strptr("")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertResultContains(sampleTrace(), tt.a)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var aerr *AssertionError
			require.True(t, errors.As(err, &aerr))
			assert.Equal(t, AssertResultContains, aerr.Type)
			assert.Equal(t, "not found in trace", aerr.Actual)
		})
	}
}

func TestAssertResultCount(t *testing.T) {
	assert.NoError(t, assertResultCount(sampleTrace(), Assertion{Rule: "net", Count: 2}))
	assert.NoError(t, assertResultCount(sampleTrace(), Assertion{Rule: "div", Count: 0}))

	err := assertResultCount(sampleTrace(), Assertion{Rule: "total", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: 2 results of total")
	assert.Contains(t, err.Error(), "Actual: 1 results")
}

func TestAssertResultOrder(t *testing.T) {
	assert.NoError(t, assertResultOrder(sampleTrace(), Assertion{Rules: []string{"div", "net", "total"}}))
	assert.NoError(t, assertResultOrder(sampleTrace(), Assertion{Rules: []string{"div", "total"}}))

	err := assertResultOrder(sampleTrace(), Assertion{Rules: []string{"total", "net"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "total (pos 4) should be before net (pos 2)")

	err = assertResultOrder(sampleTrace(), Assertion{Rules: []string{"net", "gross"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing rule: gross")
}

func TestAssertProcessingError(t *testing.T) {
	assert.NoError(t, assertProcessingError(sampleTrace(), Assertion{Rule: "div"}))
	assert.NoError(t, assertProcessingError(sampleTrace(), Assertion{Rule: "div", Contains: "division by zero"}))

	err := assertProcessingError(sampleTrace(), Assertion{Rule: "div", Contains: "overflow"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Actual: div: division by zero")

	err = assertProcessingError(sampleTrace(), Assertion{Rule: "net"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule did not fail")
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	err := &AssertionError{
		Type:     AssertResultCount,
		Expected: "1 results of net",
		Actual:   "2 results",
		Trace:    sampleTrace()[1:2],
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: result_count")
	assert.Contains(t, msg, "Full trace:")
	assert.Contains(t, msg, "[2] net info 30 {period=2019-12-31, unit=USD}")
}

// storeWithRun returns a store holding one finished run with two results.
func storeWithRun(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.BeginRun(ctx, store.Run{ID: "run-1", RuleSet: "balance", Rules: 2}))
	require.NoError(t, st.FinishRun(ctx, store.Run{ID: "run-1", Status: store.RunFinished, Rules: 2, Results: 2}))
	return st
}

func TestAssertFinalState(t *testing.T) {
	st := storeWithRun(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		a       Assertion
		wantErr string
	}{
		{
			name: "match",
			a:    Assertion{Table: "runs", Where: map[string]any{"id": "run-1"}, Expect: map[string]any{"status": "finished", "results": 2, "rule_set": "balance"}},
		},
		{
			name:    "wrong value",
			a:       Assertion{Table: "runs", Where: map[string]any{"id": "run-1"}, Expect: map[string]any{"status": "failed"}},
			wantErr: `field "status" = failed`,
		},
		{
			name:    "no row",
			a:       Assertion{Table: "runs", Where: map[string]any{"id": "run-2"}, Expect: map[string]any{"status": "finished"}},
			wantErr: "row not found",
		},
		{
			name:    "unknown column",
			a:       Assertion{Table: "runs", Where: map[string]any{"id": "run-1"}, Expect: map[string]any{"colour": "red"}},
			wantErr: `field "colour" to exist`,
		},
		{
			name:    "bad table name",
			a:       Assertion{Table: "runs; DROP TABLE runs", Expect: map[string]any{"status": "finished"}},
			wantErr: "invalid table name",
		},
		{
			name:    "bad column name",
			a:       Assertion{Table: "runs", Where: map[string]any{"id = id OR 1": 1}, Expect: map[string]any{"status": "finished"}},
			wantErr: "invalid column name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertFinalState(ctx, st, tt.a)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertRunStatus(t *testing.T) {
	st := storeWithRun(t)
	ctx := context.Background()

	assert.NoError(t, assertRunStatus(ctx, st, "run-1", Assertion{Status: "finished"}))

	err := assertRunStatus(ctx, st, "run-1", Assertion{Status: "aborted"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Actual: status finished")

	err = assertRunStatus(ctx, st, "missing", Assertion{Status: "finished"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestStateValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		want     bool
	}{
		{"strings", "a", "a", true},
		{"bytes", "a", []byte("a"), true},
		{"int vs int64", 2, int64(2), true},
		{"bool vs int64", true, int64(1), true},
		{"false vs int64", false, int64(1), false},
		{"nils", nil, nil, true},
		{"nil vs value", nil, "a", false},
		{"type mismatch", "2", int64(2), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stateValuesEqual(tt.expected, tt.actual))
		})
	}
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult("run-1")
	result.AddMessage(ir.Message{Rule: "net", Severity: ir.SeverityInfo, Seq: 1, Value: ir.Int(60)})

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertResultContains, Rule: "net", Value: strptr("60")},
		{Type: AssertRunStatus, Status: "finished"},
		{Type: "trace_contains"},
	}, nil)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "run_status requires database context")
	assert.Contains(t, errs[1], `unknown assertion type "trace_contains"`)
}

package store

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/factrule/internal/ir"
	"github.com/roach88/factrule/internal/testutil"
)

func TestWriteFacts_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	facts := []ir.Fact{
		testutil.Fact(1, "Assets", "2020-12-31", "100", testutil.Dim("Segment", "Retail")),
		testutil.Fact(2, "Revenue", "2020-01-01/2020-12-31", "500", testutil.Unit("USD/shares")),
		testutil.Fact(3, "Name", "forever", "Acme Corp", testutil.Unit("")),
		testutil.Fact(4, "{http://example.com/gaap}Equity", "2020-12-31", "", testutil.Nil()),
	}
	ids, err := s.WriteFacts(ctx, facts...)
	require.NoError(t, err)
	assert.Equal(t, []ir.FactID{1, 2, 3, 4}, ids)

	got, err := s.ReadFacts(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(facts, got); diff != "" {
		t.Errorf("facts differ after round trip (-want +got):\n%s", diff)
	}

	n, err := s.CountFacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestWriteFacts_Postings(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	_, err := s.WriteFacts(ctx, testutil.Fact(1, "Assets", "2020-12-31", "100", testutil.Dim("Segment", "Retail")))
	require.NoError(t, err)

	rows, err := s.db.QueryContext(ctx, `SELECT aspect, value FROM fact_aspects WHERE fact_id = 1 ORDER BY aspect`)
	require.NoError(t, err)
	defer rows.Close()
	got := map[string]string{}
	for rows.Next() {
		var aspect, value string
		require.NoError(t, rows.Scan(&aspect, &value))
		got[aspect] = value
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, map[string]string{
		"concept":     "Assets",
		"entity":      "http://example.com|ACME",
		"period":      "2020-12-31",
		"unit":        "USD",
		"dim:Segment": "Retail",
	}, got)
}

func TestWriteFacts_AssignsIDs(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	_, err := s.WriteFacts(ctx, testutil.Fact(5, "Assets", "2020-12-31", "100"))
	require.NoError(t, err)

	ids, err := s.WriteFacts(ctx,
		testutil.Fact(0, "Liabilities", "2020-12-31", "40"),
		testutil.Fact(7, "Equity", "2020-12-31", "60"),
		testutil.Fact(0, "Revenue", "2020-12-31", "10"),
	)
	require.NoError(t, err)
	assert.Equal(t, []ir.FactID{8, 7, 9}, ids, "new ids start above every id in the store and the batch")
}

func TestWriteFacts_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	for i := 0; i < 2; i++ {
		_, err := s.WriteFacts(ctx, testutil.BalanceSheet()...)
		require.NoError(t, err)
	}
	n, err := s.CountFacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	var postings int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM fact_aspects").Scan(&postings))
	assert.Equal(t, 5*4, postings, "concept, entity, period and unit per fact")
}

func testMessage(runID, rule string, seq int64, v ir.Value, align ir.Alignment, facts ...ir.FactID) ir.Message {
	return ir.Message{
		ID:        ir.MustResultID(runID, rule, v, align, facts),
		RunID:     runID,
		Seq:       seq,
		Rule:      rule,
		Severity:  ir.SeverityError,
		Template:  "value {result}",
		Location:  ir.Location{File: "rules.cue", Line: 3, Column: 5},
		Value:     v,
		Alignment: align,
		Facts:     facts,
		Tags:      map[string]ir.Value{"total": ir.Int(7)},
	}
}

func period2020() ir.Alignment {
	return ir.NewAlignment(
		ir.AspectPair{Key: ir.PeriodKey, Value: "2020-12-31"},
		ir.AspectPair{Key: ir.UnitKey, Value: "USD"},
	)
}

func TestWriteResult_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.BeginRun(ctx, Run{ID: "run-1", RuleSet: "balance", Rules: 1}))

	msg := testMessage("run-1", "net", 1, ir.Int(60), period2020(), 2, 5)
	require.NoError(t, s.WriteResult(ctx, msg))
	require.NoError(t, s.WriteResult(ctx, msg))

	results, err := s.ReadResults(ctx, "run-1", "")
	require.NoError(t, err)
	require.Len(t, results, 1)

	want := Result{
		ID:        msg.ID,
		RunID:     "run-1",
		Seq:       1,
		Rule:      "net",
		Severity:  ir.SeverityError,
		Template:  "value {result}",
		Location:  "rules.cue:3:5",
		Kind:      "integer",
		Value:     "60",
		Alignment: map[string]string{"period": "2020-12-31", "unit": "USD"},
		Facts:     []ir.FactID{2, 5},
		Tags:      map[string]string{"total": "7"},
	}
	if diff := cmp.Diff(want, results[0]); diff != "" {
		t.Errorf("stored result differs (-want +got):\n%s", diff)
	}
}

func TestWriteResult_RequiresRun(t *testing.T) {
	s := createTestStore(t)
	err := s.WriteResult(context.Background(), testMessage("missing", "net", 1, ir.Int(1), ir.NoAlignment))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FOREIGN KEY")
}

func TestFinishRun(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.BeginRun(ctx, Run{ID: "run-1", RuleSet: "balance", RuleSetHash: "abc"}))

	err := s.FinishRun(ctx, Run{
		ID:          "run-1",
		Status:      RunFailed,
		Rules:       3,
		Results:     4,
		FailedRules: []string{"z", "div"},
	})
	require.NoError(t, err)

	run, ok, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Run{
		ID:          "run-1",
		Seq:         1,
		RuleSet:     "balance",
		RuleSetHash: "abc",
		Status:      RunFailed,
		Rules:       3,
		Results:     4,
		FailedRules: []string{"div", "z"},
	}, run)

	err = s.FinishRun(ctx, Run{ID: "nope", Status: RunFinished})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run nope not found")
}

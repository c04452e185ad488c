package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/factrule/internal/ir"
)

// RunStatus is the lifecycle state of a stored run.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
	// RunFailed means the run completed but some rules or constants
	// reported processing errors.
	RunFailed RunStatus = "failed"
	// RunAborted means the run stopped early (cancellation, sink error).
	RunAborted RunStatus = "aborted"
)

// Run is one stored processor run.
type Run struct {
	ID              string
	Seq             int64
	RuleSet         string
	RuleSetHash     string
	Status          RunStatus
	Rules           int
	Results         int
	FailedRules     []string
	FailedConstants []string
}

// Result is one stored rule result. Values are kept in display form with
// their kind name; alignment and tags are keyed by aspect or tag name.
type Result struct {
	ID        string
	RunID     string
	Seq       int64
	Rule      string
	Severity  ir.Severity
	Template  string
	Location  string
	Kind      string
	Value     string
	Alignment map[string]string
	Facts     []ir.FactID
	Tags      map[string]string
	Error     string
}

// factColumns is the column list scanFact expects, in order.
var factColumns = []string{"id", "concept", "entity_scheme", "entity_id", "period", "unit", "dims", "value", "is_nil"}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanFact(row scanner) (ir.Fact, error) {
	var (
		f                     ir.Fact
		id                    int64
		concept, period, unit string
		dims                  string
	)
	if err := row.Scan(&id, &concept, &f.Entity.Scheme, &f.Entity.ID, &period, &unit, &dims, &f.Value, &f.Nil); err != nil {
		return ir.Fact{}, fmt.Errorf("scan fact: %w", err)
	}
	f.ID = ir.FactID(id)
	f.Concept = ir.ParseQName(concept)

	p, err := ir.ParsePeriod(period)
	if err != nil {
		return ir.Fact{}, fmt.Errorf("fact %d: %w", id, err)
	}
	f.Period = p
	if unit != "" {
		f.Unit = ir.ParseUnit(unit)
	}

	d, err := unmarshalStrings(dims)
	if err != nil {
		return ir.Fact{}, fmt.Errorf("fact %d dims: %w", id, err)
	}
	if len(d) > 0 {
		f.Dims = d
	}
	return f, nil
}

// ReadFacts returns every stored fact ordered by id.
//
// Returns an empty slice (not nil) if the store holds no facts.
func (s *Store) ReadFacts(ctx context.Context) ([]ir.Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, concept, entity_scheme, entity_id, period, unit, dims, value, is_nil
		FROM facts
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	facts := []ir.Fact{}
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}
	return facts, nil
}

// CountFacts returns the number of stored facts.
func (s *Store) CountFacts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM facts").Scan(&n); err != nil {
		return 0, fmt.Errorf("count facts: %w", err)
	}
	return n, nil
}

// ReadResults returns the results of a run. When rule is non-empty only
// that rule's results are returned.
// Results are ordered by seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if no results exist.
func (s *Store) ReadResults(ctx context.Context, runID, rule string) ([]Result, error) {
	query := `
		SELECT id, run_id, seq, rule, severity, template, location, kind, value, alignment, facts, tags, error
		FROM results
		WHERE run_id = ?`
	args := []any{runID}
	if rule != "" {
		query += " AND rule = ?"
		args = append(args, rule)
	}
	query += " ORDER BY seq ASC, id COLLATE BINARY ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	results := []Result{}
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return results, nil
}

func scanResult(row scanner) (Result, error) {
	var (
		r                     Result
		severity              string
		alignment, facts, tag string
	)
	err := row.Scan(&r.ID, &r.RunID, &r.Seq, &r.Rule, &severity, &r.Template, &r.Location,
		&r.Kind, &r.Value, &alignment, &facts, &tag, &r.Error)
	if err != nil {
		return Result{}, fmt.Errorf("scan result: %w", err)
	}
	r.Severity = ir.Severity(severity)

	if r.Alignment, err = unmarshalStrings(alignment); err != nil {
		return Result{}, fmt.Errorf("result %s alignment: %w", r.ID, err)
	}
	if r.Facts, err = unmarshalFactIDs(facts); err != nil {
		return Result{}, fmt.Errorf("result %s: %w", r.ID, err)
	}
	if r.Tags, err = unmarshalStrings(tag); err != nil {
		return Result{}, fmt.Errorf("result %s tags: %w", r.ID, err)
	}
	return r, nil
}

// ReadRun returns one run. The boolean is false when no run has that id.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seq, rule_set, rule_set_hash, status, rules, results, failed_rules, failed_constants
		FROM runs
		WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

// ListRuns returns every run in start order.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, rule_set, rule_set_hash, status, rules, results, failed_rules, failed_constants
		FROM runs
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// scanRun returns sql.ErrNoRows unwrapped so ReadRun can detect it.
func scanRun(row scanner) (Run, error) {
	var (
		r                            Run
		status                       string
		failedRules, failedConstants string
	)
	err := row.Scan(&r.ID, &r.Seq, &r.RuleSet, &r.RuleSetHash, &status, &r.Rules, &r.Results, &failedRules, &failedConstants)
	if err == sql.ErrNoRows {
		return Run{}, err
	}
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	r.Status = RunStatus(status)
	if r.FailedRules, err = unmarshalNames(failedRules); err != nil {
		return Run{}, fmt.Errorf("run %s: %w", r.ID, err)
	}
	if r.FailedConstants, err = unmarshalNames(failedConstants); err != nil {
		return Run{}, fmt.Errorf("run %s: %w", r.ID, err)
	}
	return r, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/factrule/internal/ir"
)

// WriteFacts inserts facts and their aspect postings in one transaction.
// A fact with a zero ID gets the next free id. Uses ON CONFLICT DO NOTHING
// for idempotency: loading the same fact file twice writes nothing new.
//
// Returns the ids of facts in input order.
func (s *Store) WriteFacts(ctx context.Context, facts ...ir.Fact) ([]ir.FactID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("write facts: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var next int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM facts").Scan(&next); err != nil {
		return nil, fmt.Errorf("write facts: max id: %w", err)
	}
	for _, f := range facts {
		next = max(next, int64(f.ID))
	}

	ids := make([]ir.FactID, len(facts))
	for i, f := range facts {
		if f.ID == 0 {
			next++
			f.ID = ir.FactID(next)
		}
		if err := insertFact(ctx, tx, f); err != nil {
			return nil, fmt.Errorf("write fact %d: %w", f.ID, err)
		}
		ids[i] = f.ID
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("write facts: commit: %w", err)
	}
	return ids, nil
}

func insertFact(ctx context.Context, tx *sql.Tx, f ir.Fact) error {
	dims, err := marshalStrings(f.Dims)
	if err != nil {
		return err
	}
	unit := ""
	if f.Unit != nil {
		unit = f.Unit.String()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO facts
		(id, concept, entity_scheme, entity_id, period, unit, dims, value, is_nil)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		int64(f.ID),
		f.Concept.String(),
		f.Entity.Scheme,
		f.Entity.ID,
		f.Period.String(),
		unit,
		dims,
		f.Value,
		f.Nil,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Already stored; its postings were written with it.
		return nil
	}

	for _, p := range f.Aspects() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO fact_aspects (aspect, value, fact_id)
			VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING
		`, p.Key.String(), p.Value, int64(f.ID))
		if err != nil {
			return fmt.Errorf("aspect %s: %w", p.Key, err)
		}
	}
	return nil
}

// BeginRun records the start of a run. The run's seq is assigned from the
// runs already stored. Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, seq, rule_set, rule_set_hash, status, rules)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM runs), ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.RuleSet,
		run.RuleSetHash,
		string(RunRunning),
		run.Rules,
	)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun stores the final status and counters of a run started with
// BeginRun.
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	failedRules, err := marshalNames(run.FailedRules)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	failedConstants, err := marshalNames(run.FailedConstants)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, rules = ?, results = ?, failed_rules = ?, failed_constants = ?
		WHERE id = ?
	`,
		string(run.Status),
		run.Rules,
		run.Results,
		failedRules,
		failedConstants,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: run %s not found", run.ID)
	}
	return nil
}

// WriteResult inserts one rule result.
// Uses ON CONFLICT(id) DO NOTHING for idempotency: result ids are content
// addressed, so writing the same message twice stores it once.
//
// Note: The run referenced by msg.RunID must exist (foreign key constraint).
func (s *Store) WriteResult(ctx context.Context, msg ir.Message) error {
	alignment, err := marshalAlignment(msg.Alignment)
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	facts, err := marshalFactIDs(msg.Facts)
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	tags, err := marshalTags(msg.Tags)
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO results
		(id, run_id, seq, rule, severity, template, location, kind, value, alignment, facts, tags, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		msg.ID,
		msg.RunID,
		msg.Seq,
		msg.Rule,
		string(msg.Severity),
		msg.Template,
		msg.Location.String(),
		msg.Value.Kind.String(),
		msg.Value.Format(),
		alignment,
		facts,
		tags,
		msg.Error,
	)
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/roach88/factrule/internal/engine"
	"github.com/roach88/factrule/internal/ir"
)

// ResultSink writes every emitted message to the store. The first message
// of a run registers the run with BeginRun, so the processor's run id is
// used as-is.
type ResultSink struct {
	store       *Store
	ruleSet     string
	ruleSetHash string

	mu      sync.Mutex
	started map[string]bool
}

// NewResultSink returns a sink that records results under the named rule
// set.
func NewResultSink(s *Store, ruleSet, ruleSetHash string) *ResultSink {
	return &ResultSink{
		store:       s,
		ruleSet:     ruleSet,
		ruleSetHash: ruleSetHash,
		started:     make(map[string]bool),
	}
}

// Begin registers a run before any message arrives. Runs that emit nothing
// still appear in the runs table when the caller begins them explicitly.
func (rs *ResultSink) Begin(ctx context.Context, runID string, rules int) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.begin(ctx, runID, rules)
}

func (rs *ResultSink) begin(ctx context.Context, runID string, rules int) error {
	if rs.started[runID] {
		return nil
	}
	err := rs.store.BeginRun(ctx, Run{
		ID:          runID,
		RuleSet:     rs.ruleSet,
		RuleSetHash: rs.ruleSetHash,
		Rules:       rules,
	})
	if err != nil {
		return err
	}
	rs.started[runID] = true
	return nil
}

func (rs *ResultSink) Emit(ctx context.Context, msg ir.Message) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if err := rs.begin(ctx, msg.RunID, 0); err != nil {
		return fmt.Errorf("result sink: %w", err)
	}
	if err := rs.store.WriteResult(ctx, msg); err != nil {
		return fmt.Errorf("result sink: %w", err)
	}
	return nil
}

// Finish records the outcome of a run begun with Begin. runErr is the error
// returned by Processor.Run: nil finishes the run, processing errors only
// mark it failed, anything else marks it aborted.
func (rs *ResultSink) Finish(ctx context.Context, summary engine.RunSummary, runErr error) error {
	status := RunFinished
	switch {
	case runErr == nil:
	case OnlyProcessingErrors(runErr):
		status = RunFailed
	default:
		status = RunAborted
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if err := rs.begin(ctx, summary.RunID, summary.Rules); err != nil {
		return fmt.Errorf("result sink: %w", err)
	}
	return rs.store.FinishRun(ctx, Run{
		ID:              summary.RunID,
		Status:          status,
		Rules:           summary.Rules,
		Results:         summary.Results,
		FailedRules:     summary.FailedRules,
		FailedConstants: summary.FailedConstants,
	})
}

// OnlyProcessingErrors reports whether err, possibly a multierror, is made
// of processing errors alone.
func OnlyProcessingErrors(err error) bool {
	if err == nil {
		return false
	}
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		return engine.IsProcessingError(err)
	}
	if len(merr.Errors) == 0 {
		return false
	}
	for _, e := range merr.Errors {
		if !engine.IsProcessingError(e) {
			return false
		}
	}
	return true
}

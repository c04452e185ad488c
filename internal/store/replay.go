package store

import (
	"context"
	"fmt"

	"github.com/roach88/factrule/internal/ir"
)

// RunState is a stored run together with its results, for inspection after
// the fact.
type RunState struct {
	Run        Run
	Results    []Result
	LastSeq    int64
	BySeverity map[ir.Severity]int
	// IsComplete is true when the run finished (with or without processing
	// errors) and every counted result is present.
	IsComplete bool
}

// GetRunState retrieves a run and its results.
// Returns an error if the run does not exist.
func (s *Store) GetRunState(ctx context.Context, runID string) (RunState, error) {
	run, ok, err := s.ReadRun(ctx, runID)
	if err != nil {
		return RunState{}, fmt.Errorf("get run state: %w", err)
	}
	if !ok {
		return RunState{}, fmt.Errorf("get run state: run %s not found", runID)
	}

	results, err := s.ReadResults(ctx, runID, "")
	if err != nil {
		return RunState{}, fmt.Errorf("get run state: %w", err)
	}

	state := RunState{
		Run:        run,
		Results:    results,
		BySeverity: make(map[ir.Severity]int),
	}
	processingErrors := 0
	for _, r := range results {
		state.BySeverity[r.Severity]++
		if r.Severity == ir.SeverityProcessingError {
			processingErrors++
		}
		if r.Seq > state.LastSeq {
			state.LastSeq = r.Seq
		}
	}

	// Results counts rule output only; processing-error messages are
	// stored alongside it.
	finished := run.Status == RunFinished || run.Status == RunFailed
	state.IsComplete = finished && len(results)-processingErrors == run.Results
	return state, nil
}

// FindIncompleteRuns returns the runs that never finished: still marked
// running (the process died) or aborted.
func (s *Store) FindIncompleteRuns(ctx context.Context) ([]Run, error) {
	runs, err := s.ListRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("find incomplete runs: %w", err)
	}
	incomplete := []Run{}
	for _, r := range runs {
		if r.Status == RunRunning || r.Status == RunAborted {
			incomplete = append(incomplete, r)
		}
	}
	return incomplete, nil
}

package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/factrule/internal/ast"
	"github.com/roach88/factrule/internal/compiler"
	"github.com/roach88/factrule/internal/engine"
	"github.com/roach88/factrule/internal/factfile"
	"github.com/roach88/factrule/internal/factindex"
	"github.com/roach88/factrule/internal/ir"
	"github.com/roach88/factrule/internal/store"
	"github.com/roach88/factrule/internal/testutil"
)

// DefaultRunID is the run id of scenarios that do not set one.
const DefaultRunID = "test-run"

// Harness is the test execution engine.
// It runs one scenario against a fresh store with a fixed run id.
type Harness struct {
	store    *store.Store
	registry *engine.Registry
	logger   *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// A fixed run id keeps result ids reproducible.
//
// Execution flow:
// 1. Create fresh in-memory database and load the facts into it
// 2. Compile, annotate and validate the rule set
// 3. Run the processor over the memory or SQL fact index
// 4. Record every message in the store and the result trace
// 5. Evaluate assertions and return the result
//
// Rule set and fact errors are returned as errors; failed assertions are
// reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(store.MemoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:    st,
		registry: engine.NewRegistry(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	return h.run(context.Background(), scenario)
}

func (h *Harness) run(ctx context.Context, scenario *Scenario) (*Result, error) {
	rs, warnings, err := h.loadRules(scenario)
	if err != nil {
		return nil, err
	}

	facts, err := loadFacts(scenario)
	if err != nil {
		return nil, err
	}
	if _, err := h.store.WriteFacts(ctx, facts...); err != nil {
		return nil, fmt.Errorf("failed to write facts: %w", err)
	}

	index, err := h.index(scenario.Options.Index, facts)
	if err != nil {
		return nil, err
	}

	runID := scenario.RunID
	if runID == "" {
		runID = DefaultRunID
	}
	result := NewResult(runID)
	for _, w := range warnings {
		result.Warnings = append(result.Warnings, w.Message)
	}

	opts := []engine.Option{
		engine.WithRegistry(h.registry),
		engine.WithLogger(h.logger),
		engine.WithRunIDGenerator(testutil.NewFixedRunID(runID)),
		engine.WithIncludeNils(scenario.Options.IncludeNils),
		engine.WithWorkers(max(scenario.Options.Workers, 1)),
	}
	if scenario.Options.MaxIterations > 0 {
		opts = append(opts, engine.WithMaxIterations(scenario.Options.MaxIterations))
	}
	proc := engine.NewProcessor(index, opts...)

	sink := store.NewResultSink(h.store, rs.Name, rs.Hash)
	if err := sink.Begin(ctx, runID, len(rs.Rules)); err != nil {
		return nil, fmt.Errorf("failed to begin run: %w", err)
	}
	trace := engine.SinkFunc(func(_ context.Context, msg ir.Message) error {
		result.AddMessage(msg)
		return nil
	})

	summary, runErr := proc.Run(ctx, rs, engine.Tee(sink, trace))
	if err := sink.Finish(ctx, summary, runErr); err != nil {
		return nil, fmt.Errorf("failed to finish run: %w", err)
	}
	if runErr != nil && !store.OnlyProcessingErrors(runErr) {
		return nil, fmt.Errorf("run aborted: %w", runErr)
	}
	result.FailedRules = summary.FailedRules
	result.FailedConstants = summary.FailedConstants

	h.logger.Info("scenario run",
		"scenario", scenario.Name,
		"results", summary.Results,
		"failed_rules", len(summary.FailedRules),
	)

	actx := &AssertionContext{
		Store: h.store,
		Ctx:   ctx,
		RunID: runID,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

// loadRules compiles the scenario's rule set and prepares it for the
// engine.
func (h *Harness) loadRules(scenario *Scenario) (*ast.RuleSet, []compiler.CycleWarning, error) {
	var (
		rs  *ast.RuleSet
		err error
	)
	if scenario.RulesDir != "" {
		rs, err = compiler.LoadDir(scenario.RulesDir)
	} else {
		rs, err = compiler.CompileString(scenario.Name+".cue", scenario.Rules)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compile rules: %w", err)
	}

	warnings, err := compiler.Prepare(rs, h.registry)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid rules: %w", err)
	}
	return rs, warnings, nil
}

func loadFacts(scenario *Scenario) ([]ir.Fact, error) {
	if scenario.FactsFile != "" {
		return factfile.Load(scenario.FactsFile)
	}
	facts, err := scenario.Facts.Convert()
	if err != nil {
		return nil, fmt.Errorf("invalid facts: %w", err)
	}
	return facts, nil
}

func (h *Harness) index(kind string, facts []ir.Fact) (engine.FactIndex, error) {
	if kind == IndexSQL {
		return store.NewIndex(h.store), nil
	}
	m, err := factindex.NewMemory(facts...)
	if err != nil {
		return nil, fmt.Errorf("failed to index facts: %w", err)
	}
	return m, nil
}

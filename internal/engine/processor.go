package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/factrule/internal/ast"
	"github.com/roach88/factrule/internal/ir"
)

// Processor evaluates every rule of a rule set against a fact index and
// streams the results to a sink.
//
// Thread-safety model:
//   - Constants are computed first, on the calling goroutine.
//   - Rules are handed to a pool of workers over a task channel. Each worker
//     owns a private Context per rule; the fact index, the registry and the
//     constant table are shared read-only.
//   - Workers send outcomes over a results channel to a single collector,
//     which stamps sequence numbers and calls the sink.
//
// INVARIANTS:
//   - Messages reach the sink grouped by rule, in rule declaration order,
//     regardless of which worker finished first
//   - A processing error aborts only the rule that raised it
//   - Sequence numbers are strictly increasing within a run
type Processor struct {
	index         FactIndex
	registry      *Registry
	logger        *slog.Logger
	runIDs        RunIDGenerator
	clock         *Clock
	workers       int
	includeNils   bool
	maxIterations int
	maxCallDepth  int
}

// Option configures a Processor.
type Option func(*Processor)

// WithWorkers sets the number of rule workers.
//
// Default: runtime.GOMAXPROCS(0). Values below 1 mean 1.
func WithWorkers(n int) Option {
	return func(p *Processor) {
		p.workers = max(n, 1)
	}
}

// WithIncludeNils makes factsets match nil facts without an explicit nils
// flag.
func WithIncludeNils(include bool) Option {
	return func(p *Processor) {
		p.includeNils = include
	}
}

// WithMaxIterations sets the per-rule iteration limit.
//
// Default: 100000 (DefaultMaxIterations). Zero disables the limit.
func WithMaxIterations(n int) Option {
	return func(p *Processor) {
		p.maxIterations = n
	}
}

// WithMaxCallDepth bounds nested user function calls.
//
// Default: 64 (DefaultMaxCallDepth).
func WithMaxCallDepth(n int) Option {
	return func(p *Processor) {
		p.maxCallDepth = n
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = l
	}
}

// WithRegistry replaces the default evaluator and builtin registry.
func WithRegistry(r *Registry) Option {
	return func(p *Processor) {
		p.registry = r
	}
}

// WithRunIDGenerator sets the run id source. Tests use FixedGenerator for
// stable result ids.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(p *Processor) {
		p.runIDs = g
	}
}

// WithClock sets the sequence clock, e.g. to continue numbering after a
// previous run stored in the same database.
func WithClock(c *Clock) Option {
	return func(p *Processor) {
		p.clock = c
	}
}

// NewProcessor returns a processor reading facts from index.
func NewProcessor(index FactIndex, opts ...Option) *Processor {
	p := &Processor{
		index:         index,
		registry:      NewRegistry(),
		logger:        slog.Default(),
		runIDs:        UUIDv7Generator{},
		clock:         NewClock(),
		workers:       runtime.GOMAXPROCS(0),
		maxIterations: DefaultMaxIterations,
		maxCallDepth:  DefaultMaxCallDepth,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunSummary describes a finished run.
type RunSummary struct {
	RunID           string
	RuleSet         string
	Rules           int
	Results         int
	FailedRules     []string
	FailedConstants []string
	Stats           Stats
	Duration        time.Duration
}

// ruleResult travels from a worker to the collector.
type ruleResult struct {
	order   int
	rule    *ast.Rule
	outcome RuleOutcome
	err     error
}

// Run evaluates rs and emits every result to sink.
//
// ERROR HANDLING: processing errors of individual rules and constants are
// emitted as SeverityProcessingError messages and collected into the
// returned multierror; the other rules still run. Context cancellation and
// sink failures abort the run.
func (p *Processor) Run(ctx context.Context, rs *ast.RuleSet, sink Sink) (RunSummary, error) {
	start := time.Now()
	summary := RunSummary{
		RunID:   p.runIDs.Generate(),
		RuleSet: rs.Name,
		Rules:   len(rs.Rules),
	}
	log := p.logger.With("run_id", summary.RunID)
	log.Info("run starting", "rule_set", rs.Name, "rules", len(rs.Rules), "workers", p.workers)

	env := &Env{
		Rules:         rs,
		Registry:      p.registry,
		Index:         p.index,
		Logger:        log,
		IncludeNils:   p.includeNils,
		MaxIterations: p.maxIterations,
		MaxCallDepth:  p.maxCallDepth,
	}
	constants := NewConstantTable()
	if err := constants.Precompute(ctx, env); err != nil {
		return summary, fmt.Errorf("precompute constants: %w", err)
	}

	var ruleErrs *multierror.Error
	for _, name := range constants.Failed(rs) {
		err := constants.Err(name)
		summary.FailedConstants = append(summary.FailedConstants, name)
		ruleErrs = multierror.Append(ruleErrs, err)
		k, _ := rs.Constant(name)
		msg := p.errorMessage(summary.RunID, name, "", k.Pos, err)
		if err := sink.Emit(ctx, msg); err != nil {
			return summary, fmt.Errorf("emit constant error %s: %w", name, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	tasks := make(chan int)
	results := make(chan ruleResult)

	g.Go(func() error {
		defer close(tasks)
		for i := range rs.Rules {
			select {
			case tasks <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for w := 0; w < p.workers; w++ {
		g.Go(func() error {
			for i := range tasks {
				r := rs.Rules[i]
				outcome, err := EvaluateRule(gctx, env, summary.RunID, r)
				select {
				case results <- ruleResult{order: i, rule: r, outcome: outcome, err: err}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	// Release outcomes in declaration order.
	pending := make(map[int]ruleResult)
	next := 0
	var fatal error
	for res := range results {
		if fatal != nil {
			continue
		}
		pending[res.order] = res
		for {
			res, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if err := p.collect(ctx, sink, &summary, &ruleErrs, res, log); err != nil {
				fatal = err
				cancel()
				break
			}
		}
	}
	if err := g.Wait(); err != nil && fatal == nil && !errors.Is(err, context.Canceled) {
		fatal = err
	}
	if fatal == nil && ctx.Err() != nil {
		fatal = ctx.Err()
	}

	summary.Duration = time.Since(start)
	if fatal != nil {
		log.Error("run aborted", "error", fatal, "results", summary.Results)
		return summary, fatal
	}
	log.Info("run finished",
		"results", summary.Results,
		"failed_rules", len(summary.FailedRules),
		"failed_constants", len(summary.FailedConstants),
		"duration", summary.Duration,
	)
	return summary, ruleErrs.ErrorOrNil()
}

// collect emits one rule's outcome. Only cancellation and sink errors are
// returned; processing errors become messages.
func (p *Processor) collect(ctx context.Context, sink Sink, summary *RunSummary, ruleErrs **multierror.Error, res ruleResult, log *slog.Logger) error {
	st := res.outcome.Stats
	summary.Stats.Evaluations += st.Evaluations
	summary.Stats.CacheHits += st.CacheHits
	summary.Stats.Iterations += st.Iterations
	summary.Stats.Realigns += st.Realigns

	if res.err != nil {
		if !IsProcessingError(res.err) {
			return res.err
		}
		log.Warn("rule failed", "rule", res.rule.Name, "error", res.err)
		summary.FailedRules = append(summary.FailedRules, res.rule.Name)
		*ruleErrs = multierror.Append(*ruleErrs, res.err)
		msg := p.errorMessage(summary.RunID, res.rule.Name, res.rule.Message, res.rule.Pos, res.err)
		return sink.Emit(ctx, msg)
	}
	for _, msg := range res.outcome.Messages {
		msg.Seq = p.clock.Next()
		if err := sink.Emit(ctx, msg); err != nil {
			return fmt.Errorf("emit %s: %w", res.rule.Name, err)
		}
		summary.Results++
	}
	return nil
}

// errorMessage reports a failed rule or constant.
func (p *Processor) errorMessage(runID, name, template string, pos ast.Pos, err error) ir.Message {
	value := ir.String(err.Error())
	return ir.Message{
		ID:       ir.MustResultID(runID, name, value, ir.NoAlignment, nil),
		RunID:    runID,
		Seq:      p.clock.Next(),
		Rule:     name,
		Severity: ir.SeverityProcessingError,
		Template: template,
		Location: ir.Location{File: pos.File, Line: pos.Line, Column: pos.Column},
		Value:    value,
		Error:    err.Error(),
	}
}

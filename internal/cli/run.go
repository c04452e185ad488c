package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/factrule/internal/engine"
	"github.com/roach88/factrule/internal/factfile"
	"github.com/roach88/factrule/internal/factindex"
	"github.com/roach88/factrule/internal/ir"
	"github.com/roach88/factrule/internal/store"
)

// Fact index backends.
const (
	IndexMemory = "memory"
	IndexSQL    = "sql"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database      string
	Facts         string
	Workers       int
	Index         string
	IncludeNils   bool
	MaxIterations int

	// RunIDs allows overriding the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator
}

// RunOutput is the JSON payload of the run command.
type RunOutput struct {
	RunID           string          `json:"run_id"`
	RuleSet         string          `json:"rule_set"`
	Hash            string          `json:"hash"`
	Status          store.RunStatus `json:"status"`
	Rules           int             `json:"rules"`
	Results         int             `json:"results"`
	FailedRules     []string        `json:"failed_rules,omitempty"`
	FailedConstants []string        `json:"failed_constants,omitempty"`
	BySeverity      map[string]int  `json:"by_severity"`
	DurationMS      int64           `json:"duration_ms"`
	Messages        []ResultView    `json:"messages"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <rules-dir>",
		Short: "Evaluate a rule set over facts",
		Long: `Evaluate a CUE rule set over the facts in a database or a fact file.

With --db, the facts stored in the database are used and the run and its
results are recorded there. With --facts, the fact file is loaded first
(into the database if --db is also given, otherwise into a throwaway
in-memory database).

Exit codes:
  0 - Run finished with no error results
  1 - Some rule produced an error result or failed to evaluate
  2 - Command error (invalid rules, unreadable facts, run aborted)

Examples:
  factrule run ./rules --facts ./facts.yaml
  factrule run ./rules --db ./facts.db --workers 4 --index sql
  factrule run ./rules --db ./facts.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRules(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.Flags().StringVar(&opts.Facts, "facts", "", "path to a YAML fact file")
	cmd.MarkFlagsOneRequired("db", "facts")
	cmd.Flags().IntVar(&opts.Workers, "workers", 1, "number of rules evaluated concurrently")
	cmd.Flags().StringVar(&opts.Index, "index", IndexMemory, "fact index backend (memory|sql)")
	cmd.Flags().BoolVar(&opts.IncludeNils, "include-nils", false, "include nil facts in factsets")
	cmd.Flags().IntVar(&opts.MaxIterations, "max-iterations", 0, "per-rule iteration limit (0 uses the engine default)")

	return cmd
}

func runRules(opts *RunOptions, rulesDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := slog.Default()

	if opts.Index != IndexMemory && opts.Index != IndexSQL {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric,
			fmt.Sprintf("invalid index %q: must be %s or %s", opts.Index, IndexMemory, IndexSQL), nil)
	}

	registry := engine.NewRegistry()
	loadResult, loadErrors := LoadRules(rulesDir, registry)
	if len(loadErrors) > 0 {
		var loadErr *LoadError
		if !errors.As(loadErrors[0], &loadErr) {
			loadErr = convertError(loadErrors[0])
		}
		return formatter.Fail(ExitCommandError, loadErr.Code, loadErr.Error(), toValidationErrors(loadErrors))
	}
	rs := loadResult.RuleSet
	for _, w := range loadResult.Warnings {
		logger.Warn("rule set warning", "message", w.Message)
	}
	logger.Info("rule set compiled", "rule_set", rs.Name, "rules", len(rs.Rules), "hash", rs.Hash)

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = store.MemoryPath
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if opts.Facts != "" {
		facts, err := factfile.Load(opts.Facts)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeLoadFailed, err.Error(), nil)
		}
		if _, err := st.WriteFacts(ctx, facts...); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, err.Error(), nil)
		}
		logger.Info("facts loaded", "file", opts.Facts, "facts", len(facts))
	}

	index, err := openIndex(ctx, st, opts.Index)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build fact index", err)
	}

	runIDs := opts.RunIDs
	if runIDs == nil {
		runIDs = engine.UUIDv7Generator{}
	}
	runID := runIDs.Generate()

	procOpts := []engine.Option{
		engine.WithRegistry(registry),
		engine.WithLogger(logger),
		engine.WithRunIDGenerator(engine.NewFixedGenerator(runID)),
		engine.WithWorkers(opts.Workers),
		engine.WithIncludeNils(opts.IncludeNils),
	}
	if opts.MaxIterations > 0 {
		procOpts = append(procOpts, engine.WithMaxIterations(opts.MaxIterations))
	}
	processor := engine.NewProcessor(index, procOpts...)

	resultSink := store.NewResultSink(st, rs.Name, rs.Hash)
	if err := resultSink.Begin(ctx, runID, len(rs.Rules)); err != nil {
		return WrapExitError(ExitCommandError, "failed to record run", err)
	}
	out := &writerSink{formatter: formatter}

	logger.Info("run starting", "run_id", runID, "workers", opts.Workers, "index", opts.Index)
	start := time.Now()
	summary, runErr := processor.Run(ctx, rs, engine.Tee(resultSink, out))
	if summary.RunID == "" {
		summary.RunID = runID
		summary.Rules = len(rs.Rules)
	}

	// Record the outcome even when ctx was cancelled.
	if err := resultSink.Finish(context.Background(), summary, runErr); err != nil {
		return WrapExitError(ExitCommandError, "failed to record run outcome", err)
	}
	if runErr != nil && !store.OnlyProcessingErrors(runErr) {
		return formatter.Fail(ExitCommandError, ErrCodeRunAborted, fmt.Sprintf("run aborted: %v", runErr), nil)
	}
	logger.Info("run finished", "run_id", runID, "results", summary.Results, "duration", time.Since(start))

	state, err := st.GetRunState(context.Background(), runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}
	return outputRun(formatter, state, summary, out.views)
}

// openIndex builds the fact index the processor reads from.
func openIndex(ctx context.Context, st *store.Store, kind string) (engine.FactIndex, error) {
	if kind == IndexSQL {
		return store.NewIndex(st), nil
	}
	facts, err := st.ReadFacts(ctx)
	if err != nil {
		return nil, err
	}
	return factindex.NewMemory(facts...)
}

// writerSink renders messages as they arrive. Text output streams one
// line per message; JSON output is written once the run ends.
type writerSink struct {
	formatter *OutputFormatter
	views     []ResultView
}

func (w *writerSink) Emit(_ context.Context, msg ir.Message) error {
	v := Render(resultOf(msg))
	w.views = append(w.views, v)
	if w.formatter.IsJSON() {
		return nil
	}
	_, err := fmt.Fprintln(w.formatter.Writer, textLine(v))
	return err
}

// outputRun writes the run summary and picks the exit code.
func outputRun(formatter *OutputFormatter, state store.RunState, summary engine.RunSummary, views []ResultView) error {
	run := state.Run
	bySeverity := make(map[string]int, len(state.BySeverity))
	for sev, n := range state.BySeverity {
		bySeverity[string(sev)] = n
	}
	if views == nil {
		views = []ResultView{}
	}

	var failure error
	switch {
	case len(run.FailedRules) > 0 || len(run.FailedConstants) > 0:
		failure = NewExitError(ExitFailure, fmt.Sprintf("%d rule(s) and %d constant(s) failed to evaluate",
			len(run.FailedRules), len(run.FailedConstants)))
	case state.BySeverity[ir.SeverityError] > 0:
		failure = NewExitError(ExitFailure, fmt.Sprintf("%d error result(s)", state.BySeverity[ir.SeverityError]))
	}

	if formatter.IsJSON() {
		resp := CLIResponse{
			Status: "ok",
			Data: RunOutput{
				RunID:           run.ID,
				RuleSet:         run.RuleSet,
				Hash:            run.RuleSetHash,
				Status:          run.Status,
				Rules:           run.Rules,
				Results:         run.Results,
				FailedRules:     run.FailedRules,
				FailedConstants: run.FailedConstants,
				BySeverity:      bySeverity,
				DurationMS:      summary.Duration.Milliseconds(),
				Messages:        views,
			},
			TraceID: run.ID,
		}
		if failure != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeRuleFailed, Message: failure.Error()}
		}
		if err := formatter.Respond(resp); err != nil {
			return err
		}
		return failure
	}

	w := formatter.Writer
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Run %s: %d result(s) from %d rule(s), status %s\n", run.ID, run.Results, run.Rules, run.Status)
	for _, sev := range []ir.Severity{ir.SeverityError, ir.SeverityWarning, ir.SeverityInfo, ir.SeverityOK} {
		if n := state.BySeverity[sev]; n > 0 {
			fmt.Fprintf(w, "  %s: %d\n", sev, n)
		}
	}
	for _, name := range run.FailedRules {
		fmt.Fprintf(w, "✗ rule %s failed to evaluate\n", name)
	}
	for _, name := range run.FailedConstants {
		fmt.Fprintf(w, "✗ constant %s failed to evaluate\n", name)
	}
	if failure == nil {
		fmt.Fprintln(w, "✓ Run finished")
	}
	return failure
}

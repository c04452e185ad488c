package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/factrule/internal/ir"
	"github.com/roach88/factrule/internal/store"
)

// ResultsOptions holds flags for the results command.
type ResultsOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - defaults to the latest run
	Rule     string // optional - filter to one rule
	Severity string // optional - filter to one severity
	Facts    bool   // include the contributing facts
}

// FactView is a contributing fact as the CLI prints it.
type FactView struct {
	ID      ir.FactID         `json:"id"`
	Concept string            `json:"concept"`
	Entity  string            `json:"entity"`
	Period  string            `json:"period"`
	Unit    string            `json:"unit,omitempty"`
	Dims    map[string]string `json:"dims,omitempty"`
	Value   string            `json:"value"`
	Nil     bool              `json:"nil,omitempty"`
}

// ResultsOutput holds the results of one stored run.
type ResultsOutput struct {
	RunID      string              `json:"run_id"`
	RuleSet    string              `json:"rule_set"`
	Status     store.RunStatus     `json:"status"`
	Results    []ResultView        `json:"results"`
	Facts      map[string]FactView `json:"facts,omitempty"`
	BySeverity map[string]int      `json:"by_severity"`
	IsComplete bool                `json:"is_complete"`
}

// NewResultsCommand creates the results command.
func NewResultsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResultsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "results",
		Short: "Show the results of a recorded run",
		Long: `Show the stored results of a run, with their messages rendered.

Results are listed in sequence order. With --facts, the facts that
contributed to each result are read back from the database.

Examples:
  factrule results --db ./facts.db
  factrule results --db ./facts.db --run 0192f0c4-... --rule net-assets
  factrule results --db ./facts.db --severity error --facts --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResults(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id (default: latest run)")
	cmd.Flags().StringVar(&opts.Rule, "rule", "", "filter to one rule")
	cmd.Flags().StringVar(&opts.Severity, "severity", "", "filter to one severity")
	cmd.Flags().BoolVar(&opts.Facts, "facts", false, "show contributing facts")

	return cmd
}

func runResults(opts *ResultsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	if !isValidSeverity(opts.Severity) {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric,
			fmt.Sprintf("invalid severity %q: must be one of %v", opts.Severity, severities), nil)
	}

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	runID := opts.RunID
	if runID == "" {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		if len(runs) == 0 {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, "no runs found in database", nil)
		}
		runID = runs[len(runs)-1].ID
	}

	state, err := st.GetRunState(ctx, runID)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, err.Error(), nil)
	}

	out := ResultsOutput{
		RunID:      state.Run.ID,
		RuleSet:    state.Run.RuleSet,
		Status:     state.Run.Status,
		Results:    []ResultView{},
		BySeverity: make(map[string]int, len(state.BySeverity)),
		IsComplete: state.IsComplete,
	}
	for sev, n := range state.BySeverity {
		out.BySeverity[string(sev)] = n
	}
	for _, r := range filterResults(state.Results, opts.Rule, opts.Severity) {
		out.Results = append(out.Results, Render(r))
	}

	if opts.Facts {
		if out.Facts, err = contributingFacts(ctx, st, out.Results); err != nil {
			return WrapExitError(ExitCommandError, "failed to read facts", err)
		}
	}

	if formatter.IsJSON() {
		return formatter.Respond(CLIResponse{Status: "ok", Data: out, TraceID: out.RunID})
	}
	return outputResultsText(formatter, out)
}

// filterResults keeps the results of rule and severity; empty matches all.
func filterResults(results []store.Result, rule, severity string) []store.Result {
	var out []store.Result
	for _, r := range results {
		if rule != "" && r.Rule != rule {
			continue
		}
		if severity != "" && string(r.Severity) != severity {
			continue
		}
		out = append(out, r)
	}
	return out
}

// contributingFacts reads every fact referenced by views, keyed by id.
func contributingFacts(ctx context.Context, st *store.Store, views []ResultView) (map[string]FactView, error) {
	index := store.NewIndex(st)
	facts := make(map[string]FactView)
	for _, v := range views {
		for _, id := range v.Facts {
			key := fmt.Sprint(int64(id))
			if _, ok := facts[key]; ok {
				continue
			}
			f, err := index.Fact(ctx, id)
			if err != nil {
				return nil, err
			}
			facts[key] = factView(f)
		}
	}
	return facts, nil
}

func factView(f *ir.Fact) FactView {
	v := FactView{
		ID:      f.ID,
		Concept: f.Concept.String(),
		Entity:  f.Entity.String(),
		Period:  f.Period.String(),
		Dims:    f.Dims,
		Value:   f.Value,
		Nil:     f.Nil,
	}
	if u, ok := f.Aspect(ir.UnitKey); ok {
		v.Unit = u
	}
	return v
}

// outputResultsText outputs the results as text.
func outputResultsText(formatter *OutputFormatter, out ResultsOutput) error {
	w := formatter.Writer

	fmt.Fprintf(w, "Results for Run: %s\n", out.RunID)
	fmt.Fprintf(w, "Rule set: %s\n", out.RuleSet)
	fmt.Fprintf(w, "Status: %s (%s)\n", out.Status, completeStatus(out.IsComplete))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Results ===")
	if len(out.Results) == 0 {
		fmt.Fprintln(w, "  (no results)")
	}
	for _, v := range out.Results {
		fmt.Fprintf(w, "  [%d] %s\n", v.Seq, textLine(v))
		if formatter.Verbose && v.Location != "" {
			fmt.Fprintf(w, "      at %s\n", v.Location)
		}
		if len(out.Facts) == 0 {
			continue
		}
		for _, id := range v.Facts {
			f := out.Facts[fmt.Sprint(int64(id))]
			fmt.Fprintf(w, "      fact #%d %s = %s (period=%s", f.ID, f.Concept, factValue(f), f.Period)
			if f.Unit != "" {
				fmt.Fprintf(w, ", unit=%s", f.Unit)
			}
			fmt.Fprintln(w, ")")
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	for _, sev := range severities {
		if n, ok := out.BySeverity[sev]; ok {
			fmt.Fprintf(w, "  %s: %d\n", sev, n)
		}
	}
	return nil
}

func factValue(f FactView) string {
	if f.Nil {
		return "nil"
	}
	return f.Value
}

func completeStatus(complete bool) string {
	if complete {
		return "complete"
	}
	return "incomplete"
}

// severities lists the severities a --severity filter accepts.
var severities = []string{"error", "warning", "info", "ok", string(ir.SeverityProcessingError)}

func isValidSeverity(s string) bool {
	return s == "" || slices.Contains(severities, s)
}

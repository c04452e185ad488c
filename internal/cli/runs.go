package cli

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/factrule/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Database   string
	Incomplete bool // only runs that never finished
	Check      bool // fail when any run is incomplete
}

// RunInfo summarises one stored run.
type RunInfo struct {
	ID              string          `json:"id"`
	RuleSet         string          `json:"rule_set"`
	Hash            string          `json:"hash"`
	Status          store.RunStatus `json:"status"`
	Rules           int             `json:"rules"`
	Results         int             `json:"results"`
	Stored          int             `json:"stored"`
	BySeverity      map[string]int  `json:"by_severity"`
	FailedRules     []string        `json:"failed_rules,omitempty"`
	FailedConstants []string        `json:"failed_constants,omitempty"`
	IsComplete      bool            `json:"is_complete"`
}

// RunsResult holds the runs listing.
type RunsResult struct {
	Runs        []RunInfo `json:"runs"`
	TotalRuns   int       `json:"total_runs"`
	AllComplete bool      `json:"all_complete"`
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Long: `List the runs recorded in a database with their status and result
counts.

A run is complete when it finished (with or without processing errors)
and every result it counted is stored. Runs still marked running belong
to a process that died; aborted runs were cancelled or lost their sink.

Exit codes:
  0 - Listing succeeded (and, with --check, every run is complete)
  1 - With --check, some run is incomplete
  2 - Command error (database not found, etc.)

Examples:
  factrule runs --db ./facts.db
  factrule runs --db ./facts.db --incomplete
  factrule runs --db ./facts.db --check --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().BoolVar(&opts.Incomplete, "incomplete", false, "list only runs that never finished")
	cmd.Flags().BoolVar(&opts.Check, "check", false, "exit 1 when any run is incomplete")

	return cmd
}

func runRuns(opts *RunsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	var runs []store.Run
	if opts.Incomplete {
		runs, err = st.FindIncompleteRuns(ctx)
	} else {
		runs, err = st.ListRuns(ctx)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	result := RunsResult{
		Runs:        make([]RunInfo, 0, len(runs)),
		TotalRuns:   len(runs),
		AllComplete: true,
	}
	for _, run := range runs {
		state, err := st.GetRunState(ctx, run.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read run %s", run.ID), err)
		}
		info := runInfo(state)
		if !info.IsComplete {
			result.AllComplete = false
		}
		result.Runs = append(result.Runs, info)
	}

	var failure error
	if opts.Check && !result.AllComplete {
		failure = NewExitError(ExitFailure, "incomplete runs found")
	}

	if formatter.IsJSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if failure != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_INCOMPLETE", Message: failure.Error()}
		}
		if err := formatter.Respond(resp); err != nil {
			return err
		}
		return failure
	}
	return outputRunsText(formatter, result, failure)
}

func runInfo(state store.RunState) RunInfo {
	run := state.Run
	bySeverity := make(map[string]int, len(state.BySeverity))
	for sev, n := range state.BySeverity {
		bySeverity[string(sev)] = n
	}
	return RunInfo{
		ID:              run.ID,
		RuleSet:         run.RuleSet,
		Hash:            run.RuleSetHash,
		Status:          run.Status,
		Rules:           run.Rules,
		Results:         run.Results,
		Stored:          len(state.Results),
		BySeverity:      bySeverity,
		FailedRules:     run.FailedRules,
		FailedConstants: run.FailedConstants,
		IsComplete:      state.IsComplete,
	}
}

// openExisting opens a database that must already exist, so a mistyped
// path is not silently created.
func openExisting(path string) (*store.Store, error) {
	if !fileExists(path) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path))
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}

// outputRunsText outputs the runs listing as text.
func outputRunsText(formatter *OutputFormatter, result RunsResult, failure error) error {
	w := formatter.Writer

	if result.TotalRuns == 0 {
		fmt.Fprintln(w, "No runs found in database.")
		return nil
	}

	fmt.Fprintf(w, "Runs: %d\n", result.TotalRuns)
	fmt.Fprintln(w)
	for _, run := range result.Runs {
		mark := "✓"
		if !run.IsComplete {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s  %s  %s\n", mark, run.ID, run.RuleSet, run.Status)
		fmt.Fprintf(w, "  Results: %d from %d rule(s)\n", run.Results, run.Rules)
		if formatter.Verbose {
			fmt.Fprintf(w, "  Hash: %s\n", run.Hash)
			fmt.Fprintf(w, "  Stored messages: %d\n", run.Stored)
			for _, sev := range slices.Sorted(maps.Keys(run.BySeverity)) {
				fmt.Fprintf(w, "  %s: %d\n", sev, run.BySeverity[sev])
			}
		}
		for _, name := range run.FailedRules {
			fmt.Fprintf(w, "  failed rule: %s\n", name)
		}
		for _, name := range run.FailedConstants {
			fmt.Fprintf(w, "  failed constant: %s\n", name)
		}
	}
	fmt.Fprintln(w)

	if result.AllComplete {
		fmt.Fprintln(w, "✓ All runs complete")
		return nil
	}
	fmt.Fprintln(w, "✗ Incomplete runs found")
	return failure
}

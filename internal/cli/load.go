package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/factrule/internal/factfile"
	"github.com/roach88/factrule/internal/store"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	Database string
}

// LoadOutput is the JSON payload of the load command.
type LoadOutput struct {
	File     string `json:"file"`
	Database string `json:"database"`
	Loaded   int    `json:"loaded"`
	Total    int    `json:"total"`
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load <facts.yaml>",
		Short: "Load a fact file into a database",
		Long: `Parse a YAML fact file and store its facts in a SQLite database,
creating the database if it does not exist.

Facts are keyed by id; loading the same file twice stores each fact once.

Example:
  factrule load ./facts.yaml --db ./facts.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runLoad(opts *LoadOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	facts, err := factfile.Load(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLoadFailed, err.Error(), nil)
	}
	formatter.VerboseLog("Parsed %d fact(s) from %s", len(facts), path)

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ids, err := st.WriteFacts(ctx, facts...)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, err.Error(), nil)
	}
	total, err := st.CountFacts(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count facts", err)
	}
	slog.Info("facts loaded", "file", path, "db", opts.Database, "facts", len(ids), "total", total)

	out := LoadOutput{File: path, Database: opts.Database, Loaded: len(ids), Total: total}
	if formatter.IsJSON() {
		return formatter.Success(out)
	}
	fmt.Fprintf(formatter.Writer, "✓ Loaded %d fact(s) into %s (%d total)\n", out.Loaded, out.Database, out.Total)
	return nil
}

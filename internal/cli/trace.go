package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/scripthost/internal/ir"
	"github.com/roach88/scripthost/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Journal  string
	RunID    string
	Script   string
	Kinds    []string
	AfterSeq int64
	Limit    int
	Runs     bool
}

// TraceResult is the JSON payload of the trace command.
type TraceResult struct {
	Journal string      `json:"journal"`
	RunID   string      `json:"run_id,omitempty"`
	Records []ir.Record `json:"records"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Print the lifecycle journal",
		Long: `Print records from a lifecycle journal written by "scripthost serve".

The journal path defaults to the config's journal setting. Without --run
every run in the journal is printed.

Examples:
  scripthost trace --journal ./scripthost.db
  scripthost trace --journal ./scripthost.db --runs
  scripthost trace --journal ./scripthost.db --script greeter.js#4821 --kind fanout --kind listener_failed
  scripthost trace --journal ./scripthost.db --format json --limit 50`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to the SQLite journal (defaults to config journal)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "only records from this run id")
	cmd.Flags().StringVar(&opts.Script, "script", "", "only records for this script id")
	cmd.Flags().StringSliceVar(&opts.Kinds, "kind", nil, "only records of these kinds (repeatable)")
	cmd.Flags().Int64Var(&opts.AfterSeq, "after", 0, "only records after this seq")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum records to print (0 = all)")
	cmd.Flags().BoolVar(&opts.Runs, "runs", false, "list run ids instead of records")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	path := opts.Journal
	if path == "" {
		cfg, err := loadConfig(opts.RootOptions)
		if err != nil {
			return err
		}
		path = cfg.Journal
	}
	if path == "" {
		return NewExitError(ExitCommandError, "no journal: pass --journal or set journal in the config")
	}
	if _, err := os.Stat(path); err != nil {
		return WrapExitError(ExitCommandError, "journal not found", err)
	}

	j, err := journal.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	out := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.Runs {
		runs, err := j.Runs(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		if opts.Format == "json" {
			return out.Success("", runs)
		}
		for _, id := range runs {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	}

	filter := journal.Filter{
		RunID:    opts.RunID,
		ScriptID: opts.Script,
		AfterSeq: opts.AfterSeq,
		Limit:    opts.Limit,
	}
	for _, k := range opts.Kinds {
		filter.Kinds = append(filter.Kinds, ir.RecordKind(k))
	}

	records, err := j.List(ctx, filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	out.VerboseLog("read %d records from %s", len(records), path)

	if opts.Format == "json" {
		return out.Success("", TraceResult{Journal: path, RunID: opts.RunID, Records: records})
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No records found.")
		return nil
	}
	for _, rec := range records {
		fmt.Fprintln(cmd.OutOrStdout(), rec)
	}
	return nil
}

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/scripthost/internal/host"
	"github.com/roach88/scripthost/internal/script"
)

// CheckResult is the outcome of compiling one file.
type CheckResult struct {
	File  string `json:"file"`
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Line  int    `json:"line,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>...",
		Short: "Compile scripts without running them",
		Long: `Compile each script in the script directory and report syntax errors
with their line number. Nothing is executed and nothing is subscribed.

Exit codes:
  0 - Every script compiles
  1 - At least one script failed to compile or is missing
  2 - Command error (bad config)

Examples:
  scripthost check greeter
  scripthost check --config scripthost.cue a.js b.js`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, args, cmd)
		},
	}
}

func runCheck(opts *RootOptions, files []string, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	// Checking never writes to the configured journal.
	cfg.Journal = ""

	h, err := host.New(cfg, host.WithLogger(newLogger(opts, cfg, cmd.ErrOrStderr())))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start host", err)
	}
	defer h.Close(context.Background())

	out := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	results := make([]CheckResult, 0, len(files))
	failed := 0
	for _, name := range files {
		res := CheckResult{File: name, OK: true}
		if err := h.Check(name); err != nil {
			failed++
			res.OK = false
			res.Code = string(script.CodeOf(err))
			res.Line = script.LineOf(err)
			res.Error = err.Error()
		}
		results = append(results, res)
		out.VerboseLog("checked %s: ok=%t", name, res.OK)
	}

	if opts.Format == "json" {
		if err := out.Success("", results); err != nil {
			return err
		}
	} else {
		for _, res := range results {
			fmt.Fprintln(cmd.OutOrStdout(), formatCheck(res))
		}
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scripts failed", failed, len(files)))
	}
	return nil
}

func formatCheck(res CheckResult) string {
	switch {
	case res.OK:
		return res.File + ": ok"
	case res.Code == string(script.ErrCodeSourceUnavailable):
		return res.File + ": can't be found"
	case res.Line > 0:
		return fmt.Sprintf("%s has an error at line %d", res.File, res.Line)
	default:
		return fmt.Sprintf("%s has an error: %s", res.File, res.Error)
	}
}

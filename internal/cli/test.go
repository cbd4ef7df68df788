package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/scripthost/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter string // glob matched against scenario file names
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario-or-dir>...",
		Short: "Run scenario files against a fresh host",
		Long: `Run YAML scenarios. Each scenario starts a fresh host with its own
script directory and in-memory journal, executes its steps and checks its
expectations and assertions.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  scripthost test ./scenarios
  scripthost test ./scenarios --filter "fanout*"
  scripthost test discard.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, paths []string, cmd *cobra.Command) error {
	files, err := harness.Discover(paths...)
	if err != nil {
		var nf *harness.ScenarioNotFoundError
		if errors.As(err, &nf) {
			return NewExitError(ExitCommandError, nf.Error())
		}
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	files, err = filterScenarios(files, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter", err)
	}

	out := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if len(files) == 0 {
		if opts.Format == "json" {
			return out.Success("", harness.SuiteResult{Results: []harness.ScenarioOutcome{}})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	suite := harness.RunSuite(ctx, files)

	if opts.Format == "json" {
		if err := out.Success("", suite); err != nil {
			return err
		}
	} else {
		printSuite(cmd, opts, suite)
	}

	if suite.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", suite.Failed, suite.Total))
	}
	return nil
}

func filterScenarios(files []string, pattern string) ([]string, error) {
	if pattern == "" {
		return files, nil
	}
	var kept []string
	for _, f := range files {
		ok, err := filepath.Match(pattern, filepath.Base(f))
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, f)
		}
	}
	return kept, nil
}

func printSuite(cmd *cobra.Command, opts *TestOptions, suite *harness.SuiteResult) {
	w := cmd.OutOrStdout()
	failures := make(map[string][]string, len(suite.Failures))
	for _, f := range suite.Failures {
		failures[f.Path] = f.Errors
	}

	for _, r := range suite.Results {
		name := r.Name
		if name == "" {
			name = r.Path
		}
		if r.Pass {
			fmt.Fprintf(w, "PASS %s\n", name)
			if opts.Verbose && r.Result != nil {
				for _, line := range r.Result.OutputLines() {
					fmt.Fprintf(w, "    > %s\n", line)
				}
			}
			continue
		}
		fmt.Fprintf(w, "FAIL %s\n", name)
		for _, msg := range failures[r.Path] {
			fmt.Fprintf(w, "    %s\n", msg)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", suite.Passed, suite.Failed, suite.Total)
}

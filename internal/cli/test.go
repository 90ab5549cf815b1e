package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/verdict/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter string // scenario name glob
}

// TestResult wraps the suite summary for text output.
type TestResult struct {
	*harness.SuiteResult
}

// WriteText prints one line per failure and a summary.
func (r TestResult) WriteText(w io.Writer) error {
	for _, f := range r.Failures {
		fmt.Fprintf(w, "FAIL %s\n", f.Scenario)
		for _, e := range f.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	_, err := fmt.Fprintf(w, "%d/%d scenarios passed\n", r.Passed, r.Total)
	return err
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run settlement scenarios against the emulator",
		Long: `Run every scenario YAML file in a directory against the capability
emulator and check each run's terminal state and assertions.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (missing directory, malformed scenario)

Examples:
  verdict test ./scenarios
  verdict test ./scenarios --filter "consensus_*"
  verdict test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "run only scenarios whose name matches this glob")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if _, err := os.Stat(dir); err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}

	formatter.VerboseLog("Running scenarios in %s", dir)
	suite, err := harness.RunDir(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenarios", err)
	}

	result := TestResult{SuiteResult: suite}
	if suite.Failed > 0 {
		if err := formatter.Error(ErrCodeScenarios, fmt.Sprintf("%d of %d scenarios failed", suite.Failed, suite.Total), result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "scenarios failed")
	}
	return formatter.Success(result)
}

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/verdict/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid         bool           `json:"valid"`
	Errors        []config.Error `json:"errors,omitempty"`
	ChainSelector uint64         `json:"chain_selector,omitempty"`
	Digest        string         `json:"digest,omitempty"`
	Config        *config.Config `json:"config,omitempty"`
}

// WriteText renders the result for humans.
func (r ValidationResult) WriteText(w io.Writer) error {
	if !r.Valid {
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  %s\n", e.Error())
		}
		return nil
	}
	fmt.Fprintf(w, "✓ config valid\n")
	fmt.Fprintf(w, "  model:     %s\n", r.Config.GeminiModel)
	fmt.Fprintf(w, "  contract:  %s\n", r.Config.Receiver().Hex())
	fmt.Fprintf(w, "  chain:     %s (%d)\n", r.Config.ChainName, r.ChainSelector)
	fmt.Fprintf(w, "  nodes:     %d\n", r.Config.NodeCount)
	fmt.Fprintf(w, "  digest:    %s\n", r.Digest)
	return nil
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.json>",
		Short: "Validate an executor config file",
		Long: `Validate a config file the way settle does before any capability call:
JSON decoding, VERDICT_* environment overrides, defaults, schema
constraints and the chain registry. All problems are reported.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := config.Load(path)
	if err != nil {
		result := ValidationResult{Valid: false, Errors: configErrors(err)}
		if outErr := formatter.Error(ErrCodeConfig, "config invalid", result); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, "config invalid", err)
	}

	digest, err := cfg.Digest()
	if err != nil {
		return WrapExitError(ExitCommandError, "digest config", err)
	}
	return formatter.Success(ValidationResult{
		Valid:         true,
		ChainSelector: cfg.ChainSelector(),
		Digest:        digest,
		Config:        &cfg,
	})
}

// configErrors flattens a config error into its individual problems.
func configErrors(err error) []config.Error {
	var errs config.Errors
	if errors.As(err, &errs) {
		return errs
	}
	var one *config.Error
	if errors.As(err, &one) {
		return []config.Error{*one}
	}
	return []config.Error{{Code: ErrCodeGeneric, Field: "config", Message: err.Error()}}
}

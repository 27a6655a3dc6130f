package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"quest/internal/plan"
)

// ValidationResult holds plan validation results.
type ValidationResult struct {
	Valid  bool `json:"valid"`
	Groups int  `json:"groups,omitempty"`
	Tests  int  `json:"tests,omitempty"`
}

// ErrCodeInvalidPlan marks a plan file that failed to parse or validate.
const ErrCodeInvalidPlan = "E001"

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan-file>",
		Short: "Validate a test plan without running it",
		Long: `Parse and validate a YAML test plan without touching the database or
the application under test. Catches unknown fields, malformed methods and
URLs, and invalid assertion declarations.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, planPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	p, _, err := plan.Load(planPath)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidPlan, err.Error(), nil)
		return WrapExitError(ExitFailure, "plan validation failed", err)
	}

	formatter.VerboseLog("Parsed %d group(s) from %s", len(p.Groups), planPath)

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{
			Valid:  true,
			Groups: len(p.Groups),
			Tests:  p.CaseCount(),
		})
	}

	fmt.Fprintf(formatter.Writer, "✓ Plan valid: %d group(s), %d test(s)\n",
		len(p.Groups), p.CaseCount())
	return nil
}

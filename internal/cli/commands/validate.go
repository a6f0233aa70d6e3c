package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmetrics/pkg/validate"
)

// ValidateOptions holds options for the validate command.
type ValidateOptions struct {
	Format     string
	Disable    []string
	ErrorsOnly bool
}

// ValidationFailedError reports a project with validation errors.
type ValidationFailedError struct {
	Errors int
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("validation failed with %d error(s)", e.Errors)
}

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	opts := &ValidateOptions{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the project for configuration errors",
		Long: `Run every validation rule against the models, views, fields, topics and
dashboards of the project. Rules can be disabled or have their severity
changed under validate: in leapmetrics.yaml.

The command fails when any error is reported; warnings never fail it.`,
		Example: `  leapmetrics validate
  leapmetrics validate --format json
  leapmetrics validate --disable VV05,VF12`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringSliceVar(&opts.Disable, "disable", nil, "Rule IDs to disable")
	cmd.Flags().BoolVar(&opts.ErrorsOnly, "errors-only", false, "Hide warnings")

	return cmd
}

func runValidate(cmd *cobra.Command, opts *ValidateOptions) error {
	cc := NewCommandContext(cmd)
	vcfg, err := cc.Cfg.ValidationConfig()
	if err != nil {
		return err
	}
	for _, id := range opts.Disable {
		vcfg.Disable(id)
	}

	p, err := cc.LoadProject(cmd.Context())
	if err != nil {
		return err
	}
	diags := validate.NewAnalyzer(vcfg, cc.Logger).Analyze(p)
	errs := validate.Errors(diags)
	if opts.ErrorsOnly {
		diags = errs
	}

	if opts.Format == formatJSON {
		if diags == nil {
			diags = []validate.Diagnostic{}
		}
		if err := writeJSON(cc.Out, diags); err != nil {
			return err
		}
	} else {
		for _, d := range diags {
			_, _ = fmt.Fprintln(cc.Out, d.String())
		}
		if len(diags) == 0 {
			_, _ = fmt.Fprintln(cc.Out, "Project is valid")
		} else {
			_, _ = fmt.Fprintf(cc.Out, "\n%d error(s), %d warning(s)\n", len(errs), len(diags)-len(errs))
		}
	}

	if len(errs) > 0 {
		return &ValidationFailedError{Errors: len(errs)}
	}
	return nil
}

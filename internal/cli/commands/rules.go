package commands

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmetrics/pkg/validate"
)

// RuleInfo is the listing form of a validation rule.
type RuleInfo struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Kind        validate.Kind     `json:"kind"`
	Severity    validate.Severity `json:"severity"`
	Description string            `json:"description"`
}

// NewRulesCommand creates the rules command.
func NewRulesCommand() *cobra.Command {
	var (
		kind   string
		format string
	)
	cmd := &cobra.Command{
		Use:   "rules [rule-id]",
		Short: "List validation rules",
		Long: `List the rules leapmetrics validate runs, with their default severity.
Rules are grouped by the kind of object they check.`,
		Example: `  leapmetrics rules
  leapmetrics rules --kind field
  leapmetrics rules VF02`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := NewCommandContext(cmd)
			format := cc.Format(format)
			if err := checkFormat(format); err != nil {
				return err
			}

			var rules []validate.RuleDef
			switch {
			case len(args) == 1:
				r, ok := validate.GetByID(strings.ToUpper(args[0]))
				if !ok {
					return fmt.Errorf("rule %q not found", args[0])
				}
				rules = []validate.RuleDef{r}
			case kind != "":
				rules = validate.GetByKind(validate.Kind(kind))
			default:
				rules = validate.GetAll()
			}

			infos := make([]RuleInfo, len(rules))
			rows := make([]table.Row, len(rules))
			for i, r := range rules {
				infos[i] = RuleInfo{ID: r.ID, Name: r.Name, Kind: r.Kind, Severity: r.Severity, Description: r.Description}
				rows[i] = table.Row{r.ID, r.Name, r.Kind, r.Severity.String(), r.Description}
			}
			if format == formatJSON {
				return writeJSON(cc.Out, infos)
			}
			return renderTable(cc.Out, table.Row{"ID", "Name", "Kind", "Severity", "Description"}, rows, format, false)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Filter by object kind: project, model, view, field, identifier, topic, dashboard")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format: table, json, csv, md")
	return cmd
}

package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmetrics/pkg/model"
	"github.com/leapstack-labs/leapmetrics/pkg/mql"
	"github.com/leapstack-labs/leapmetrics/pkg/query"
)

// NewMQLCommand creates the mql command.
func NewMQLCommand() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "mql [SQL]",
		Short: "Expand MQL(...) calls inside a SQL statement",
		Long: `Replace every MQL(metrics BY dimensions WHERE ... HAVING ... ORDER BY ...)
call in a SQL statement with the compiled subquery.

The statement is taken from the arguments, from --input, or from stdin.`,
		Example: `  leapmetrics mql "SELECT * FROM MQL(total_revenue BY channel)"
  leapmetrics mql -i report.sql`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := NewCommandContext(cmd)
			sql, err := readStatement(cmd.InOrStdin(), args, input)
			if err != nil {
				return err
			}
			p, err := cc.LoadProject(cmd.Context())
			if err != nil {
				return err
			}
			out, err := convertMQL(cc, p, sql)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cc.Out, out)
			return err
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Read SQL from file")
	return cmd
}

func convertMQL(cc *CommandContext, p *model.Project, sql string) (string, error) {
	compiler := query.New(p, query.WithLogger(cc.Logger))
	return mql.NewConverter(compiler, cc.Logger).Convert(sql, query.Request{})
}

// readStatement takes SQL from args, then the input file, then stdin.
func readStatement(stdin io.Reader, args []string, input string) (string, error) {
	var sql string
	switch {
	case len(args) > 0:
		sql = strings.Join(args, " ")
	case input != "":
		content, err := os.ReadFile(input)
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
		sql = string(content)
	case !isTerminal(stdin):
		content, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		sql = string(content)
	}
	if strings.TrimSpace(sql) == "" {
		return "", fmt.Errorf("no SQL given")
	}
	return sql, nil
}

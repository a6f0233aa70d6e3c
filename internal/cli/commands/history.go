package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmetrics/internal/state"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	var (
		limit  int
		format string
	)
	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "Show previously compiled queries",
		Long: `List the queries compiled by this project, newest first, or show one query
with its full SQL.`,
		Example: `  leapmetrics history
  leapmetrics history --limit 5 --format json
  leapmetrics history 3f1c9a52-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := NewCommandContext(cmd)
			format := cc.Format(format)
			if err := checkFormat(format); err != nil {
				return err
			}
			store, err := cc.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if len(args) == 1 {
				rec, err := store.GetQuery(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if format == formatJSON {
					return writeJSON(cc.Out, rec)
				}
				return printRecord(cc, rec)
			}

			recs, err := store.ListQueries(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if format == formatJSON {
				if recs == nil {
					recs = []*state.QueryRecord{}
				}
				return writeJSON(cc.Out, recs)
			}
			rows := make([]table.Row, len(recs))
			for i, r := range recs {
				rows[i] = table.Row{r.ID, r.CreatedAt.Local().Format(time.DateTime), r.User,
					r.Duration.Round(time.Millisecond), rowCount(r), summary(r)}
			}
			return renderTable(cc.Out, table.Row{"ID", "Created", "User", "Duration", "Rows", "Request"}, rows, format, true)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of queries to show, 0 for all")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format: table, json, csv, md")
	return cmd
}

func rowCount(r *state.QueryRecord) string {
	if r.RowCount == nil {
		return "-"
	}
	return fmt.Sprint(*r.RowCount)
}

// summary is the request, or the error of a failed query.
func summary(r *state.QueryRecord) string {
	s := r.Request
	if r.Error != "" {
		s = "error: " + r.Error
	}
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}

func printRecord(cc *CommandContext, r *state.QueryRecord) error {
	w := cc.Out
	_, _ = fmt.Fprintf(w, "ID:       %s\n", r.ID)
	_, _ = fmt.Fprintf(w, "Created:  %s\n", r.CreatedAt.Local().Format(time.RFC3339))
	if r.User != "" {
		_, _ = fmt.Fprintf(w, "User:     %s\n", r.User)
	}
	_, _ = fmt.Fprintf(w, "Duration: %s\n", r.Duration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "Rows:     %s\n", rowCount(r))
	_, _ = fmt.Fprintf(w, "Request:  %s\n", r.Request)
	if r.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:    %s\n", r.Error)
	}
	if r.SQL != "" {
		_, _ = fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(r.SQL))
	}
	return nil
}

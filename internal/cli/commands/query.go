package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmetrics/internal/state"
	"github.com/leapstack-labs/leapmetrics/pkg/model"
	"github.com/leapstack-labs/leapmetrics/pkg/query"
)

// QueryOptions holds options for the query command.
type QueryOptions struct {
	Metrics    []string
	Dimensions []string
	Where      string
	Having     string
	OrderBy    string
	Limit      int
	Topic      string
	QueryType  string
	Request    string
	Run        bool
	Format     string
}

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Compile metrics and dimensions into SQL",
		Long: `Compile a metrics query into SQL for the model's warehouse.

The request is built from flags, read from a JSON file with --request, or
read as JSON from stdin when stdin is not a terminal. With --run the SQL is
executed on the model's connection and the rows are printed.`,
		Example: `  # Print the SQL for revenue by channel
  leapmetrics query -m total_revenue -d channel

  # Run it and print the rows as CSV
  leapmetrics query -m total_revenue -d channel --run --format csv

  # Read a full request
  echo '{"metrics": ["total_revenue"], "limit": 10}' | leapmetrics query`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runQuery(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Metrics, "metrics", "m", nil, "Metrics to compute")
	cmd.Flags().StringSliceVarP(&opts.Dimensions, "dimensions", "d", nil, "Dimensions to group by")
	cmd.Flags().StringVar(&opts.Where, "where", "", "SQL filter on dimensions, e.g. \"${channel} = 'Email'\"")
	cmd.Flags().StringVar(&opts.Having, "having", "", "SQL filter on metrics")
	cmd.Flags().StringVar(&opts.OrderBy, "order-by", "", "Sort clauses, e.g. \"total_revenue desc\"")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of rows")
	cmd.Flags().StringVar(&opts.Topic, "topic", "", "Topic label to scope the query")
	cmd.Flags().StringVar(&opts.QueryType, "query-type", "", "Dialect override, e.g. postgres")
	cmd.Flags().StringVarP(&opts.Request, "request", "r", "", "Read the request from a JSON file")
	cmd.Flags().BoolVar(&opts.Run, "run", false, "Execute the query on the model's connection")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Output format: table, json, csv, md")

	_ = cmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return formats, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runQuery(cmd *cobra.Command, opts *QueryOptions) error {
	cc := NewCommandContext(cmd)
	format := cc.Format(opts.Format)
	if err := checkFormat(format); err != nil {
		return err
	}

	raw, err := requestFromOptions(cmd.InOrStdin(), opts)
	if err != nil {
		return err
	}
	req, err := query.DecodeRequest(raw)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	p, err := cc.LoadProject(ctx)
	if err != nil {
		return err
	}
	return compileAndRun(ctx, cc, p, raw, req, opts.Run, format)
}

// requestFromOptions builds the loosely typed request the API also accepts.
func requestFromOptions(stdin io.Reader, opts *QueryOptions) (map[string]any, error) {
	var raw map[string]any
	switch {
	case opts.Request != "":
		data, err := os.ReadFile(opts.Request)
		if err != nil {
			return nil, fmt.Errorf("failed to read request: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("request %s is not a JSON object: %w", opts.Request, err)
		}
	case len(opts.Metrics) == 0 && len(opts.Dimensions) == 0 && !isTerminal(stdin):
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		if strings.TrimSpace(string(data)) != "" {
			if err := json.Unmarshal(data, &raw); err != nil {
				return nil, fmt.Errorf("stdin is not a JSON request: %w", err)
			}
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}

	if len(opts.Metrics) > 0 {
		raw["metrics"] = opts.Metrics
	}
	if len(opts.Dimensions) > 0 {
		raw["dimensions"] = opts.Dimensions
	}
	if opts.Where != "" {
		raw["where"] = opts.Where
	}
	if opts.Having != "" {
		raw["having"] = opts.Having
	}
	if opts.OrderBy != "" {
		raw["order_by"] = opts.OrderBy
	}
	if opts.Limit > 0 {
		raw["limit"] = opts.Limit
	}
	if opts.Topic != "" {
		raw["topic"] = opts.Topic
	}
	if opts.QueryType != "" {
		raw["query_type"] = opts.QueryType
	}
	if raw["metrics"] == nil && raw["dimensions"] == nil {
		return nil, fmt.Errorf("no metrics or dimensions given, use --metrics, --dimensions or --request")
	}
	return raw, nil
}

// compileAndRun compiles req, prints the SQL or the rows and records the
// query in the history.
func compileAndRun(ctx context.Context, cc *CommandContext, p *model.Project, raw map[string]any,
	req query.Request, run bool, format string) error {
	start := time.Now()
	rec := &state.QueryRecord{User: os.Getenv("USER")}
	if data, err := json.Marshal(raw); err == nil {
		rec.Request = string(data)
	}

	res, err := query.New(p, query.WithLogger(cc.Logger)).Compile(req)
	if err == nil {
		rec.SQL, rec.QueryType = res.SQL, res.QueryType
		if run {
			err = runCompiled(ctx, cc, res, rec, format)
		} else {
			err = printSQL(cc.Out, res, format)
		}
	}
	if err != nil {
		rec.Error = err.Error()
	}
	rec.Duration = time.Since(start)
	recordQuery(ctx, cc, rec)
	return err
}

func printSQL(w io.Writer, res *query.Result, format string) error {
	if format == formatJSON {
		return writeJSON(w, res)
	}
	_, err := fmt.Fprintln(w, res.SQL)
	return err
}

func runCompiled(ctx context.Context, cc *CommandContext, res *query.Result, rec *state.QueryRecord, format string) error {
	if res.Connection == "" {
		return fmt.Errorf("the model has no connection to run the query on")
	}
	pool := cc.Pool()
	defer func() { _ = pool.Close() }()

	rs, err := pool.Query(ctx, res.Connection, res.SQL)
	if err != nil {
		return err
	}
	n := rs.Len()
	rec.RowCount = &n
	return renderResults(cc.Out, rs, format)
}

// recordQuery appends rec to the history. A history that cannot be opened
// never fails the query.
func recordQuery(ctx context.Context, cc *CommandContext, rec *state.QueryRecord) {
	if cc.Cfg.State.Path == "" {
		return
	}
	store, err := cc.OpenStore(ctx)
	if err != nil {
		cc.Logger.Warn("query history unavailable", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = store.Close() }()
	if err := store.RecordQuery(ctx, rec); err != nil {
		cc.Logger.Warn("failed to record query", slog.String("error", err.Error()))
	}
}

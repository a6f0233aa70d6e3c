// Package bigquery provides a Google BigQuery adapter built on the native
// client rather than database/sql.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/leapstack-labs/leapmetrics/pkg/adapter"
)

func init() {
	adapter.Register("bigquery", func(l *slog.Logger) adapter.Adapter { return New(l) })
}

// Adapter implements the adapter.Adapter interface for BigQuery.
type Adapter struct {
	client *bigquery.Client
	cfg    adapter.Config
	logger *slog.Logger
}

// New creates a new BigQuery adapter instance.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{logger: logger}
}

// DialectName returns the SQL dialect for this adapter.
func (a *Adapter) DialectName() string {
	return "bigquery"
}

// Connect creates a BigQuery client for cfg.ProjectID. Credentials come
// from cfg.CredentialsJSON or the application default credentials.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	opts, err := clientOptions(cfg)
	if err != nil {
		return err
	}
	a.logger.Debug("connecting to bigquery", slog.String("project", cfg.ProjectID))
	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return fmt.Errorf("failed to create bigquery client: %w", err)
	}
	a.client = client
	a.cfg = cfg
	return nil
}

func clientOptions(cfg adapter.Config) ([]option.ClientOption, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("bigquery connection %s is missing the project_id", cfg.Name)
	}
	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	return opts, nil
}

// Close releases the client.
func (a *Adapter) Close() error {
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	return err
}

// Query runs sqlStr as a standard SQL job and reads every row.
func (a *Adapter) Query(ctx context.Context, sqlStr string) (*adapter.ResultSet, error) {
	if a.client == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	q := a.client.Query(sqlStr)
	if a.cfg.Database != "" {
		q.DefaultDatasetID = a.cfg.Database
	}
	if loc := a.cfg.Options["location"]; loc != "" {
		q.Location = loc
	}
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	rs := &adapter.ResultSet{}
	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		values := make([]any, len(row))
		for i, v := range row {
			values[i] = v
		}
		rs.Rows = append(rs.Rows, values)
	}
	// The schema is populated once the iterator has fetched a page.
	for _, f := range it.Schema {
		rs.Columns = append(rs.Columns, f.Name)
	}
	return rs, nil
}

var _ adapter.Adapter = (*Adapter)(nil)

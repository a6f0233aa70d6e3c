// Package duckdb provides a DuckDB adapter, used for local development
// against files and for tests that need a real engine.
package duckdb

import (
	"context"
	"fmt"
	"log/slog"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver

	"github.com/leapstack-labs/leapmetrics/pkg/adapter"
)

func init() {
	adapter.Register("duckdb", func(l *slog.Logger) adapter.Adapter { return New(l) })
}

// Adapter implements the adapter.Adapter interface for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new DuckDB adapter instance.
func New(logger *slog.Logger) *Adapter {
	return &Adapter{BaseSQLAdapter: adapter.NewBase(logger)}
}

// DialectName returns the SQL dialect for this adapter.
func (a *Adapter) DialectName() string {
	return "duckdb"
}

// Connect opens the database at cfg.Path, or an in-memory database, then
// loads the configured extensions and applies the session settings.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	params, err := ParseParams(cfg.Options)
	if err != nil {
		return err
	}
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	if err := a.Open(ctx, "duckdb", path, cfg); err != nil {
		return err
	}
	for _, stmt := range params.Statements() {
		a.Logger.Debug("configuring duckdb", slog.String("statement", stmt))
		if _, err := a.DB.ExecContext(ctx, stmt); err != nil {
			_ = a.Close()
			return fmt.Errorf("failed to configure duckdb: %w", err)
		}
	}
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)

// Package postgres provides a PostgreSQL warehouse adapter.
//
// Import this package with a blank identifier to register the adapter:
//
//	import _ "github.com/leapstack-labs/leapmetrics/pkg/adapters/postgres"
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"github.com/leapstack-labs/leapmetrics/pkg/adapter"
)

func init() {
	adapter.Register("postgres", func(l *slog.Logger) adapter.Adapter { return New(l) })
}

// Adapter implements the adapter.Adapter interface for PostgreSQL.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new PostgreSQL adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	return &Adapter{BaseSQLAdapter: adapter.NewBase(logger)}
}

// DialectName returns the SQL dialect for this adapter.
func (a *Adapter) DialectName() string {
	return "postgres"
}

// Connect establishes a connection to PostgreSQL.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	a.Logger.Debug("connecting to postgres", slog.String("host", cfg.Host), slog.String("database", cfg.Database))
	return a.Open(ctx, "pgx", buildDSN(cfg), cfg)
}

// buildDSN constructs a key=value PostgreSQL connection string.
func buildDSN(cfg adapter.Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslmode := "disable"
	if mode, ok := cfg.Options["sslmode"]; ok {
		sslmode = mode
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s", host, port, cfg.Database, sslmode)
	if cfg.Username != "" {
		dsn += fmt.Sprintf(" user=%s", cfg.Username)
	}
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", cfg.Password)
	}
	if cfg.Schema != "" {
		dsn += fmt.Sprintf(" search_path=%s", cfg.Schema)
	}
	return dsn
}

var _ adapter.Adapter = (*Adapter)(nil)

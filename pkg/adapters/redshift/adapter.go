// Package redshift provides an Amazon Redshift adapter over the Postgres
// wire protocol.
package redshift

import (
	"context"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // registers the "postgres" driver

	"github.com/leapstack-labs/leapmetrics/pkg/adapter"
)

func init() {
	adapter.Register("redshift", func(l *slog.Logger) adapter.Adapter { return New(l) })
}

// Adapter implements the adapter.Adapter interface for Redshift.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new Redshift adapter instance.
func New(logger *slog.Logger) *Adapter {
	return &Adapter{BaseSQLAdapter: adapter.NewBase(logger)}
}

// DialectName returns the SQL dialect for this adapter.
func (a *Adapter) DialectName() string {
	return "redshift"
}

// Connect establishes a connection to a Redshift cluster.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	if cfg.Host == "" {
		return fmt.Errorf("redshift connection %s is missing the host", cfg.Name)
	}
	a.Logger.Debug("connecting to redshift", slog.String("host", cfg.Host), slog.String("database", cfg.Database))
	return a.Open(ctx, "postgres", buildDSN(cfg), cfg)
}

func buildDSN(cfg adapter.Config) string {
	port := cfg.Port
	if port == 0 {
		port = 5439
	}
	sslmode := "require"
	if mode, ok := cfg.Options["sslmode"]; ok {
		sslmode = mode
	}
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s", cfg.Host, port, cfg.Database, sslmode)
	if cfg.Username != "" {
		dsn += fmt.Sprintf(" user=%s", cfg.Username)
	}
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", cfg.Password)
	}
	return dsn
}

var _ adapter.Adapter = (*Adapter)(nil)

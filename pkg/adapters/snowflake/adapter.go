// Package snowflake provides a Snowflake warehouse adapter.
package snowflake

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	_ "github.com/snowflakedb/gosnowflake" // registers the "snowflake" driver

	"github.com/leapstack-labs/leapmetrics/pkg/adapter"
)

func init() {
	adapter.Register("snowflake", func(l *slog.Logger) adapter.Adapter { return New(l) })
}

// Adapter implements the adapter.Adapter interface for Snowflake.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new Snowflake adapter instance.
func New(logger *slog.Logger) *Adapter {
	return &Adapter{BaseSQLAdapter: adapter.NewBase(logger)}
}

// DialectName returns the SQL dialect for this adapter.
func (a *Adapter) DialectName() string {
	return "snowflake"
}

// Connect establishes a connection to Snowflake.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return err
	}
	a.Logger.Debug("connecting to snowflake", slog.String("account", cfg.Account), slog.String("warehouse", cfg.Warehouse))
	return a.Open(ctx, "snowflake", dsn, cfg)
}

// buildDSN returns user:password@account/database/schema?warehouse=...&role=...
func buildDSN(cfg adapter.Config) (string, error) {
	if cfg.Account == "" {
		return "", fmt.Errorf("snowflake connection %s is missing the account", cfg.Name)
	}
	if cfg.Username == "" {
		return "", fmt.Errorf("snowflake connection %s is missing the username", cfg.Name)
	}

	dsn := url.UserPassword(cfg.Username, cfg.Password).String() + "@" + cfg.Account
	if cfg.Database != "" {
		dsn += "/" + cfg.Database
		if cfg.Schema != "" {
			dsn += "/" + cfg.Schema
		}
	}

	params := url.Values{}
	if cfg.Warehouse != "" {
		params.Set("warehouse", cfg.Warehouse)
	}
	if cfg.Role != "" {
		params.Set("role", cfg.Role)
	}
	for k, v := range cfg.Options {
		params.Set(k, v)
	}
	if len(params) > 0 {
		dsn += "?" + params.Encode()
	}
	return dsn, nil
}

var _ adapter.Adapter = (*Adapter)(nil)

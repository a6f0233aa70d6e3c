// Package trino provides a Trino adapter. Trino connections are also used
// for Athena-style federated catalogs.
package trino

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	_ "github.com/trinodb/trino-go-client/trino" // registers the "trino" driver

	"github.com/leapstack-labs/leapmetrics/pkg/adapter"
)

func init() {
	adapter.Register("trino", func(l *slog.Logger) adapter.Adapter { return New(l) })
}

// Adapter implements the adapter.Adapter interface for Trino.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new Trino adapter instance.
func New(logger *slog.Logger) *Adapter {
	return &Adapter{BaseSQLAdapter: adapter.NewBase(logger)}
}

// DialectName returns the SQL dialect for this adapter.
func (a *Adapter) DialectName() string {
	return "trino"
}

// Connect establishes a connection to a Trino coordinator.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	a.Logger.Debug("connecting to trino", slog.String("host", cfg.Host), slog.String("catalog", cfg.Catalog))
	return a.Open(ctx, "trino", buildDSN(cfg), cfg)
}

// buildDSN returns http[s]://user[:password]@host:port?catalog=...&schema=...
func buildDSN(cfg adapter.Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 8080
	}
	scheme := "http"
	if cfg.Options["ssl"] == "true" {
		scheme = "https"
	}
	user := cfg.Username
	if user == "" {
		user = "leapmetrics"
	}

	u := url.URL{Scheme: scheme, Host: fmt.Sprintf("%s:%d", host, port)}
	if cfg.Password != "" {
		u.User = url.UserPassword(user, cfg.Password)
	} else {
		u.User = url.User(user)
	}
	q := url.Values{}
	if cfg.Catalog != "" {
		q.Set("catalog", cfg.Catalog)
	}
	if cfg.Schema != "" {
		q.Set("schema", cfg.Schema)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

var _ adapter.Adapter = (*Adapter)(nil)

package core

import "context"

// Adapter executes compiled SQL against a warehouse. Implementations live in
// pkg/adapters/* and register a factory with pkg/adapter.
type Adapter interface {
	// Connect establishes a connection using the provided config.
	Connect(ctx context.Context, cfg ConnectionConfig) error

	// Close closes the connection.
	Close() error

	// Query runs a statement and returns the full result set.
	Query(ctx context.Context, sql string) (*ResultSet, error)

	// DialectName returns the query type this warehouse speaks.
	DialectName() string
}

// ConnectionConfig holds the settings for one named warehouse connection.
// Models reference connections by Name; Type selects both the adapter and the
// default SQL dialect.
type ConnectionConfig struct {
	Name            string            `koanf:"name" json:"name"`
	Type            string            `koanf:"type" json:"type"`
	Path            string            `koanf:"path" json:"path,omitempty"`
	Host            string            `koanf:"host" json:"host,omitempty"`
	Port            int               `koanf:"port" json:"port,omitempty"`
	Database        string            `koanf:"database" json:"database,omitempty"`
	Username        string            `koanf:"username" json:"username,omitempty"`
	Password        string            `koanf:"password" json:"-"`
	Schema          string            `koanf:"schema" json:"schema,omitempty"`
	Account         string            `koanf:"account" json:"account,omitempty"`
	Warehouse       string            `koanf:"warehouse" json:"warehouse,omitempty"`
	Role            string            `koanf:"role" json:"role,omitempty"`
	ProjectID       string            `koanf:"project_id" json:"project_id,omitempty"`
	CredentialsJSON string            `koanf:"credentials_json" json:"-"`
	Catalog         string            `koanf:"catalog" json:"catalog,omitempty"`
	Options         map[string]string `koanf:"options" json:"options,omitempty"`
}

// ResultSet is a fully materialized query result.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (r *ResultSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// BaseSQLAdapter provides common database/sql functionality for adapters.
// Embed this struct in concrete adapter implementations to get standard
// Close and Query implementations.
type BaseSQLAdapter struct {
	DB     *sql.DB
	Cfg    Config
	Logger *slog.Logger
}

// NewBase returns a BaseSQLAdapter logging to logger, or discarding logs
// when logger is nil.
func NewBase(logger *slog.Logger) BaseSQLAdapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return BaseSQLAdapter{Logger: logger}
}

// Open opens and pings a database/sql connection, keeping it on success.
func (b *BaseSQLAdapter) Open(ctx context.Context, driver, dsn string, cfg Config) error {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to open %s connection: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping %s: %w", driver, err)
	}
	b.DB = db
	b.Cfg = cfg
	return nil
}

// Close closes the database connection.
func (b *BaseSQLAdapter) Close() error {
	if b.DB != nil {
		if b.Logger != nil {
			b.Logger.Debug("closing database connection", slog.String("connection", b.Cfg.Name))
		}
		return b.DB.Close()
	}
	return nil
}

// Query executes a SQL statement and reads every row.
func (b *BaseSQLAdapter) Query(ctx context.Context, sqlStr string) (*ResultSet, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	if b.Logger != nil {
		b.Logger.Debug("running query", slog.String("connection", b.Cfg.Name), slog.Int("bytes", len(sqlStr)))
	}
	rows, err := b.DB.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return ScanRows(rows)
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLAdapter) IsConnected() bool {
	return b.DB != nil
}

// ScanRows materializes rows. Byte slices are returned as strings.
func ScanRows(rows *sql.Rows) (*ResultSet, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	rs := &ResultSet{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return rs, nil
}

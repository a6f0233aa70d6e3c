// Package state keeps the query history of a project in SQLite.
package state

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a query id is unknown.
var ErrNotFound = errors.New("query not found")

// QueryRecord is one compiled (and possibly executed) query.
type QueryRecord struct {
	ID string `json:"id"`
	// User identifies who asked, when the request carried a user.
	User string `json:"user,omitempty"`
	// Request is the request as JSON.
	Request   string        `json:"request"`
	SQL       string        `json:"sql,omitempty"`
	QueryType string        `json:"query_type,omitempty"`
	Duration  time.Duration `json:"duration"`
	// RowCount is set when the query was run against the warehouse.
	RowCount  *int      `json:"row_count,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store records query history.
type Store interface {
	// RecordQuery saves rec, assigning its ID and CreatedAt when empty.
	RecordQuery(ctx context.Context, rec *QueryRecord) error
	// ListQueries returns the most recent queries first. A limit of zero
	// or less returns everything.
	ListQueries(ctx context.Context, limit int) ([]*QueryRecord, error)
	// GetQuery returns one query, or ErrNotFound.
	GetQuery(ctx context.Context, id string) (*QueryRecord, error)
	Close() error
}

package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite state store instance.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger}
}

// Open opens the database at path, creating its directory, and runs
// pending migrations. Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(ctx context.Context, path string) error {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// Each connection to :memory: is its own database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if err := migrate(ctx, db, s.logger); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	s.path = path
	s.logger.Debug("opened state store", slog.String("path", path))
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// generateID creates a new UUID.
func generateID() string {
	return uuid.New().String()
}

// RecordQuery saves a query.
func (s *SQLiteStore) RecordQuery(ctx context.Context, rec *QueryRecord) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if rec.ID == "" {
		rec.ID = generateID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var rows sql.NullInt64
	if rec.RowCount != nil {
		rows = sql.NullInt64{Int64: int64(*rec.RowCount), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_history (id, user_id, request, sql, query_type, duration_ms, row_count, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.User, rec.Request, rec.SQL, rec.QueryType, rec.Duration.Milliseconds(), rows, rec.Error,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record query: %w", err)
	}
	return nil
}

const selectQuery = `SELECT id, user_id, request, sql, query_type, duration_ms, row_count, error, created_at FROM query_history`

// ListQueries returns recent queries, newest first.
func (s *SQLiteStore) ListQueries(ctx context.Context, limit int) ([]*QueryRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	q := selectQuery + ` ORDER BY created_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*QueryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list queries: %w", err)
	}
	return out, nil
}

// GetQuery retrieves a query by ID.
func (s *SQLiteStore) GetQuery(ctx context.Context, id string) (*QueryRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectQuery+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*QueryRecord, error) {
	rec := &QueryRecord{}
	var durationMS int64
	var rowCount sql.NullInt64
	var created string
	err := row.Scan(&rec.ID, &rec.User, &rec.Request, &rec.SQL, &rec.QueryType, &durationMS, &rowCount, &rec.Error, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan query: %w", err)
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	if rowCount.Valid {
		n := int(rowCount.Int64)
		rec.RowCount = &n
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("failed to parse created_at of query %s: %w", rec.ID, err)
	}
	return rec, nil
}

var _ Store = (*SQLiteStore)(nil)

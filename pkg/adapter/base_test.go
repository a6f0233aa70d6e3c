package adapter

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseSQLAdapter_Close(t *testing.T) {
	tests := []struct {
		name    string
		setupDB bool
	}{
		{name: "close with nil DB", setupDB: false},
		{name: "close with open DB", setupDB: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := NewBase(nil)

			if tt.setupDB {
				db, mock, err := sqlmock.New()
				require.NoError(t, err)
				mock.ExpectClose()
				base.DB = db
				defer func() { assert.NoError(t, mock.ExpectationsWereMet()) }()
			}

			assert.NoError(t, base.Close())
		})
	}
}

func TestBaseSQLAdapter_Query(t *testing.T) {
	tests := []struct {
		name      string
		setupDB   bool
		setupMock func(mock sqlmock.Sqlmock)
		sql       string
		want      *ResultSet
		errMsg    string
	}{
		{
			name:    "query without connection",
			setupDB: false,
			sql:     "SELECT 1",
			errMsg:  "database connection not established",
		},
		{
			name:    "query success",
			setupDB: true,
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"order_lines_channel", "order_lines_total_item_revenue"}).
					AddRow([]byte("Email"), 120.5).
					AddRow("Social", nil)
				mock.ExpectQuery("SELECT order_lines.sales_channel").WillReturnRows(rows)
			},
			sql: "SELECT order_lines.sales_channel as order_lines_channel FROM analytics.order_line_items order_lines",
			want: &ResultSet{
				Columns: []string{"order_lines_channel", "order_lines_total_item_revenue"},
				Rows:    [][]any{{"Email", 120.5}, {"Social", nil}},
			},
		},
		{
			name:    "query with error",
			setupDB: true,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("INVALID").WillReturnError(assert.AnError)
			},
			sql:    "INVALID SQL",
			errMsg: "failed to execute query",
		},
		{
			name:    "row error",
			setupDB: true,
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"n"}).AddRow(1).RowError(0, assert.AnError)
				mock.ExpectQuery("SELECT n").WillReturnRows(rows)
			},
			sql:    "SELECT n FROM t",
			errMsg: "error iterating rows",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := NewBase(nil)
			if tt.setupDB {
				db, mock, err := sqlmock.New()
				require.NoError(t, err)
				defer func() { _ = db.Close() }()
				tt.setupMock(mock)
				base.DB = db
			}

			got, err := base.Query(context.Background(), tt.sql)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, 2, got.Len())
		})
	}
}

func TestBaseSQLAdapter_IsConnected(t *testing.T) {
	base := NewBase(nil)
	assert.False(t, base.IsConnected())

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	base.DB = db
	assert.True(t, base.IsConnected())
}

package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmetrics/pkg/adapter"
)

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name     string
		config   adapter.Config
		expected string
	}{
		{
			name: "basic connection",
			config: adapter.Config{
				Host:     "localhost",
				Port:     5432,
				Database: "testdb",
				Username: "user",
				Password: "pass",
			},
			expected: "host=localhost port=5432 dbname=testdb sslmode=disable user=user password=pass",
		},
		{
			name: "with custom sslmode and schema",
			config: adapter.Config{
				Host:     "prod.example.com",
				Database: "proddb",
				Username: "admin",
				Schema:   "analytics",
				Options:  map[string]string{"sslmode": "require"},
			},
			expected: "host=prod.example.com port=5432 dbname=proddb sslmode=require user=admin search_path=analytics",
		},
		{
			name:     "defaults",
			config:   adapter.Config{Database: "mydb"},
			expected: "host=localhost port=5432 dbname=mydb sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, buildDSN(tt.config))
		})
	}
}

func TestRegistered(t *testing.T) {
	a, err := adapter.NewAdapter(adapter.Config{Type: "postgres"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres", a.DialectName())
}

func TestQueryWithoutConnection(t *testing.T) {
	_, err := New(nil).Query(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database connection not established")
}

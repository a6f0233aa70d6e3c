package duckdb

import (
	"testing"

	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuckDBAlias(t *testing.T) {
	d, ok := dialect.Get("DUCK_DB")
	require.True(t, ok)
	assert.Equal(t, dialect.DuckDB, d.Name())
	assert.True(t, d.Features().Median)
	assert.Equal(t, "coalesce", d.IfNull())
}

func TestDuckDBDateDiff(t *testing.T) {
	got, err := DuckDB.DateDiff("day", "s", "e")
	require.NoError(t, err)
	assert.Equal(t, "DATEDIFF('DAY', s, e)", got)
}

func TestDuckDBTime(t *testing.T) {
	got, err := DuckDB.TimeSQL(dialect.Month, "s", dialect.TimeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "DATE_TRUNC('MONTH', CAST(s AS TIMESTAMP))", got)
}

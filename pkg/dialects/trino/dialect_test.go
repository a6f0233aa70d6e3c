package trino

import (
	"testing"

	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrino(t *testing.T) {
	d, ok := dialect.Get("presto")
	require.True(t, ok)
	assert.Equal(t, dialect.Trino, d.Name())
	assert.False(t, d.Features().Semicolon)

	got, err := Trino.DateDiff("day", "s", "e")
	require.NoError(t, err)
	assert.Equal(t, "DATE_DIFF('day', s, e)", got)

	got, err = Trino.TimeSQL(dialect.Month, "c", dialect.TimeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "DATE_TRUNC('MONTH', CAST(c AS TIMESTAMP))", got)
}

package redshift

import (
	"testing"

	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedshiftOverrides(t *testing.T) {
	d, ok := dialect.Get("REDSHIFT")
	require.True(t, ok)

	assert.Equal(t, "nvl", d.IfNull())
	assert.True(t, d.Features().CrossJoinWithoutKeys)
	assert.Equal(t, "(a=b OR (a IS NULL AND b IS NULL))", d.NullSafeEqual("a", "b"))

	got, ok := d.ConvertTimezone("orders.order_date", "America/New_York", "")
	require.True(t, ok)
	assert.Equal(t, "CAST(CAST(CONVERT_TIMEZONE('America/New_York', orders.order_date) AS TIMESTAMP) AS TIMESTAMP)", got)
}

func TestRedshiftSharesSnowflakeTime(t *testing.T) {
	got, err := Redshift.TimeSQL(dialect.Week, "orders.order_date", dialect.TimeOptions{WeekStartDay: "sunday"})
	require.NoError(t, err)
	assert.Equal(t, "DATE_TRUNC('WEEK', CAST(orders.order_date AS DATE) + 1) - 1", got)

	_, err = Redshift.DateDiff("eon", "a", "b")
	assert.EqualError(t, err, "Unable to find a valid method for running eons with query type REDSHIFT")
}

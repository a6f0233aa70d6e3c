package snowflake

import (
	"testing"

	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeSQL(t *testing.T) {
	tests := []struct {
		timeframe string
		weekStart string
		want      string
	}{
		{dialect.Raw, "", "orders.order_date"},
		{dialect.Date, "", "DATE_TRUNC('DAY', orders.order_date)"},
		{dialect.Month, "", "DATE_TRUNC('MONTH', orders.order_date)"},
		{dialect.Week, "", "DATE_TRUNC('WEEK', CAST(orders.order_date AS DATE))"},
		{dialect.Week, "monday", "DATE_TRUNC('WEEK', CAST(orders.order_date AS DATE))"},
		{dialect.Week, "sunday", "DATE_TRUNC('WEEK', CAST(orders.order_date AS DATE) + 1) - 1"},
		{dialect.Week, "tuesday", "DATE_TRUNC('WEEK', CAST(orders.order_date AS DATE) + 6) - 6"},
		{dialect.HourOfDay, "", "HOUR(CAST(orders.order_date AS TIMESTAMP))"},
		{dialect.DayOfWeek, "", "TO_CHAR(CAST(orders.order_date AS TIMESTAMP), 'Dy')"},
		{dialect.WeekOfMonth, "", "EXTRACT(WEEK FROM orders.order_date) - EXTRACT(WEEK FROM DATE_TRUNC('MONTH', orders.order_date)) + 1"},
	}

	for _, tt := range tests {
		t.Run(tt.timeframe+"_"+tt.weekStart, func(t *testing.T) {
			got, err := Snowflake.TimeSQL(tt.timeframe, "orders.order_date", dialect.TimeOptions{WeekStartDay: tt.weekStart})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimeSQLErrors(t *testing.T) {
	_, err := Snowflake.TimeSQL("fortnight", "x", dialect.TimeOptions{})
	assert.Error(t, err)

	_, err = Snowflake.TimeSQL(dialect.Week, "x", dialect.TimeOptions{WeekStartDay: "someday"})
	assert.Error(t, err)
}

func TestDateDiff(t *testing.T) {
	got, err := Snowflake.DateDiff("hour", "a", "b")
	require.NoError(t, err)
	assert.Equal(t, "DATEDIFF('HOUR', a, b)", got)

	_, err = Snowflake.DateDiff("decade", "a", "b")
	assert.EqualError(t, err, "Unable to find a valid method for running decades with query type SNOWFLAKE")
}

func TestSymmetricSum(t *testing.T) {
	got, err := Snowflake.SymmetricSum("orders.revenue", "orders.id")
	require.NoError(t, err)
	want := "COALESCE(CAST((SUM(DISTINCT (CAST(FLOOR(COALESCE(orders.revenue, 0) * (1000000 * 1.0)) AS DECIMAL(38,0))) + " +
		"(TO_NUMBER(MD5(orders.id), 'XXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX') % 1.0e27)::NUMERIC(38, 0)) - " +
		"SUM(DISTINCT (TO_NUMBER(MD5(orders.id), 'XXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX') % 1.0e27)::NUMERIC(38, 0))) " +
		"AS DOUBLE PRECISION) / CAST((1000000*1.0) AS DOUBLE PRECISION), 0)"
	assert.Equal(t, want, got)
}

func TestRegistered(t *testing.T) {
	d, ok := dialect.Get("SNOWFLAKE")
	require.True(t, ok)
	assert.Equal(t, dialect.Snowflake, d.Name())
	assert.Equal(t, "equal_null(a, b)", d.NullSafeEqual("a", "b"))
}

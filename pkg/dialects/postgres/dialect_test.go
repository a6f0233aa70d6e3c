package postgres

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
		{dialect.Date, "", "DATE_TRUNC('DAY', CAST(created AS TIMESTAMP))"},
		{dialect.Week, "", "DATE_TRUNC('WEEK', CAST(created AS TIMESTAMP))"},
		{dialect.Week, "sunday", "DATE_TRUNC('WEEK', CAST(created AS TIMESTAMP) + INTERVAL '1' DAY) - INTERVAL '1' DAY"},
		{dialect.HourOfDay, "", "EXTRACT('HOUR' FROM CAST(created AS TIMESTAMP))"},
		{dialect.MonthOfYear, "", "TO_CHAR(CAST(created AS TIMESTAMP), 'Mon')"},
	}
	for _, tt := range tests {
		t.Run(tt.timeframe+tt.weekStart, func(t *testing.T) {
			got, err := Postgres.TimeSQL(tt.timeframe, "created", dialect.TimeOptions{WeekStartDay: tt.weekStart})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDateDiff(t *testing.T) {
	tests := []struct {
		interval string
		want     string
	}{
		{"day", "DATE_PART('DAY', AGE(e, s))"},
		{"week", "TRUNC(DATE_PART('DAY', AGE(e, s))/7)"},
		{"year", "DATE_PART('YEAR', AGE(e, s))"},
		{"month", "DATE_PART('YEAR', AGE(e, s)) * 12 + (DATE_PART('month', AGE(e, s)))"},
		{"hour", "DATE_PART('DAY', AGE(e, s)) * 24 + DATE_PART('HOUR', AGE(e, s))"},
	}
	for _, tt := range tests {
		t.Run(tt.interval, func(t *testing.T) {
			got, err := Postgres.DateDiff(tt.interval, "s", "e")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvertTimezone(t *testing.T) {
	got, ok := Postgres.ConvertTimezone("x", "America/Chicago", "date")
	require.True(t, ok)
	assert.Equal(t, "CAST(CAST(x AS TIMESTAMP) at time zone 'utc' at time zone 'America/Chicago' AS DATE)", got)
	assert.False(t, Postgres.Features().Median)
}

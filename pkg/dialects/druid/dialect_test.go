package druid

import (
	"testing"

	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayOfWeekCase(t *testing.T) {
	got, err := Druid.TimeSQL(dialect.DayOfWeek, "c", dialect.TimeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "CASE EXTRACT(DOW FROM CAST(c AS TIMESTAMP)) WHEN 1 THEN 'Mon' WHEN 2 THEN 'Tue' WHEN 3 THEN 'Wed' "+
		"WHEN 4 THEN 'Thu' WHEN 5 THEN 'Fri' WHEN 6 THEN 'Sat' WHEN 7 THEN 'Sun' END", got)
}

func TestDruidCapabilities(t *testing.T) {
	f := Druid.Features()
	assert.False(t, f.Semicolon)
	assert.False(t, f.Median)

	sql, ok := Druid.ConvertTimezone("c", "UTC", "")
	assert.False(t, ok)
	assert.Equal(t, "c", sql)

	got, err := Druid.DateDiff("day", "s", "e")
	require.NoError(t, err)
	assert.Equal(t, "TIMESTAMPDIFF(DAY, s, e)", got)

	_, err = Druid.DateSpine()
	assert.Error(t, err)
}

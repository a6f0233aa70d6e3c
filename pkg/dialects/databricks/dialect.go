// Package databricks provides the Databricks SQL dialect.
package databricks

import (
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
	"github.com/leapstack-labs/leapmetrics/pkg/dialects/postgres"
)

func init() {
	dialect.Register(Databricks)
}

// Dialect renders Databricks SQL.
type Dialect struct {
	postgres.Dialect
}

// Databricks is the registered Databricks dialect.
var Databricks = &Dialect{}

// Name returns the dialect name.
func (d *Dialect) Name() string { return dialect.Databricks }

// Features returns the Databricks capability flags.
func (d *Dialect) Features() dialect.Features {
	return dialect.Features{Semicolon: true, DefaultOrderBy: true, Median: true}
}

// TimeSQL buckets sql into the given timeframe.
func (d *Dialect) TimeSQL(timeframe, sql string, opts dialect.TimeOptions) (string, error) {
	ts := fmt.Sprintf("CAST(%s AS TIMESTAMP)", sql)
	switch timeframe {
	case dialect.MonthOfYear:
		return fmt.Sprintf("DATE_FORMAT(%s, 'MMM')", ts), nil
	case dialect.DayOfWeek:
		return fmt.Sprintf("DATE_FORMAT(%s, 'E')", ts), nil
	case dialect.HourOfDay:
		return fmt.Sprintf("EXTRACT(HOUR FROM %s)", ts), nil
	case dialect.DayOfMonth:
		return fmt.Sprintf("EXTRACT(DAY FROM %s)", ts), nil
	case dialect.DayOfYear:
		return fmt.Sprintf("EXTRACT(DOY FROM %s)", ts), nil
	}
	return postgres.TimeSQL(dialect.Databricks, timeframe, sql, opts)
}

// ConvertTimezone converts sql from UTC to timezone.
func (d *Dialect) ConvertTimezone(sql, timezone, datatype string) (string, bool) {
	return fmt.Sprintf("CAST(CAST(CONVERT_TIMEZONE('%s', %s) AS TIMESTAMP_NTZ) AS %s)", timezone, sql, dialect.Datatype(datatype)), true
}

// DateDiff returns the number of whole intervals between start and end.
func (d *Dialect) DateDiff(interval, start, end string) (string, error) {
	if !slices.Contains(dialect.Intervals, interval) {
		return "", dialect.UnsupportedInterval(interval, dialect.Databricks)
	}
	return fmt.Sprintf("DATEDIFF(%s, %s, %s)", strings.ToUpper(interval), start, end), nil
}

// SymmetricSum is not available on Databricks.
func (d *Dialect) SymmetricSum(string, string) (string, error) {
	return "", dialect.NoSymmetricSum(dialect.Databricks)
}

// DateSpine returns a 40 year daily spine starting at 2000-01-01.
func (d *Dialect) DateSpine() (string, error) {
	return "select explode(sequence(DATE '2000-01-01', DATE '2040-01-01', INTERVAL 1 DAY)) as date", nil
}

var _ dialect.Dialect = (*Dialect)(nil)

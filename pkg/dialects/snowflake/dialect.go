// Package snowflake provides the Snowflake SQL dialect.
// This package is pure Go with no database driver dependencies.
package snowflake

import (
	"fmt"

	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
)

func init() {
	dialect.Register(Snowflake)
}

// Dialect renders Snowflake SQL. Redshift embeds it and overrides the few
// places where the two differ.
type Dialect struct{}

// Snowflake is the registered Snowflake dialect.
var Snowflake = &Dialect{}

// Name returns the dialect name.
func (d *Dialect) Name() string { return dialect.Snowflake }

// Features returns the Snowflake capability flags.
func (d *Dialect) Features() dialect.Features {
	return dialect.Features{
		Semicolon:           true,
		DefaultOrderBy:      true,
		SymmetricAggregates: true,
		Median:              true,
	}
}

// TimeSQL buckets sql into the given timeframe.
func (d *Dialect) TimeSQL(timeframe, sql string, opts dialect.TimeOptions) (string, error) {
	return TimeSQL(dialect.Snowflake, timeframe, sql, opts)
}

// TimeSQL is the Snowflake time bucketing, shared with Redshift.
func TimeSQL(name, timeframe, s string, opts dialect.TimeOptions) (string, error) {
	switch timeframe {
	case dialect.Raw:
		return s, nil
	case dialect.Time:
		return fmt.Sprintf("CAST(%s AS TIMESTAMP)", s), nil
	case dialect.Second, dialect.Minute, dialect.Hour, dialect.Month, dialect.Quarter, dialect.Year:
		return fmt.Sprintf("DATE_TRUNC('%s', %s)", upper(timeframe), s), nil
	case dialect.Date:
		return fmt.Sprintf("DATE_TRUNC('DAY', %s)", s), nil
	case dialect.Week:
		offset, err := dialect.WeekOffset(opts.WeekStartDay)
		if err != nil {
			return "", err
		}
		casted := fmt.Sprintf("CAST(%s AS DATE)", s)
		if offset == 0 {
			return fmt.Sprintf("DATE_TRUNC('WEEK', %s)", casted), nil
		}
		return fmt.Sprintf("DATE_TRUNC('WEEK', %s + %d) - %d", casted, offset, offset), nil
	case dialect.WeekIndex:
		return fmt.Sprintf("EXTRACT(WEEK FROM %s)", s), nil
	case dialect.WeekOfMonth:
		return fmt.Sprintf("EXTRACT(WEEK FROM %s) - EXTRACT(WEEK FROM DATE_TRUNC('MONTH', %s)) + 1", s, s), nil
	case dialect.MonthOfYearIndex:
		return fmt.Sprintf("EXTRACT(MONTH FROM %s)", s), nil
	case dialect.MonthOfYear:
		return fmt.Sprintf("TO_CHAR(CAST(%s AS TIMESTAMP), 'Mon')", s), nil
	case dialect.QuarterOfYear:
		return fmt.Sprintf("EXTRACT(QUARTER FROM %s)", s), nil
	case dialect.HourOfDay:
		return fmt.Sprintf("HOUR(CAST(%s AS TIMESTAMP))", s), nil
	case dialect.DayOfWeek:
		return fmt.Sprintf("TO_CHAR(CAST(%s AS TIMESTAMP), 'Dy')", s), nil
	case dialect.DayOfMonth:
		return fmt.Sprintf("EXTRACT(DAY FROM %s)", s), nil
	case dialect.DayOfYear:
		return fmt.Sprintf("EXTRACT(DOY FROM %s)", s), nil
	}
	return "", dialect.UnsupportedTimeframe(timeframe, name)
}

// ConvertTimezone converts sql from UTC to timezone.
func (d *Dialect) ConvertTimezone(sql, timezone, datatype string) (string, bool) {
	return fmt.Sprintf("CAST(CAST(CONVERT_TIMEZONE('%s', %s) AS TIMESTAMP_NTZ) AS %s)", timezone, sql, dialect.Datatype(datatype)), true
}

// DateDiff returns the number of whole intervals between start and end.
func (d *Dialect) DateDiff(interval, start, end string) (string, error) {
	return DateDiff(dialect.Snowflake, interval, start, end)
}

// DateDiff is the DATEDIFF('UNIT', start, end) form shared with Redshift and DuckDB.
func DateDiff(name, interval, start, end string) (string, error) {
	if !validInterval(interval) {
		return "", dialect.UnsupportedInterval(interval, name)
	}
	return fmt.Sprintf("DATEDIFF('%s', %s, %s)", upper(interval), start, end), nil
}

// SymmetricSum returns the MD5 based symmetric sum.
func (d *Dialect) SymmetricSum(sql, pkSQL string) (string, error) {
	return dialect.SnowflakeSymmetricSum(sql, pkSQL), nil
}

// IfNull returns ifnull.
func (d *Dialect) IfNull() string { return "ifnull" }

// NullSafeEqual uses Snowflake's equal_null.
func (d *Dialect) NullSafeEqual(a, b string) string {
	return fmt.Sprintf("equal_null(%s, %s)", a, b)
}

// DateSpineSQL is the generator based spine shared with Redshift.
const DateSpineSQL = "select dateadd(day, seq4(), '2000-01-01') as date from table(generator(rowcount => 365*40))"

// DateSpine returns a 40 year daily spine starting at 2000-01-01.
func (d *Dialect) DateSpine() (string, error) { return DateSpineSQL, nil }

var _ dialect.Dialect = (*Dialect)(nil)

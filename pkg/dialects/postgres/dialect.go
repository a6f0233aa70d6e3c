// Package postgres provides the PostgreSQL SQL dialect.
// DuckDB, Databricks and Druid reuse its cast-then-truncate time rendering.
package postgres

import (
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
)

func init() {
	dialect.Register(Postgres, "postgresql")
}

// Dialect renders PostgreSQL.
type Dialect struct{}

// Postgres is the registered PostgreSQL dialect.
var Postgres = &Dialect{}

// Name returns the dialect name.
func (d *Dialect) Name() string { return dialect.Postgres }

// Features returns the PostgreSQL capability flags.
func (d *Dialect) Features() dialect.Features {
	return dialect.Features{
		Semicolon:           true,
		DefaultOrderBy:      true,
		SymmetricAggregates: true,
	}
}

// TimeSQL buckets sql into the given timeframe.
func (d *Dialect) TimeSQL(timeframe, sql string, opts dialect.TimeOptions) (string, error) {
	return TimeSQL(dialect.Postgres, timeframe, sql, opts)
}

// TimeSQL is the PostgreSQL time bucketing. Callers with dialect-specific
// formats for a few timeframes handle those first and delegate the rest.
func TimeSQL(name, timeframe, s string, opts dialect.TimeOptions) (string, error) {
	ts := fmt.Sprintf("CAST(%s AS TIMESTAMP)", s)
	switch timeframe {
	case dialect.Raw:
		return s, nil
	case dialect.Time:
		return ts, nil
	case dialect.Second, dialect.Minute, dialect.Hour, dialect.Month, dialect.Quarter, dialect.Year:
		return fmt.Sprintf("DATE_TRUNC('%s', %s)", strings.ToUpper(timeframe), ts), nil
	case dialect.Date:
		return fmt.Sprintf("DATE_TRUNC('DAY', %s)", ts), nil
	case dialect.Week:
		offset, err := dialect.WeekOffset(opts.WeekStartDay)
		if err != nil {
			return "", err
		}
		return WeekTrunc(ts, offset), nil
	case dialect.WeekIndex:
		return fmt.Sprintf("EXTRACT(WEEK FROM %s)", ts), nil
	case dialect.WeekOfMonth:
		return fmt.Sprintf("EXTRACT(WEEK FROM %s) - EXTRACT(WEEK FROM DATE_TRUNC('MONTH', %s)) + 1", ts, ts), nil
	case dialect.MonthOfYearIndex:
		return fmt.Sprintf("EXTRACT(MONTH FROM %s)", ts), nil
	case dialect.MonthOfYear:
		return fmt.Sprintf("TO_CHAR(%s, 'Mon')", ts), nil
	case dialect.QuarterOfYear:
		return fmt.Sprintf("EXTRACT(QUARTER FROM %s)", ts), nil
	case dialect.HourOfDay:
		return fmt.Sprintf("EXTRACT('HOUR' FROM %s)", ts), nil
	case dialect.DayOfWeek:
		return fmt.Sprintf("TO_CHAR(%s, 'Dy')", ts), nil
	case dialect.DayOfMonth:
		return fmt.Sprintf("EXTRACT('DAY' FROM %s)", ts), nil
	case dialect.DayOfYear:
		return fmt.Sprintf("EXTRACT('DOY' FROM %s)", ts), nil
	}
	return "", dialect.UnsupportedTimeframe(timeframe, name)
}

// WeekTrunc truncates a timestamp expression to the week, shifting by offset days.
func WeekTrunc(ts string, offset int) string {
	if offset == 0 {
		return fmt.Sprintf("DATE_TRUNC('WEEK', %s)", ts)
	}
	return fmt.Sprintf("DATE_TRUNC('WEEK', %s + INTERVAL '%d' DAY) - INTERVAL '%d' DAY", ts, offset, offset)
}

// ConvertTimezone converts sql from UTC to timezone.
func (d *Dialect) ConvertTimezone(sql, timezone, datatype string) (string, bool) {
	return ConvertTimezone(sql, timezone, datatype), true
}

// ConvertTimezone is the AT TIME ZONE conversion shared with DuckDB.
func ConvertTimezone(sql, timezone, datatype string) string {
	return fmt.Sprintf("CAST(CAST(%s AS TIMESTAMP) at time zone 'utc' at time zone '%s' AS %s)", sql, timezone, dialect.Datatype(datatype))
}

// DateDiff returns the number of whole intervals between start and end,
// computed from AGE() since PostgreSQL has no DATEDIFF.
func (d *Dialect) DateDiff(interval, start, end string) (string, error) {
	if !slices.Contains(dialect.Intervals, interval) {
		return "", dialect.UnsupportedInterval(interval, dialect.Postgres)
	}
	age := fmt.Sprintf("AGE(%s, %s)", end, start)
	days := fmt.Sprintf("DATE_PART('DAY', %s)", age)
	years := fmt.Sprintf("DATE_PART('YEAR', %s)", age)
	hours := fmt.Sprintf("%s * 24 + DATE_PART('HOUR', %s)", days, age)
	minutes := fmt.Sprintf("(%s) * 60 + DATE_PART('MINUTE', %s)", hours, age)

	switch interval {
	case "second":
		return fmt.Sprintf("(%s) * 60 + DATE_PART('SECOND', %s)", minutes, age), nil
	case "minute":
		return minutes, nil
	case "hour":
		return hours, nil
	case "day":
		return days, nil
	case "week":
		return fmt.Sprintf("TRUNC(%s/7)", days), nil
	case "month":
		return fmt.Sprintf("%s * 12 + (DATE_PART('month', %s))", years, age), nil
	case "quarter":
		return fmt.Sprintf("%s * 4 + TRUNC(DATE_PART('month', %s)/3)", years, age), nil
	default:
		return years, nil
	}
}

// SymmetricSum returns the MD5 based symmetric sum.
func (d *Dialect) SymmetricSum(sql, pkSQL string) (string, error) {
	return dialect.SnowflakeSymmetricSum(sql, pkSQL), nil
}

// IfNull returns coalesce.
func (d *Dialect) IfNull() string { return "coalesce" }

// NullSafeEqual uses the portable comparison.
func (d *Dialect) NullSafeEqual(a, b string) string { return dialect.StandardNullSafeEqual(a, b) }

// DateSpine returns a 40 year daily spine starting at 2000-01-01.
func (d *Dialect) DateSpine() (string, error) {
	return "select generate_series('2000-01-01'::date, '2040-01-01'::date, interval '1 day')::date as date", nil
}

var _ dialect.Dialect = (*Dialect)(nil)

// Package bigquery provides the Google BigQuery SQL dialect.
package bigquery

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
)

func init() {
	dialect.Register(BigQuery)
}

// Dialect renders BigQuery Standard SQL.
type Dialect struct{}

// BigQuery is the registered BigQuery dialect.
var BigQuery = &Dialect{}

// Name returns the dialect name.
func (d *Dialect) Name() string { return dialect.BigQuery }

// Features returns the BigQuery capability flags.
func (d *Dialect) Features() dialect.Features {
	return dialect.Features{
		Semicolon:              true,
		DefaultOrderBy:         true,
		GroupByAlias:           true,
		SymmetricAggregates:    true,
		CastMismatchedJoinKeys: true,
	}
}

// TimeSQL buckets sql into the given timeframe. Truncations are cast back to
// the field's datatype so comparisons against literals keep working.
func (d *Dialect) TimeSQL(timeframe, s string, opts dialect.TimeOptions) (string, error) {
	dt := dialect.Datatype(opts.Datatype)
	switch timeframe {
	case dialect.Raw:
		return s, nil
	case dialect.Time:
		return fmt.Sprintf("CAST(%s AS %s)", s, dt), nil
	case dialect.Second, dialect.Minute, dialect.Hour:
		return fmt.Sprintf("CAST(DATETIME_TRUNC(CAST(%s AS DATETIME), %s) AS %s)", s, strings.ToUpper(timeframe), dt), nil
	case dialect.Date:
		return fmt.Sprintf("CAST(DATE_TRUNC(CAST(%s AS DATE), DAY) AS %s)", s, dt), nil
	case dialect.Month, dialect.Quarter, dialect.Year:
		return fmt.Sprintf("CAST(DATE_TRUNC(CAST(%s AS DATE), %s) AS %s)", s, strings.ToUpper(timeframe), dt), nil
	case dialect.Week:
		offset, err := dialect.WeekOffset(opts.WeekStartDay)
		if err != nil {
			return "", err
		}
		casted := fmt.Sprintf("CAST(%s AS DATE)", s)
		if offset == 0 {
			return fmt.Sprintf("CAST(DATE_TRUNC(%s, WEEK) AS %s)", casted, dt), nil
		}
		return fmt.Sprintf("CAST(DATE_TRUNC(%s + %d, WEEK) - %d AS %s)", casted, offset, offset, dt), nil
	case dialect.WeekIndex:
		return fmt.Sprintf("EXTRACT(WEEK FROM %s)", s), nil
	case dialect.WeekOfMonth:
		return fmt.Sprintf("EXTRACT(WEEK FROM %s) - EXTRACT(WEEK FROM DATE_TRUNC(CAST(%s AS DATE), MONTH)) + 1", s, s), nil
	case dialect.MonthOfYearIndex:
		return fmt.Sprintf("EXTRACT(MONTH FROM %s)", s), nil
	case dialect.MonthOfYear:
		return fmt.Sprintf("FORMAT_DATETIME('%%B', CAST(%s as DATETIME))", s), nil
	case dialect.QuarterOfYear:
		return fmt.Sprintf("EXTRACT(QUARTER FROM %s)", s), nil
	case dialect.HourOfDay:
		return fmt.Sprintf("CAST(%s AS STRING FORMAT 'HH24')", s), nil
	case dialect.DayOfWeek:
		return fmt.Sprintf("CAST(%s AS STRING FORMAT 'DAY')", s), nil
	case dialect.DayOfMonth:
		return fmt.Sprintf("EXTRACT(DAY FROM %s)", s), nil
	case dialect.DayOfYear:
		return fmt.Sprintf("EXTRACT(DAYOFYEAR FROM %s)", s), nil
	}
	return "", dialect.UnsupportedTimeframe(timeframe, dialect.BigQuery)
}

// ConvertTimezone converts sql from UTC to timezone.
func (d *Dialect) ConvertTimezone(sql, timezone, datatype string) (string, bool) {
	return fmt.Sprintf("CAST(DATETIME(CAST(%s AS TIMESTAMP), '%s') AS %s)", sql, timezone, dialect.Datatype(datatype)), true
}

// DateDiff returns the number of whole intervals between start and end.
// Sub-day intervals use TIMESTAMP_DIFF, the rest DATE_DIFF on ISO weeks and years.
func (d *Dialect) DateDiff(interval, start, end string) (string, error) {
	switch interval {
	case "second", "minute", "hour":
		return fmt.Sprintf("TIMESTAMP_DIFF(CAST(%s as TIMESTAMP), CAST(%s as TIMESTAMP), %s)", end, start, strings.ToUpper(interval)), nil
	case "day", "month", "quarter":
		return fmt.Sprintf("DATE_DIFF(CAST(%s as DATE), CAST(%s as DATE), %s)", end, start, strings.ToUpper(interval)), nil
	case "week":
		return fmt.Sprintf("DATE_DIFF(CAST(%s as DATE), CAST(%s as DATE), ISOWEEK)", end, start), nil
	case "year":
		return fmt.Sprintf("DATE_DIFF(CAST(%s as DATE), CAST(%s as DATE), ISOYEAR)", end, start), nil
	}
	return "", dialect.UnsupportedInterval(interval, dialect.BigQuery)
}

// SymmetricSum returns the FARM_FINGERPRINT based symmetric sum.
func (d *Dialect) SymmetricSum(sql, pkSQL string) (string, error) {
	f := dialect.SymmetricFactor
	adjusted := fmt.Sprintf("(CAST(FLOOR(COALESCE(%s, 0) * (%d * 1.0)) AS FLOAT64))", sql, f)
	pkSum := fmt.Sprintf("CAST(FARM_FINGERPRINT(CAST(%s AS STRING)) AS BIGNUMERIC)", pkSQL)
	backout := fmt.Sprintf("SUM(DISTINCT %s + %s) - SUM(DISTINCT %s)", adjusted, pkSum, pkSum)
	return fmt.Sprintf("COALESCE(CAST((%s) AS FLOAT64) / CAST((%d*1.0) AS FLOAT64), 0)", backout, f), nil
}

// IfNull returns ifnull.
func (d *Dialect) IfNull() string { return "ifnull" }

// NullSafeEqual uses the portable comparison.
func (d *Dialect) NullSafeEqual(a, b string) string { return dialect.StandardNullSafeEqual(a, b) }

// DateSpine returns a 40 year daily spine starting at 2000-01-01.
func (d *Dialect) DateSpine() (string, error) {
	return "select date from unnest(generate_date_array('2000-01-01', '2040-01-01')) as date", nil
}

var _ dialect.Dialect = (*Dialect)(nil)

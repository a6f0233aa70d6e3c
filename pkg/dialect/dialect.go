// Package dialect provides the per-warehouse SQL rules used by the query
// compiler.
//
// This package contains the public contract for dialect implementations.
// Concrete dialects live in pkg/dialects/*/ and register themselves from init().
package dialect

import (
	"fmt"
	"strings"
)

// Canonical dialect names. Lookup is case-insensitive and also accepts the
// aliases each dialect registers (for example "duck_db" for DuckDB).
const (
	Snowflake    = "snowflake"
	BigQuery     = "bigquery"
	Redshift     = "redshift"
	Postgres     = "postgres"
	DuckDB       = "duckdb"
	Databricks   = "databricks"
	SQLServer    = "sql_server"
	AzureSynapse = "azure_synapse"
	Druid        = "druid"
	Trino        = "trino"
)

// Timeframes understood by TimeSQL.
const (
	Raw              = "raw"
	Time             = "time"
	Second           = "second"
	Minute           = "minute"
	Hour             = "hour"
	Date             = "date"
	Week             = "week"
	Month            = "month"
	Quarter          = "quarter"
	Year             = "year"
	WeekIndex        = "week_index"
	WeekOfMonth      = "week_of_month"
	MonthOfYear      = "month_of_year"
	MonthOfYearIndex = "month_of_year_index"
	QuarterOfYear    = "quarter_of_year"
	HourOfDay        = "hour_of_day"
	DayOfWeek        = "day_of_week"
	DayOfMonth       = "day_of_month"
	DayOfYear        = "day_of_year"
)

// Intervals understood by DateDiff.
var Intervals = []string{"second", "minute", "hour", "day", "week", "month", "quarter", "year"}

// TimeOptions carries the model and field settings that affect time bucketing.
type TimeOptions struct {
	// WeekStartDay is the lowercase weekday a week begins on. Empty means monday.
	WeekStartDay string
	// Datatype is the field's declared datatype (timestamp, date, datetime).
	Datatype string
}

// Features are static capability flags of a dialect.
type Features struct {
	// Semicolon terminates generated statements.
	Semicolon bool
	// DefaultOrderBy adds the implicit ORDER BY to generated queries.
	DefaultOrderBy bool
	// GroupByAlias groups by select aliases instead of repeating expressions.
	GroupByAlias bool
	// SymmetricAggregates enables the hash based fan-out correction.
	SymmetricAggregates bool
	// Median reports whether MEDIAN() is available.
	Median bool
	// CrossJoinWithoutKeys joins merged CTEs with CROSS JOIN when there are no
	// shared dimensions, instead of FULL OUTER JOIN ... ON 1=1.
	CrossJoinWithoutKeys bool
	// CastMismatchedJoinKeys casts merged join keys of different datatypes to
	// TIMESTAMP on both sides.
	CastMismatchedJoinKeys bool
}

// Dialect renders the warehouse-specific fragments of a query.
type Dialect interface {
	// Name returns the canonical lowercase dialect name.
	Name() string
	// Features returns the dialect's capability flags.
	Features() Features
	// TimeSQL buckets sql into the given timeframe.
	TimeSQL(timeframe, sql string, opts TimeOptions) (string, error)
	// ConvertTimezone converts sql from UTC to timezone. It returns false if
	// the dialect cannot convert, in which case sql is returned unchanged.
	ConvertTimezone(sql, timezone, datatype string) (string, bool)
	// DateDiff returns the number of whole intervals between start and end.
	DateDiff(interval, start, end string) (string, error)
	// SymmetricSum returns a fan-out safe SUM of sql keyed by pkSQL.
	SymmetricSum(sql, pkSQL string) (string, error)
	// IfNull returns the name of the two-argument null coalescing function.
	IfNull() string
	// NullSafeEqual compares a and b treating two NULLs as equal.
	NullSafeEqual(a, b string) string
	// DateSpine returns a query producing one row per day in a column named date.
	DateSpine() (string, error)
}

// SymmetricFactor scales values before flooring in symmetric aggregates.
const SymmetricFactor = 1_000_000

// WeekOffset returns the number of days a week starting on day is shifted
// from the monday baseline.
func WeekOffset(day string) (int, error) {
	switch strings.ToLower(day) {
	case "", "monday":
		return 0, nil
	case "sunday":
		return 1, nil
	case "saturday":
		return 2, nil
	case "friday":
		return 3, nil
	case "thursday":
		return 4, nil
	case "wednesday":
		return 5, nil
	case "tuesday":
		return 6, nil
	default:
		return 0, fmt.Errorf("invalid week_start_day %q", day)
	}
}

// UnsupportedTimeframe is the error returned for a timeframe a dialect does
// not implement.
func UnsupportedTimeframe(timeframe, name string) error {
	return fmt.Errorf("timeframe %s is not supported for query type %s", timeframe, name)
}

// UnsupportedInterval is the error returned for a date diff interval a
// dialect does not implement.
func UnsupportedInterval(interval, name string) error {
	return fmt.Errorf("Unable to find a valid method for running %ss with query type %s", interval, strings.ToUpper(name))
}

// Datatype returns the uppercase SQL type for a field datatype, defaulting to
// TIMESTAMP.
func Datatype(datatype string) string {
	if datatype == "" {
		return "TIMESTAMP"
	}
	return strings.ToUpper(datatype)
}

// SnowflakeSymmetricSum is the MD5 based symmetric sum shared by Snowflake,
// Redshift, Postgres and DuckDB.
func SnowflakeSymmetricSum(sql, pkSQL string) string {
	adjusted := fmt.Sprintf("(CAST(FLOOR(COALESCE(%s, 0) * (%d * 1.0)) AS DECIMAL(38,0)))", sql, SymmetricFactor)
	pkSum := fmt.Sprintf("(TO_NUMBER(MD5(%s), 'XXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX') %% 1.0e27)::NUMERIC(38, 0)", pkSQL)
	backout := fmt.Sprintf("SUM(DISTINCT %s + %s) - SUM(DISTINCT %s)", adjusted, pkSum, pkSum)
	return fmt.Sprintf("COALESCE(CAST((%s) AS DOUBLE PRECISION) / CAST((%d*1.0) AS DOUBLE PRECISION), 0)", backout, SymmetricFactor)
}

// NoSymmetricSum is returned by dialects without symmetric aggregate support.
func NoSymmetricSum(name string) error {
	return fmt.Errorf("Symmetric aggregates are not supported in %s. Use the 'sum' type instead of 'sum_distinct'.", strings.ToUpper(name))
}

// StandardNullSafeEqual is the portable null-safe comparison.
func StandardNullSafeEqual(a, b string) string {
	return fmt.Sprintf("(%s=%s OR (%s IS NULL AND %s IS NULL))", a, b, a, b)
}

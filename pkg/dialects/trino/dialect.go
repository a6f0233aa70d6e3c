// Package trino provides the Trino (and Presto) SQL dialect.
package trino

import (
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
	"github.com/leapstack-labs/leapmetrics/pkg/dialects/postgres"
)

func init() {
	dialect.Register(Trino, "presto")
}

// Dialect renders Trino SQL.
type Dialect struct {
	postgres.Dialect
}

// Trino is the registered Trino dialect.
var Trino = &Dialect{}

// Name returns the dialect name.
func (d *Dialect) Name() string { return dialect.Trino }

// Features returns the Trino capability flags. The Trino client rejects a
// trailing semicolon.
func (d *Dialect) Features() dialect.Features {
	return dialect.Features{DefaultOrderBy: true}
}

// TimeSQL buckets sql into the given timeframe.
func (d *Dialect) TimeSQL(timeframe, sql string, opts dialect.TimeOptions) (string, error) {
	ts := fmt.Sprintf("CAST(%s AS TIMESTAMP)", sql)
	switch timeframe {
	case dialect.MonthOfYear:
		return fmt.Sprintf("FORMAT_DATETIME(%s, 'MMM')", ts), nil
	case dialect.DayOfWeek:
		return fmt.Sprintf("FORMAT_DATETIME(%s, 'EEE')", ts), nil
	case dialect.HourOfDay:
		return fmt.Sprintf("EXTRACT(HOUR FROM %s)", ts), nil
	case dialect.DayOfMonth:
		return fmt.Sprintf("EXTRACT(DAY FROM %s)", ts), nil
	case dialect.DayOfYear:
		return fmt.Sprintf("EXTRACT(DOY FROM %s)", ts), nil
	}
	return postgres.TimeSQL(dialect.Trino, timeframe, sql, opts)
}

// ConvertTimezone is not supported; callers log and keep the raw value.
func (d *Dialect) ConvertTimezone(sql, _, _ string) (string, bool) { return sql, false }

// DateDiff returns the number of whole intervals between start and end.
func (d *Dialect) DateDiff(interval, start, end string) (string, error) {
	if !slices.Contains(dialect.Intervals, interval) {
		return "", dialect.UnsupportedInterval(interval, dialect.Trino)
	}
	return fmt.Sprintf("DATE_DIFF('%s', %s, %s)", strings.ToLower(interval), start, end), nil
}

// SymmetricSum is not available on Trino.
func (d *Dialect) SymmetricSum(string, string) (string, error) {
	return "", dialect.NoSymmetricSum(dialect.Trino)
}

// DateSpine returns a 40 year daily spine starting at 2000-01-01.
func (d *Dialect) DateSpine() (string, error) {
	return "select date from unnest(sequence(DATE '2000-01-01', DATE '2040-01-01', INTERVAL '1' DAY)) as t(date)", nil
}

var _ dialect.Dialect = (*Dialect)(nil)

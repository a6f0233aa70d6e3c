// Package druid provides the Apache Druid SQL dialect.
package druid

import (
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
	"github.com/leapstack-labs/leapmetrics/pkg/dialects/postgres"
)

func init() {
	dialect.Register(Druid)
}

// Dialect renders Druid SQL.
type Dialect struct {
	postgres.Dialect
}

// Druid is the registered Druid dialect.
var Druid = &Dialect{}

var (
	monthNames = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}
	dayNames   = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
)

// Name returns the dialect name.
func (d *Dialect) Name() string { return dialect.Druid }

// Features returns the Druid capability flags. Druid rejects a trailing semicolon.
func (d *Dialect) Features() dialect.Features {
	return dialect.Features{DefaultOrderBy: true}
}

// TimeSQL buckets sql into the given timeframe. Druid has no TO_CHAR, so
// month and weekday names are spelled out with CASE.
func (d *Dialect) TimeSQL(timeframe, sql string, opts dialect.TimeOptions) (string, error) {
	ts := fmt.Sprintf("CAST(%s AS TIMESTAMP)", sql)
	switch timeframe {
	case dialect.MonthOfYear:
		return nameCase(fmt.Sprintf("EXTRACT(MONTH FROM %s)", ts), monthNames), nil
	case dialect.DayOfWeek:
		return nameCase(fmt.Sprintf("EXTRACT(DOW FROM %s)", ts), dayNames), nil
	case dialect.HourOfDay:
		return fmt.Sprintf("EXTRACT(HOUR FROM %s)", ts), nil
	case dialect.DayOfMonth:
		return fmt.Sprintf("EXTRACT(DAY FROM %s)", ts), nil
	case dialect.DayOfYear:
		return fmt.Sprintf("EXTRACT(DOY FROM %s)", ts), nil
	}
	return postgres.TimeSQL(dialect.Druid, timeframe, sql, opts)
}

func nameCase(expr string, names []string) string {
	var b strings.Builder
	b.WriteString("CASE ")
	b.WriteString(expr)
	for i, n := range names {
		fmt.Fprintf(&b, " WHEN %d THEN '%s'", i+1, n)
	}
	b.WriteString(" END")
	return b.String()
}

// ConvertTimezone is not supported on Druid.
func (d *Dialect) ConvertTimezone(sql, _, _ string) (string, bool) { return sql, false }

// DateDiff returns the number of whole intervals between start and end.
func (d *Dialect) DateDiff(interval, start, end string) (string, error) {
	if !slices.Contains(dialect.Intervals, interval) {
		return "", dialect.UnsupportedInterval(interval, dialect.Druid)
	}
	return fmt.Sprintf("TIMESTAMPDIFF(%s, %s, %s)", strings.ToUpper(interval), start, end), nil
}

// SymmetricSum is not available on Druid.
func (d *Dialect) SymmetricSum(string, string) (string, error) {
	return "", dialect.NoSymmetricSum(dialect.Druid)
}

// DateSpine is not available on Druid.
func (d *Dialect) DateSpine() (string, error) {
	return "", fmt.Errorf("Database %s not implemented yet", strings.ToUpper(dialect.Druid))
}

var _ dialect.Dialect = (*Dialect)(nil)

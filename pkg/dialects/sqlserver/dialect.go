// Package sqlserver provides the Microsoft SQL Server dialect and its Azure
// Synapse variant.
package sqlserver

import (
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
)

func init() {
	dialect.Register(SQLServer, "sqlserver", "mssql")
	dialect.Register(AzureSynapse, "azure")
}

// Dialect renders T-SQL.
type Dialect struct {
	name string
}

var (
	// SQLServer is the registered SQL Server dialect.
	SQLServer = &Dialect{name: dialect.SQLServer}
	// AzureSynapse shares SQL Server's rendering under its own name.
	AzureSynapse = &Dialect{name: dialect.AzureSynapse}
)

// Name returns the dialect name.
func (d *Dialect) Name() string { return d.name }

// Features returns the SQL Server capability flags. ORDER BY is rejected in
// subqueries and CTEs without TOP, so no implicit ordering is added.
func (d *Dialect) Features() dialect.Features {
	return dialect.Features{Semicolon: true}
}

// TimeSQL buckets sql into the given timeframe using DATEADD/DATEDIFF
// arithmetic from the zero date.
func (d *Dialect) TimeSQL(timeframe, s string, opts dialect.TimeOptions) (string, error) {
	date := fmt.Sprintf("CAST(%s AS DATE)", s)
	datetime := fmt.Sprintf("CAST(%s AS DATETIME)", s)
	switch timeframe {
	case dialect.Raw:
		return s, nil
	case dialect.Time:
		return datetime, nil
	case dialect.Second, dialect.Minute, dialect.Hour:
		unit := strings.ToUpper(timeframe)
		return fmt.Sprintf("DATEADD(%s, DATEDIFF(%s, 0, %s), 0)", unit, unit, datetime), nil
	case dialect.Date:
		return fmt.Sprintf("CAST(%s AS DATETIME)", date), nil
	case dialect.Week:
		offset, err := dialect.WeekOffset(opts.WeekStartDay)
		if err != nil {
			return "", err
		}
		if offset == 0 {
			return fmt.Sprintf("DATEADD(WEEK, DATEDIFF(WEEK, 0, %s), 0)", date), nil
		}
		return fmt.Sprintf("DATEADD(DAY, -%d, DATEADD(WEEK, DATEDIFF(WEEK, 0, DATEADD(DAY, %d, %s)), 0))", offset, offset, date), nil
	case dialect.Month, dialect.Quarter, dialect.Year:
		unit := strings.ToUpper(timeframe)
		return fmt.Sprintf("DATEADD(%s, DATEDIFF(%s, 0, %s), 0)", unit, unit, date), nil
	case dialect.WeekIndex:
		return fmt.Sprintf("DATEPART(WEEK, %s)", date), nil
	case dialect.WeekOfMonth:
		return fmt.Sprintf("DATEPART(WEEK, %s) - DATEPART(WEEK, DATEADD(MONTH, DATEDIFF(MONTH, 0, %s), 0)) + 1", date, date), nil
	case dialect.MonthOfYearIndex:
		return fmt.Sprintf("DATEPART(MONTH, %s)", date), nil
	case dialect.MonthOfYear:
		return fmt.Sprintf("LEFT(DATENAME(MONTH, %s), 3)", date), nil
	case dialect.QuarterOfYear:
		return fmt.Sprintf("DATEPART(QUARTER, %s)", date), nil
	case dialect.HourOfDay:
		return fmt.Sprintf("DATEPART(HOUR, %s)", datetime), nil
	case dialect.DayOfWeek:
		return fmt.Sprintf("LEFT(DATENAME(WEEKDAY, %s), 3)", date), nil
	case dialect.DayOfMonth:
		return fmt.Sprintf("DATEPART(DAY, %s)", date), nil
	case dialect.DayOfYear:
		return fmt.Sprintf("DATEPART(Y, %s)", date), nil
	}
	return "", dialect.UnsupportedTimeframe(timeframe, d.name)
}

// ConvertTimezone is not supported; callers log and keep the raw value.
func (d *Dialect) ConvertTimezone(sql, _, _ string) (string, bool) { return sql, false }

// DateDiff returns the number of whole intervals between start and end.
func (d *Dialect) DateDiff(interval, start, end string) (string, error) {
	if !slices.Contains(dialect.Intervals, interval) {
		return "", dialect.UnsupportedInterval(interval, d.name)
	}
	return fmt.Sprintf("DATEDIFF(%s, %s, %s)", strings.ToUpper(interval), start, end), nil
}

// SymmetricSum is not available on SQL Server.
func (d *Dialect) SymmetricSum(string, string) (string, error) {
	return "", dialect.NoSymmetricSum(d.name)
}

// IfNull returns coalesce.
func (d *Dialect) IfNull() string { return "coalesce" }

// NullSafeEqual uses the portable comparison.
func (d *Dialect) NullSafeEqual(a, b string) string { return dialect.StandardNullSafeEqual(a, b) }

// DateSpine is not available on SQL Server.
func (d *Dialect) DateSpine() (string, error) {
	return "", fmt.Errorf("Database %s not implemented yet", strings.ToUpper(d.name))
}

var _ dialect.Dialect = (*Dialect)(nil)

// Package redshift provides the Amazon Redshift SQL dialect.
// Redshift shares Snowflake's time and symmetric aggregate rendering.
package redshift

import (
	"fmt"

	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
	"github.com/leapstack-labs/leapmetrics/pkg/dialects/snowflake"
)

func init() {
	dialect.Register(Redshift)
}

// Dialect renders Redshift SQL.
type Dialect struct {
	snowflake.Dialect
}

// Redshift is the registered Redshift dialect.
var Redshift = &Dialect{}

// Name returns the dialect name.
func (d *Dialect) Name() string { return dialect.Redshift }

// Features returns the Redshift capability flags.
func (d *Dialect) Features() dialect.Features {
	f := d.Dialect.Features()
	f.CrossJoinWithoutKeys = true
	return f
}

// TimeSQL buckets sql into the given timeframe.
func (d *Dialect) TimeSQL(timeframe, sql string, opts dialect.TimeOptions) (string, error) {
	return snowflake.TimeSQL(dialect.Redshift, timeframe, sql, opts)
}

// DateDiff returns the number of whole intervals between start and end.
func (d *Dialect) DateDiff(interval, start, end string) (string, error) {
	return snowflake.DateDiff(dialect.Redshift, interval, start, end)
}

// ConvertTimezone converts sql from UTC to timezone.
func (d *Dialect) ConvertTimezone(sql, timezone, datatype string) (string, bool) {
	return fmt.Sprintf("CAST(CAST(CONVERT_TIMEZONE('%s', %s) AS TIMESTAMP) AS %s)", timezone, sql, dialect.Datatype(datatype)), true
}

// IfNull returns nvl.
func (d *Dialect) IfNull() string { return "nvl" }

// NullSafeEqual uses the portable comparison.
func (d *Dialect) NullSafeEqual(a, b string) string { return dialect.StandardNullSafeEqual(a, b) }

var _ dialect.Dialect = (*Dialect)(nil)

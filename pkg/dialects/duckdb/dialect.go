// Package duckdb provides the DuckDB SQL dialect.
package duckdb

import (
	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
	"github.com/leapstack-labs/leapmetrics/pkg/dialects/postgres"
	"github.com/leapstack-labs/leapmetrics/pkg/dialects/snowflake"
)

func init() {
	dialect.Register(DuckDB, "duck_db")
}

// Dialect renders DuckDB SQL: PostgreSQL time handling with DATEDIFF and MEDIAN.
type Dialect struct {
	postgres.Dialect
}

// DuckDB is the registered DuckDB dialect.
var DuckDB = &Dialect{}

// Name returns the dialect name.
func (d *Dialect) Name() string { return dialect.DuckDB }

// Features returns the DuckDB capability flags.
func (d *Dialect) Features() dialect.Features {
	f := d.Dialect.Features()
	f.Median = true
	return f
}

// TimeSQL buckets sql into the given timeframe.
func (d *Dialect) TimeSQL(timeframe, sql string, opts dialect.TimeOptions) (string, error) {
	return postgres.TimeSQL(dialect.DuckDB, timeframe, sql, opts)
}

// DateDiff returns the number of whole intervals between start and end.
func (d *Dialect) DateDiff(interval, start, end string) (string, error) {
	return snowflake.DateDiff(dialect.DuckDB, interval, start, end)
}

// DateSpine returns a 40 year daily spine starting at 2000-01-01.
func (d *Dialect) DateSpine() (string, error) {
	return "select cast(range as date) as date from range(DATE '2000-01-01', DATE '2040-01-01', INTERVAL 1 DAY)", nil
}

var _ dialect.Dialect = (*Dialect)(nil)

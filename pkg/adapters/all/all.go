// Package all registers every warehouse adapter.
package all

import (
	_ "github.com/leapstack-labs/leapmetrics/pkg/adapters/bigquery"
	_ "github.com/leapstack-labs/leapmetrics/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/leapmetrics/pkg/adapters/postgres"
	_ "github.com/leapstack-labs/leapmetrics/pkg/adapters/redshift"
	_ "github.com/leapstack-labs/leapmetrics/pkg/adapters/snowflake"
	_ "github.com/leapstack-labs/leapmetrics/pkg/adapters/trino"
)

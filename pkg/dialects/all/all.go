// Package all registers every bundled dialect.
package all

import (
	_ "github.com/leapstack-labs/leapmetrics/pkg/dialects/bigquery"   // Register BigQuery
	_ "github.com/leapstack-labs/leapmetrics/pkg/dialects/databricks" // Register Databricks
	_ "github.com/leapstack-labs/leapmetrics/pkg/dialects/druid"      // Register Druid
	_ "github.com/leapstack-labs/leapmetrics/pkg/dialects/duckdb"     // Register DuckDB
	_ "github.com/leapstack-labs/leapmetrics/pkg/dialects/postgres"   // Register Postgres
	_ "github.com/leapstack-labs/leapmetrics/pkg/dialects/redshift"   // Register Redshift
	_ "github.com/leapstack-labs/leapmetrics/pkg/dialects/snowflake"  // Register Snowflake
	_ "github.com/leapstack-labs/leapmetrics/pkg/dialects/sqlserver"  // Register SQL Server and Azure Synapse
	_ "github.com/leapstack-labs/leapmetrics/pkg/dialects/trino"      // Register Trino
)

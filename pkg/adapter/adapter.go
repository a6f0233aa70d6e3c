// Package adapter runs compiled SQL against a warehouse.
//
// This package holds the registry adapters add themselves to and the
// database/sql plumbing most of them share. Concrete adapters live in
// pkg/adapters/ subdirectories and register on import:
//
//	import _ "github.com/leapstack-labs/leapmetrics/pkg/adapters/postgres"
//
// The contract itself is defined in pkg/core and re-exported here.
package adapter

import "github.com/leapstack-labs/leapmetrics/pkg/core"

type (
	// Adapter is an alias for core.Adapter.
	Adapter = core.Adapter

	// Config is an alias for core.ConnectionConfig.
	Config = core.ConnectionConfig

	// ResultSet is an alias for core.ResultSet.
	ResultSet = core.ResultSet
)

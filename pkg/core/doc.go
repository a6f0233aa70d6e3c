// Package core defines the shared language of leapmetrics.
//
// This package contains:
//   - The error taxonomy returned by the query compiler (AccessDeniedError,
//     QueryError, JoinError, ParseError, ArgumentError)
//   - Warehouse connection settings, the Adapter contract and ResultSet
//     shared by adapters and configuration
//
// pkg/core imports only the standard library. All other packages depend on
// core, not the reverse.
package core

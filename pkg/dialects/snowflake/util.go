package snowflake

import (
	"slices"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
)

func upper(s string) string { return strings.ToUpper(s) }

func validInterval(interval string) bool {
	return slices.Contains(dialect.Intervals, interval)
}

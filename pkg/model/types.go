// Package model holds the declarative semantic layer: fields, views, models,
// topics and dashboards, plus the project that owns them and resolves names,
// access and joins across them.
package model

import "slices"

// Field types.
const (
	FieldDimension      = "dimension"
	FieldDimensionGroup = "dimension_group"
	FieldMeasure        = "measure"
)

// FieldTypes lists the valid field_type values.
var FieldTypes = []string{FieldDimension, FieldDimensionGroup, FieldMeasure}

// Value types of dimensions and dimension groups.
const (
	TypeString   = "string"
	TypeNumber   = "number"
	TypeYesNo    = "yesno"
	TypeTier     = "tier"
	TypeTime     = "time"
	TypeDuration = "duration"
)

// Aggregate types of measures.
const (
	TypeCount           = "count"
	TypeCountDistinct   = "count_distinct"
	TypeSum             = "sum"
	TypeSumDistinct     = "sum_distinct"
	TypeAverage         = "average"
	TypeAverageDistinct = "average_distinct"
	TypeMedian          = "median"
	TypeMax             = "max"
	TypeMin             = "min"
	TypeCumulative      = "cumulative"
)

var (
	// DimensionTypes are the valid types for field_type dimension.
	DimensionTypes = []string{TypeString, TypeYesNo, TypeNumber, TypeTier}
	// DimensionGroupTypes are the valid types for field_type dimension_group.
	DimensionGroupTypes = []string{TypeTime, TypeDuration}
	// MeasureTypes are the valid types for field_type measure.
	MeasureTypes = []string{
		TypeCount, TypeCountDistinct, TypeSum, TypeSumDistinct, TypeAverage,
		TypeAverageDistinct, TypeMedian, TypeMax, TypeMin, TypeNumber, TypeCumulative,
	}
)

// Datatypes of time dimension groups.
var Datatypes = []string{"timestamp", "date", "datetime"}

// Timeframes lists every timeframe a time dimension group may declare.
// month_name, month_index and week_of_year are aliases.
var Timeframes = []string{
	"raw", "time", "second", "minute", "hour", "date", "week", "month", "quarter", "year",
	"week_index", "week_of_year", "week_of_month", "month_of_year", "month_of_year_index",
	"month_name", "month_index", "quarter_of_year", "hour_of_day", "day_of_week",
	"day_of_month", "day_of_year",
}

// timeframeAliases maps alias timeframes to the canonical timeframe.
var timeframeAliases = map[string]string{
	"month_name":   "month_of_year",
	"month_index":  "month_of_year_index",
	"week_of_year": "week_index",
}

// Intervals lists every interval a duration dimension group may declare.
var Intervals = []string{"second", "minute", "hour", "day", "week", "month", "quarter", "year"}

// ValueFormatNames lists the valid value_format_name values.
var ValueFormatNames = []string{
	"decimal_0", "decimal_1", "decimal_2", "decimal_pct_0", "decimal_pct_1", "decimal_pct_2",
	"percent_0", "percent_1", "percent_2", "eur", "eur_0", "eur_1", "eur_2",
	"usd", "usd_0", "usd_1", "usd_2", "string", "image_url",
}

// Join relationships, in order of preference.
const (
	OneToOne   = "one_to_one"
	ManyToOne  = "many_to_one"
	OneToMany  = "one_to_many"
	ManyToMany = "many_to_many"
)

// Relationships lists join relationships from most to least preferred.
var Relationships = []string{OneToOne, ManyToOne, OneToMany, ManyToMany}

// Join types.
const (
	JoinLeftOuter = "left_outer"
	JoinInner     = "inner"
	JoinFullOuter = "full_outer"
	JoinCross     = "cross"
)

// JoinTypes lists the valid join types.
var JoinTypes = []string{JoinLeftOuter, JoinInner, JoinFullOuter, JoinCross}

// Identifier types.
const (
	IdentifierPrimary = "primary"
	IdentifierForeign = "foreign"
	IdentifierJoin    = "join"
)

// IdentifierTypes lists the valid identifier types.
var IdentifierTypes = []string{IdentifierPrimary, IdentifierForeign, IdentifierJoin}

// DoesNotExist is the functional primary key of a query whose joins leave no
// single row grain.
const DoesNotExist = "__DOES_NOT_EXIST__"

// CanonDateRoot prefixes the merged result roots built from shared canon dates.
const CanonDateRoot = "canon_date_core"

// MergedResultPrefix prefixes join graph names that only support merging.
const MergedResultPrefix = "merged_result_"

// SQLKeywords may not be used as field names.
var SQLKeywords = []string{"order", "group", "by", "as", "from", "select", "on", "with"}

// RelationshipWeight is the edge weight of a relationship. Lower is preferred.
func RelationshipWeight(relationship string) int {
	return slices.Index(Relationships, relationship) + 1
}

// InvertRelationship flips the direction of a relationship.
func InvertRelationship(relationship string) string {
	switch relationship {
	case ManyToOne:
		return OneToMany
	case OneToMany:
		return ManyToOne
	}
	return relationship
}

// IsFanout reports whether joining along relationship can duplicate rows of
// the base view.
func IsFanout(relationship string) bool {
	return relationship == OneToMany || relationship == ManyToMany
}

// CanonicalTimeframe resolves a timeframe alias.
func CanonicalTimeframe(timeframe string) string {
	if canonical, ok := timeframeAliases[timeframe]; ok {
		return canonical
	}
	return timeframe
}

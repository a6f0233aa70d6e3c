package model

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilterValue(t *testing.T) {
	tests := []struct {
		value      any
		expression Expression
		want       any
	}{
		{"NULL", IsNull, nil},
		{"-NULL", IsNotNull, nil},
		{true, EqualTo, true},
		{"Portable Charger", EqualTo, "Portable Charger"},
		{"-Social", NotEqualTo, "Social"},
		{">=100", GreaterOrEqualThan, "100"},
		{"<>5", NotEqualTo, "5"},
		{"<3", LessThan, "3"},
		{"a, b", IsIn, []string{"a", "b"}},
		{"-a, -b", IsNotIn, []string{"a", "b"}},
		{"after 2024-01-01", GreaterOrEqualThan, "2024-01-01T00:00:00"},
		{"before 2024-03-31", LessOrEqualThan, "2024-03-31T00:00:00"},
		{42, EqualTo, "42"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.value), func(t *testing.T) {
			got, err := ParseFilterValue("f", tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.expression, got.Expression)
			assert.Equal(t, tt.want, got.Value)
		})
	}
}

func TestParseFilterValueErrors(t *testing.T) {
	for _, value := range []any{nil, "", "a, -b", "after 2024-13-45"} {
		_, err := ParseFilterValue("f", value)
		assert.Error(t, err, "value %v", value)
	}
}

func TestFilterCondition(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{"NULL", "is null"},
		{"-NULL", "is not null"},
		{true, "is TRUE"},
		{"x", "= 'x'"},
		{"-x", "<> 'x'"},
		{">=100", ">= 100"},
		{"=7", "= 7"},
		{"a, b", "IN ('a','b')"},
		{"-a, -b", "NOT IN ('a','b')"},
		{"after 2024-01-01", ">= '2024-01-01T00:00:00'"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.value), func(t *testing.T) {
			got, err := FilterCondition("f", tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFiltersToSQL(t *testing.T) {
	sql, err := FiltersToSQL("${TABLE}.revenue", []FieldFilter{
		{Field: "channel", Value: "Email"},
		{Field: "is_on_sale_sql", Value: false},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, "case when ${channel} = 'Email' and ${is_on_sale_sql} is FALSE then ${TABLE}.revenue end", sql)

	sql, err = FiltersToSQL("${TABLE}.mrr", []FieldFilter{LiteralFilter("mrr.record_raw", "cte.max_raw")}, true)
	require.NoError(t, err)
	assert.Equal(t, "case when ${mrr.record_raw}=cte.max_raw then ${TABLE}.mrr else 0 end", sql)
}

func TestParseExpression(t *testing.T) {
	e, ok := ParseExpression("IsIn")
	require.True(t, ok)
	assert.Equal(t, IsIn, e)

	_, ok = ParseExpression("between")
	assert.False(t, ok)
}

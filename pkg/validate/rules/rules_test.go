package rules_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmetrics/pkg/model/modeltest"
	"github.com/leapstack-labs/leapmetrics/pkg/validate"
	_ "github.com/leapstack-labs/leapmetrics/pkg/validate/rules"
)

const shopModel = `
type: model
name: shop
connection: testing_snowflake
access_grants:
  - name: finance
    user_attribute: department
    allowed_values: [finance]
`

const ordersView = `
type: view
name: orders
model_name: shop
sql_table_name: analytics.orders
default_date: order
identifiers:
  - name: order_id
    type: primary
    sql: ${id}
fields:
  - name: id
    field_type: dimension
    type: string
    primary_key: yes
    sql: ${TABLE}.id
  - name: order
    field_type: dimension_group
    type: time
    timeframes: [raw, date]
    sql: ${TABLE}.order_date
  - name: revenue
    field_type: measure
    type: sum
    sql: ${TABLE}.revenue
`

func analyze(t *testing.T, config *validate.Config, docs ...string) []validate.Diagnostic {
	t.Helper()
	p := modeltest.FromYAML(t, docs...)
	return validate.NewAnalyzer(config, nil).Analyze(p)
}

func messages(diags []validate.Diagnostic) []string {
	out := make([]string, len(diags))
	for i, d := range diags {
		out[i] = d.Message
	}
	return out
}

func containsMessage(diags []validate.Diagnostic, substr string) bool {
	for _, d := range diags {
		if strings.Contains(d.Message, substr) {
			return true
		}
	}
	return false
}

func TestAnalyze_ValidProject(t *testing.T) {
	diags := analyze(t, nil, shopModel, ordersView)
	assert.Empty(t, diags, "unexpected diagnostics: %v", messages(diags))
}

func TestAnalyze_ViewAndFieldRules(t *testing.T) {
	tests := []struct {
		name   string
		view   func(string) string
		ruleID string
		want   string
	}{
		{
			name:   "invalid view name",
			view:   func(v string) string { return strings.Replace(v, "name: orders", "name: order-lines", 1) },
			ruleID: "VV01",
			want:   "View name: order-lines is invalid. Please reference the naming conventions (only letters, numbers, or underscores)",
		},
		{
			name:   "missing model",
			view:   func(v string) string { return strings.Replace(v, "model_name: shop\n", "", 1) },
			ruleID: "VV02",
			want:   "Could not find a model in view orders. Use the model_name property to specify the model.",
		},
		{
			name:   "missing table",
			view:   func(v string) string { return strings.Replace(v, "sql_table_name: analytics.orders\n", "", 1) },
			ruleID: "VV03",
			want:   "View orders is missing the required key sql_table_name",
		},
		{
			name:   "misspelled property",
			view:   func(v string) string { return v + "defualt_date: order\n" },
			ruleID: "VV03",
			want:   "Property defualt_date is present on View orders, but it is not a valid property. Did you mean default_date?",
		},
		{
			name:   "unknown default date",
			view:   func(v string) string { return strings.Replace(v, "default_date: order", "default_date: shipped", 1) },
			ruleID: "VV04",
			want:   "Default date shipped is unreachable in view orders",
		},
		{
			name:   "unknown access grant",
			view:   func(v string) string { return v + "required_access_grants: [marketing]\n" },
			ruleID: "VV08",
			want:   "The access grant marketing in view orders does not exist.",
		},
		{
			name:   "keyword field name",
			view:   func(v string) string { return strings.Replace(v, "name: id\n", "name: group\n", 1) },
			ruleID: "VF01",
			want:   "Field name: group in view orders is a reserved SQL keyword",
		},
		{
			name:   "invalid measure type",
			view:   func(v string) string { return strings.Replace(v, "type: sum", "type: total", 1) },
			ruleID: "VF02",
			want:   "Field revenue in view orders has an invalid type total.",
		},
		{
			name:   "invalid timeframe",
			view:   func(v string) string { return strings.Replace(v, "[raw, date]", "[raw, date, fortnight]", 1) },
			ruleID: "VF06",
			want:   "Field order in view orders has an invalid timeframe fortnight.",
		},
		{
			name: "missing reference",
			view: func(v string) string {
				return strings.Replace(v, "sql: ${TABLE}.revenue", "sql: ${TABLE}.revenue - ${discount}", 1)
			},
			ruleID: "VF07",
			want:   "Could not locate reference discount in field revenue in view orders.",
		},
		{
			name:   "invalid value format",
			view:   func(v string) string { return v + "    value_format_name: dollars\n" },
			ruleID: "VF12",
			want:   "Field revenue has an invalid value_format_name dollars.",
		},
		{
			name:   "non boolean hidden",
			view:   func(v string) string { return v + "    hidden: maybe\n" },
			ruleID: "VF03",
			want:   "The hidden property, maybe must be a boolean (true or false) in the field revenue in view orders",
		},
		{
			name:   "mapping label",
			view:   func(v string) string { return v + "    label: {a: 1}\n" },
			ruleID: "VF03",
			want:   "The label property, map[a:1] must be a string in the field revenue in view orders",
		},
		{
			name:   "non numeric tiers",
			view:   func(v string) string { return v + "    tiers: [a, b]\n" },
			ruleID: "VF03",
			want:   "The tiers property, [a b] is not a valid value in the field revenue in view orders",
		},
		{
			name:   "field not a mapping",
			view:   func(v string) string { return strings.Replace(v, "fields:\n", "fields:\n  - revenue\n", 1) },
			ruleID: "VV03",
			want:   "The fields.0 property, revenue is not a valid value in the view orders",
		},
		{
			name:   "invalid identifier type",
			view:   func(v string) string { return strings.Replace(v, "type: primary", "type: primary_key", 1) },
			ruleID: "VI01",
			want:   `The identifier order_id in view orders has an invalid type "primary_key".`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diags := analyze(t, nil, shopModel, tt.view(ordersView))
			require.NotEmpty(t, diags)
			var found bool
			for _, d := range diags {
				if strings.Contains(d.Message, tt.want) {
					found = true
					assert.Equal(t, tt.ruleID, d.RuleID)
					assert.Equal(t, validate.SeverityError, d.Severity)
				}
			}
			assert.True(t, found, "missing %q in %v", tt.want, messages(diags))
		})
	}
}

func TestAnalyze_ModelRules(t *testing.T) {
	tests := []struct {
		name  string
		model string
		want  string
	}{
		{
			name:  "missing connection",
			model: strings.Replace(shopModel, "connection: testing_snowflake\n", "", 1),
			want:  "Model shop is missing the required key connection",
		},
		{
			name:  "invalid week start day",
			model: shopModel + "week_start_day: funday\n",
			want:  "The week_start_day property, funday must be one of monday",
		},
		{
			name:  "reserved mapping name",
			model: shopModel + "mappings:\n  date:\n    fields: [orders.order_date]\n",
			want:  "Mapping name date in the model shop is a reserved word and cannot be used.",
		},
		{
			name:  "mapping to unknown field",
			model: shopModel + "mappings:\n  channel:\n    fields: [orders.channel]\n",
			want:  "Field orders.channel in mapping channel in the model shop is unreachable.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diags := analyze(t, nil, tt.model, ordersView)
			assert.True(t, containsMessage(diags, tt.want), "missing %q in %v", tt.want, messages(diags))
		})
	}
}

func TestAnalyze_MissingPrimaryKeyIsWarning(t *testing.T) {
	view := strings.Replace(ordersView, "    primary_key: yes\n", "", 1)

	diags := analyze(t, nil, shopModel, view)
	require.Len(t, diags, 1)
	assert.Equal(t, "VV05", diags[0].RuleID)
	assert.Equal(t, validate.SeverityWarning, diags[0].Severity)
	assert.True(t, diags[0].IsWarning())
	assert.Equal(t, "Warning: The view orders does not have a primary key, specify one using the tag primary_key: yes",
		diags[0].Message)
	assert.Empty(t, validate.Errors(diags))

	config := validate.NewConfig().SetSeverity("VV05", validate.SeverityError)
	diags = analyze(t, config, shopModel, view)
	require.Len(t, diags, 1)
	assert.False(t, diags[0].IsWarning())
	assert.Len(t, validate.Errors(diags), 1)

	diags = analyze(t, validate.NewConfig().Disable("VV05"), shopModel, view)
	assert.Empty(t, diags)
}

func TestAnalyze_Topic(t *testing.T) {
	topic := `
type: topic
label: Orders
base_view: orders
views:
  refunds: {}
always_filter:
  - field: id
    value: -NULL
`
	diags := analyze(t, nil, shopModel, ordersView, topic)
	assert.True(t, containsMessage(diags, "The view refunds in topic Orders does not exist."), messages(diags))
	assert.True(t, containsMessage(diags, "The field id in the always_filter of topic Orders must be qualified with a view name"),
		messages(diags))
}

func TestAnalyze_Dashboards(t *testing.T) {
	dashboard := `
type: dashboard
name: sales
elements:
  - metric: orders.revenue
    slice_by: [orders.channel]
`
	diags := analyze(t, nil, shopModel, ordersView, dashboard, dashboard)
	assert.True(t, containsMessage(diags, "Duplicate dashboard names found in your project for the name sales."), messages(diags))
	assert.True(t, containsMessage(diags, "Field orders.channel in slice_by in element 0 of dashboard sales is unreachable."),
		messages(diags))
}

func TestAnalyze_JoinGraphFailureStopsValidation(t *testing.T) {
	customers := `
type: view
name: customers
model_name: shop
sql_table_name: analytics.customers
identifiers:
  - name: order_id
    type: referenced
    sql: ${id}
fields:
  - name: id
    field_type: dimension
    type: string
    primary_key: yes
    sql: ${TABLE}.id
`
	diags := analyze(t, nil, shopModel, ordersView, customers)
	require.Len(t, diags, 1)
	assert.Equal(t, validate.JoinGraphRuleID, diags[0].RuleID)
	assert.Contains(t, diags[0].Message, "This join type cannot be determined from the identifier properties.")
}

func TestAnalyze_FixtureCustomerTag(t *testing.T) {
	diags := validate.NewAnalyzer(nil, nil).Analyze(modeltest.Project(t))
	for _, d := range diags {
		assert.NotEqual(t, "VP02", d.RuleID, d.Message)
		assert.NotEqual(t, "VP01", d.RuleID, d.Message)
	}
}

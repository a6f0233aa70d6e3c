// Package query compiles metric requests into warehouse SQL.
//
// A Compiler resolves the requested fields against a model.Project, picks
// the views to join, and decides whether the request fits in one statement
// or has to be merged from several subqueries joined on their shared
// dimensions. Cumulative metrics, funnels, window functions and
// non-additive (snapshot) metrics each get their own statement shape.
package query

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/model"
)

// Request is one metrics query.
type Request struct {
	Metrics    []string  `json:"metrics"`
	Dimensions []string  `json:"dimensions"`
	Where      []Filter  `json:"where"`
	Having     []Filter  `json:"having"`
	OrderBy    []OrderBy `json:"order_by"`
	Funnel     *Funnel   `json:"funnel"`
	// Topic scopes the query to a topic's views and joins, by label.
	Topic     string `json:"topic"`
	ModelName string `json:"model_name"`
	// QueryType overrides the dialect of the model's connection.
	QueryType string `json:"query_type"`
	// MergedResult forces a merged result query.
	MergedResult bool `json:"merged_result"`
	// SingleQuery forbids falling back to a merged result query.
	SingleQuery bool `json:"single_query"`
	// Limit caps the number of rows. Zero means no limit.
	Limit int `json:"limit"`
	// ForceGroupBy keeps the GROUP BY when a dimension is the primary key.
	ForceGroupBy bool `json:"force_group_by"`
}

// Result is a compiled query.
type Result struct {
	SQL string `json:"query"`
	// QueryType is the dialect the SQL was generated for.
	QueryType string `json:"query_type"`
	// Connection is the name of the model's warehouse connection.
	Connection string `json:"connection"`
}

// Filter is a where or having condition. Exactly one of Field, Literal or
// Conditions is set.
type Filter struct {
	Field      string           `json:"field"`
	Expression model.Expression `json:"expression"`
	Value      any              `json:"value"`

	// Literal is raw SQL. Field names in it may be bare or ${view.field}.
	Literal string `json:"literal"`

	// Conditions form a nested group combined with LogicalOperator.
	Conditions      []Filter `json:"conditions"`
	LogicalOperator string   `json:"logical_operator"`

	// Subquery is the value of is_in_query and is_not_in_query filters.
	Subquery *Subquery `json:"-"`
}

// Subquery is a nested request whose Field values restrict the outer query.
type Subquery struct {
	Request Request
	Field   string
}

// IsGroup reports whether f is a nested group of conditions.
func (f Filter) IsGroup() bool { return len(f.Conditions) > 0 }

// IsLiteral reports whether f is raw SQL.
func (f Filter) IsLiteral() bool { return f.Literal != "" }

// Or reports whether a group combines its conditions with OR.
func (f Filter) Or() bool { return strings.EqualFold(f.LogicalOperator, "or") }

// OrderBy sorts the result by a field.
type OrderBy struct {
	Field string `json:"field"`
	// Sort is asc or desc.
	Sort string `json:"sort"`
}

// Desc reports whether the order is descending.
func (o OrderBy) Desc() bool { return strings.EqualFold(o.Sort, "desc") }

// ParseOrderBy parses "a desc, b" into sort clauses. A clause without a
// direction sorts ascending.
func ParseOrderBy(s string) []OrderBy {
	var out []OrderBy
	for _, part := range strings.Split(s, ",") {
		words := strings.Fields(part)
		if len(words) == 0 {
			continue
		}
		o := OrderBy{Field: words[0], Sort: "asc"}
		if len(words) > 1 && strings.EqualFold(words[len(words)-1], "desc") {
			o.Sort = "desc"
		}
		out = append(out, o)
	}
	return out
}

// Funnel is a sequence of steps a customer moves through within a window.
type Funnel struct {
	// Steps are the conditions of each step. A step may be a single
	// literal filter.
	Steps  [][]Filter `json:"steps"`
	Within Within     `json:"within"`
	// ViewName selects the view whose default date orders events.
	ViewName string `json:"view_name"`
}

// Within is the time window of a funnel, for example 3 days.
type Within struct {
	Value int    `json:"value"`
	Unit  string `json:"unit"`
}

// DecodeRequest builds a Request from its loosely typed form, as sent by the
// HTTP API or read from YAML. where and having accept a literal string, one
// filter object or a list of both.
func DecodeRequest(raw map[string]any) (Request, error) {
	var req Request
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(filtersHook, orderByHook, stepsHook),
		Result:           &req,
	})
	if err != nil {
		return req, err
	}
	if err := dec.Decode(raw); err != nil {
		return req, core.NewParseError("invalid query request: %v", err)
	}
	return req, nil
}

// UnmarshalJSON accepts the loosely typed request form.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	req, err := DecodeRequest(raw)
	if err != nil {
		return err
	}
	*r = req
	return nil
}

var (
	filtersType = reflect.TypeOf([]Filter(nil))
	orderByType = reflect.TypeOf([]OrderBy(nil))
	stepsType   = reflect.TypeOf([][]Filter(nil))
)

func filtersHook(_, to reflect.Type, data any) (any, error) {
	if to != filtersType {
		return data, nil
	}
	return decodeFilters(data)
}

func orderByHook(_, to reflect.Type, data any) (any, error) {
	if to != orderByType {
		return data, nil
	}
	if s, ok := data.(string); ok {
		return ParseOrderBy(s), nil
	}
	return data, nil
}

func stepsHook(_, to reflect.Type, data any) (any, error) {
	if to != stepsType {
		return data, nil
	}
	items, ok := data.([]any)
	if !ok {
		return nil, core.NewParseError("funnel steps must be a list, got %T", data)
	}
	steps := make([][]Filter, 0, len(items))
	for _, item := range items {
		step, err := decodeFilters(item)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func decodeFilters(data any) ([]Filter, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case []Filter:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		return []Filter{{Literal: v}}, nil
	case map[string]any:
		f, err := decodeFilter(v)
		if err != nil {
			return nil, err
		}
		return []Filter{f}, nil
	case []any:
		out := make([]Filter, 0, len(v))
		for _, item := range v {
			nested, err := decodeFilters(item)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		}
		return out, nil
	}
	return nil, core.NewParseError("invalid filter %v of type %T", data, data)
}

// decodeFilter reads one filter object, unwrapping conditional_filter_logic.
func decodeFilter(raw map[string]any) (Filter, error) {
	if logic, ok := raw["conditional_filter_logic"].(map[string]any); ok {
		return decodeFilter(logic)
	}
	if conditions, ok := raw["conditions"]; ok {
		nested, err := decodeFilters(conditions)
		if err != nil {
			return Filter{}, err
		}
		op, _ := raw["logical_operator"].(string)
		if op == "" {
			op = "AND"
		}
		return Filter{Conditions: nested, LogicalOperator: strings.ToUpper(op)}, nil
	}
	if literal, ok := raw["literal"].(string); ok {
		return Filter{Literal: literal}, nil
	}

	f := Filter{Value: raw["value"]}
	f.Field, _ = raw["field"].(string)
	expr, _ := raw["expression"].(string)
	if f.Field == "" && expr == "" {
		return Filter{}, core.NewParseError("An attribute key or literal was not provided for filter '%v'.", raw)
	}
	parsed, ok := model.ParseExpression(expr)
	if !ok {
		return Filter{}, core.NewParseError("Unknown filter expression: %s.", expr)
	}
	f.Expression = parsed

	if parsed == model.IsInQuery || parsed == model.IsNotInQuery {
		value, ok := raw["value"].(map[string]any)
		if !ok {
			return Filter{}, core.NewParseError("The value of an %s filter must be an object with 'query' and 'field' keys", parsed)
		}
		nested, _ := value["query"].(map[string]any)
		req, err := DecodeRequest(nested)
		if err != nil {
			return Filter{}, err
		}
		field, _ := value["field"].(string)
		f.Subquery = &Subquery{Request: req, Field: field}
		f.Value = nil
	}
	return f, nil
}

// validate checks the shape of a field filter.
func (f Filter) validate() error {
	switch f.Expression {
	case model.IsNull, model.IsNotNull, model.BooleanTrue, model.BooleanFalse:
		return nil
	case model.IsInQuery, model.IsNotInQuery:
		if f.Subquery == nil || f.Subquery.Field == "" {
			return core.NewParseError("Filter expression: %s needs a subquery with a field.", f.Expression)
		}
		return nil
	}
	if f.Value == nil {
		return core.NewParseError("Filter expression: %s needs a non-empty value.", f.Expression)
	}
	if s, ok := f.Value.(string); ok && s == "" && f.Expression != model.EqualTo && f.Expression != model.NotEqualTo {
		return core.NewParseError("Filter expression: %s needs a non-empty value.", f.Expression)
	}
	return nil
}

func (f Filter) String() string {
	switch {
	case f.IsLiteral():
		return f.Literal
	case f.IsGroup():
		parts := make([]string, len(f.Conditions))
		for i, c := range f.Conditions {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, " "+f.LogicalOperator+" ") + ")"
	}
	return fmt.Sprintf("%s %s %v", f.Field, f.Expression, f.Value)
}

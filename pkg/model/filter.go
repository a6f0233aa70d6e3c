package model

import (
	"fmt"
	"strings"
	"time"
)

// Expression is a structured filter operator.
type Expression string

// Filter expressions accepted in structured where and having clauses.
const (
	LessThan                        Expression = "less_than"
	LessOrEqualThan                 Expression = "less_or_equal_than"
	EqualTo                         Expression = "equal_to"
	NotEqualTo                      Expression = "not_equal_to"
	GreaterOrEqualThan              Expression = "greater_or_equal_than"
	GreaterThan                     Expression = "greater_than"
	Like                            Expression = "like"
	Contains                        Expression = "contains"
	DoesNotContain                  Expression = "does_not_contain"
	ContainsCaseInsensitive         Expression = "contains_case_insensitive"
	DoesNotContainCaseInsensitive   Expression = "does_not_contain_case_insensitive"
	StartsWith                      Expression = "starts_with"
	EndsWith                        Expression = "ends_with"
	DoesNotStartWith                Expression = "does_not_start_with"
	DoesNotEndWith                  Expression = "does_not_end_with"
	StartsWithCaseInsensitive       Expression = "starts_with_case_insensitive"
	EndsWithCaseInsensitive         Expression = "ends_with_case_insensitive"
	DoesNotStartWithCaseInsensitive Expression = "does_not_start_with_case_insensitive"
	DoesNotEndWithCaseInsensitive   Expression = "does_not_end_with_case_insensitive"
	IsNull                          Expression = "is_null"
	IsNotNull                       Expression = "is_not_null"
	IsIn                            Expression = "isin"
	IsNotIn                         Expression = "isnotin"
	BooleanTrue                     Expression = "boolean_true"
	BooleanFalse                    Expression = "boolean_false"
	IsInQuery                       Expression = "is_in_query"
	IsNotInQuery                    Expression = "is_not_in_query"
)

// Expressions lists every valid structured filter expression.
var Expressions = []Expression{
	LessThan, LessOrEqualThan, EqualTo, NotEqualTo, GreaterOrEqualThan, GreaterThan,
	Like, Contains, DoesNotContain, ContainsCaseInsensitive, DoesNotContainCaseInsensitive,
	StartsWith, EndsWith, DoesNotStartWith, DoesNotEndWith, StartsWithCaseInsensitive,
	EndsWithCaseInsensitive, DoesNotStartWithCaseInsensitive, DoesNotEndWithCaseInsensitive,
	IsNull, IsNotNull, IsIn, IsNotIn, BooleanTrue, BooleanFalse, IsInQuery, IsNotInQuery,
}

// ParseExpression returns the expression named s, matched case-insensitively.
func ParseExpression(s string) (Expression, bool) {
	for _, e := range Expressions {
		if strings.EqualFold(string(e), s) {
			return e, true
		}
	}
	return "", false
}

// ParsedFilter is a field filter value translated to a structured expression.
type ParsedFilter struct {
	Field      string
	Expression Expression
	// Value is nil for null checks, a []string for isin/isnotin, a bool for
	// boolean equality and a string otherwise.
	Value any
}

// ParseFilterValue translates a field filter value into a structured filter.
//
//	NULL, -NULL          null checks
//	true, false          boolean equality
//	after/before DATE    date ranges
//	a, b  / -a, -b       (not) in list
//	<=n >=n <>n !=n      comparisons
//	=n >n <n -x          comparisons and inequality
//	x                    equality
func ParseFilterValue(field string, value any) (ParsedFilter, error) {
	out := ParsedFilter{Field: field}
	if b, ok := value.(bool); ok {
		out.Expression, out.Value = EqualTo, b
		return out, nil
	}
	s, ok := value.(string)
	if !ok {
		if value == nil {
			return out, fmt.Errorf("filter on %s has no value", field)
		}
		s = fmt.Sprint(value)
	}
	if s == "" {
		return out, fmt.Errorf("filter on %s has an empty value", field)
	}

	switch {
	case s == "NULL":
		out.Expression = IsNull
	case s == "-NULL":
		out.Expression = IsNotNull
	case isDateRange(s):
		words := strings.Fields(s)
		t, err := time.Parse("2006-01-02", words[len(words)-1])
		if err != nil {
			return out, fmt.Errorf("invalid date in filter %q on %s: %w", s, field, err)
		}
		out.Value = t.Format("2006-01-02T15:04:05")
		out.Expression = LessOrEqualThan
		if words[0] == "after" {
			out.Expression = GreaterOrEqualThan
		}
	case len(strings.Split(s, ", ")) > 1:
		parts := strings.Split(s, ", ")
		negated := 0
		for _, p := range parts {
			if strings.HasPrefix(p, "-") {
				negated++
			}
		}
		switch negated {
		case 0:
			out.Expression = IsIn
			out.Value = trimAll(parts, "")
		case len(parts):
			out.Expression = IsNotIn
			out.Value = trimAll(parts, "-")
		default:
			return out, fmt.Errorf("invalid filter some elements are negated with '-' and some are not")
		}
	case hasAnyPrefix(s, "<=", ">=", "<>", "!="):
		out.Expression = symbolExpressions[s[:2]]
		out.Value = s[2:]
	case hasAnyPrefix(s, "=", ">", "<", "-"):
		out.Expression = symbolExpressions[s[:1]]
		out.Value = s[1:]
	default:
		out.Expression = EqualTo
		out.Value = s
	}
	return out, nil
}

var symbolExpressions = map[string]Expression{
	"<=": LessOrEqualThan,
	">=": GreaterOrEqualThan,
	"<>": NotEqualTo,
	"!=": NotEqualTo,
	"-":  NotEqualTo,
	"=":  EqualTo,
	">":  GreaterThan,
	"<":  LessThan,
}

func isDateRange(s string) bool {
	first, _, _ := strings.Cut(s, " ")
	return first == "after" || first == "before"
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func trimAll(parts []string, prefix string) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(strings.TrimPrefix(p, prefix))
	}
	return out
}

// FilterCondition renders the right-hand side of a field filter, for example
// "is null", "IN ('a','b')", "<> 'x'" or ">= 100".
func FilterCondition(field string, value any) (string, error) {
	parsed, err := ParseFilterValue(field, value)
	if err != nil {
		return "", err
	}
	raw := fmt.Sprint(value)
	switch {
	case parsed.Expression == IsNull:
		return "is null", nil
	case parsed.Expression == IsNotNull:
		return "is not null", nil
	case parsed.Expression == IsIn || parsed.Expression == IsNotIn:
		values := parsed.Value.([]string)
		quoted := make([]string, len(values))
		for i, v := range values {
			quoted[i] = "'" + v + "'"
		}
		op := "IN"
		if parsed.Expression == IsNotIn {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s (%s)", op, strings.Join(quoted, ",")), nil
	}
	if b, ok := parsed.Value.(bool); ok {
		return "is " + strings.ToUpper(fmt.Sprint(b)), nil
	}
	switch {
	case strings.HasPrefix(raw, "after "):
		return fmt.Sprintf(">= '%v'", parsed.Value), nil
	case strings.HasPrefix(raw, "before "):
		return fmt.Sprintf("<= '%v'", parsed.Value), nil
	case strings.HasPrefix(raw, "-"):
		return fmt.Sprintf("<> '%v'", parsed.Value), nil
	case hasAnyPrefix(raw, "<=", ">=", "<>", "!="):
		return fmt.Sprintf("%s %v", raw[:2], parsed.Value), nil
	case hasAnyPrefix(raw, "=", ">", "<"):
		return fmt.Sprintf("%s %v", raw[:1], parsed.Value), nil
	}
	return fmt.Sprintf("= '%v'", parsed.Value), nil
}

// FiltersToSQL wraps sql in a CASE expression that only passes rows matching
// every filter. elseZero adds "else 0" so non-matching rows count as zero.
func FiltersToSQL(sql string, filters []FieldFilter, elseZero bool) (string, error) {
	conditions := make([]string, 0, len(filters))
	for _, f := range filters {
		ref := "${" + f.Field + "}"
		if f.literal != "" {
			conditions = append(conditions, ref+"="+f.literal)
			continue
		}
		cond, err := FilterCondition(f.Field, f.Value)
		if err != nil {
			return "", err
		}
		conditions = append(conditions, ref+" "+cond)
	}
	out := "case when " + strings.Join(conditions, " and ") + " then " + sql
	if elseZero {
		out += " else 0"
	}
	return out + " end", nil
}

// LiteralFilter returns a filter comparing field to raw SQL by equality.
func LiteralFilter(field, sql string) FieldFilter {
	return FieldFilter{Field: field, literal: sql}
}

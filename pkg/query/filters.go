package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/model"
)

// filterRenderer turns request filters into SQL conditions.
type filterRenderer struct {
	project *model.Project
	// render returns the SQL a filter on f compares against.
	render func(f *model.Field) (string, error)
	// subqueries names the CTE of every is_in_query filter.
	subqueries map[*Subquery]string
}

// conditions renders filters as top-level conditions, to be combined with
// AND. A lone group renders without parentheses.
func (r *filterRenderer) conditions(filters []Filter) ([]string, error) {
	if len(filters) == 1 && filters[0].IsGroup() {
		sql, err := r.group(filters[0], true)
		if err != nil || sql == "" {
			return nil, err
		}
		return []string{sql}, nil
	}
	out := make([]string, 0, len(filters))
	for _, f := range filters {
		sql, err := r.filter(f)
		if err != nil {
			return nil, err
		}
		if sql != "" {
			out = append(out, sql)
		}
	}
	return out, nil
}

func (r *filterRenderer) filter(f Filter) (string, error) {
	switch {
	case f.IsLiteral():
		return r.literal(f.Literal)
	case f.IsGroup():
		return r.group(f, false)
	}
	field, err := r.project.GetField(f.Field)
	if err != nil {
		return "", err
	}
	if f.Expression == model.IsInQuery || f.Expression == model.IsNotInQuery {
		return r.subquery(f, field)
	}
	sql, err := r.render(field)
	if err != nil {
		return "", err
	}
	return criterion(sql, f, field)
}

func (r *filterRenderer) group(f Filter, top bool) (string, error) {
	parts := make([]string, 0, len(f.Conditions))
	for _, c := range f.Conditions {
		sql, err := r.filter(c)
		if err != nil {
			return "", err
		}
		if sql != "" {
			parts = append(parts, sql)
		}
	}
	op := " AND "
	if f.Or() {
		op = " OR "
	}
	joined := strings.Join(parts, op)
	if top || len(parts) < 2 {
		return joined, nil
	}
	return "(" + joined + ")", nil
}

func (r *filterRenderer) subquery(f Filter, field *model.Field) (string, error) {
	name, ok := r.subqueries[f.Subquery]
	if !ok {
		return "", core.Errorf("Subquery filter on %s was not compiled", f.Field)
	}
	inner, err := r.project.GetField(f.Subquery.Field)
	if err != nil {
		return "", err
	}
	sql, err := r.render(field)
	if err != nil {
		return "", err
	}
	op := " IN "
	if f.Expression == model.IsNotInQuery {
		op = " NOT IN "
	}
	return sql + op + "(SELECT DISTINCT " + inner.Alias(true) + " FROM " + name + ")", nil
}

// literal renders raw SQL, replacing every field name it mentions.
func (r *filterRenderer) literal(sql string) (string, error) {
	templated, fields := templateLiteral(r.project, sql)
	for _, f := range fields {
		replacement, err := r.render(f)
		if err != nil {
			return "", err
		}
		templated = strings.ReplaceAll(templated, "${"+f.ID()+"}", replacement)
	}
	return templated, nil
}

// templateLiteral rewrites the field names in a literal clause, bare or
// qualified, as ${view.field} references. Quoted strings are left alone.
// Names that do not resolve to exactly one field are kept as they are.
func templateLiteral(p *model.Project, sql string) (string, []*model.Field) {
	var b strings.Builder
	var fields []*model.Field
	seen := map[string]bool{}
	add := func(f *model.Field) {
		if !seen[f.ID()] {
			seen[f.ID()] = true
			fields = append(fields, f)
		}
	}

	runes := []rune(sql)
	for i := 0; i < len(runes); {
		c := runes[i]
		switch {
		case c == '\'':
			j := i + 1
			for j < len(runes) && runes[j] != '\'' {
				j++
			}
			end := min(j+1, len(runes))
			b.WriteString(string(runes[i:end]))
			i = end
		case c == '$' && i+1 < len(runes) && runes[i+1] == '{':
			j := i + 2
			for j < len(runes) && runes[j] != '}' {
				j++
			}
			ref := string(runes[i+2 : min(j, len(runes))])
			if f, ok := p.TryGetField(ref); ok {
				add(f)
				b.WriteString("${" + f.ID() + "}")
			} else {
				b.WriteString(string(runes[i:min(j+1, len(runes))]))
			}
			i = min(j+1, len(runes))
		case isIdentStart(c) && (i == 0 || !isIdentPart(runes[i-1])):
			j := i
			for j < len(runes) && (isIdentPart(runes[j]) || runes[j] == '.') {
				j++
			}
			name := strings.TrimSuffix(string(runes[i:j]), ".")
			j = i + len([]rune(name))
			if f, ok := p.TryGetField(name); ok && !isSQLWord(name) {
				add(f)
				b.WriteString("${" + f.ID() + "}")
			} else {
				b.WriteString(name)
			}
			i = j
		default:
			b.WriteRune(c)
			i++
		}
	}
	return b.String(), fields
}

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }

func isIdentPart(r rune) bool { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }

var sqlWords = map[string]bool{
	"and": true, "or": true, "not": true, "null": true, "is": true, "in": true, "like": true,
	"ilike": true, "between": true, "true": true, "false": true, "case": true, "when": true,
	"then": true, "else": true, "end": true, "as": true, "desc": true, "asc": true,
}

func isSQLWord(name string) bool { return sqlWords[strings.ToLower(name)] }

// criterion renders one structured filter against sql.
func criterion(sql string, f Filter, field *model.Field) (string, error) {
	if err := f.validate(); err != nil {
		return "", err
	}
	expr := f.Expression
	if field != nil && field.Type == model.TypeYesNo {
		switch v := f.Value.(type) {
		case bool:
			expr = model.BooleanFalse
			if v {
				expr = model.BooleanTrue
			}
		case string:
			if strings.Contains(v, "False") || strings.EqualFold(v, "false") {
				expr = model.BooleanFalse
			} else if strings.Contains(v, "True") || strings.EqualFold(v, "true") {
				expr = model.BooleanTrue
			}
		}
	}

	value := func() string { return sqlLiteral(f.Value) }
	pattern := func(prefix, suffix string) string {
		return sqlLiteral(prefix + fmt.Sprint(f.Value) + suffix)
	}
	lower := func(op, prefix, suffix string) string {
		return "LOWER(" + sql + ") " + op + " LOWER(" + pattern(prefix, suffix) + ")"
	}

	switch expr {
	case model.LessThan:
		return sql + "<" + value(), nil
	case model.LessOrEqualThan:
		return sql + "<=" + value(), nil
	case model.EqualTo:
		return sql + "=" + value(), nil
	case model.NotEqualTo:
		return sql + "<>" + value(), nil
	case model.GreaterOrEqualThan:
		return sql + ">=" + value(), nil
	case model.GreaterThan:
		return sql + ">" + value(), nil
	case model.Like:
		return sql + " LIKE " + value(), nil
	case model.Contains:
		return sql + " LIKE " + pattern("%", "%"), nil
	case model.DoesNotContain:
		return sql + " NOT LIKE " + pattern("%", "%"), nil
	case model.ContainsCaseInsensitive:
		return lower("LIKE", "%", "%"), nil
	case model.DoesNotContainCaseInsensitive:
		return lower("NOT LIKE", "%", "%"), nil
	case model.StartsWith:
		return sql + " LIKE " + pattern("", "%"), nil
	case model.EndsWith:
		return sql + " LIKE " + pattern("%", ""), nil
	case model.DoesNotStartWith:
		return sql + " NOT LIKE " + pattern("", "%"), nil
	case model.DoesNotEndWith:
		return sql + " NOT LIKE " + pattern("%", ""), nil
	case model.StartsWithCaseInsensitive:
		return lower("LIKE", "", "%"), nil
	case model.EndsWithCaseInsensitive:
		return lower("LIKE", "%", ""), nil
	case model.DoesNotStartWithCaseInsensitive:
		return lower("NOT LIKE", "", "%"), nil
	case model.DoesNotEndWithCaseInsensitive:
		return lower("NOT LIKE", "%", ""), nil
	case model.IsNull:
		return sql + " IS NULL", nil
	case model.IsNotNull:
		return "NOT " + sql + " IS NULL", nil
	case model.IsIn:
		return sql + " IN (" + sqlList(f.Value) + ")", nil
	case model.IsNotIn:
		return "NOT " + sql + " IN (" + sqlList(f.Value) + ")", nil
	case model.BooleanTrue:
		return sql, nil
	case model.BooleanFalse:
		return "NOT " + sql, nil
	}
	return "", core.NewParseError("Unknown filter expression: %s.", f.Expression)
}

// sqlLiteral renders a filter value as a SQL literal.
func sqlLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x)
	case time.Time:
		return "'" + x.Format("2006-01-02T15:04:05") + "'"
	}
	return sqlLiteral(fmt.Sprint(v))
}

func sqlList(v any) string {
	var items []string
	switch x := v.(type) {
	case []any:
		for _, item := range x {
			items = append(items, sqlLiteral(item))
		}
	case []string:
		for _, item := range x {
			items = append(items, sqlLiteral(item))
		}
	default:
		items = append(items, sqlLiteral(v))
	}
	return strings.Join(items, ",")
}

// alwaysFilters converts view and topic always_filter declarations into
// request filters.
func alwaysFilters(filters []model.FieldFilter, viewName string) ([]Filter, error) {
	out := make([]Filter, 0, len(filters))
	for _, af := range filters {
		name := af.Field
		if viewName != "" && !strings.Contains(name, ".") {
			name = viewName + "." + name
		}
		parsed, err := model.ParseFilterValue(name, af.Value)
		if err != nil {
			return nil, core.Errorf("%s", err.Error())
		}
		f := Filter{Field: name, Expression: parsed.Expression, Value: parsed.Value}
		if b, ok := parsed.Value.(bool); ok {
			f.Expression = model.BooleanFalse
			if b {
				f.Expression = model.BooleanTrue
			}
			f.Value = nil
		}
		if list, ok := parsed.Value.([]string); ok {
			f.Value = list
		}
		out = append(out, f)
	}
	return out, nil
}

// filterFields returns the names of the fields filters reference, in order.
// Literal clauses contribute the fields they mention.
func filterFields(p *model.Project, filters []Filter) []string {
	var out []string
	for _, f := range filters {
		switch {
		case f.IsLiteral():
			_, fields := templateLiteral(p, f.Literal)
			for _, field := range fields {
				out = append(out, field.ID())
			}
		case f.IsGroup():
			out = append(out, filterFields(p, f.Conditions)...)
		default:
			out = append(out, f.Field)
		}
	}
	return out
}

// flatten returns every field filter of a tree.
func flatten(filters []Filter) []Filter {
	var out []Filter
	for _, f := range filters {
		if f.IsGroup() {
			out = append(out, flatten(f.Conditions)...)
			continue
		}
		out = append(out, f)
	}
	return out
}

// mapFilters rewrites the field of every filter with fn.
func mapFilters(filters []Filter, fn func(string) (string, error)) ([]Filter, error) {
	out := make([]Filter, 0, len(filters))
	for _, f := range filters {
		switch {
		case f.IsGroup():
			nested, err := mapFilters(f.Conditions, fn)
			if err != nil {
				return nil, err
			}
			f.Conditions = nested
		case f.Field != "":
			name, err := fn(f.Field)
			if err != nil {
				return nil, err
			}
			f.Field = name
		}
		out = append(out, f)
	}
	return out, nil
}

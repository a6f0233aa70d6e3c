package model

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
)

// MaxReferenceDepth bounds how deeply ${...} references are followed.
const MaxReferenceDepth = 32

// RenderOptions controls how a field renders itself.
type RenderOptions struct {
	// FunctionalPK is the grain of the query: empty when there are no fan-out
	// joins, DoesNotExist when there is no single grain, or the ID of the
	// primary key field that defines it.
	FunctionalPK string
	// AliasOnly references columns of an already materialized subquery.
	AliasOnly bool
	// ExpandWindows renders window dimensions as their window expression
	// instead of the alias they are materialized under.
	ExpandWindows bool
}

var (
	multiSpace = regexp.MustCompile(`[ ]{2,}`)
	overClause = regexp.MustCompile(`(?i)\)\s*over\s*\(`)
)

// SQLQuery renders f for dialect d. Measures are aggregated, dimensions are
// returned as a row level expression.
func (f *Field) SQLQuery(d dialect.Dialect, functionalPK string, aliasOnly bool) (string, error) {
	return f.Render(d, RenderOptions{FunctionalPK: functionalPK, AliasOnly: aliasOnly})
}

// Render renders f with the given options.
func (f *Field) Render(d dialect.Dialect, opts RenderOptions) (string, error) {
	r := &renderer{d: d, opts: opts}
	if opts.ExpandWindows {
		r.expand = f.ID()
	}
	return r.sqlQuery(f)
}

// RawSQL renders f without aggregation.
func (f *Field) RawSQL(d dialect.Dialect, aliasOnly bool) (string, error) {
	r := &renderer{d: d, opts: RenderOptions{AliasOnly: aliasOnly}}
	return r.rawSQL(f)
}

// IsWindow reports whether f computes a window function.
func (f *Field) IsWindow() bool {
	return f.Window || overClause.MatchString(f.SQL)
}

type renderer struct {
	d      dialect.Dialect
	opts   RenderOptions
	expand string
	stack  []string
}

func (r *renderer) enter(f *Field) error {
	id := f.ID()
	if i := slices.Index(r.stack, id); i >= 0 {
		chain := append(slices.Clone(r.stack[i:]), id)
		return core.Errorf("Circular reference detected while resolving field %s: %s", r.stack[0], strings.Join(chain, " -> "))
	}
	if len(r.stack) >= MaxReferenceDepth {
		return core.Errorf("Field %s references other fields more than %d levels deep", r.stack[0], MaxReferenceDepth)
	}
	r.stack = append(r.stack, id)
	return nil
}

func (r *renderer) exit() { r.stack = r.stack[:len(r.stack)-1] }

func (r *renderer) sqlQuery(f *Field) (string, error) {
	if f.Type == TypeCumulative && r.opts.AliasOnly {
		measure, err := f.MeasureField()
		if err != nil {
			return "", err
		}
		return f.CTEPrefix(true) + "." + measure.Alias(true), nil
	}
	if f.IsMeasure() {
		return r.aggregate(f)
	}
	return r.rawSQL(f)
}

func (r *renderer) rawSQL(f *Field) (string, error) {
	if f.IsMeasure() && f.Type == TypeNumber {
		return "", core.Errorf("Field %s is a number measure and has no row level SQL", f.ID())
	}
	if r.opts.AliasOnly {
		return f.Alias(true), nil
	}
	if !f.IsMeasure() && f.IsWindow() && r.expand != f.ID() {
		return f.Alias(true), nil
	}
	if err := r.enter(f); err != nil {
		return "", err
	}
	defer r.exit()

	sql, err := f.ProcessedSQL()
	if err != nil {
		return "", err
	}
	switch {
	case sql != "":
		clean, err := r.replaceFields(f, sql)
		if err != nil {
			return "", err
		}
		if f.FieldType == FieldDimensionGroup && f.Type == TypeTime {
			return r.timeSQL(f, clean)
		}
		return clean, nil
	case f.Type == TypeDuration && f.SQLStart != "" && f.SQLEnd != "":
		start, err := r.replaceFields(f, lowerReferences(f.SQLStart))
		if err != nil {
			return "", err
		}
		end, err := r.replaceFields(f, lowerReferences(f.SQLEnd))
		if err != nil {
			return "", err
		}
		out, err := r.d.DateDiff(strings.TrimSuffix(f.dimensionGroup, "s"), start, end)
		if err != nil {
			return "", &core.QueryError{Message: err.Error()}
		}
		return out, nil
	case f.Type == TypeCumulative:
		return "", core.Errorf("You cannot call sql_query() on cumulative type field %s because cumulative "+
			"queries are dependent on the 'FROM' clause to be correct and the sql_query() method "+
			"only returns the aggregation of the individual metric, not the whole SQL query. "+
			"To see the query, use get_sql_query() with the cumulative metric.", f.ID())
	}
	return "", core.Errorf("Unknown type of SQL query for field %s", f.Name)
}

func (r *renderer) replaceFields(f *Field, sql string) (string, error) {
	for _, ref := range References(sql) {
		if ref == "TABLE" {
			if r.opts.AliasOnly {
				sql = strings.ReplaceAll(sql, "${TABLE}.", "")
			} else {
				sql = strings.ReplaceAll(sql, "${TABLE}", f.view.Name)
			}
			continue
		}
		field, err := f.lookup(ref, "")
		if err != nil {
			return "", err
		}
		if field.IsMeasure() && (field.Type == TypeNumber || !f.IsMeasure()) {
			return "", core.Errorf("Field %s has the wrong type. You must use the type 'number' "+
				"if you reference other measures in your expression (like %s referenced here)", f.Name, ref)
		}
		replacement, err := r.rawSQL(field)
		if err != nil {
			return "", err
		}
		sql = strings.ReplaceAll(sql, "${"+ref+"}", replacement)
	}
	sql = multiSpace.ReplaceAllString(sql, " ")
	return strings.TrimSpace(sql), nil
}

func (r *renderer) timeSQL(f *Field, sql string) (string, error) {
	p := f.view.project
	if tz := p.Timezone(); tz != "" && f.ConvertsTimezone() {
		converted, ok := r.d.ConvertTimezone(sql, tz, f.EffectiveDatatype())
		if ok {
			sql = converted
		} else {
			p.Logger().Warn("timezone conversion is not supported, timezone will be ignored",
				"dialect", r.d.Name(), "field", f.ID())
		}
	}
	out, err := r.d.TimeSQL(CanonicalTimeframe(f.dimensionGroup), sql, dialect.TimeOptions{
		WeekStartDay: f.view.WeekStartDay(),
		Datatype:     f.EffectiveDatatype(),
	})
	if err != nil {
		return "", &core.QueryError{Message: err.Error()}
	}
	return out, nil
}

func (r *renderer) aggregate(f *Field) (string, error) {
	if f.Type == TypeNumber {
		return r.numberAggregate(f)
	}
	if f.Type == TypeCumulative {
		return r.rawSQL(f)
	}
	sql, err := r.rawSQL(f)
	if err != nil {
		return "", err
	}
	features := r.d.Features()

	switch f.Type {
	case TypeSum:
		symmetric, err := r.useSymmetric(f)
		if err != nil {
			return "", err
		}
		if !symmetric {
			return "SUM(" + sql + ")", nil
		}
		pk, err := r.primaryKeySQL(f)
		if err != nil {
			return "", err
		}
		return r.symmetricSum(sql, pk)
	case TypeSumDistinct:
		key, err := r.distinctKeySQL(f, f.SQLDistinctKey)
		if err != nil {
			return "", err
		}
		return r.symmetricSum(sql, key)
	case TypeCount:
		symmetric, err := r.useSymmetric(f)
		if err != nil {
			return "", err
		}
		if !symmetric {
			return "COUNT(" + sql + ")", nil
		}
		if f.PrimaryKeyCount {
			return "COUNT(DISTINCT(" + sql + "))", nil
		}
		pk, err := r.primaryKeySQL(f)
		if err != nil {
			return "", err
		}
		return symmetricCount(sql, pk), nil
	case TypeCountDistinct:
		return "COUNT(DISTINCT(" + sql + "))", nil
	case TypeAverage:
		symmetric, err := r.useSymmetric(f)
		if err != nil {
			return "", err
		}
		if !symmetric {
			return "AVG(" + sql + ")", nil
		}
		pk, err := r.primaryKeySQL(f)
		if err != nil {
			return "", err
		}
		return r.symmetricAverage(sql, pk)
	case TypeAverageDistinct:
		if !features.SymmetricAggregates {
			return "", core.Errorf("Symmetric aggregates are not supported in %s. "+
				"Use the 'average' type instead of 'average_distinct'.", r.d.Name())
		}
		key, err := r.distinctKeySQL(f, f.SQLDistinctKey)
		if err != nil {
			return "", err
		}
		return r.symmetricAverage(sql, key)
	case TypeMedian:
		if !features.Median {
			return "", core.Errorf("Median is not supported in %s. Please choose another "+
				"aggregate function for the %s measure.", r.d.Name(), f.ID())
		}
		return "MEDIAN(" + sql + ")", nil
	case TypeMax:
		return "MAX(" + sql + ")", nil
	case TypeMin:
		return "MIN(" + sql + ")", nil
	}
	return "", core.Errorf("Aggregate type %s not supported. Supported types are: %s",
		f.Type, strings.Join(MeasureTypes, ", "))
}

func (r *renderer) numberAggregate(f *Field) (string, error) {
	if err := r.enter(f); err != nil {
		return "", err
	}
	defer r.exit()

	sql, err := f.ProcessedSQL()
	if err != nil {
		return "", err
	}
	for _, ref := range References(sql) {
		placeholder := "${" + ref + "}"
		var replacement string
		if ref == "TABLE" {
			if r.opts.AliasOnly {
				sql = strings.ReplaceAll(sql, placeholder+".", "")
				continue
			}
			replacement = f.view.Name
		} else {
			field, err := f.lookup(ref, "")
			if err != nil {
				return "", err
			}
			if replacement, err = r.sqlQuery(field); err != nil {
				return "", err
			}
		}
		sql = strings.ReplaceAll(sql, placeholder, "("+replacement+")")
	}
	return sql, nil
}

func (r *renderer) useSymmetric(f *Field) (bool, error) {
	if !r.d.Features().SymmetricAggregates {
		return false, nil
	}
	return f.needsSymmetric(r.opts.FunctionalPK)
}

func (f *Field) needsSymmetric(functionalPK string) (bool, error) {
	switch functionalPK {
	case "":
		return false, nil
	case DoesNotExist:
		return true, nil
	}
	pk := f.view.PrimaryKey()
	if pk == nil {
		return false, core.Errorf("The primary key for the view %s is not defined. "+
			"To use symmetric aggregates, you need to define the primary key. "+
			"Define the primary key by adding primary_key: yes to the field "+
			"that is the primary key of the table.", f.view.Name)
	}
	return pk.ID() != functionalPK, nil
}

func (r *renderer) primaryKeySQL(f *Field) (string, error) {
	pk := f.view.PrimaryKey()
	if pk == nil {
		_, err := f.needsSymmetric("pk")
		return "", err
	}
	raw, err := r.rawSQL(pk)
	if err != nil {
		return "", err
	}
	return r.applyFilters(f, raw)
}

func (r *renderer) distinctKeySQL(f *Field, key string) (string, error) {
	if key == "" {
		return "", core.Errorf("Field %s of type %s must define sql_distinct_key", f.ID(), f.Type)
	}
	return r.applyFilters(f, lowerReferences(key))
}

func (r *renderer) applyFilters(f *Field, sql string) (string, error) {
	if len(f.Filters) > 0 {
		var err error
		if sql, err = FiltersToSQL(sql, f.Filters, false); err != nil {
			return "", err
		}
	}
	return r.replaceFields(f, sql)
}

func (r *renderer) symmetricSum(sql, pk string) (string, error) {
	out, err := r.d.SymmetricSum(sql, pk)
	if err != nil {
		return "", &core.QueryError{Message: err.Error()}
	}
	return out, nil
}

func (r *renderer) symmetricAverage(sql, pk string) (string, error) {
	sum, err := r.symmetricSum(sql, pk)
	if err != nil {
		return "", err
	}
	return "(" + sum + " / " + symmetricCount(sql, pk) + ")", nil
}

func symmetricCount(sql, pk string) string {
	return fmt.Sprintf("NULLIF(COUNT(DISTINCT CASE WHEN  (%s)  IS NOT NULL THEN  %s  ELSE NULL END), 0)", sql, pk)
}

// ProcessedSQL returns f's SQL template after expanding case blocks, tiers,
// yesno wrapping, the default count target and measure filters. References
// are lowercased but not resolved.
func (f *Field) ProcessedSQL() (string, error) {
	sql := f.SQL
	if sql == "" && f.Case != nil {
		sql = caseSQL(f.Case)
	}
	if sql == "" && f.IsMeasure() && f.Type == TypeCount {
		sql = "*"
		if pk := f.view.PrimaryKey(); pk != nil {
			sql = pk.SQL
		}
	}
	if sql == "" {
		return "", nil
	}

	if len(f.Filters) > 0 || f.NonAdditiveDimension != nil {
		if sql == "*" {
			return "", core.Errorf("To apply filters to a count measure you must have the primary_key specified " +
				"for the view. You can do this by adding the tag 'primary_key: true' to the " +
				"necessary dimension")
		}
		var filters []FieldFilter
		for _, ff := range f.Filters {
			if ff.Field != f.Name {
				filters = append(filters, ff)
			}
		}
		if n := f.NonAdditive(); n != nil {
			cte := f.NonAdditiveCTEAlias()
			filters = append(filters, LiteralFilter(n.Name, cte+"."+f.NonAdditiveAlias()))
			for _, g := range n.WindowGroupings {
				filters = append(filters, LiteralFilter(g, cte+"."+strings.ReplaceAll(g, ".", "_")))
			}
		}
		if len(filters) > 0 {
			var err error
			if sql, err = FiltersToSQL(sql, filters, f.NonAdditiveDimension != nil); err != nil {
				return "", fmt.Errorf("field %s: %w", f.ID(), err)
			}
		}
	}
	if f.Type == TypeTier && len(f.Tiers) > 0 {
		sql = tierSQL(sql, f.Tiers)
	}
	if f.Type == TypeYesNo {
		sql = "(" + sql + ")"
	}
	return lowerReferences(sql), nil
}

// rawTemplate is the processed SQL, or the declared SQL when processing fails.
func (f *Field) rawTemplate() string {
	if sql, err := f.ProcessedSQL(); err == nil {
		return sql
	}
	return f.SQL
}

// StrictReplacedQuery renders f against the columns of merged subqueries:
// plain references become aliases, merged and number references are inlined.
func (f *Field) StrictReplacedQuery() (string, error) {
	return f.strictReplaced(0)
}

func (f *Field) strictReplaced(depth int) (string, error) {
	if depth > MaxReferenceDepth {
		return "", core.Errorf("Field %s references other fields more than %d levels deep", f.ID(), MaxReferenceDepth)
	}
	sql, err := f.ProcessedSQL()
	if err != nil {
		return "", err
	}
	for _, ref := range References(sql) {
		if ref == "TABLE" {
			sql = strings.ReplaceAll(sql, "${TABLE}.", "")
			continue
		}
		replacement := ref
		if field, err := f.lookup(ref, ""); err == nil {
			if field.IsMergedResult() || field.Type == TypeNumber {
				inner, err := field.strictReplaced(depth + 1)
				if err != nil {
					return "", err
				}
				replacement = "(" + inner + ")"
			} else {
				replacement = field.Alias(true)
			}
		}
		sql = strings.ReplaceAll(sql, "${"+ref+"}", replacement)
	}
	return strings.TrimSpace(sql), nil
}

func caseSQL(c *Case) string {
	var b strings.Builder
	b.WriteString("case ")
	for _, w := range c.Whens {
		fmt.Fprintf(&b, "when %s then '%s' ", strings.ReplaceAll(w.SQL, `"`, "'"), w.Label)
	}
	if c.Else != "" {
		fmt.Fprintf(&b, "else '%s' ", c.Else)
	}
	b.WriteString("end")
	return b.String()
}

func tierSQL(sql string, tiers []float64) string {
	num := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	var b strings.Builder
	b.WriteString("case ")
	fmt.Fprintf(&b, "when %s < %s then 'Below %s' ", sql, num(tiers[0]), num(tiers[0]))
	for i := 0; i < len(tiers)-1; i++ {
		start, end := num(tiers[i]), num(tiers[i+1])
		fmt.Fprintf(&b, "when %s >= %s and %s < %s then '[%s,%s)' ", sql, start, sql, end, start, end)
	}
	last := num(tiers[len(tiers)-1])
	fmt.Fprintf(&b, "when %s >= %s then '[%s,inf)' ", sql, last, last)
	b.WriteString("else 'Unknown' end")
	return b.String()
}

// lowerReferences lowercases every ${...} reference except ${TABLE}.
func lowerReferences(sql string) string {
	for _, ref := range References(sql) {
		if ref != "TABLE" && ref != strings.ToLower(ref) {
			sql = strings.ReplaceAll(sql, "${"+ref+"}", "${"+strings.ToLower(ref)+"}")
		}
	}
	return sql
}

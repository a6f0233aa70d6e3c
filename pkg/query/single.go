package query

import (
	"fmt"
	"slices"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/model"
)

type singleOptions struct {
	// noGroupBy selects row level values without aggregating.
	noGroupBy bool
	// noOrderBy drops the default ORDER BY.
	noOrderBy bool
	// extraViews must be part of the join tree even if no field needs them.
	extraViews []string
}

// singleQuery builds one SELECT over a join tree.
type singleQuery struct {
	cc      *compilation
	req     Request
	opts    singleOptions
	metrics []*model.Field
	dims    []*model.Field
	where   []Filter
	having  []Filter
	// access are the access filters that apply to the query's views.
	access    []model.AccessFilter
	ds        *design
	noGroupBy bool
}

func (cc *compilation) single(req Request, opts singleOptions) (string, error) {
	q, err := cc.newSingle(req, opts)
	if err != nil {
		return "", err
	}
	return q.build()
}

func (cc *compilation) newSingle(req Request, opts singleOptions) (*singleQuery, error) {
	q := &singleQuery{cc: cc, req: req, opts: opts}
	var err error
	if q.metrics, err = cc.fields(req.Metrics); err != nil {
		return nil, err
	}
	if q.dims, err = cc.fields(req.Dimensions); err != nil {
		return nil, err
	}
	var aliases []string
	for _, f := range slices.Concat(q.metrics, q.dims) {
		if slices.Contains(aliases, f.Alias(true)) {
			return nil, core.Errorf("Ambiguous field names in the metrics and dimensions")
		}
		aliases = append(aliases, f.Alias(true))
	}
	if err := q.splitWhere(); err != nil {
		return nil, err
	}

	q.noGroupBy = opts.noGroupBy
	if len(q.metrics) > 0 && !req.ForceGroupBy {
		if pk := q.metrics[0].View().PrimaryKey(); pk != nil {
			q.noGroupBy = q.noGroupBy || slices.ContainsFunc(q.dims, func(d *model.Field) bool { return d.ID() == pk.ID() })
		}
	}
	if q.noGroupBy && len(q.having) > 0 {
		return nil, &core.ArgumentError{Message: "You cannot include the 'having' argument with the table's primary key " +
			"as a dimension, there is no group by statement in this case, and no having can be applied"}
	}
	if q.noGroupBy && len(req.OrderBy) > 0 {
		return nil, &core.ArgumentError{Message: "You cannot include the 'order_by' argument with the table's primary key " +
			"as a dimension, metrics that reference multiple values do not exist by themselves " +
			"and cannot be referenced in the query"}
	}

	required, err := q.requiredViews()
	if err != nil {
		return nil, err
	}
	if cc.topic != nil {
		q.ds, err = topicDesign(cc.p, cc.topic, required)
	} else {
		q.ds, err = designJoins(cc.p, required, q.baseCandidates(required))
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

// splitWhere moves where filters on measures to having. Window measures are
// rejected in where.
func (q *singleQuery) splitWhere() error {
	q.having = slices.Clone(q.req.Having)
	for _, f := range q.req.Where {
		var measures, dims int
		for _, name := range filterFields(q.cc.p, []Filter{f}) {
			field, err := q.cc.p.GetField(name)
			if err != nil {
				return err
			}
			if !field.IsMeasure() {
				dims++
				continue
			}
			if field.IsWindow() {
				return core.Errorf("Window functions filters cannot be in WHERE clauses. " +
					"Please move the filter to the HAVING clause.")
			}
			measures++
		}
		switch {
		case measures > 0 && dims > 0 && f.IsGroup():
			return core.Errorf("Cannot mix dimensions and measures in a compound filter with a logical_operator")
		case measures > 0:
			q.having = append(q.having, f)
		default:
			q.where = append(q.where, f)
		}
	}
	return nil
}

// requiredViews returns every view the query touches, in request order.
func (q *singleQuery) requiredViews() ([]string, error) {
	var out []string
	add := func(f *model.Field) {
		for _, v := range f.RequiredViews() {
			if !slices.Contains(out, v) {
				out = append(out, v)
			}
		}
	}
	for _, f := range slices.Concat(q.metrics, q.dims) {
		add(f)
	}
	for _, v := range q.opts.extraViews {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	for _, name := range filterFields(q.cc.p, slices.Concat(q.where, q.having)) {
		f, err := q.cc.p.GetField(name)
		if err != nil {
			return nil, err
		}
		add(f)
	}

	q.access = nil
	if q.cc.topic != nil {
		q.access = append(q.access, q.cc.topic.AccessFilters...)
	}
	for _, name := range slices.Clone(out) {
		v, err := q.cc.p.GetView(name)
		if err != nil {
			return nil, err
		}
		q.access = append(q.access, v.AccessFilters...)
	}
	if u := q.cc.p.User(); u != nil {
		for _, af := range q.access {
			if _, ok := u.Attribute(af.UserAttribute); !ok {
				continue
			}
			f, err := q.cc.p.GetFieldByName(af.Field)
			if err != nil {
				return nil, err
			}
			add(f)
		}
	}
	return out, nil
}

// baseCandidates lists the views a join tree may start from: the first
// metric's view, else the first dimension's, then the rest in request order.
func (q *singleQuery) baseCandidates(required []string) []string {
	var out []string
	switch {
	case len(q.metrics) > 0:
		out = append(out, q.metrics[0].View().Name)
	case len(q.dims) > 0:
		out = append(out, q.dims[0].View().Name)
	}
	return append(out, required...)
}

func (q *singleQuery) build() (string, error) {
	s, outer, err := q.statement()
	if err != nil {
		return "", err
	}
	order, err := q.orderBy()
	if err != nil {
		return "", err
	}
	if len(outer) == 0 {
		s.orderBy = order
		return s.String(), nil
	}
	return q.measureWindow(s, outer, order)
}

// statement renders the query without ORDER BY. Having conditions on window
// measures are returned separately.
func (q *singleQuery) statement() (*statement, []Filter, error) {
	d := q.cc.d
	s := newStatement(d)
	s.limit = q.req.Limit

	subqueries, err := q.addSubqueries(s)
	if err != nil {
		return nil, nil, err
	}
	hoisted, err := q.addWindowCTEs(s)
	if err != nil {
		return nil, nil, err
	}
	if err := q.addFrom(s, hoisted); err != nil {
		return nil, nil, err
	}
	if err := q.addNonAdditive(s); err != nil {
		return nil, nil, err
	}

	fpk := q.ds.functionalPK
	for _, f := range q.dims {
		sql, err := f.SQLQuery(d, fpk, false)
		if err != nil {
			return nil, nil, err
		}
		s.selects = append(s.selects, as(sql, f.Alias(true)))
		if !q.noGroupBy {
			if d.Features().GroupByAlias {
				s.groupBy = append(s.groupBy, f.Alias(true))
			} else {
				s.groupBy = append(s.groupBy, sql)
			}
		}
	}
	for _, f := range q.metrics {
		if q.noGroupBy {
			items, err := q.rawMetric(f)
			if err != nil {
				return nil, nil, err
			}
			s.selects = appendUnique(s.selects, items...)
			continue
		}
		sql, err := f.SQLQuery(d, fpk, false)
		if err != nil {
			return nil, nil, err
		}
		s.selects = append(s.selects, as(sql, f.Alias(true)))
	}

	render := func(f *model.Field) (string, error) { return f.SQLQuery(d, fpk, false) }
	fr := &filterRenderer{project: q.cc.p, render: render, subqueries: subqueries}
	if s.where, err = fr.conditions(q.where); err != nil {
		return nil, nil, err
	}
	access, err := q.cc.p.AccessFilterSQL(q.access, func(f *model.Field) (string, error) {
		return f.SQLQuery(d, fpk, false)
	})
	if err != nil {
		return nil, nil, err
	}
	s.where = append(s.where, access...)

	having, outer, err := splitWindowHaving(q.cc.p, q.having)
	if err != nil {
		return nil, nil, err
	}
	if s.having, err = fr.conditions(having); err != nil {
		return nil, nil, err
	}

	return s, outer, nil
}

// orderBy returns the explicit ordering, or the default one when the
// dialect wants it: the first metric descending, else the first dimension.
func (q *singleQuery) orderBy() ([]string, error) {
	s := &statement{}
	switch {
	case q.noGroupBy:
	case len(q.req.OrderBy) > 0:
		for _, o := range q.req.OrderBy {
			f, err := q.cc.p.GetField(o.Field)
			if err != nil {
				return nil, err
			}
			s.orderByField(f.Alias(true), o.Desc())
		}
	case q.opts.noOrderBy || !q.cc.d.Features().DefaultOrderBy:
	case len(q.metrics) > 0:
		s.orderByField(q.metrics[0].Alias(true), true)
	case len(q.dims) > 0:
		s.orderByField(q.dims[0].Alias(true), false)
	}
	return s.orderBy, nil
}

// rawMetric selects the row level values behind a measure. Number measures
// contribute the measures they reference.
func (q *singleQuery) rawMetric(f *model.Field) ([]string, error) {
	if f.Type != model.TypeNumber {
		sql, err := f.RawSQL(q.cc.d, false)
		if err != nil {
			return nil, err
		}
		return []string{as(sql, f.Alias(true))}, nil
	}
	processed, err := f.ProcessedSQL()
	if err != nil {
		return nil, err
	}
	refs, missing := f.ReferencedFields(processed)
	if len(missing) > 0 {
		return nil, core.Errorf("Could not find the fields %v referenced by %s", missing, f.ID())
	}
	var out []string
	for _, ref := range refs {
		items, err := q.rawMetric(ref)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

// addFrom sets the base table and joins. Views with hoisted window
// dimensions read from their window CTE.
func (q *singleQuery) addFrom(s *statement, hoisted map[string]bool) error {
	table := func(view string) (string, error) {
		if hoisted[view] {
			return windowCTEName(view) + " " + view, nil
		}
		return viewTable(q.cc.p, view)
	}
	from, err := table(q.ds.base)
	if err != nil {
		return err
	}
	s.from = from
	for _, j := range q.ds.joins {
		t, err := table(j.View)
		if err != nil {
			return err
		}
		on, err := j.ReplacedSQLOn(q.cc.d)
		if err != nil {
			return err
		}
		s.join(j.SQLJoinType(), t, on)
	}
	return nil
}

// viewTable renders "<table> <view>" for a FROM or JOIN.
func viewTable(p *model.Project, view string) (string, error) {
	v, err := p.GetView(view)
	if err != nil {
		return "", err
	}
	name, err := v.TableName()
	if err != nil {
		return "", err
	}
	return name + " " + view, nil
}

// addSubqueries compiles every is_in_query filter to a CTE and returns the
// CTE name of each.
func (q *singleQuery) addSubqueries(s *statement) (map[*Subquery]string, error) {
	names := map[*Subquery]string{}
	for _, f := range flatten(slices.Concat(q.where, q.having)) {
		if f.Subquery == nil {
			continue
		}
		sub := f.Subquery
		if _, ok := names[sub]; ok {
			continue
		}
		if !slices.Contains(sub.Request.Dimensions, sub.Field) {
			return nil, core.Errorf("The field %s used in the subquery filter must be one of the "+
				"dimensions of the subquery", sub.Field)
		}
		name := fmt.Sprintf("filter_subquery_%d", q.cc.subqueries)
		if q.cc.depth > 0 {
			name = fmt.Sprintf("filter_subquery_%d_%d", q.cc.depth, q.cc.subqueries)
		}
		q.cc.subqueries++
		sql, err := q.cc.child().query(sub.Request)
		if err != nil {
			return nil, err
		}
		s.addCTE(name, sql)
		names[sub] = name
	}
	return names, nil
}

package query

import (
	"slices"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/model"
)

const (
	dateSpineCTE = "date_spine"
	baseCTE      = "base"
)

// cumulative compiles a request with running totals. Each cumulative measure
// gets a row level subquery and an aggregate over the date spine; other
// metrics are computed in a base CTE the aggregates are joined to.
func (cc *compilation) cumulative(req Request) (string, error) {
	d := cc.d
	metrics, err := cc.fields(req.Metrics)
	if err != nil {
		return "", err
	}
	dims, err := cc.fields(req.Dimensions)
	if err != nil {
		return "", err
	}
	roots := slices.Clone(metrics)
	for _, name := range filterFields(cc.p, req.Having) {
		f, err := cc.p.GetField(name)
		if err != nil {
			return "", err
		}
		roots = append(roots, f)
	}

	var running, plain []*model.Field
	add := func(list []*model.Field, f *model.Field) []*model.Field {
		if slices.ContainsFunc(list, func(o *model.Field) bool { return o.ID() == f.ID() }) {
			return list
		}
		return append(list, f)
	}
	for _, f := range roots {
		switch {
		case !f.IsCumulative():
			plain = add(plain, f)
		case f.Type == model.TypeNumber:
			sql, err := f.ProcessedSQL()
			if err != nil {
				return "", err
			}
			refs, _ := f.ReferencedFields(sql)
			for _, ref := range refs {
				if ref.IsCumulative() {
					running = add(running, ref)
				} else {
					plain = add(plain, ref)
				}
			}
		default:
			running = add(running, f)
		}
	}

	spine, err := d.DateSpine()
	if err != nil {
		return "", &core.QueryError{Message: err.Error()}
	}
	s := newStatement(d)
	s.limit = req.Limit
	s.addCTE(dateSpineCTE, spine)
	for _, f := range running {
		sub, date, err := cc.cumulativeSubquery(f, dims, req.Where)
		if err != nil {
			return "", err
		}
		s.addCTE(f.CTEPrefix(false), sub)
		agg, err := cc.cumulativeAggregate(f, date, dims)
		if err != nil {
			return "", err
		}
		s.addCTE(f.CTEPrefix(true), agg)
	}

	base := baseCTE
	joined := running
	if len(plain) > 0 {
		sql, err := cc.single(Request{Metrics: ids(plain), Dimensions: req.Dimensions, Where: req.Where}, singleOptions{})
		if err != nil {
			return "", err
		}
		s.addCTE(baseCTE, sql)
	} else {
		base = running[0].CTEPrefix(true)
		joined = running[1:]
	}
	s.from = base
	for _, f := range joined {
		alias := f.CTEPrefix(true)
		var conditions []string
		for _, dim := range dims {
			conditions = append(conditions, base+"."+dim.Alias(true)+"="+alias+"."+dim.Alias(true))
		}
		on := "1=1"
		if len(conditions) > 0 {
			on = strings.Join(conditions, " and ")
		}
		s.join("LEFT JOIN", alias, on)
	}

	for _, f := range slices.Concat(dims, metrics) {
		var sql string
		switch {
		case !f.IsCumulative():
			sql = base + "." + f.Alias(true)
		case f.Type == model.TypeNumber:
			if sql, err = f.SQLQuery(d, "", true); err != nil {
				return "", err
			}
		default:
			measure, err := f.MeasureField()
			if err != nil {
				return "", err
			}
			sql = f.CTEPrefix(true) + "." + measure.Alias(true)
		}
		s.selects = append(s.selects, as(sql, f.Alias(true)))
	}

	fr := &filterRenderer{project: cc.p, render: func(f *model.Field) (string, error) { return f.Alias(true), nil }}
	if s.where, err = fr.conditions(req.Having); err != nil {
		return "", err
	}
	return s.String(), nil
}

// cumulativeSubquery selects the row level values of the accumulated
// measure with the date they belong to. It returns the date field too.
func (cc *compilation) cumulativeSubquery(f *model.Field, dims []*model.Field, where []Filter) (string, *model.Field, error) {
	measure, err := f.MeasureField()
	if err != nil {
		return "", nil, err
	}
	view := measure.View()
	dateName := view.DefaultDate + "_date"
	date, err := cc.p.GetField(dateName, model.WithView(view.Name))
	if view.DefaultDate == "" || err != nil {
		return "", nil, core.NewAccessDenied(core.ObjectField, dateName,
			"Could not find date needed to aggregate cumulative metric %s, looking for date field named %s in view %s",
			f.Name, dateName, view.Name)
	}
	names := []string{date.ID()}
	for _, dim := range dims {
		if !slices.Contains(names, dim.ID()) {
			names = append(names, dim.ID())
		}
	}
	sql, err := cc.single(Request{Metrics: []string{measure.ID()}, Dimensions: names, Where: where},
		singleOptions{noGroupBy: true})
	if err != nil {
		return "", nil, err
	}
	return sql, date, nil
}

// cumulativeAggregate sums every row up to each date of the spine.
func (cc *compilation) cumulativeAggregate(f, date *model.Field, dims []*model.Field) (string, error) {
	measure, err := f.MeasureField()
	if err != nil {
		return "", err
	}
	d := cc.d
	sub := f.CTEPrefix(false)
	s := newStatement(d)
	sql, err := measure.SQLQuery(d, "", true)
	if err != nil {
		return "", err
	}
	s.selects = append(s.selects, as(sql, measure.Alias(true)))
	for _, dim := range dims {
		s.selects = append(s.selects, as(dim.Alias(true), dim.Alias(true)))
		s.groupBy = append(s.groupBy, dim.Alias(true))
	}
	s.from = dateSpineCTE
	s.join("JOIN", sub, sub+"."+date.Alias(true)+"<="+dateSpineCTE+".date")
	s.where = append(s.where, dateSpineCTE+".date<=current_date")
	return s.String(), nil
}

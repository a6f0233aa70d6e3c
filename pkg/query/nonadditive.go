package query

import (
	"slices"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/model"
)

// nonAdditiveMeasures returns the measures of the select and having that
// carry a non_additive_dimension, one per snapshot CTE, ordered by the
// window column alias.
func (q *singleQuery) nonAdditiveMeasures() ([]*model.Field, error) {
	var out []*model.Field
	add := func(f *model.Field) {
		if f.NonAdditive() == nil {
			return
		}
		if slices.ContainsFunc(out, func(o *model.Field) bool { return o.NonAdditiveCTEAlias() == f.NonAdditiveCTEAlias() }) {
			return
		}
		out = append(out, f)
	}
	roots := slices.Clone(q.metrics)
	for _, f := range flatten(q.having) {
		if f.Field == "" {
			continue
		}
		field, err := q.cc.p.GetField(f.Field)
		if err != nil {
			return nil, err
		}
		roots = append(roots, field)
	}
	for _, f := range roots {
		add(f)
		if f.Type != model.TypeNumber {
			continue
		}
		sql, err := f.ProcessedSQL()
		if err != nil {
			return nil, err
		}
		refs, _ := f.ReferencedFields(sql)
		for _, ref := range refs {
			add(ref)
		}
	}
	slices.SortStableFunc(out, func(a, b *model.Field) int {
		return strings.Compare(a.NonAdditiveAlias(), b.NonAdditiveAlias())
	})
	return out, nil
}

// addNonAdditive adds a CTE holding the window value of every snapshot
// measure and joins it to the main query on the grouping dimensions.
func (q *singleQuery) addNonAdditive(s *statement) error {
	if q.noGroupBy {
		return nil
	}
	measures, err := q.nonAdditiveMeasures()
	if err != nil {
		return err
	}
	d := q.cc.d
	for _, f := range measures {
		n := f.NonAdditive()
		dim, err := q.cc.p.GetField(n.Name)
		if err != nil {
			return err
		}

		groups := slices.Clone(n.WindowGroupings)
		for _, qd := range q.dims {
			if n.AwareOfQueryDimensions() || qd.Name == dim.Name && qd.View().Name == dim.View().Name {
				groups = append(groups, qd.ID())
			}
		}
		groups = uniqueOrdered(groups)

		sql, err := q.nonAdditiveCTE(f, dim, groups)
		if err != nil {
			return err
		}
		name := f.NonAdditiveCTEAlias()
		s.addCTE(name, sql)

		if len(groups) == 0 {
			s.join("JOIN", name, "1=1")
			continue
		}
		conditions := make([]string, 0, len(groups))
		for _, g := range groups {
			gf, err := q.cc.p.GetField(g)
			if err != nil {
				return err
			}
			left, err := gf.SQLQuery(d, q.ds.functionalPK, false)
			if err != nil {
				return err
			}
			right := name + "." + gf.Alias(true)
			if n.NullsAreEqual {
				conditions = append(conditions, d.NullSafeEqual(left, right))
			} else {
				conditions = append(conditions, left+"="+right)
			}
		}
		s.join("JOIN", name, strings.Join(conditions, " and "))
	}
	return nil
}

// nonAdditiveCTE selects the MAX or MIN of the non-additive dimension per
// group, under the same where clause as the main query.
func (q *singleQuery) nonAdditiveCTE(f, dim *model.Field, groups []string) (string, error) {
	sub, err := q.cc.newSingle(Request{Dimensions: groups, Where: q.where}, singleOptions{
		noOrderBy:  true,
		extraViews: []string{dim.View().Name},
	})
	if err != nil {
		return "", err
	}
	s, _, err := sub.statement()
	if err != nil {
		return "", err
	}
	raw, err := dim.RawSQL(q.cc.d, false)
	if err != nil {
		return "", err
	}
	alias := f.NonAdditiveAlias()
	fn := strings.ToUpper(f.NonAdditive().WindowChoice)
	s.selects = append(s.selects, as(fn+"("+raw+")", alias))
	if q.cc.d.Features().DefaultOrderBy {
		s.orderByField(alias, true)
	}
	return s.String(), nil
}

func uniqueOrdered(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if !slices.Contains(out, item) {
			out = append(out, item)
		}
	}
	return out
}

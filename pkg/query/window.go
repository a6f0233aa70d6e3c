package query

import (
	"slices"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/model"
)

const measureWindowCTE = "measure_window_functions"

func windowCTEName(view string) string { return view + "_window_functions" }

// addWindowCTEs materializes window dimensions, one CTE per view, so the
// main query can group and filter on them by alias. It returns the views
// that read from a window CTE.
func (q *singleQuery) addWindowCTEs(s *statement) (map[string]bool, error) {
	var roots []*model.Field
	roots = append(roots, q.metrics...)
	roots = append(roots, q.dims...)
	for _, name := range filterFields(q.cc.p, slices.Concat(q.where, q.having)) {
		f, err := q.cc.p.GetField(name)
		if err != nil {
			return nil, err
		}
		roots = append(roots, f)
	}

	byView := map[string][]*model.Field{}
	seen := map[string]bool{}
	for _, f := range roots {
		collectWindowDimensions(q.cc.p, f, seen, byView, 0)
	}
	hoisted := map[string]bool{}
	if len(byView) == 0 {
		return hoisted, nil
	}

	views := make([]string, 0, len(byView))
	for v := range byView {
		views = append(views, v)
	}
	slices.Sort(views)
	for _, view := range views {
		sql, err := q.windowCTE(view, byView[view])
		if err != nil {
			return nil, err
		}
		s.addCTE(windowCTEName(view), sql)
		hoisted[view] = true
	}
	return hoisted, nil
}

func (q *singleQuery) windowCTE(view string, fields []*model.Field) (string, error) {
	d := q.cc.d
	s := newStatement(d)
	var required []string
	for _, f := range fields {
		sql, err := f.Render(d, model.RenderOptions{ExpandWindows: true})
		if err != nil {
			return "", err
		}
		s.selects = append(s.selects, as(sql, f.Alias(true)))
		for _, v := range f.RequiredViews() {
			if !slices.Contains(required, v) {
				required = append(required, v)
			}
		}
	}
	s.selects = append(s.selects, view+".*")

	ds, err := designJoins(q.cc.p, required, []string{view})
	if err != nil {
		return "", err
	}
	if s.from, err = viewTable(q.cc.p, view); err != nil {
		return "", err
	}
	for _, j := range ds.joins {
		table, err := viewTable(q.cc.p, j.View)
		if err != nil {
			return "", err
		}
		on, err := j.ReplacedSQLOn(d)
		if err != nil {
			return "", err
		}
		s.join(j.SQLJoinType(), table, on)
	}
	return s.String(), nil
}

// collectWindowDimensions finds the window dimensions f depends on,
// following ${...} references and measure filters.
func collectWindowDimensions(p *model.Project, f *model.Field, seen map[string]bool, out map[string][]*model.Field, depth int) {
	if depth > model.MaxReferenceDepth || seen[f.ID()] {
		return
	}
	seen[f.ID()] = true
	if !f.IsMeasure() && f.IsWindow() {
		view := f.View().Name
		out[view] = append(out[view], f)
		return
	}
	templates := []string{f.SQLStart, f.SQLEnd}
	if sql, err := f.ProcessedSQL(); err == nil {
		templates = append(templates, sql)
	} else {
		templates = append(templates, f.SQL)
	}
	for _, sql := range templates {
		for _, ref := range model.References(sql) {
			if ref == "TABLE" {
				continue
			}
			viewName, name := model.SplitFieldName(ref)
			if viewName == "" {
				viewName = f.View().Name
			}
			referenced, err := p.GetField(name, model.WithView(viewName))
			if err != nil {
				continue
			}
			collectWindowDimensions(p, referenced, seen, out, depth+1)
		}
	}
}

// splitWindowHaving separates top-level having conditions on window
// measures, which have to be applied after the window is computed.
func splitWindowHaving(p *model.Project, having []Filter) (inner, outer []Filter, err error) {
	items := having
	if len(having) == 1 && having[0].IsGroup() {
		group := having[0]
		if group.Or() {
			for _, c := range group.Conditions {
				if !c.IsGroup() && isWindowMeasure(p, c) {
					return nil, nil, core.Errorf("Window functions filters cannot be in OR statements. " +
						"Please move the filter to a top level AND condition.")
				}
			}
			if hasWindowMeasure(p, group.Conditions) {
				return nil, nil, windowNestedError()
			}
			return having, nil, nil
		}
		items = group.Conditions
	}
	for _, f := range items {
		switch {
		case f.IsGroup():
			if hasWindowMeasure(p, f.Conditions) {
				return nil, nil, windowNestedError()
			}
			inner = append(inner, f)
		case isWindowMeasure(p, f):
			outer = append(outer, f)
		default:
			inner = append(inner, f)
		}
	}
	return inner, outer, nil
}

func windowNestedError() error {
	return core.Errorf("Window functions filters cannot be nested. " +
		"Please move the filter to a top level AND condition.")
}

func isWindowMeasure(p *model.Project, f Filter) bool {
	if f.Field == "" {
		return false
	}
	field, err := p.GetField(f.Field)
	return err == nil && field.IsMeasure() && field.IsWindow()
}

func hasWindowMeasure(p *model.Project, filters []Filter) bool {
	return slices.ContainsFunc(flatten(filters), func(f Filter) bool { return isWindowMeasure(p, f) })
}

// measureWindow wraps inner in a CTE and applies the window measure filters
// to its output.
func (q *singleQuery) measureWindow(inner *statement, outer []Filter, order []string) (string, error) {
	limit := inner.limit
	inner.limit = 0
	inner.orderBy = nil

	s := newStatement(q.cc.d)
	s.with, inner.with = inner.with, nil
	s.addCTE(measureWindowCTE, inner.String())
	s.selects = []string{"*"}
	s.from = measureWindowCTE
	s.limit = limit
	s.orderBy = order

	fr := &filterRenderer{project: q.cc.p, render: func(f *model.Field) (string, error) {
		return f.Alias(true), nil
	}}
	where, err := fr.conditions(outer)
	if err != nil {
		return "", err
	}
	s.where = where
	return s.String(), nil
}

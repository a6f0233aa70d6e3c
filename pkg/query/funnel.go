package query

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/model"
)

const (
	funnelResultCTE = "result_cte"
	stepOneTime     = "step_1_time"
	customerTag     = "customer"
)

func stepCTE(n int) string { return "step_" + strconv.Itoa(n) }

// funnel compiles a funnel request. A row level base CTE holds every event;
// step N keeps the events of customers that reached step N-1 earlier and
// within the funnel window. The steps are aggregated and stacked.
func (cc *compilation) funnel(req Request) (string, error) {
	d := cc.d
	fn := req.Funnel
	event, err := cc.eventDate(req)
	if err != nil {
		return "", err
	}
	eventAlias := event.Alias(true)

	metricNames := slices.Clone(req.Metrics)
	for _, name := range filterFields(cc.p, req.Having) {
		if !slices.Contains(metricNames, name) {
			metricNames = append(metricNames, name)
		}
	}
	metrics, err := cc.fields(metricNames)
	if err != nil {
		return "", err
	}
	dims, err := cc.fields(req.Dimensions)
	if err != nil {
		return "", err
	}

	var conditionFields []string
	for _, step := range fn.Steps {
		conditionFields = append(conditionFields, filterFields(cc.p, step)...)
	}
	base := slices.Concat(req.Dimensions, []string{event.ID()}, conditionFields)
	graphs, err := cc.sharedJoinGraphs(slices.Concat(metricNames, base, filterFields(cc.p, req.Where)))
	if err != nil {
		return "", err
	}
	link, err := cc.p.GetFieldByTag(customerTag, graphs)
	if err != nil {
		return "", core.Errorf("No link (customer) field found for query with metrics: %v. Make sure you "+
			"have added a customer tag to the view or a view that can be joined in.", metricNames)
	}
	linkAlias := link.Alias(true)

	baseDims := slices.Concat(req.Dimensions, []string{event.ID(), link.ID()}, conditionFields)
	for _, m := range metrics {
		if pk := m.View().PrimaryKey(); pk != nil {
			baseDims = append(baseDims, pk.ID())
		}
	}
	baseDims, err = cc.canonicalIDs(baseDims)
	if err != nil {
		return "", err
	}
	sortedMetrics := slices.Clone(metricNames)
	slices.Sort(sortedMetrics)
	baseSQL, err := cc.single(Request{Metrics: sortedMetrics, Dimensions: baseDims, Where: req.Where},
		singleOptions{noGroupBy: true})
	if err != nil {
		return "", err
	}

	s := newStatement(d)
	s.limit = req.Limit
	s.addCTE(baseCTE, baseSQL)

	fr := &filterRenderer{project: cc.p, render: func(f *model.Field) (string, error) {
		return baseCTE + "." + f.Alias(true), nil
	}}
	interval := strings.TrimSuffix(strings.ToLower(fn.Within.Unit), "s")
	var unions []string
	for i, step := range fn.Steps {
		n := i + 1
		st := newStatement(d)
		st.from = baseCTE
		if n == 1 {
			st.selects = []string{"*", as(eventAlias, stepOneTime)}
		} else {
			prev := stepCTE(n - 1)
			st.selects = []string{baseCTE + ".*", as(prev+"."+stepOneTime, stepOneTime)}
			st.join("JOIN", prev, baseCTE+"."+linkAlias+"="+prev+"."+linkAlias+
				" and "+prev+"."+eventAlias+"<"+baseCTE+"."+eventAlias)
		}
		for _, c := range step {
			sql, err := cc.stepCondition(fr, c)
			if err != nil {
				return "", err
			}
			st.where = append(st.where, sql)
		}
		if n > 1 {
			diff, err := d.DateDiff(interval, stepCTE(n-1)+"."+stepOneTime, baseCTE+"."+eventAlias)
			if err != nil {
				return "", &core.QueryError{Message: err.Error()}
			}
			st.where = append(st.where, diff+" <= "+strconv.Itoa(fn.Within.Value))
		}
		s.addCTE(stepCTE(n), st.String())

		union, err := cc.funnelStepResult(n, metrics, dims)
		if err != nil {
			return "", err
		}
		unions = append(unions, "("+union+")")
	}
	s.addCTE(funnelResultCTE, strings.Join(unions, " UNION ALL "))

	s.selects = []string{"*"}
	s.from = funnelResultCTE
	having := &filterRenderer{project: cc.p, render: func(f *model.Field) (string, error) { return f.Alias(true), nil }}
	if s.where, err = having.conditions(req.Having); err != nil {
		return "", err
	}
	return s.String(), nil
}

// stepCondition renders one condition of a step against the base CTE. A
// condition without a field compares the value to true.
func (cc *compilation) stepCondition(fr *filterRenderer, c Filter) (string, error) {
	if c.Field == "" && !c.IsLiteral() && !c.IsGroup() {
		return criterion("true", c, nil)
	}
	return fr.filter(c)
}

// funnelStepResult aggregates one step. Metrics are computed without a
// grain since the base CTE is at event level.
func (cc *compilation) funnelStepResult(n int, metrics, dims []*model.Field) (string, error) {
	s := newStatement(cc.d)
	s.selects = []string{as(fmt.Sprintf("'Step %d'", n), "step"), as(strconv.Itoa(n), "step_order")}
	s.from = stepCTE(n)
	for _, f := range slices.Concat(metrics, dims) {
		sql, err := f.SQLQuery(cc.d, model.DoesNotExist, true)
		if err != nil {
			return "", err
		}
		s.selects = append(s.selects, as(sql, f.Alias(true)))
		if !f.IsMeasure() {
			s.groupBy = append(s.groupBy, sql)
		}
	}
	return s.String(), nil
}

// eventDate returns the raw timestamp events are ordered by: the default
// date of the funnel's view, or of the only view the metrics belong to.
func (cc *compilation) eventDate(req Request) (*model.Field, error) {
	raw := func(v *model.View) (*model.Field, error) {
		name := v.DefaultDate
		if !strings.Contains(name, ".") {
			name = v.Name + "." + name
		}
		return cc.p.GetField(name + "_raw")
	}
	if req.Funnel.ViewName != "" {
		v, err := cc.p.GetView(req.Funnel.ViewName)
		if err != nil {
			return nil, err
		}
		return raw(v)
	}
	metrics, err := cc.fields(req.Metrics)
	if err != nil {
		return nil, err
	}
	var views []*model.View
	for _, m := range metrics {
		if !slices.Contains(views, m.View()) {
			views = append(views, m.View())
		}
	}
	if len(views) != 1 || views[0].DefaultDate == "" {
		return nil, core.Errorf("Could not determine event date for funnel: metrics %v", req.Metrics)
	}
	return raw(views[0])
}

// sharedJoinGraphs returns the join graphs every named field belongs to.
func (cc *compilation) sharedJoinGraphs(names []string) ([]string, error) {
	var shared []string
	for i, name := range names {
		f, err := cc.p.GetField(name)
		if err != nil {
			return nil, err
		}
		graphs, err := f.JoinGraphs()
		if err != nil {
			return nil, err
		}
		graphs = slices.DeleteFunc(graphs, func(g string) bool { return strings.HasPrefix(g, model.MergedResultPrefix) })
		if i == 0 {
			shared = graphs
			continue
		}
		shared = slices.DeleteFunc(shared, func(g string) bool { return !slices.Contains(graphs, g) })
	}
	return shared, nil
}

// canonicalIDs resolves names to field IDs, sorted and without duplicates.
func (cc *compilation) canonicalIDs(names []string) ([]string, error) {
	var out []string
	for _, name := range names {
		f, err := cc.p.GetField(name)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, f.ID()) {
			out = append(out, f.ID())
		}
	}
	slices.Sort(out)
	return out, nil
}

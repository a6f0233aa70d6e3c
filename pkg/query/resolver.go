package query

import (
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
	"github.com/leapstack-labs/leapmetrics/pkg/model"
)

// Compiler turns requests into SQL for one project.
type Compiler struct {
	project *model.Project
	logger  *slog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLogger sets the compiler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Compiler) { c.logger = logger }
}

// New returns a Compiler for p.
func New(p *model.Project, opts ...Option) *Compiler {
	c := &Compiler{project: p}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// compilation carries the state shared by every statement of one request.
type compilation struct {
	p      *model.Project
	d      dialect.Dialect
	model  *model.Model
	topic  *model.Topic
	logger *slog.Logger
	// depth counts how deeply subquery filters are nested.
	depth int
	// subqueries numbers the filter subqueries at this depth.
	subqueries int
}

func (cc *compilation) child() *compilation {
	return &compilation{p: cc.p, d: cc.d, model: cc.model, topic: cc.topic, logger: cc.logger, depth: cc.depth + 1}
}

// Compile compiles req to a complete SQL statement.
func (c *Compiler) Compile(req Request) (*Result, error) {
	if len(req.Metrics) == 0 && len(req.Dimensions) == 0 {
		return nil, core.Errorf("A query must request at least one metric or dimension")
	}
	if req.Funnel != nil && (len(req.Funnel.Steps) == 0 || req.Funnel.Within.Unit == "") {
		return nil, core.Errorf("Funnel query must have 'steps' and 'within' keys")
	}
	cc := &compilation{p: c.project, logger: c.logger}

	if req.Topic != "" {
		t, err := c.project.GetTopic(req.Topic)
		if err != nil {
			return nil, err
		}
		cc.topic = t
	}
	m, err := c.selectModel(req)
	if err != nil {
		return nil, err
	}
	cc.model = m

	if req.QueryType != "" {
		cc.d, err = dialect.MustGet(req.QueryType)
	} else {
		cc.d, err = c.project.Dialect(m)
	}
	if err != nil {
		return nil, err
	}

	if req, err = cc.withAlwaysFilters(req); err != nil {
		return nil, err
	}
	forceMerged, err := cc.resolveMappings(&req)
	if err != nil {
		return nil, err
	}
	metrics, err := cc.fields(req.Metrics)
	if err != nil {
		return nil, err
	}
	merged := req.MergedResult || forceMerged
	for _, f := range metrics {
		if f.IsMergedResult() {
			merged = true
		}
	}
	merged = merged && !req.SingleQuery

	var sql string
	if merged {
		sql, err = cc.merged(req)
	} else {
		sql, err = cc.singleOrMerged(req)
	}
	if err != nil {
		return nil, err
	}
	sql = finish(cc.d, sql)
	c.logger.Debug("compiled query", "dialect", cc.d.Name(), "merged", merged,
		"metrics", req.Metrics, "dimensions", req.Dimensions)

	connection := ""
	if m != nil {
		connection = m.Connection
	}
	return &Result{SQL: sql, QueryType: cc.d.Name(), Connection: connection}, nil
}

// singleOrMerged compiles req as one statement and falls back to a merged
// result when the views cannot be joined, unless the request forbids it.
func (cc *compilation) singleOrMerged(req Request) (string, error) {
	sql, err := cc.query(req)
	if err == nil {
		return sql, nil
	}
	var joinErr *core.JoinError
	if !errors.As(err, &joinErr) || req.SingleQuery {
		return "", err
	}
	cc.logger.Debug("falling back to a merged result query", "reason", err.Error())
	sql, mergedErr := cc.merged(req)
	if mergedErr != nil {
		if joinErr.Location == "topic" {
			return "", err
		}
		return "", mergedErr
	}
	return sql, nil
}

// query compiles one statement without a terminating semicolon.
func (cc *compilation) query(req Request) (string, error) {
	metrics, err := cc.fields(req.Metrics)
	if err != nil {
		return "", err
	}
	cumulative := slices.ContainsFunc(metrics, (*model.Field).IsCumulative)
	switch {
	case req.Funnel != nil && cumulative:
		return "", core.Errorf("Cumulative metrics cannot be used with funnel queries")
	case req.Funnel != nil:
		return cc.funnel(req)
	case cumulative:
		return cc.cumulative(req)
	}
	return cc.single(req, singleOptions{})
}

// selectModel returns the model named in req, the only model, or the model
// the requested fields belong to.
func (c *Compiler) selectModel(req Request) (*model.Model, error) {
	if req.ModelName != "" {
		return c.project.GetModel(req.ModelName)
	}
	models := c.project.ListModels()
	if len(models) == 1 {
		return models[0], nil
	}
	var found []string
	var out *model.Model
	for _, name := range slices.Concat(req.Metrics, req.Dimensions) {
		f, err := c.project.GetField(name)
		if err != nil {
			return nil, err
		}
		m := f.View().Model()
		if m != nil && !slices.Contains(found, m.Name) {
			found = append(found, m.Name)
			out = m
		}
	}
	switch {
	case len(found) > 1:
		return nil, core.Errorf("More than one model found in the query: %s. "+
			"Please pass the model_name argument to specify which model to use.", strings.Join(found, ", "))
	case out == nil && len(models) > 0:
		return nil, core.Errorf("Could not determine the model for the query. " +
			"Please pass the model_name argument to specify which model to use.")
	}
	return out, nil
}

func (cc *compilation) fields(names []string) ([]*model.Field, error) {
	out := make([]*model.Field, 0, len(names))
	for _, name := range names {
		f, err := cc.p.GetField(name)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// withAlwaysFilters adds the always_filter conditions of the views the
// requested fields live in and of the topic.
func (cc *compilation) withAlwaysFilters(req Request) (Request, error) {
	var added []Filter
	var seen []string
	for _, name := range slices.Concat(req.Metrics, req.Dimensions) {
		f, err := cc.p.GetField(name)
		if err != nil {
			return req, err
		}
		v := f.View()
		if slices.Contains(seen, v.Name) {
			continue
		}
		seen = append(seen, v.Name)
		filters, err := alwaysFilters(v.AlwaysFilter, v.Name)
		if err != nil {
			return req, err
		}
		added = append(added, filters...)
	}
	if cc.topic != nil {
		for _, af := range cc.topic.AlwaysFilter {
			if !strings.Contains(af.Field, ".") {
				return req, core.Errorf("Topic always_filter field %s must be qualified with its view name "+
					"(for example view_name.%s)", af.Field, af.Field)
			}
		}
		filters, err := alwaysFilters(cc.topic.AlwaysFilter, "")
		if err != nil {
			return req, err
		}
		added = append(added, filters...)
	}
	if len(added) == 0 {
		return req, nil
	}
	where := slices.Clone(req.Where)
	for _, f := range added {
		dup := slices.ContainsFunc(where, func(w Filter) bool { return w.String() == f.String() })
		if !dup {
			where = append(where, f)
		}
	}
	req.Where = where
	return req, nil
}

// resolveMappings swaps mapping names in the dimensions and filters for one
// of the mapped fields. It reports whether a mapping can only be satisfied
// by a merged result.
func (cc *compilation) resolveMappings(req *Request) (bool, error) {
	if cc.model == nil {
		return false, nil
	}
	metrics, err := cc.fields(req.Metrics)
	if err != nil {
		return false, err
	}
	forceMerged := false
	resolve := func(name string) (string, error) {
		if strings.Contains(name, ".") {
			return name, nil
		}
		lower := strings.ToLower(name)
		if slices.Contains(model.ReservedMappingNames, lower) && len(metrics) > 0 {
			canon := metrics[0].CanonDate()
			if canon == "" {
				return name, nil
			}
			for _, m := range metrics[1:] {
				if m.CanonDate() != canon {
					forceMerged = true
				}
			}
			return canon + "_" + lower, nil
		}
		mapping, ok := cc.model.Mappings[lower]
		if !ok || len(mapping.Fields) == 0 {
			return name, nil
		}
		for _, candidate := range mapping.Fields {
			joinable, err := cc.joinableWith(candidate, metrics)
			if err != nil {
				return "", err
			}
			if joinable {
				return candidate, nil
			}
		}
		forceMerged = true
		return mapping.Fields[0], nil
	}

	dims := make([]string, len(req.Dimensions))
	for i, name := range req.Dimensions {
		if dims[i], err = resolve(name); err != nil {
			return false, err
		}
	}
	req.Dimensions = dims
	if req.Where, err = mapFilters(req.Where, resolve); err != nil {
		return false, err
	}
	if req.Having, err = mapFilters(req.Having, resolve); err != nil {
		return false, err
	}
	return forceMerged, nil
}

// joinableWith reports whether the field named candidate can be joined to
// the views of every metric.
func (cc *compilation) joinableWith(candidate string, metrics []*model.Field) (bool, error) {
	f, err := cc.p.GetField(candidate)
	if err != nil {
		return false, nil
	}
	reachable, err := cc.p.WeakJoinGraphHashes(f.View().Name)
	if err != nil {
		return false, err
	}
	for _, m := range metrics {
		hash, err := cc.p.JoinGraphHash(m.View().Name)
		if err != nil {
			return false, err
		}
		if !slices.Contains(reachable, hash) {
			return false, nil
		}
	}
	return true, nil
}

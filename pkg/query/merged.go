package query

import (
	"slices"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/model"
)

// mergedPart is one subquery of a merged result: the metrics that share a
// canon date and join graph, and the dimensions they are grouped by.
type mergedPart struct {
	name    string
	canon   string
	hash    string
	metrics []*model.Field
	dims    []*model.Field
	where   []Filter
}

type mergedQuery struct {
	cc       *compilation
	req      Request
	parts    []*mergedPart
	merged   []*model.Field
	mappings map[string]model.ResolvedMapping
}

func mergedCTEName(canon, hash string) string {
	return strings.ReplaceAll(canon, ".", "_") + "__cte_" + hash
}

// merged compiles req as one subquery per join graph and canon date, joined
// on their shared dimensions.
func (cc *compilation) merged(req Request) (string, error) {
	if req.Funnel != nil {
		return "", core.Errorf("Funnel queries are not supported in merged results queries")
	}
	mq := &mergedQuery{cc: cc, req: req, mappings: map[string]model.ResolvedMapping{}}
	if cc.model != nil {
		mq.mappings = cc.p.ResolvedMappings(cc.model, false)
	}
	if err := mq.partition(); err != nil {
		return "", err
	}
	if err := mq.attachDimensions(); err != nil {
		return "", err
	}
	if err := mq.distributeWhere(); err != nil {
		return "", err
	}
	return mq.build()
}

func (mq *mergedQuery) part(f *model.Field) (*mergedPart, error) {
	hash, err := mq.cc.p.JoinGraphHash(f.View().Name)
	if err != nil {
		return nil, err
	}
	canon := f.CanonDate()
	if canon == "" {
		canon = f.View().Name
	}
	name := mergedCTEName(canon, hash)
	for _, p := range mq.parts {
		if p.name == name {
			return p, nil
		}
	}
	p := &mergedPart{name: name, canon: canon, hash: hash}
	mq.parts = append(mq.parts, p)
	return p, nil
}

// partition groups the metrics into parts. Merged metrics contribute the
// measures they reference.
func (mq *mergedQuery) partition() error {
	metrics, err := mq.cc.fields(mq.req.Metrics)
	if err != nil {
		return err
	}
	for _, name := range filterFields(mq.cc.p, mq.req.Having) {
		f, err := mq.cc.p.GetField(name)
		if err != nil {
			return err
		}
		if f.IsMeasure() {
			metrics = append(metrics, f)
		}
	}

	var direct []*model.Field
	for _, f := range metrics {
		if !f.IsMergedResult() {
			direct = append(direct, f)
			continue
		}
		if !slices.Contains(mq.merged, f) {
			mq.merged = append(mq.merged, f)
		}
		sql, err := f.ProcessedSQL()
		if err != nil {
			return err
		}
		refs, missing := f.ReferencedFields(sql)
		if len(missing) > 0 {
			return core.Errorf("Unable to find the field %s in the project", missing[0])
		}
		for _, ref := range refs {
			if err := mq.addMetric(ref); err != nil {
				return err
			}
		}
	}
	for _, f := range direct {
		if err := mq.addMetric(f); err != nil {
			return err
		}
	}
	return nil
}

func (mq *mergedQuery) addMetric(f *model.Field) error {
	p, err := mq.part(f)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(p.metrics, func(m *model.Field) bool { return m.ID() == f.ID() }) {
		p.metrics = append(p.metrics, f)
	}
	return nil
}

func (mq *mergedQuery) isCanonDate(key string) bool {
	return slices.ContainsFunc(mq.parts, func(p *mergedPart) bool { return p.canon == key })
}

// attachable reports whether f can be joined into the part's subquery.
func (mq *mergedQuery) attachable(f *model.Field, p *mergedPart) (bool, error) {
	hashes, err := mq.cc.p.WeakJoinGraphHashes(f.View().Name)
	if err != nil {
		return false, err
	}
	return slices.Contains(hashes, p.hash), nil
}

// counterpart returns the field that stands in for f in part p: the part's
// own canon date for canon date dimensions, else the mapped field.
func (mq *mergedQuery) counterpart(f *model.Field, p *mergedPart) (*model.Field, error) {
	key := f.View().Name + "." + f.Name
	group := f.DimensionGroup()
	withGroup := func(name string) string {
		if group == "" {
			return name
		}
		return name + "_" + group
	}
	if mq.isCanonDate(key) && p.canon != key {
		return mq.cc.p.GetField(withGroup(p.canon))
	}
	rm, ok := mq.mappings[strings.ToLower(key)]
	if !ok {
		rm, ok = mq.mappings[strings.ToLower(f.ID())]
	}
	if !ok {
		return nil, nil
	}
	for _, ref := range rm.References {
		if ref.ToJoinHash != p.hash {
			continue
		}
		return mq.cc.p.GetField(withGroup(ref.Field))
	}
	return nil, nil
}

func missingMappingError(key string) error {
	return core.Errorf("Could not find mapping from field %s to other views. Please add a mapping to your "+
		"model definition to allow the mapping if you'd like to use this field in a merged result query.", key)
}

// attachDimensions adds every requested dimension, or its counterpart, to
// every part so the parts can be joined on them.
func (mq *mergedQuery) attachDimensions() error {
	dims, err := mq.cc.fields(mq.req.Dimensions)
	if err != nil {
		return err
	}
	for _, f := range dims {
		key := f.View().Name + "." + f.Name
		canon := mq.isCanonDate(key)
		attached := false
		for _, p := range slices.Clone(mq.parts) {
			if canon && p.canon == key {
				p.dims = append(p.dims, f)
				attached = true
				continue
			}
			if !canon {
				ok, err := mq.attachable(f, p)
				if err != nil {
					return err
				}
				if ok {
					p.dims = append(p.dims, f)
					attached = true
					continue
				}
			}
			other, err := mq.counterpart(f, p)
			if err != nil {
				return err
			}
			if other == nil {
				return missingMappingError(key)
			}
			p.dims = append(p.dims, other)
		}
		if !attached && !canon {
			p, err := mq.part(f)
			if err != nil {
				return err
			}
			p.dims = append(p.dims, f)
		}
	}
	for _, p := range mq.parts {
		var unique []*model.Field
		for _, f := range p.dims {
			if !slices.Contains(unique, f) {
				unique = append(unique, f)
			}
		}
		p.dims = unique
	}
	return nil
}

// distributeWhere hands each where filter to every part, mapped to the
// part's counterpart field where the part cannot join the original.
func (mq *mergedQuery) distributeWhere() error {
	for _, p := range mq.parts {
		where, err := mapFilters(mq.req.Where, func(name string) (string, error) {
			f, err := mq.cc.p.GetField(name)
			if err != nil {
				return "", err
			}
			key := f.View().Name + "." + f.Name
			if mq.isCanonDate(key) {
				if p.canon == key {
					return name, nil
				}
			} else {
				ok, err := mq.attachable(f, p)
				if err != nil {
					return "", err
				}
				if ok {
					return name, nil
				}
			}
			other, err := mq.counterpart(f, p)
			if err != nil {
				return "", err
			}
			if other == nil {
				return "", missingMappingError(key)
			}
			return other.ID(), nil
		})
		if err != nil {
			return err
		}
		p.where = where
	}
	return nil
}

func (mq *mergedQuery) build() (string, error) {
	cc := mq.cc
	d := cc.d
	if len(mq.parts) == 0 {
		return "", core.Errorf("A merged results query must request at least one metric or dimension")
	}
	parts := slices.Clone(mq.parts)
	slices.SortFunc(parts, func(a, b *mergedPart) int { return strings.Compare(a.name, b.name) })

	s := newStatement(d)
	s.limit = mq.req.Limit
	for _, p := range parts {
		sub := Request{
			Metrics:    ids(p.metrics),
			Dimensions: ids(p.dims),
			Where:      p.where,
			QueryType:  mq.req.QueryType,
		}
		sql, err := cc.query(sub)
		if err != nil {
			return "", err
		}
		s.addCTE(p.name, sql)
	}

	var aliases []string
	for _, p := range parts {
		for _, f := range p.metrics {
			alias := f.Alias(true)
			if !slices.Contains(aliases, alias) {
				s.selects = append(s.selects, as(p.name+"."+alias, alias))
				aliases = append(aliases, alias)
			}
		}
	}
	for i, p := range parts {
		for k, f := range p.dims {
			alias := f.Alias(true)
			if slices.Contains(aliases, alias) {
				continue
			}
			var others []string
			for j, o := range parts {
				if j != i && k < len(o.dims) {
					others = append(others, o.name+"."+o.dims[k].Alias(true))
				}
			}
			sql := p.name + "." + alias
			if len(others) > 0 {
				sql = d.IfNull() + "(" + sql + ", " + nestedIfNull(d.IfNull(), others) + ")"
			}
			s.selects = append(s.selects, as(sql, alias))
			aliases = append(aliases, alias)
		}
	}
	for _, f := range mq.merged {
		alias := f.Alias(true)
		if slices.Contains(aliases, alias) {
			continue
		}
		sql, err := f.StrictReplacedQuery()
		if err != nil {
			return "", err
		}
		s.selects = append(s.selects, as(sql, alias))
		aliases = append(aliases, alias)
	}

	s.from = parts[0].name
	noDims := !slices.ContainsFunc(parts, func(p *mergedPart) bool { return len(p.dims) > 0 })
	for _, p := range parts[1:] {
		if noDims && d.Features().CrossJoinWithoutKeys {
			s.join("CROSS JOIN", p.name, "")
			continue
		}
		s.join("FULL OUTER JOIN", p.name, mq.joinCriteria(parts[0], p, noDims))
	}

	fr := &filterRenderer{project: cc.p, render: func(f *model.Field) (string, error) { return f.Alias(true), nil }}
	where, err := fr.conditions(mq.req.Having)
	if err != nil {
		return "", err
	}
	s.where = where
	for _, o := range mq.req.OrderBy {
		f, err := cc.p.GetField(o.Field)
		if err != nil {
			return "", err
		}
		s.orderByField(f.Alias(true), o.Desc())
	}
	return s.String(), nil
}

func (mq *mergedQuery) joinCriteria(first, second *mergedPart, noDims bool) string {
	if noDims {
		return "1=1"
	}
	var criteria []string
	for k := range first.dims {
		if k >= len(second.dims) {
			break
		}
		a, b := first.dims[k], second.dims[k]
		left := first.name + "." + a.Alias(true)
		right := second.name + "." + b.Alias(true)
		if mq.cc.d.Features().CastMismatchedJoinKeys && a.EffectiveDatatype() != b.EffectiveDatatype() {
			criteria = append(criteria, "CAST("+left+" AS TIMESTAMP)=CAST("+right+" AS TIMESTAMP)")
			continue
		}
		criteria = append(criteria, left+"="+right)
	}
	if len(criteria) == 0 {
		return "1=1"
	}
	return strings.Join(criteria, " and ")
}

func nestedIfNull(fn string, columns []string) string {
	if len(columns) == 1 {
		return columns[0]
	}
	return fn + "(" + columns[0] + ", " + nestedIfNull(fn, columns[1:]) + ")"
}

func ids(fields []*model.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.ID()
	}
	return out
}

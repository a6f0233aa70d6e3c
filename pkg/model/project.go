package model

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/leapstack-labs/leapmetrics/internal/joingraph"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
)

// DefaultDialect is used when a model's connection cannot be resolved.
const DefaultDialect = "snowflake"

// Project owns the models, views, topics and dashboards of a semantic layer
// and resolves names, access and joins across them.
//
// Reads never lock. Mutators build a complete new state, with an empty
// cache, and swap it in under mu, so a reader sees either the old or the new
// project but never a mix.
type Project struct {
	mu sync.Mutex
	st atomic.Pointer[projectState]

	timezone    string
	env         string
	connections map[string]string
	logger      *slog.Logger
}

type projectState struct {
	models     map[string]*Model
	views      map[string]*View
	viewOrder  []string
	topics     map[string]*Topic
	dashboards map[string]*Dashboard
	// duplicateDashboards names dashboards declared more than once.
	duplicateDashboards []string
	user                *User
	cache               *cache
}

// cache memoizes derived structures for one project state. It is discarded
// with the state on every mutation.
type cache struct {
	mu     sync.Mutex
	fields map[string]*Field

	graphOnce  sync.Once
	graph      *joinGraph
	graphErr   error
	merged     map[string]*joingraph.Graph
	mergedErrs map[string]error
}

func newCache() *cache {
	return &cache{
		fields:     make(map[string]*Field),
		merged:     make(map[string]*joingraph.Graph),
		mergedErrs: make(map[string]error),
	}
}

// Option configures a Project.
type Option func(*Project)

// WithTimezone sets the timezone time dimensions are converted to.
func WithTimezone(tz string) Option {
	return func(p *Project) { p.timezone = tz }
}

// WithEnv selects the branch of conditional sql_table_name values.
func WithEnv(env string) Option {
	return func(p *Project) { p.env = env }
}

// WithConnections maps connection names to their type (snowflake, bigquery,
// ...), which selects the dialect of queries against a model.
func WithConnections(types map[string]string) Option {
	return func(p *Project) { p.connections = types }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Project) { p.logger = logger }
}

// NewProject builds a project from loaded objects. Views referenced by
// join_as identifiers are duplicated under their new name.
func NewProject(models []*Model, views []*View, topics []*Topic, dashboards []*Dashboard, opts ...Option) (*Project, error) {
	p := &Project{connections: map[string]string{}}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	st, err := p.newState(models, views, topics, dashboards, nil)
	if err != nil {
		return nil, err
	}
	p.st.Store(st)
	return p, nil
}

func (p *Project) newState(models []*Model, views []*View, topics []*Topic, dashboards []*Dashboard, user *User) (*projectState, error) {
	st := &projectState{
		models:     make(map[string]*Model, len(models)),
		views:      make(map[string]*View, len(views)),
		topics:     make(map[string]*Topic, len(topics)),
		dashboards: make(map[string]*Dashboard, len(dashboards)),
		user:       user,
		cache:      newCache(),
	}
	for _, m := range models {
		if _, dup := st.models[m.Name]; dup {
			return nil, core.Errorf("Duplicate model names found in your project for the name %s", m.Name)
		}
		st.models[m.Name] = m
	}

	add := func(v *View) error {
		if _, dup := st.views[v.Name]; dup {
			return core.Errorf("Duplicate view names found in your project for the name %s. "+
				"Please make sure all view names are unique (note: join_as on identifiers "+
				"will create a view under that name and the name must be unique).", v.Name)
		}
		v.bind(p)
		st.views[v.Name] = v
		st.viewOrder = append(st.viewOrder, v.Name)
		return nil
	}
	byName := make(map[string]*View, len(views))
	for _, v := range views {
		byName[v.Name] = v
	}
	for _, v := range views {
		if err := add(v); err != nil {
			return nil, err
		}
	}
	for _, v := range views {
		for _, id := range v.Identifiers {
			if id.JoinAs == "" || id.Reference == "" {
				continue
			}
			ref, ok := byName[id.Reference]
			if !ok {
				continue
			}
			alias := ref.clone(id.JoinAs)
			alias.Identifiers = nil
			alias.FieldPrefix = id.JoinAsFieldPrefix
			if alias.FieldPrefix == "" {
				alias.FieldPrefix = id.JoinAsLabel
			}
			if id.JoinAsLabel != "" {
				alias.Label = id.JoinAsLabel
			}
			if err := add(alias); err != nil {
				return nil, err
			}
		}
	}

	for _, t := range topics {
		key := strings.ToLower(t.Label)
		if _, dup := st.topics[key]; dup {
			return nil, core.Errorf("Duplicate topic labels found in your project for the label %s", t.Label)
		}
		t.project = p
		st.topics[key] = t
	}
	for _, d := range dashboards {
		if _, dup := st.dashboards[d.Name]; dup && !slices.Contains(st.duplicateDashboards, d.Name) {
			st.duplicateDashboards = append(st.duplicateDashboards, d.Name)
		}
		st.dashboards[d.Name] = d
	}
	return st, nil
}

func (p *Project) state() *projectState { return p.st.Load() }

// Timezone returns the project's query timezone, or the empty string.
func (p *Project) Timezone() string { return p.timezone }

// Env returns the environment used for conditional table names.
func (p *Project) Env() string { return p.env }

// Logger returns the project's logger.
func (p *Project) Logger() *slog.Logger { return p.logger }

// User returns the current user, or nil when access is unrestricted.
func (p *Project) User() *User { return p.state().user }

// FieldOption narrows a field lookup.
type FieldOption func(*fieldQuery)

type fieldQuery struct {
	view string
}

// WithView restricts a field lookup to one view.
func WithView(view string) FieldOption {
	return func(q *fieldQuery) { q.view = strings.ToLower(view) }
}

// GetField resolves a field by "name" or "view.name". Dimension groups
// resolve by their expanded names, such as "order_date" or "days_waiting".
// Missing or inaccessible fields return an *core.AccessDeniedError.
func (p *Project) GetField(name string, opts ...FieldOption) (*Field, error) {
	q := fieldQuery{}
	for _, opt := range opts {
		opt(&q)
	}
	name = strings.ToLower(name)
	viewName, fieldName := SplitFieldName(name)
	if viewName == "" {
		viewName = q.view
	}

	st := p.state()
	key := viewName + "." + fieldName
	st.cache.mu.Lock()
	cached, ok := st.cache.fields[key]
	st.cache.mu.Unlock()
	if !ok {
		var err error
		cached, err = p.findField(st, viewName, fieldName, false)
		if err != nil {
			return nil, err
		}
		st.cache.mu.Lock()
		st.cache.fields[key] = cached
		st.cache.mu.Unlock()
	}
	if err := p.checkFieldAccess(st, cached); err != nil {
		return nil, err
	}
	return cached, nil
}

// TryGetField is GetField for callers that only need to know whether the
// field resolves.
func (p *Project) TryGetField(name string, opts ...FieldOption) (*Field, bool) {
	f, err := p.GetField(name, opts...)
	return f, err == nil
}

func (p *Project) findField(st *projectState, viewName, fieldName string, byName bool) (*Field, error) {
	var candidates []*View
	if viewName != "" {
		v, ok := st.views[viewName]
		if !ok {
			return nil, core.NewAccessDenied(core.ObjectView, viewName,
				"Could not find or you do not have access to view %s", viewName)
		}
		candidates = []*View{v}
	} else {
		for _, name := range st.viewOrder {
			candidates = append(candidates, st.views[name])
		}
	}

	var matches []*Field
	for _, v := range candidates {
		for _, f := range v.Fields {
			if byName && f.IsDimensionGroupTemplate() && f.Name == fieldName {
				matches = append(matches, f)
				continue
			}
			group, ok := f.Match(fieldName)
			if !ok {
				continue
			}
			if f.IsDimensionGroupTemplate() {
				matches = append(matches, f.WithDimensionGroup(group))
			} else {
				matches = append(matches, f)
			}
		}
	}

	switch {
	case len(matches) == 1:
		return matches[0], nil
	case len(matches) > 1:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.view.Name + "." + m.Name
		}
		viewText := ""
		if viewName != "" {
			viewText = ", in view " + viewName
		}
		return nil, core.Errorf("Multiple fields found for the name %s%s - those fields were %s\n\n"+
			"Please specify a view name like this: 'view_name.field_name'",
			fieldName, viewText, "['"+strings.Join(names, "', '")+"']")
	case fieldName == "count" && viewName != "":
		return implicitCount(candidates[0]), nil
	}

	msg := "Field " + fieldName + " not found"
	if viewName != "" {
		msg += " in view " + viewName
	}
	msg += ", please check that this field exists AND that you have access to it. \n\n" +
		"If this is a dimension group specify the group parameter, if not already specified, " +
		"for example, with a dimension group named 'order' with timeframes: [raw, date, month] " +
		"specify 'order_raw' or 'order_date' or 'order_month'"
	return nil, core.NewAccessDenied(core.ObjectField, fieldName, "%s", msg)
}

// implicitCount is the count measure every view answers to.
func implicitCount(v *View) *Field {
	return &Field{Name: "count", FieldType: FieldMeasure, Type: TypeCount, view: v}
}

// GetFieldByName resolves a field by qualified name without checking access.
// Unlike GetField it also matches a dimension group by its bare name,
// returning the unexpanded group. Graph construction uses it so fields
// hidden from the current user still shape the joins.
func (p *Project) GetFieldByName(name string) (*Field, error) {
	viewName, fieldName := SplitFieldName(strings.ToLower(name))
	return p.findField(p.state(), viewName, fieldName, true)
}

// GetView returns a view the current user can access.
func (p *Project) GetView(name string) (*View, error) {
	st := p.state()
	v, ok := st.views[strings.ToLower(name)]
	if !ok {
		return nil, core.NewAccessDenied(core.ObjectView, name,
			"Could not find or you do not have access to view %s", name)
	}
	if err := p.checkViewAccess(st, v); err != nil {
		return nil, err
	}
	return v, nil
}

// GetModel returns a model the current user can access.
func (p *Project) GetModel(name string) (*Model, error) {
	st := p.state()
	m, ok := st.models[name]
	if !ok {
		return nil, core.NewAccessDenied(core.ObjectModel, name,
			"Could not find or you do not have access to model %s", name)
	}
	if err := p.checkModelAccess(st, m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetTopic returns a topic by label, case-insensitively.
func (p *Project) GetTopic(label string) (*Topic, error) {
	st := p.state()
	t, ok := st.topics[strings.ToLower(label)]
	if !ok {
		return nil, core.NewAccessDenied(core.ObjectTopic, label,
			"Could not find or you do not have access to topic %s", label)
	}
	if err := p.checkTopicAccess(st, t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetDashboard returns a dashboard by name.
func (p *Project) GetDashboard(name string) (*Dashboard, error) {
	st := p.state()
	d, ok := st.dashboards[name]
	if !ok {
		return nil, core.NewAccessDenied(core.ObjectDashboard, name,
			"Could not find or you do not have access to dashboard %s", name)
	}
	if !p.grantsAllow(st, nil, d.RequiredAccessGrants) {
		return nil, core.NewAccessDenied(core.ObjectDashboard, name,
			"Could not find or you do not have access to dashboard %s", name)
	}
	return d, nil
}

// GetSet returns the set declared in view, or nil.
func (p *Project) GetSet(name, view string) *Set {
	v, ok := p.state().views[view]
	if !ok {
		return nil
	}
	return v.Set(name)
}

// ListViews returns the views the current user can access, in load order.
func (p *Project) ListViews() []*View {
	st := p.state()
	var out []*View
	for _, name := range st.viewOrder {
		v := st.views[name]
		if p.checkViewAccess(st, v) == nil {
			out = append(out, v)
		}
	}
	return out
}

// ListModels returns the accessible models sorted by name.
func (p *Project) ListModels() []*Model {
	st := p.state()
	out := make([]*Model, 0, len(st.models))
	for _, m := range st.models {
		if p.checkModelAccess(st, m) == nil {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListTopics returns the accessible topics sorted by label.
func (p *Project) ListTopics() []*Topic {
	st := p.state()
	out := make([]*Topic, 0, len(st.topics))
	for _, t := range st.topics {
		if p.checkTopicAccess(st, t) == nil {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// ListDashboards returns the accessible dashboards sorted by name.
func (p *Project) ListDashboards() []*Dashboard {
	st := p.state()
	out := make([]*Dashboard, 0, len(st.dashboards))
	for _, d := range st.dashboards {
		if p.grantsAllow(st, nil, d.RequiredAccessGrants) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DuplicateDashboards returns the names declared by more than one dashboard.
// The last declaration wins.
func (p *Project) DuplicateDashboards() []string {
	return slices.Clone(p.state().duplicateDashboards)
}

// ListFields returns the expanded fields the user can access. An empty view
// lists every accessible view.
func (p *Project) ListFields(view string, showHidden bool) ([]*Field, error) {
	st := p.state()
	var views []*View
	if view != "" {
		v, err := p.GetView(view)
		if err != nil {
			return nil, err
		}
		views = []*View{v}
	} else {
		views = p.ListViews()
	}
	var out []*Field
	for _, v := range views {
		for _, f := range v.ListFields(showHidden, true) {
			if p.checkFieldAccess(st, f) == nil {
				out = append(out, f)
			}
		}
	}
	return out, nil
}

// ListMetrics returns the accessible measures.
func (p *Project) ListMetrics(view string, showHidden bool) ([]*Field, error) {
	fields, err := p.ListFields(view, showHidden)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(fields, func(f *Field) bool { return !f.IsMeasure() }), nil
}

// ListDimensions returns the accessible dimensions and dimension groups.
func (p *Project) ListDimensions(view string, showHidden bool) ([]*Field, error) {
	fields, err := p.ListFields(view, showHidden)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(fields, func(f *Field) bool { return f.IsMeasure() }), nil
}

// GetFieldByTag returns the first accessible field tagged tag that belongs
// to one of joinGraphs. An empty joinGraphs matches any field.
func (p *Project) GetFieldByTag(tag string, joinGraphs []string) (*Field, error) {
	fields, err := p.ListFields("", true)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		if !f.HasTag(tag) {
			continue
		}
		if len(joinGraphs) == 0 {
			return f, nil
		}
		graphs, err := f.JoinGraphs()
		if err != nil {
			continue
		}
		if slices.ContainsFunc(graphs, func(g string) bool { return slices.Contains(joinGraphs, g) }) {
			return f, nil
		}
	}
	return nil, core.NewAccessDenied(core.ObjectField, tag, "Could not find a field with the tag %s", tag)
}

// ModelFields returns every expanded field of the views in model m,
// regardless of the current user.
func (p *Project) ModelFields(m *Model) []*Field {
	st := p.state()
	var out []*Field
	for _, name := range st.viewOrder {
		v := st.views[name]
		if v.ModelName != m.Name {
			continue
		}
		out = append(out, v.ListFields(true, true)...)
	}
	return out
}

// Dialect returns the dialect of the model's connection, falling back to
// DefaultDialect.
func (p *Project) Dialect(m *Model) (dialect.Dialect, error) {
	name := DefaultDialect
	if m != nil && m.Connection != "" {
		typ, ok := p.connections[m.Connection]
		if !ok {
			return nil, core.Errorf("Could not find the connection named %s in your profile", m.Connection)
		}
		name = typ
	}
	d, err := dialect.MustGet(name)
	if err != nil {
		return nil, core.Errorf("%s", err.Error())
	}
	return d, nil
}

// Define returns the SQL of a metric in its model's dialect.
func (p *Project) Define(metric string) (string, error) {
	f, err := p.GetField(metric)
	if err != nil {
		return "", err
	}
	d, err := p.Dialect(f.view.Model())
	if err != nil {
		return "", err
	}
	return f.SQLQuery(d, "", false)
}

// AddField appends a field to a view.
func (p *Project) AddField(viewName string, f *Field) error {
	return p.mutate(func(st *projectState) error {
		v, ok := st.views[viewName]
		if !ok {
			return core.NewAccessDenied(core.ObjectView, viewName,
				"Could not find or you do not have access to view %s", viewName)
		}
		for _, existing := range v.Fields {
			if existing.Name == f.Name {
				return fmt.Errorf("field %s already exists in view %s", f.Name, viewName)
			}
		}
		nv := v.clone(v.Name)
		nv.Fields = append(nv.Fields, f)
		nv.bind(p)
		st.views[viewName] = nv
		return nil
	})
}

// RemoveField deletes a field from a view.
func (p *Project) RemoveField(viewName, fieldName string) error {
	return p.mutate(func(st *projectState) error {
		v, ok := st.views[viewName]
		if !ok {
			return core.NewAccessDenied(core.ObjectView, viewName,
				"Could not find or you do not have access to view %s", viewName)
		}
		nv := v.clone(v.Name)
		before := len(nv.Fields)
		nv.Fields = slices.DeleteFunc(nv.Fields, func(f *Field) bool { return f.Name == fieldName })
		if len(nv.Fields) == before {
			return core.NewAccessDenied(core.ObjectField, fieldName,
				"Field %s not found in view %s", fieldName, viewName)
		}
		nv.bind(p)
		st.views[viewName] = nv
		return nil
	})
}

// ReplaceObjects swaps in a freshly loaded set of objects, keeping the
// current user.
func (p *Project) ReplaceObjects(models []*Model, views []*View, topics []*Topic, dashboards []*Dashboard) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, err := p.newState(models, views, topics, dashboards, p.state().user)
	if err != nil {
		return err
	}
	p.st.Store(st)
	return nil
}

// SetUser sets the user access checks are evaluated against. A nil user
// can access everything.
func (p *Project) SetUser(u *User) {
	_ = p.mutate(func(st *projectState) error {
		st.user = u
		return nil
	})
}

// mutate applies fn to a copy of the current state and publishes it with a
// fresh cache.
func (p *Project) mutate(fn func(*projectState) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.state()
	next := &projectState{
		models:     old.models,
		views:      make(map[string]*View, len(old.views)),
		viewOrder:  old.viewOrder,
		topics:     old.topics,
		dashboards: old.dashboards,
		user:       old.user,
		cache:      newCache(),

		duplicateDashboards: old.duplicateDashboards,
	}
	for k, v := range old.views {
		next.views[k] = v
	}
	if err := fn(next); err != nil {
		return err
	}
	p.st.Store(next)
	return nil
}

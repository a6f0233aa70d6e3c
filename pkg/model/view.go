package model

import (
	"regexp"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// View is a named table or subquery and the fields computed over it.
type View struct {
	Name         string `yaml:"name"`
	Label        string `yaml:"label"`
	Description  string `yaml:"description"`
	SQLTableName string `yaml:"sql_table_name"`
	ModelName    string `yaml:"model_name"`
	// DefaultDate is the dimension group measures of this view are plotted
	// against unless they declare canon_date.
	DefaultDate          string         `yaml:"default_date"`
	EventDimension       string         `yaml:"event_dimension"`
	EventName            string         `yaml:"event_name"`
	RowLabel             string         `yaml:"row_label"`
	Hidden               bool           `yaml:"hidden"`
	AlwaysFilter         []FieldFilter  `yaml:"always_filter"`
	AccessFilters        []AccessFilter `yaml:"access_filters"`
	RequiredAccessGrants []string       `yaml:"required_access_grants"`
	Identifiers          []*Identifier  `yaml:"identifiers"`
	Sets                 []*Set         `yaml:"sets"`
	Fields               []*Field       `yaml:"fields"`
	// FieldPrefix prefixes the labels of every field, set for join_as copies.
	FieldPrefix string `yaml:"field_prefix"`

	Raw     map[string]any  `yaml:"-"`
	Source  Source          `yaml:"-"`
	Invalid []PropertyError `yaml:"-"`

	project  *Project
	joinAsOf string
}

// AccessFilter restricts rows of a view to those matching a user attribute.
type AccessFilter struct {
	Field         string `yaml:"field"`
	UserAttribute string `yaml:"user_attribute"`
}

// Identifier describes how a view joins to other views.
type Identifier struct {
	Name string `yaml:"name"`
	// Type is primary, foreign or join.
	Type string `yaml:"type"`
	// SQL overrides the join column, defaulting to ${view.name}.
	SQL string `yaml:"sql"`
	// SQLOn, Reference and Relationship define an explicit join.
	SQLOn          string   `yaml:"sql_on"`
	Reference      string   `yaml:"reference"`
	Relationship   string   `yaml:"relationship"`
	JoinType       string   `yaml:"join_type"`
	OnlyJoin       []string `yaml:"only_join"`
	AllowedFanouts []string `yaml:"allowed_fanouts"`
	// JoinAs joins the referenced view a second time under this name.
	JoinAs            string `yaml:"join_as"`
	JoinAsLabel       string `yaml:"join_as_label"`
	JoinAsFieldPrefix string `yaml:"join_as_field_prefix"`

	Raw     map[string]any  `yaml:"-"`
	Source  Source          `yaml:"-"`
	Invalid []PropertyError `yaml:"-"`
}

// Project returns the project the view belongs to.
func (v *View) Project() *Project { return v.project }

// JoinAsOf returns the view this one copies for a join_as identifier, or
// the empty string for a declared view.
func (v *View) JoinAsOf() string { return v.joinAsOf }

// Model returns the view's model, or nil if it does not resolve.
func (v *View) Model() *Model {
	if v.project == nil || v.ModelName == "" {
		return nil
	}
	return v.project.state().models[v.ModelName]
}

// WeekStartDay returns the lowercase week start day of the view's model.
func (v *View) WeekStartDay() string {
	if m := v.Model(); m != nil && m.WeekStartDay != "" {
		return strings.ToLower(m.WeekStartDay)
	}
	return "monday"
}

// PrimaryKey returns the field marked primary_key, or nil.
func (v *View) PrimaryKey() *Field {
	for _, f := range v.Fields {
		if f.PrimaryKey {
			return f
		}
	}
	return nil
}

// Identifier returns the identifier with the given name, or nil.
func (v *View) Identifier(name string) *Identifier {
	for _, id := range v.Identifiers {
		if id.Name == name {
			return id
		}
	}
	return nil
}

// Set returns the view's set with the given name, or nil.
func (v *View) Set(name string) *Set {
	for _, s := range v.Sets {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// ListFields returns the view's fields. expand replaces each dimension group
// with one field per timeframe or interval; raw timeframes are hidden.
func (v *View) ListFields(showHidden, expand bool) []*Field {
	var out []*Field
	for _, f := range v.Fields {
		if !expand || f.FieldType != FieldDimensionGroup {
			if showHidden || !f.Hidden {
				out = append(out, f)
			}
			continue
		}
		for _, group := range f.expandedGroups() {
			g := f.WithDimensionGroup(group)
			if group == "raw" {
				g.Hidden = true
			}
			if showHidden || !g.Hidden {
				out = append(out, g)
			}
		}
	}
	return out
}

func (f *Field) expandedGroups() []string {
	switch f.Type {
	case TypeTime:
		return f.Timeframes
	case TypeDuration:
		groups := make([]string, 0, len(f.intervals()))
		for _, i := range f.intervals() {
			groups = append(groups, i+"s")
		}
		return groups
	}
	return nil
}

var conditionalTable = regexp.MustCompile(`--\s*if\s+([A-Za-z0-9_]+)\s*--([^-]*)`)

// TableName resolves sql_table_name for the project's environment. A
// conditional table name such as
//
//	-- if prod -- analytics.orders
//	-- if dev -- dev.orders
//
// picks the branch whose condition equals env.
func (v *View) TableName() (string, error) {
	name := v.SQLTableName
	if !strings.Contains(name, "-- if") {
		return name, nil
	}
	env := ""
	if v.project != nil {
		env = v.project.Env()
	}
	for _, m := range conditionalTable.FindAllStringSubmatch(strings.ReplaceAll(name, "\n", " "), -1) {
		if m[1] == env {
			return strings.TrimSpace(m[2]), nil
		}
	}
	return "", core.Errorf("Your sql_table_name: '%s' contains a conditional and we could not match "+
		"that to the conditional value you passed: %s", name, env)
}

// EventDimensionField returns the field funnels order events by.
func (v *View) EventDimensionField() (*Field, error) {
	if v.EventDimension == "" {
		return nil, core.Errorf("The view %s does not have an event_dimension defined", v.Name)
	}
	ref := strings.NewReplacer("${", "", "}", "").Replace(v.EventDimension)
	viewName, name := SplitFieldName(ref)
	if viewName == "" {
		viewName = v.Name
	}
	return v.project.GetField(name, WithView(viewName))
}

// clone returns a deep copy of the view's fields bound to a new view.
func (v *View) clone(name string) *View {
	c := *v
	c.Name = name
	c.joinAsOf = v.Name
	c.Fields = make([]*Field, len(v.Fields))
	for i, f := range v.Fields {
		nf := *f
		nf.view = &c
		c.Fields[i] = &nf
	}
	c.Identifiers = make([]*Identifier, len(v.Identifiers))
	for i, id := range v.Identifiers {
		nid := *id
		c.Identifiers[i] = &nid
	}
	return &c
}

func (v *View) bind(p *Project) {
	v.project = p
	for _, f := range v.Fields {
		f.view = v
	}
	for _, s := range v.Sets {
		s.ViewName = v.Name
		s.project = p
	}
}

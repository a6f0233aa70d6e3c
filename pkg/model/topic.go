package model

import (
	"slices"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapmetrics/internal/joingraph"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Topic is a curated query scope: a base view plus the views joined to it,
// with optional join overrides and filters of its own.
type Topic struct {
	Label                string               `yaml:"label"`
	BaseView             string               `yaml:"base_view"`
	ModelName            string               `yaml:"model_name"`
	Description          string               `yaml:"description"`
	Hidden               bool                 `yaml:"hidden"`
	Views                map[string]TopicView `yaml:"views"`
	AccessFilters        []AccessFilter       `yaml:"access_filters"`
	AlwaysFilter         []FieldFilter        `yaml:"always_filter"`
	RequiredAccessGrants []string             `yaml:"required_access_grants"`

	Raw     map[string]any  `yaml:"-"`
	Source  Source          `yaml:"-"`
	Invalid []PropertyError `yaml:"-"`

	project *Project
}

// TopicView is a view included in a topic.
type TopicView struct {
	Join *JoinOverride `yaml:"join"`
}

// JoinOverride replaces the join graph's edge for a view in a topic.
type JoinOverride struct {
	JoinType     string `yaml:"join_type"`
	Relationship string `yaml:"relationship"`
	SQLOn        string `yaml:"sql_on"`
}

// ViewNames returns the base view followed by the topic's views, sorted.
func (t *Topic) ViewNames() []string {
	names := make([]string, 0, len(t.Views))
	for name := range t.Views {
		names = append(names, name)
	}
	sort.Strings(names)
	return append([]string{t.BaseView}, names...)
}

// CheckViews fails if any requested view is not part of the topic.
func (t *Topic) CheckViews(requested []string) error {
	available := t.ViewNames()
	var invalid []string
	for _, v := range requested {
		if !slices.Contains(available, v) && !slices.Contains(invalid, v) {
			invalid = append(invalid, v)
		}
	}
	if len(invalid) == 0 {
		return nil
	}
	sort.Strings(invalid)
	return core.Errorf("The following views are not included in the topic %s: %s\n\n"+
		"You can add them to the topic by adding the requested views to the topic.",
		t.Label, strings.Join(invalid, ", "))
}

// Join returns how view joins onto the topic's base view, applying the
// topic's override when there is one.
func (t *Topic) Join(view string) (*Join, error) {
	if tv, ok := t.Views[view]; ok && tv.Join != nil {
		j := &Join{
			Base:         t.BaseView,
			View:         view,
			Type:         tv.Join.JoinType,
			Relationship: tv.Join.Relationship,
			SQLOn:        tv.Join.SQLOn,
			project:      t.project,
		}
		if j.Type == "" {
			j.Type = JoinLeftOuter
		}
		if j.Relationship == "" {
			j.Relationship = ManyToOne
		}
		j.Weight = RelationshipWeight(j.Relationship)
		return j, nil
	}
	j, ok := t.project.Join(t.BaseView, view)
	if !ok {
		return nil, core.NewJoinError("topic", "Join not found between %s and %s", t.BaseView, view)
	}
	return j, nil
}

// OrderRequiredViews adds the views needed to join the requested ones and
// returns them ordered so every view follows the views its join uses.
func (t *Topic) OrderRequiredViews(views []string) ([]string, error) {
	if err := t.CheckViews(views); err != nil {
		return nil, err
	}
	g := joingraph.New()
	g.AddNode(t.BaseView)
	for _, name := range t.ViewNames()[1:] {
		g.AddNode(name)
		j, err := t.Join(name)
		if err != nil {
			return nil, err
		}
		for _, dep := range j.RequiredViews() {
			if dep != t.BaseView && dep != name {
				if err := g.SetEdge(dep, name, 1, nil); err != nil {
					return nil, err
				}
			}
		}
	}

	required := map[string]bool{}
	for _, v := range views {
		required[v] = true
		for _, a := range g.Ancestors(v) {
			required[a] = true
		}
	}
	keep := make([]string, 0, len(required))
	for v := range required {
		keep = append(keep, v)
	}
	order, err := g.Subgraph(keep).TopologicalSort()
	if err != nil {
		return nil, core.Errorf("The joins in topic %s depend on each other in a cycle", t.Label)
	}
	return order, nil
}

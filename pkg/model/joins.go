package model

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapmetrics/internal/joingraph"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// joinGraph is the built view graph plus its component analysis.
type joinGraph struct {
	g          *joingraph.Graph
	components [][]string
	reach      [][]string
}

// JoinGraph returns the directed view graph. Edge data is a *Join.
func (p *Project) JoinGraph() (*joingraph.Graph, error) {
	jg, err := p.joinGraph()
	if err != nil {
		return nil, err
	}
	return jg.g, nil
}

func (p *Project) joinGraph() (*joinGraph, error) {
	st := p.state()
	c := st.cache
	c.graphOnce.Do(func() {
		c.graph, c.graphErr = p.buildJoinGraph(st)
	})
	return c.graph, c.graphErr
}

func (p *Project) buildJoinGraph(st *projectState) (*joinGraph, error) {
	g := joingraph.New()

	// Explicit joins first; identifier joins only replace them when they
	// carry a more preferred relationship.
	references := make(map[string]map[string]*Join)
	addReference := func(base, view string, j *Join) {
		if references[base] == nil {
			references[base] = make(map[string]*Join)
		}
		references[base][view] = j
	}
	identifiers := make(map[string][]string)
	for _, name := range st.viewOrder {
		v := st.views[name]
		for _, id := range v.Identifiers {
			if id.Type != IdentifierJoin {
				identifiers[id.Name] = append(identifiers[id.Name], v.Name)
				continue
			}
			target, sqlOn := id.Reference, id.SQLOn
			if id.JoinAs != "" {
				target = id.JoinAs
				sqlOn = strings.ReplaceAll(sqlOn, "${"+id.Reference+".", "${"+id.JoinAs+".")
			}
			j := explicitJoin(p, v.Name, target, id.JoinType, id.Relationship, sqlOn)
			addReference(v.Name, target, j)
			inverse := InvertRelationship(j.Relationship)
			if !IsFanout(inverse) {
				addReference(target, v.Name, explicitJoin(p, target, v.Name, j.Type, inverse, sqlOn))
			}
		}
	}

	for _, name := range st.viewOrder {
		v := st.views[name]
		g.AddNode(v.Name)
		for _, target := range sortedKeys(references[v.Name]) {
			j := references[v.Name][target]
			if err := g.SetEdge(v.Name, target, j.Weight, j); err != nil {
				return nil, core.Errorf("%s", err.Error())
			}
		}

		for _, id := range v.Identifiers {
			if id.Type == IdentifierJoin {
				continue
			}
			for _, other := range identifiers[id.Name] {
				if other == v.Name || !allowedJoin(id.OnlyJoin, other) {
					continue
				}
				otherID := st.views[other].Identifier(id.Name)
				if otherID == nil || !allowedJoin(otherID.OnlyJoin, v.Name) {
					continue
				}
				j, err := identifierJoin(p, id, v.Name, otherID, other)
				if err != nil {
					return nil, err
				}
				if IsFanout(j.Relationship) && !slices.Contains(id.AllowedFanouts, other) {
					continue
				}
				if existing, ok := g.Edge(v.Name, other); ok && existing.Weight <= j.Weight {
					continue
				}
				if err := g.SetEdge(v.Name, other, j.Weight, j); err != nil {
					return nil, core.Errorf("%s", err.Error())
				}
			}
		}
	}

	jg := &joinGraph{g: g, components: g.Components()}
	for _, comp := range jg.components {
		jg.reach = append(jg.reach, g.Reachable(comp))
	}
	return jg, nil
}

func explicitJoin(p *Project, base, view, joinType, relationship, sqlOn string) *Join {
	if joinType == "" {
		joinType = JoinLeftOuter
	}
	if relationship == "" {
		relationship = ManyToOne
	}
	return &Join{
		Base:         base,
		View:         view,
		Type:         joinType,
		Relationship: relationship,
		SQLOn:        sqlOn,
		Weight:       RelationshipWeight(relationship),
		project:      p,
	}
}

func identifierJoin(p *Project, first *Identifier, firstView string, second *Identifier, secondView string) (*Join, error) {
	relationship, err := deriveRelationship(first.Type, second.Type)
	if err != nil {
		return nil, err
	}
	return &Join{
		Base:         firstView,
		View:         secondView,
		Type:         JoinLeftOuter,
		Relationship: relationship,
		SQLOn:        identifierClause(first, firstView) + "=" + identifierClause(second, secondView),
		Weight:       RelationshipWeight(relationship),
		project:      p,
	}, nil
}

func deriveRelationship(base, join string) (string, error) {
	switch {
	case base == IdentifierForeign && join == IdentifierPrimary:
		return ManyToOne, nil
	case base == IdentifierPrimary && join == IdentifierPrimary:
		return OneToOne, nil
	case base == IdentifierPrimary && join == IdentifierForeign:
		return OneToMany, nil
	case base == IdentifierForeign && join == IdentifierForeign:
		return ManyToMany, nil
	}
	return "", core.Errorf("This join type cannot be determined from the identifier properties. "+
		"Make sure you've set the properties correctly. Base type: %s, join type: %s", base, join)
}

// identifierClause is one side of an identifier join condition, with every
// reference qualified by view.
func identifierClause(id *Identifier, view string) string {
	if id.SQL == "" {
		return "${" + view + "." + id.Name + "}"
	}
	sql := id.SQL
	for _, ref := range References(id.SQL) {
		switch {
		case ref == "TABLE":
			sql = strings.ReplaceAll(sql, "${TABLE}", view)
		case !strings.Contains(ref, "."):
			sql = strings.ReplaceAll(sql, "${"+ref+"}", "${"+view+"."+ref+"}")
		}
	}
	return sql
}

func allowedJoin(onlyJoin []string, view string) bool {
	return len(onlyJoin) == 0 || slices.Contains(onlyJoin, view)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func componentName(i int) string { return fmt.Sprintf("subquery_%d", i) }

// ListJoinGraphs names every component of the join graph.
func (p *Project) ListJoinGraphs() ([]string, error) {
	jg, err := p.joinGraph()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(jg.components))
	for i := range jg.components {
		names[i] = componentName(i)
	}
	return names, nil
}

// JoinGraphHash names the strongly connected component holding view.
func (p *Project) JoinGraphHash(view string) (string, error) {
	jg, err := p.joinGraph()
	if err != nil {
		return "", err
	}
	for i, comp := range jg.components {
		if slices.Contains(comp, view) {
			return componentName(i), nil
		}
	}
	return "", core.Errorf("View name %s not found in any joinable part of your data model. "+
		"Please make sure this is the right name for the view.", view)
}

// WeakJoinGraphHashes names every component whose reachable views include
// view. Two fields can share a query when their hashes intersect.
func (p *Project) WeakJoinGraphHashes(view string) ([]string, error) {
	jg, err := p.joinGraph()
	if err != nil {
		return nil, err
	}
	var hashes []string
	for i, reach := range jg.reach {
		if slices.Contains(reach, view) {
			hashes = append(hashes, componentName(i))
		}
	}
	return hashes, nil
}

// JoinableViewNames lists the other views that share a component with view.
func (p *Project) JoinableViewNames(view string) ([]string, error) {
	jg, err := p.joinGraph()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, reach := range jg.reach {
		if !slices.Contains(reach, view) {
			continue
		}
		for _, v := range reach {
			if v != view {
				seen[v] = true
			}
		}
	}
	return sortedKeys(seen), nil
}

// Join returns the graph edge joining view onto base.
func (p *Project) Join(base, view string) (*Join, bool) {
	jg, err := p.joinGraph()
	if err != nil {
		return nil, false
	}
	e, ok := jg.g.Edge(base, view)
	if !ok {
		return nil, false
	}
	return e.Data.(*Join), true
}

// Joins returns every edge of the join graph.
func (p *Project) Joins() ([]*Join, error) {
	jg, err := p.joinGraph()
	if err != nil {
		return nil, err
	}
	edges := jg.g.Edges()
	joins := make([]*Join, len(edges))
	for i, e := range edges {
		joins[i] = e.Data.(*Join)
	}
	return joins, nil
}

// OrderedJoins turns (base, view) pairs into joins, skipping self joins and
// views already joined.
func (p *Project) OrderedJoins(pairs [][2]string) ([]*Join, error) {
	var joins []*Join
	joined := make(map[string]bool)
	for _, pair := range pairs {
		base, view := pair[0], pair[1]
		if base == view {
			continue
		}
		j, ok := p.Join(base, view)
		if !ok {
			return nil, core.NewJoinError("graph", "Join not found between %s and %s", base, view)
		}
		if !joined[view] {
			joins = append(joins, j)
		}
		joined[view] = true
	}
	return joins, nil
}

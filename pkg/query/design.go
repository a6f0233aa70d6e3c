package query

import (
	"slices"
	"strings"

	"github.com/leapstack-labs/leapmetrics/internal/joingraph"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/model"
)

// design is the set of views a single statement reads and the joins that
// connect them to the base view.
type design struct {
	base  string
	joins []*model.Join
	// parent is the view each joined view hangs off in the join tree.
	parent map[string]string
	// functionalPK is the grain of the joined rows, see model.RenderOptions.
	functionalPK string
}

// views returns the base view followed by the joined views in join order.
func (ds *design) views() []string {
	out := []string{ds.base}
	for _, j := range ds.joins {
		out = append(out, j.View)
	}
	return out
}

func (ds *design) has(view string) bool {
	return slices.Contains(ds.views(), view)
}

// designJoins picks a base view and the cheapest set of joins reaching every
// required view. The first candidate base that reaches all of them wins;
// candidates are tried in the order given.
func designJoins(p *model.Project, required, candidates []string) (*design, error) {
	g, err := p.JoinGraph()
	if err != nil {
		return nil, err
	}
	tried := map[string]bool{}
	for _, base := range candidates {
		if tried[base] {
			continue
		}
		tried[base] = true
		if ds, ok := steiner(p, g, base, required); ok {
			ds.functionalPK = functionalPK(p, ds)
			return ds, nil
		}
	}
	return nil, core.NewJoinError("graph",
		"There was no join path between the views: %s. Check the identifiers on your views "+
			"and make sure they are joinable.", strings.Join(sortedUnique(required), ", "))
}

// steiner grows a join tree from base, each round adding the cheapest path
// from any view already in the tree to a view still missing. Ties go to the
// view requested first.
func steiner(p *model.Project, g *joingraph.Graph, base string, required []string) (*design, bool) {
	ds := &design{base: base, parent: map[string]string{}}
	tree := []string{base}
	inTree := map[string]bool{base: true}

	for {
		var remaining []string
		for _, v := range required {
			if !inTree[v] && !slices.Contains(remaining, v) {
				remaining = append(remaining, v)
			}
		}
		if len(remaining) == 0 {
			return ds, true
		}

		var best []string
		bestCost := -1
		for _, target := range remaining {
			for _, from := range tree {
				path, cost, ok := g.ShortestPath(from, target)
				if !ok {
					continue
				}
				if bestCost < 0 || cost < bestCost {
					best, bestCost = path, cost
				}
			}
		}
		if best == nil {
			return nil, false
		}
		for i := 0; i+1 < len(best); i++ {
			from, to := best[i], best[i+1]
			if inTree[to] {
				continue
			}
			j, ok := p.Join(from, to)
			if !ok {
				return nil, false
			}
			ds.joins = append(ds.joins, j)
			ds.parent[to] = from
			tree = append(tree, to)
			inTree[to] = true
		}
	}
}

// topicDesign joins the required views the way the topic declares.
func topicDesign(p *model.Project, t *model.Topic, required []string) (*design, error) {
	var others []string
	for _, v := range required {
		if v != t.BaseView {
			others = append(others, v)
		}
	}
	ordered, err := t.OrderRequiredViews(others)
	if err != nil {
		return nil, err
	}
	ds := &design{base: t.BaseView, parent: map[string]string{}}
	for _, v := range ordered {
		j, err := t.Join(v)
		if err != nil {
			return nil, err
		}
		ds.joins = append(ds.joins, j)
		ds.parent[v] = t.BaseView
		for _, dep := range j.RequiredViews() {
			if dep != v && dep != t.BaseView {
				ds.parent[v] = dep
			}
		}
	}
	ds.functionalPK = functionalPK(p, ds)
	return ds, nil
}

// functionalPK returns the primary key that identifies one row of the
// joined result, model.DoesNotExist when no single key does, or "" when the
// base view has no primary key.
func functionalPK(p *model.Project, ds *design) string {
	pkOf := func(view string) string {
		v, err := p.GetView(view)
		if err != nil || v.PrimaryKey() == nil {
			return ""
		}
		return v.PrimaryKey().ID()
	}

	allToOne := true
	for _, j := range ds.joins {
		switch j.Relationship {
		case model.ManyToMany:
			return model.DoesNotExist
		case model.ManyToOne, model.OneToOne:
		default:
			allToOne = false
		}
	}
	if allToOne {
		return pkOf(ds.base)
	}

	relationship := map[string]string{}
	for _, j := range ds.joins {
		relationship[j.View] = j.Relationship
	}
	var sequences [][]string
	for _, j := range ds.joins {
		var path []string
		for v := j.View; v != ds.base && v != ""; v = ds.parent[v] {
			path = append([]string{v}, path...)
		}
		sequence := []string{ds.base}
		previous := ""
		for _, v := range path {
			rel := relationship[v]
			if rel == model.OneToMany && previous == model.ManyToOne {
				return model.DoesNotExist
			}
			if rel == model.OneToMany {
				sequence = append(sequence, j.View)
			}
			previous = rel
		}
		sequences = append(sequences, sequence)
	}

	view := pkFromSequences(sequences)
	if view == model.DoesNotExist {
		return model.DoesNotExist
	}
	return pkOf(view)
}

// pkFromSequences settles on the view whose key is the grain. Sequences
// that end differently must be sub paths of the longest one.
func pkFromSequences(sequences [][]string) string {
	longest := sequences[0]
	agree := true
	for _, s := range sequences[1:] {
		if s[len(s)-1] != longest[len(longest)-1] {
			agree = false
		}
		if len(s) > len(longest) {
			longest = s
		}
	}
	final := longest[len(longest)-1]
	if agree {
		return final
	}
	for _, s := range sequences {
		if s[len(s)-1] != final && !isSublist(longest, s) {
			return model.DoesNotExist
		}
	}
	return final
}

func isSublist(main, sub []string) bool {
	for i := 0; i+len(sub) <= len(main); i++ {
		if slices.Equal(main[i:i+len(sub)], sub) {
			return true
		}
	}
	return false
}

func sortedUnique(items []string) []string {
	out := slices.Clone(items)
	slices.Sort(out)
	return slices.Compact(out)
}

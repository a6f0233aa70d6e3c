package model

import (
	"sort"

	"github.com/leapstack-labs/leapmetrics/internal/joingraph"
)

// mergedGraph links the measures of a model that can be combined through a
// merged result. Each root node (a shared canon date timeframe, or a pair of
// join graphs) points at the fields that may appear together under it.
func (p *Project) mergedGraph(m *Model) (*joingraph.Graph, error) {
	st := p.state()
	c := st.cache
	c.mu.Lock()
	g, ok := c.merged[m.Name]
	err := c.mergedErrs[m.Name]
	c.mu.Unlock()
	if ok || err != nil {
		return g, err
	}

	g, err = p.buildMergedGraph(m)

	c.mu.Lock()
	c.merged[m.Name] = g
	c.mergedErrs[m.Name] = err
	c.mu.Unlock()
	return g, err
}

// MergedGraphRoots returns the merged result roots field id belongs to,
// each prefixed with MergedResultPrefix.
func (p *Project) MergedGraphRoots(m *Model, id string) ([]string, error) {
	g, err := p.mergedGraph(m)
	if err != nil {
		return nil, err
	}
	var roots []string
	for _, r := range g.Predecessors(id) {
		roots = append(roots, MergedResultPrefix+r)
	}
	return roots, nil
}

func (p *Project) buildMergedGraph(m *Model) (*joingraph.Graph, error) {
	var measures []*Field
	for _, f := range p.ModelFields(m) {
		if f.IsMeasure() && f.CanonDate() != "" {
			measures = append(measures, f)
		}
	}
	mappings := p.ResolvedMappings(m, true)
	g := joingraph.New()

	roots, hashes, err := p.addCanonDates(g, measures, CanonDateRoot, nil)
	if err != nil {
		return nil, err
	}
	if err := addMappings(p, g, mappings, hashes, roots, true); err != nil {
		return nil, err
	}

	ordered := make([]string, 0, len(hashes))
	for h := range hashes {
		ordered = append(ordered, h)
	}
	sort.Strings(ordered)
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			pair := map[string]bool{ordered[i]: true, ordered[j]: true}
			subRoots, _, err := p.addCanonDates(g, measures, ordered[i]+"_"+ordered[j], pair)
			if err != nil {
				return nil, err
			}

			// Fields of views reachable from both graphs can join either side.
			st := p.state()
			for _, name := range st.viewOrder {
				v := st.views[name]
				if v.ModelName != m.Name {
					continue
				}
				weak, err := p.WeakJoinGraphHashes(v.Name)
				if err != nil {
					return nil, err
				}
				in := 0
				for _, h := range weak {
					if pair[h] {
						in++
					}
				}
				if in < 2 {
					continue
				}
				for _, f := range v.ListFields(true, true) {
					for _, root := range subRoots {
						if err := g.SetEdge(root, f.ID(), 1, nil); err != nil {
							return nil, err
						}
					}
				}
			}

			if err := addMappings(p, g, mappings, pair, subRoots, false); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// addCanonDates adds one root per canon date timeframe under prefix, linked
// to the timeframe and to every measure using that canon date. When only is
// set, measures outside those join graphs are skipped. It returns the roots
// added and the join graphs of all measures seen.
func (p *Project) addCanonDates(g *joingraph.Graph, measures []*Field, prefix string, only map[string]bool) ([]string, map[string]bool, error) {
	roots := make(map[string]bool)
	hashes := make(map[string]bool)
	for _, measure := range measures {
		hash, err := p.JoinGraphHash(measure.view.Name)
		if err != nil {
			return nil, nil, err
		}
		hashes[hash] = true
		if only != nil && !only[hash] {
			continue
		}
		canon, err := p.GetFieldByName(measure.CanonDate())
		if err != nil {
			// A canon date that no longer exists is reported by validation.
			continue
		}
		for _, tf := range canon.Timeframes {
			root := prefix + "_" + tf
			if err := g.SetEdge(root, canon.WithDimensionGroup(tf).ID(), 1, nil); err != nil {
				return nil, nil, err
			}
			if err := g.SetEdge(root, measure.ID(), 1, nil); err != nil {
				return nil, nil, err
			}
			roots[root] = true
		}
	}
	return sortedKeys(roots), hashes, nil
}

func addMappings(p *Project, g *joingraph.Graph, mappings map[string]ResolvedMapping, within map[string]bool, roots []string, measuresOnly bool) error {
	for _, from := range sortedKeys(mappings) {
		mapping := mappings[from]
		if measuresOnly && mapping.FieldType != FieldMeasure {
			continue
		}
		if !within[mapping.FromJoinHash] {
			continue
		}
		fromField, err := p.GetFieldByName(from)
		if err != nil {
			continue
		}
		for _, ref := range mapping.References {
			if !within[ref.ToJoinHash] {
				continue
			}
			toField, err := p.GetFieldByName(ref.Field)
			if err != nil {
				continue
			}
			for _, root := range roots {
				if err := g.SetEdge(root, fromField.ID(), 1, nil); err != nil {
					return err
				}
				if err := g.SetEdge(root, toField.ID(), 1, nil); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

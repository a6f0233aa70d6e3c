// Package joingraph provides the weighted directed graph used to decide which
// views can be joined, how expensive each join is, and which views fall into
// the same joinable component.
package joingraph

import (
	"container/heap"
	"fmt"
	"sort"
)

// Edge is a directed, weighted connection between two nodes.
type Edge struct {
	From   string
	To     string
	Weight int
	// Data holds the caller's join definition.
	Data any
}

// Graph is a directed graph with at most one edge per ordered node pair.
type Graph struct {
	nodes   map[string]struct{}
	edges   map[string]map[string]*Edge // from -> to -> edge
	parents map[string]map[string]struct{}
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:   make(map[string]struct{}),
		edges:   make(map[string]map[string]*Edge),
		parents: make(map[string]map[string]struct{}),
	}
}

// AddNode adds a node. Adding an existing node is a no-op.
func (g *Graph) AddNode(id string) {
	if _, exists := g.nodes[id]; exists {
		return
	}
	g.nodes[id] = struct{}{}
	g.edges[id] = make(map[string]*Edge)
	g.parents[id] = make(map[string]struct{})
}

// HasNode reports whether id is in the graph.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// SetEdge adds or replaces the edge from -> to, creating missing nodes.
func (g *Graph) SetEdge(from, to string, weight int, data any) error {
	if from == to {
		return fmt.Errorf("self-loop detected: %s", from)
	}
	g.AddNode(from)
	g.AddNode(to)
	g.edges[from][to] = &Edge{From: from, To: to, Weight: weight, Data: data}
	g.parents[to][from] = struct{}{}
	return nil
}

// Edge returns the edge from -> to.
func (g *Graph) Edge(from, to string) (*Edge, bool) {
	e, ok := g.edges[from][to]
	return e, ok
}

// Nodes returns every node id, sorted.
func (g *Graph) Nodes() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Successors returns the targets of id's outgoing edges, sorted.
func (g *Graph) Successors(id string) []string {
	return sortedKeys(g.edges[id])
}

// Predecessors returns the sources of id's incoming edges, sorted.
func (g *Graph) Predecessors(id string) []string {
	return sortedKeys(g.parents[id])
}

// Edges returns every edge ordered by (from, to).
func (g *Graph) Edges() []*Edge {
	var out []*Edge
	for _, from := range g.Nodes() {
		for _, to := range g.Successors(from) {
			out = append(out, g.edges[from][to])
		}
	}
	return out
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, out := range g.edges {
		count += len(out)
	}
	return count
}

// Components returns the strongly connected components. Each component is
// sorted by name, and components are ordered by size and then by first name,
// both descending.
func (g *Graph) Components() [][]string {
	index := 0
	indices := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var components [][]string

	var strongConnect func(v string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.Successors(v) {
			if _, seen := indices[w]; !seen {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var component []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				component = append(component, w)
				if w == v {
					break
				}
			}
			sort.Strings(component)
			components = append(components, component)
		}
	}

	for _, id := range g.Nodes() {
		if _, seen := indices[id]; !seen {
			strongConnect(id)
		}
	}

	sort.SliceStable(components, func(i, j int) bool {
		if len(components[i]) != len(components[j]) {
			return len(components[i]) > len(components[j])
		}
		return components[i][0] > components[j][0]
	})
	return components
}

// Reachable returns every node reachable from any of sources, including the
// sources themselves, sorted.
func (g *Graph) Reachable(sources []string) []string {
	seen := make(map[string]struct{})
	var visit func(id string)
	visit = func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		for _, child := range g.Successors(id) {
			visit(child)
		}
	}
	for _, s := range sources {
		if g.HasNode(s) {
			visit(s)
		}
	}
	return sortedKeys(seen)
}

// Ancestors returns every node with a path to id, sorted.
func (g *Graph) Ancestors(id string) []string {
	upstream := make(map[string]struct{})
	var markUpstream func(nodeID string)
	markUpstream = func(nodeID string) {
		for parentID := range g.parents[nodeID] {
			if _, ok := upstream[parentID]; !ok {
				upstream[parentID] = struct{}{}
				markUpstream(parentID)
			}
		}
	}
	markUpstream(id)
	return sortedKeys(upstream)
}

// Subgraph returns a new graph with only the given nodes and the edges
// between them.
func (g *Graph) Subgraph(ids []string) *Graph {
	sub := New()
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		if g.HasNode(id) {
			keep[id] = true
			sub.AddNode(id)
		}
	}
	for id := range keep {
		for to, e := range g.edges[id] {
			if keep[to] {
				_ = sub.SetEdge(id, to, e.Weight, e.Data)
			}
		}
	}
	return sub
}

// TopologicalSort orders nodes so that every edge points forward. Ties are
// broken by name. It fails if the graph has a cycle.
func (g *Graph) TopologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = len(g.parents[id])
	}
	var ready []string
	for id, d := range inDegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, child := range g.Successors(id) {
			inDegree[child]--
			if inDegree[child] == 0 {
				ready = append(ready, child)
				sort.Strings(ready)
			}
		}
	}
	if len(order) != len(g.nodes) {
		return nil, fmt.Errorf("cycle detected among %d nodes", len(g.nodes)-len(order))
	}
	return order, nil
}

// ShortestPath returns the cheapest path from -> to by summed edge weight.
// Among equal-cost paths the one with the lexically smallest node sequence
// wins. ok is false when to is unreachable.
func (g *Graph) ShortestPath(from, to string) (path []string, cost int, ok bool) {
	if !g.HasNode(from) || !g.HasNode(to) {
		return nil, 0, false
	}
	dist := map[string]int{from: 0}
	prev := make(map[string]string)
	done := make(map[string]bool)
	pq := &queue{{id: from}}

	for pq.Len() > 0 {
		item := heap.Pop(pq).(entry)
		if done[item.id] {
			continue
		}
		done[item.id] = true
		if item.id == to {
			break
		}
		for _, next := range g.Successors(item.id) {
			d := item.cost + g.edges[item.id][next].Weight
			if cur, seen := dist[next]; !seen || d < cur {
				dist[next] = d
				prev[next] = item.id
				heap.Push(pq, entry{id: next, cost: d})
			}
		}
	}

	if _, reached := dist[to]; !reached {
		return nil, 0, false
	}
	for at := to; ; at = prev[at] {
		path = append([]string{at}, path...)
		if at == from {
			break
		}
	}
	return path, dist[to], true
}

type entry struct {
	id   string
	cost int
}

type queue []entry

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if q[i].cost != q[j].cost {
		return q[i].cost < q[j].cost
	}
	return q[i].id < q[j].id
}
func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *queue) Push(x any)   { *q = append(*q, x.(entry)) }
func (q *queue) Pop() any {
	old := *q
	item := old[len(old)-1]
	*q = old[:len(old)-1]
	return item
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package joingraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_SetEdge(t *testing.T) {
	g := New()
	require.NoError(t, g.SetEdge("orders", "customers", 2, "m2o"))
	require.NoError(t, g.SetEdge("orders", "customers", 1, "o2o"))

	assert.Equal(t, 2, g.NodeCount())
	assert.Equal(t, 1, g.EdgeCount())

	e, ok := g.Edge("orders", "customers")
	require.True(t, ok)
	assert.Equal(t, 1, e.Weight)
	assert.Equal(t, "o2o", e.Data)

	_, ok = g.Edge("customers", "orders")
	assert.False(t, ok)

	assert.Error(t, g.SetEdge("orders", "orders", 1, nil))
}

func TestGraph_Components(t *testing.T) {
	g := New()
	for _, pair := range [][2]string{
		{"order_lines", "orders"}, {"orders", "order_lines"},
		{"orders", "customers"}, {"customers", "orders"},
		{"sessions", "customers"},
	} {
		require.NoError(t, g.SetEdge(pair[0], pair[1], 2, nil))
	}
	g.AddNode("events")

	got := g.Components()
	assert.Equal(t, [][]string{
		{"customers", "order_lines", "orders"},
		{"sessions"},
		{"events"},
	}, got)
}

func TestGraph_Reachable(t *testing.T) {
	g := New()
	require.NoError(t, g.SetEdge("a", "b", 1, nil))
	require.NoError(t, g.SetEdge("b", "c", 1, nil))
	require.NoError(t, g.SetEdge("d", "a", 1, nil))

	assert.Equal(t, []string{"a", "b", "c"}, g.Reachable([]string{"a"}))
	assert.Equal(t, []string{"a", "b", "c", "d"}, g.Reachable([]string{"d", "missing"}))
	assert.Equal(t, []string{"a", "d"}, g.Ancestors("b"))
}

func TestGraph_ShortestPath(t *testing.T) {
	tests := []struct {
		name     string
		edges    [][3]any
		from, to string
		wantPath []string
		wantCost int
		wantOK   bool
	}{
		{
			name:     "direct",
			edges:    [][3]any{{"a", "b", 2}},
			from:     "a",
			to:       "b",
			wantPath: []string{"a", "b"},
			wantCost: 2,
			wantOK:   true,
		},
		{
			name:     "cheaper indirect",
			edges:    [][3]any{{"a", "c", 4}, {"a", "b", 1}, {"b", "c", 1}},
			from:     "a",
			to:       "c",
			wantPath: []string{"a", "b", "c"},
			wantCost: 2,
			wantOK:   true,
		},
		{
			name:   "unreachable",
			edges:  [][3]any{{"b", "a", 1}},
			from:   "a",
			to:     "b",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			for _, e := range tt.edges {
				require.NoError(t, g.SetEdge(e[0].(string), e[1].(string), e[2].(int), nil))
			}
			path, cost, ok := g.ShortestPath(tt.from, tt.to)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantPath, path)
				assert.Equal(t, tt.wantCost, cost)
			}
		})
	}
}

func TestGraph_TopologicalSort(t *testing.T) {
	g := New()
	require.NoError(t, g.SetEdge("orders", "customers", 1, nil))
	require.NoError(t, g.SetEdge("orders", "discounts", 1, nil))
	require.NoError(t, g.SetEdge("discounts", "discount_detail", 1, nil))

	order, err := g.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "customers", "discounts", "discount_detail"}, order)

	require.NoError(t, g.SetEdge("discount_detail", "orders", 1, nil))
	_, err = g.TopologicalSort()
	assert.Error(t, err)
}

func TestGraph_Subgraph(t *testing.T) {
	g := New()
	require.NoError(t, g.SetEdge("a", "b", 1, nil))
	require.NoError(t, g.SetEdge("b", "c", 1, nil))

	sub := g.Subgraph([]string{"a", "b", "x"})
	assert.Equal(t, []string{"a", "b"}, sub.Nodes())
	assert.Equal(t, 1, sub.EdgeCount())
}

package graph

import (
	"testing"

	appErrors "graphbridge/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestGetRelatedImportScenario(t *testing.T) {
	store, _, _ := newTestStore(nil)
	_, err := store.AddNode("file:a.ex", NodeTypeFile, nil)
	require.NoError(t, err)
	_, err = store.AddNode("file:b.ex", NodeTypeFile, nil)
	require.NoError(t, err)
	mustEdge(t, store, "file:a.ex", "file:b.ex", EdgeTypeImports)

	related, err := store.GetRelated("file:a.ex", 1, TraversalFilter{Direction: DirectionOutgoing})
	require.NoError(t, err)
	assert.Equal(t, []string{"file:b.ex"}, ids(related))

	related, err = store.GetRelated("file:b.ex", 1, TraversalFilter{Direction: DirectionOutgoing})
	require.NoError(t, err)
	assert.Empty(t, related)

	related, err = store.GetRelated("file:b.ex", 1, TraversalFilter{Direction: DirectionIncoming})
	require.NoError(t, err)
	assert.Equal(t, []string{"file:a.ex"}, ids(related))
}

func TestGetRelatedCycleTerminates(t *testing.T) {
	store, _, _ := newTestStore(nil)
	for _, id := range []string{"A", "B", "C"} {
		_, err := store.AddNode(id, NodeTypeFunction, nil)
		require.NoError(t, err)
	}
	mustEdge(t, store, "A", "B", EdgeTypeCalls)
	mustEdge(t, store, "B", "C", EdgeTypeCalls)
	mustEdge(t, store, "C", "A", EdgeTypeCalls)

	related, err := store.GetRelated("A", 10, TraversalFilter{Direction: DirectionOutgoing})
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, ids(related))

	both, err := store.GetRelated("A", 10, TraversalFilter{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"B", "C"}, ids(both))
}

func TestGetRelatedFilters(t *testing.T) {
	store, _, _ := newTestStore(nil)
	nodes := map[string]NodeType{
		"file:main.go": NodeTypeFile,
		"fn:main":      NodeTypeFunction,
		"fn:helper":    NodeTypeFunction,
		"type:Config":  NodeTypeType,
		"task:refac":   NodeTypeTask,
	}
	for id, nt := range nodes {
		_, err := store.AddNode(id, nt, nil)
		require.NoError(t, err)
	}
	mustEdge(t, store, "file:main.go", "fn:main", EdgeTypeDefines)
	mustEdge(t, store, "file:main.go", "type:Config", EdgeTypeDefines)
	mustEdge(t, store, "fn:main", "fn:helper", EdgeTypeCalls)
	mustEdge(t, store, "fn:main", "type:Config", EdgeTypeReferences)
	mustEdge(t, store, "task:refac", "file:main.go", EdgeTypeReferences)

	tests := []struct {
		name   string
		depth  int
		filter TraversalFilter
		want   []string
	}{
		{
			name:   "depth one both directions",
			depth:  1,
			filter: TraversalFilter{},
			want:   []string{"fn:main", "task:refac", "type:Config"},
		},
		{
			name:   "depth two is level ordered",
			depth:  2,
			filter: TraversalFilter{Direction: DirectionOutgoing},
			want:   []string{"fn:main", "type:Config", "fn:helper"},
		},
		{
			name:   "edge type filter",
			depth:  3,
			filter: TraversalFilter{Direction: DirectionOutgoing, EdgeTypes: []EdgeType{EdgeTypeDefines}},
			want:   []string{"fn:main", "type:Config"},
		},
		{
			name:   "node type filter prunes the frontier",
			depth:  3,
			filter: TraversalFilter{Direction: DirectionOutgoing, NodeTypes: []NodeType{NodeTypeType}},
			want:   []string{"type:Config"},
		},
		{
			name:   "zero depth",
			depth:  0,
			filter: TraversalFilter{},
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			related, err := store.GetRelated("file:main.go", tt.depth, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(related))
		})
	}
}

func TestGetRelatedMissingStart(t *testing.T) {
	store, _, _ := newTestStore(nil)
	_, err := store.GetRelated("nope", 2, TraversalFilter{})
	assert.True(t, appErrors.IsNotFound(err))
}

func TestGetSubgraph(t *testing.T) {
	store, clock, _ := newTestStore(nil)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := store.AddNode(id, NodeTypeEntity, nil)
		require.NoError(t, err)
	}
	mustEdge(t, store, "a", "b", EdgeTypeRelatesTo)
	mustEdge(t, store, "c", "a", EdgeTypeRelatesTo)
	mustEdge(t, store, "b", "c", EdgeTypeContains)
	mustEdge(t, store, "c", "d", EdgeTypeContains)
	mustEdge(t, store, "d", "e", EdgeTypeContains)

	sub, err := store.GetSubgraph("a", 1)
	require.NoError(t, err)

	assert.Equal(t, "a", sub.Root)
	assert.Equal(t, clock.Now(), sub.ExportedAt)
	assert.Len(t, sub.Nodes, 3)
	assert.Contains(t, sub.Nodes, "a")
	assert.Contains(t, sub.Nodes, "b")
	assert.Contains(t, sub.Nodes, "c")

	// induced: b->c joins two members even though it was not walked
	assert.Len(t, sub.Edges, 3)
	assert.Contains(t, sub.Edges, EdgeKey{From: "b", To: "c", Type: EdgeTypeContains})
	assert.NotContains(t, sub.Edges, EdgeKey{From: "c", To: "d", Type: EdgeTypeContains})

	whole, err := store.GetSubgraph("a", 10)
	require.NoError(t, err)
	assert.Len(t, whole.Nodes, 5)
	assert.Len(t, whole.Edges, 5)

	alone, err := store.GetSubgraph("e", 0)
	require.NoError(t, err)
	assert.Len(t, alone.Nodes, 1)
	assert.Empty(t, alone.Edges)

	_, err = store.GetSubgraph("zzz", 1)
	assert.True(t, appErrors.IsNotFound(err))
}

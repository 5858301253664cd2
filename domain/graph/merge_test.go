package graph

import (
	"encoding/json"
	"testing"
	"time"

	"graphbridge/domain/config"
	"graphbridge/domain/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeLastWriteWinsOnNodes(t *testing.T) {
	tests := []struct {
		name        string
		offset      time.Duration
		wantName    string
		wantUpdated int
	}{
		{name: "older incoming keeps local", offset: -time.Second, wantName: "local", wantUpdated: 0},
		{name: "tie keeps local", offset: 0, wantName: "local", wantUpdated: 0},
		{name: "newer incoming replaces local", offset: time.Second, wantName: "remote", wantUpdated: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, clock, _ := newTestStore(nil)
			local, err := store.AddNode("n", NodeTypeEntity, Attributes{"name": "local", "only_local": true})
			require.NoError(t, err)
			ts := local.UpdatedAt

			in := NewSubgraph()
			in.Nodes["n"] = &Node{
				ID:        "n",
				Type:      NodeTypeEntity,
				Attrs:     Attributes{"name": "remote"},
				CreatedAt: ts.Add(-time.Hour),
				UpdatedAt: ts.Add(tt.offset),
			}
			clock.Advance(time.Hour)

			result := store.MergeSubgraph(in)
			assert.Equal(t, tt.wantUpdated, result.NodesUpdated)

			got, err := store.GetNode("n")
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, got.Attrs["name"])
			if tt.wantUpdated == 1 {
				assert.Equal(t, Attributes{"name": "remote"}, got.Attrs)
				assert.True(t, got.UpdatedAt.Equal(ts.Add(tt.offset)))
				assert.Equal(t, []*Node{got}, store.NodesByName("remote"))
				assert.Empty(t, store.NodesByName("local"))
			} else {
				assert.Equal(t, true, got.Attrs["only_local"])
			}
			assert.NoError(t, store.Validate())
		})
	}
}

func TestMergeEdgesFirstWriterWins(t *testing.T) {
	store, _, _ := newTestStore(nil)
	_, _ = store.AddNode("a", NodeTypeFile, nil)
	_, _ = store.AddNode("b", NodeTypeFile, nil)
	_, err := store.AddEdge("a", "b", EdgeTypeImports, Attributes{"weight": 1})
	require.NoError(t, err)

	in := NewSubgraph()
	key := EdgeKey{From: "a", To: "b", Type: EdgeTypeImports}
	in.Edges[key] = &Edge{
		From:      "a",
		To:        "b",
		Type:      EdgeTypeImports,
		Attrs:     Attributes{"weight": 9},
		CreatedAt: time.Now().Add(24 * time.Hour),
	}

	result := store.MergeSubgraph(in)
	assert.Equal(t, 1, result.EdgesExisting)
	assert.Equal(t, 0, result.EdgesAdded)

	edges := store.GetEdges("a", DirectionOutgoing)
	require.Len(t, edges, 1)
	assert.Equal(t, 1, edges[0].Attrs["weight"])
}

func TestMergeIsIdempotent(t *testing.T) {
	store, clock, rec := newTestStore(nil)
	_, _ = store.AddNode("local", NodeTypeContext, Attributes{"name": "ctx"})

	ts := clock.Now().Add(-time.Minute)
	in := NewSubgraph()
	in.Nodes["file:a.ex"] = &Node{ID: "file:a.ex", Type: NodeTypeFile, Attrs: Attributes{"name": "a.ex"}, UpdatedAt: ts}
	in.Nodes["file:b.ex"] = &Node{ID: "file:b.ex", Type: NodeTypeFile, Attrs: Attributes{"name": "b.ex"}, CreatedAt: ts, UpdatedAt: ts}
	in.Edges[EdgeKey{From: "file:a.ex", To: "file:b.ex", Type: EdgeTypeImports}] = &Edge{
		From: "file:a.ex", To: "file:b.ex", Type: EdgeTypeImports, CreatedAt: ts,
	}
	in.Edges[EdgeKey{From: "file:a.ex", To: "local", Type: EdgeTypeRelatesTo}] = &Edge{
		From: "file:a.ex", To: "local", Type: EdgeTypeRelatesTo,
	}

	first := store.MergeSubgraph(in)
	assert.Equal(t, 2, first.NodesAdded)
	assert.Equal(t, 2, first.EdgesAdded)
	assert.True(t, first.Changed())
	once := store.Export("t1")

	clock.Advance(time.Minute)
	second := store.MergeSubgraph(in)
	assert.False(t, second.Changed())
	assert.Equal(t, 2, second.NodesUnchanged)
	assert.Equal(t, 2, second.EdgesExisting)
	twice := store.Export("t1")

	assert.Equal(t, once.Nodes, twice.Nodes)
	assert.Equal(t, once.Edges, twice.Edges)
	assert.Equal(t, once.Stats, twice.Stats)

	// a missing created_at falls back to updated_at for nodes and to the merge
	// clock for edges
	assert.True(t, once.Nodes["file:a.ex"].CreatedAt.Equal(ts))
	edge := once.Edges[EdgeKey{From: "file:a.ex", To: "local", Type: EdgeTypeRelatesTo}]
	assert.True(t, edge.CreatedAt.Equal(clock.Now().Add(-time.Minute)))

	merged := 0
	for _, c := range rec.changes {
		if c.Action == events.ActionSubgraphMerged {
			merged++
		}
	}
	assert.Equal(t, 2, merged)
}

func TestMergeSkipsWhatWouldBreakInvariants(t *testing.T) {
	store, clock, _ := newTestStore(&config.DomainConfig{MaxNodes: 3, MaxEdgesPerNode: 1})
	_, _ = store.AddNode("hub", NodeTypeFile, nil)
	ts := clock.Now()

	in := NewSubgraph()
	for _, id := range []string{"x", "y", "z"} {
		in.Nodes[id] = &Node{ID: id, Type: NodeTypeEntity, UpdatedAt: ts}
	}
	in.Nodes["bad"] = &Node{ID: "bad", Type: NodeType("widget"), UpdatedAt: ts}
	in.Nodes["stale"] = &Node{ID: "stale", Type: NodeTypeEntity}
	in.Edges[EdgeKey{From: "hub", To: "x", Type: EdgeTypeContains}] = &Edge{From: "hub", To: "x", Type: EdgeTypeContains}
	in.Edges[EdgeKey{From: "hub", To: "y", Type: EdgeTypeContains}] = &Edge{From: "hub", To: "y", Type: EdgeTypeContains}
	in.Edges[EdgeKey{From: "x", To: "ghost", Type: EdgeTypeCalls}] = &Edge{From: "x", To: "ghost", Type: EdgeTypeCalls}
	in.Edges[EdgeKey{From: "x", To: "y", Type: EdgeType("knows")}] = &Edge{From: "x", To: "y", Type: EdgeType("knows")}

	result := store.MergeSubgraph(in)

	assert.Equal(t, 2, result.NodesAdded)
	assert.Equal(t, 1, result.NodesSkipped)
	assert.Equal(t, 1, result.EdgesAdded)
	assert.Equal(t, 2, result.EdgesSkipped)
	assert.Equal(t, 3, result.Malformed)
	assert.Len(t, result.Errors, 6)

	assert.Equal(t, 3, store.NodeCount())
	assert.Equal(t, 1, store.EdgeCount())
	assert.NoError(t, store.Validate())
}

func TestDecodeWire(t *testing.T) {
	payload := map[string]any{
		"nodes": map[string]any{
			"file:a.ex": map[string]any{
				"id":         "file:a.ex",
				"type":       "FILE",
				"attrs":      map[string]any{"name": "a.ex", "lines": float64(120)},
				"created_at": "2024-03-01T10:00:00Z",
				"updated_at": "2024-03-01T11:00:00.123456Z",
			},
			"file:b.ex": map[string]any{
				"id":         "file:b.ex",
				"type":       ":file",
				"updated_at": time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC),
			},
			"keyed-only": map[string]any{
				"type":       "entity",
				"updated_at": "2024-03-01T11:00:00Z",
			},
			"bad-type":   map[string]any{"id": "bad-type", "type": "widget", "updated_at": "2024-03-01T11:00:00Z"},
			"bad-time":   map[string]any{"id": "bad-time", "type": "task", "updated_at": "yesterday"},
			"no-time":    map[string]any{"id": "no-time", "type": "task"},
			"not-an-obj": "oops",
			"bad-attrs":  map[string]any{"id": "bad-attrs", "type": "task", "updated_at": "2024-03-01T11:00:00Z", "attrs": []any{1}},
		},
		"edges": map[string]any{
			"file:a.ex:file:b.ex:imports": map[string]any{
				"from": "file:a.ex",
				"to":   "file:b.ex",
				"type": "imports",
			},
			"whatever": map[string]any{
				"from":       "file:b.ex",
				"to":         "keyed-only",
				"type":       "References",
				"created_at": "2024-03-01T09:00:00Z",
			},
			"no-from": map[string]any{"to": "file:b.ex", "type": "calls"},
			"bad":     map[string]any{"from": "file:a.ex", "to": "file:b.ex", "type": "knows"},
		},
	}

	decoded, err := DecodeWire(payload)
	require.NoError(t, err)

	sub := decoded.Subgraph
	assert.Len(t, sub.Nodes, 3)
	assert.Len(t, sub.Edges, 2)
	assert.Len(t, decoded.Malformed, 7)

	a := sub.Nodes["file:a.ex"]
	require.NotNil(t, a)
	assert.Equal(t, NodeTypeFile, a.Type)
	assert.Equal(t, "a.ex", a.Attrs["name"])
	assert.Equal(t, 123456000, a.UpdatedAt.Nanosecond())
	assert.True(t, a.CreatedAt.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))

	b := sub.Nodes["file:b.ex"]
	require.NotNil(t, b)
	assert.Equal(t, b.UpdatedAt, b.CreatedAt)
	assert.NotNil(t, b.Attrs)

	assert.Equal(t, "keyed-only", sub.Nodes["keyed-only"].ID)

	imports := sub.Edges[EdgeKey{From: "file:a.ex", To: "file:b.ex", Type: EdgeTypeImports}]
	require.NotNil(t, imports)
	assert.True(t, imports.CreatedAt.IsZero())
	assert.Contains(t, sub.Edges, EdgeKey{From: "file:b.ex", To: "keyed-only", Type: EdgeTypeReferences})

	store, _, _ := newTestStore(nil)
	result := store.MergeDecoded(decoded)
	assert.Equal(t, 3, result.NodesAdded)
	assert.Equal(t, 2, result.EdgesAdded)
	assert.Equal(t, 7, result.Malformed)
	assert.NoError(t, store.Validate())
}

func TestDecodeWireRejectsBadSections(t *testing.T) {
	_, err := DecodeWire(map[string]any{"nodes": []any{}})
	assert.Error(t, err)

	_, err = DecodeJSON([]byte(`[1, 2]`))
	assert.Error(t, err)

	decoded, err := DecodeJSON([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, decoded.Subgraph.Nodes)
	assert.Empty(t, decoded.Malformed)
}

func TestExportRoundTripsThroughJSON(t *testing.T) {
	source, clock, _ := newTestStore(nil)
	_, _ = source.AddNode("file:a.ex", NodeTypeFile, Attributes{"name": "a.ex"})
	clock.Advance(time.Second)
	_, _ = source.AddNode("file:b.ex", NodeTypeFile, Attributes{"name": "b.ex"})
	_, _ = source.AddNode("task:1", NodeTypeTask, Attributes{"name": "ship", "priority": "high"})
	mustEdge(t, source, "file:a.ex", "file:b.ex", EdgeTypeImports)
	mustEdge(t, source, "task:1", "file:a.ex", EdgeTypeReferences)

	export := source.Export("tenant-a")
	assert.Equal(t, "tenant-a", export.TenantID)
	assert.Equal(t, 3, export.Stats.NodeCount)
	assert.Equal(t, 2, export.Stats.EdgeCount)

	data, err := json.Marshal(export)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"file%3Aa.ex:file%3Ab.ex:imports"`)

	decoded, err := DecodeJSON(data)
	require.NoError(t, err)
	require.Empty(t, decoded.Malformed)

	peer, _, _ := newTestStore(nil)
	result := peer.MergeDecoded(decoded)
	assert.Equal(t, 3, result.NodesAdded)
	assert.Equal(t, 2, result.EdgesAdded)

	for id, want := range export.Nodes {
		got, err := peer.GetNode(id)
		require.NoError(t, err)
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.Attrs, got.Attrs)
		assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
		assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	}

	// the native export is itself a merge input
	again := peer.MergeSubgraph(export.Subgraph())
	assert.False(t, again.Changed())
}

func TestExportKeepsEdgesWhoseIDsContainColons(t *testing.T) {
	source, _, _ := newTestStore(nil)
	for _, id := range []string{"a:b", "c", "a", "b:c"} {
		_, err := source.AddNode(id, NodeTypeEntity, nil)
		require.NoError(t, err)
	}
	mustEdge(t, source, "a:b", "c", EdgeTypeCalls)
	mustEdge(t, source, "a", "b:c", EdgeTypeCalls)

	data, err := json.Marshal(source.Export("tenant-a"))
	require.NoError(t, err)

	decoded, err := DecodeJSON(data)
	require.NoError(t, err)
	require.Empty(t, decoded.Malformed)
	assert.Len(t, decoded.Subgraph.Edges, 2)

	peer, _, _ := newTestStore(nil)
	result := peer.MergeDecoded(decoded)
	assert.Equal(t, 4, result.NodesAdded)
	assert.Equal(t, 2, result.EdgesAdded)
	assert.Equal(t, source.EdgeCount(), peer.EdgeCount())
	assert.NoError(t, peer.Validate())
}

func TestDecodeWireRejectsMismatchedIDs(t *testing.T) {
	ts := "2024-03-01T11:00:00Z"
	decoded, err := DecodeWire(map[string]any{
		"nodes": map[string]any{
			"x": map[string]any{"id": "y", "type": "entity", "updated_at": ts},
			"y": map[string]any{"id": "y", "type": "entity", "updated_at": ts},
		},
		"edges": map[string]any{
			"first":  map[string]any{"from": "y", "to": "y", "type": "calls"},
			"second": map[string]any{"from": "y", "to": "y", "type": "calls"},
		},
	})
	require.NoError(t, err)

	assert.Len(t, decoded.Subgraph.Nodes, 1)
	assert.Contains(t, decoded.Subgraph.Nodes, "y")
	assert.Len(t, decoded.Subgraph.Edges, 1)
	require.Len(t, decoded.Malformed, 2)
	assert.Contains(t, decoded.Malformed[0], `node "x"`)
	assert.Contains(t, decoded.Malformed[1], `edge "second"`)

	native := NewSubgraph()
	native.Nodes["x"] = &Node{ID: "y", Type: NodeTypeEntity, UpdatedAt: time.Now()}
	store, _, _ := newTestStore(nil)
	assert.Equal(t, 1, store.MergeSubgraph(native).Malformed)
}

package graph

import (
	"fmt"
	"sort"

	"graphbridge/domain/events"
	appErrors "graphbridge/pkg/errors"
)

// MergeResult reports what a merge did with each incoming record
type MergeResult struct {
	NodesAdded     int      `json:"nodes_added"`
	NodesUpdated   int      `json:"nodes_updated"`
	NodesUnchanged int      `json:"nodes_unchanged"`
	NodesSkipped   int      `json:"nodes_skipped"`
	EdgesAdded     int      `json:"edges_added"`
	EdgesExisting  int      `json:"edges_existing"`
	EdgesSkipped   int      `json:"edges_skipped"`
	Malformed      int      `json:"malformed"`
	Errors         []string `json:"errors,omitempty"`
}

// Changed reports whether the merge modified the store
func (r MergeResult) Changed() bool {
	return r.NodesAdded+r.NodesUpdated+r.EdgesAdded > 0
}

func (r *MergeResult) skip(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// MergeSubgraph reconciles a native-shaped subgraph into the store.
//
// Nodes are applied first. An unknown node is inserted with its own
// timestamps; a known node is replaced only when the incoming UpdatedAt is
// strictly later, so ties keep the local copy. Edges are first-writer-wins:
// an incoming edge is inserted only when its key is absent and is never used
// to overwrite a local edge. Records that would break an invariant or are
// malformed are skipped and the rest of the batch proceeds.
func (s *Store) MergeSubgraph(in *Subgraph) MergeResult {
	return s.merge(in, nil)
}

// MergeDecoded merges the output of DecodeWire or DecodeJSON, counting the
// records the decoder already rejected as malformed
func (s *Store) MergeDecoded(in *Decoded) MergeResult {
	if in == nil {
		return s.merge(nil, nil)
	}
	return s.merge(in.Subgraph, in.Malformed)
}

func (s *Store) merge(in *Subgraph, malformed []string) MergeResult {
	result := MergeResult{
		Malformed: len(malformed),
		Errors:    append([]string(nil), malformed...),
	}
	if in == nil {
		in = NewSubgraph()
	}

	ids := make([]string, 0, len(in.Nodes))
	for id := range in.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, key := range ids {
		incoming := in.Nodes[key]
		if err := validateNative(key, incoming); err != nil {
			result.Malformed++
			result.skip("node %q: %v", key, err)
			continue
		}

		local, exists := s.nodes[incoming.ID]
		switch {
		case !exists:
			if len(s.nodes) >= s.cfg.MaxNodes {
				result.NodesSkipped++
				result.skip("node %q: %v", incoming.ID, appErrors.NodeLimitExceeded(s.cfg.MaxNodes))
				continue
			}
			s.insertNode(normalizedNode(incoming))
			result.NodesAdded++
		case incoming.UpdatedAt.After(local.UpdatedAt):
			s.replaceNode(normalizedNode(incoming))
			result.NodesUpdated++
		default:
			result.NodesUnchanged++
		}
	}

	keys := make([]EdgeKey, 0, len(in.Edges))
	edgesByKey := make(map[EdgeKey]*Edge, len(in.Edges))
	for mapKey, edge := range in.Edges {
		if err := validateNativeEdge(edge); err != nil {
			result.Malformed++
			result.skip("edge %q: %v", mapKey.String(), err)
			continue
		}
		// the record's own fields are authoritative over the map key
		key := edge.Key()
		if _, dup := edgesByKey[key]; !dup {
			keys = append(keys, key)
		}
		edgesByKey[key] = edge
	}
	sortKeys(keys)

	for _, key := range keys {
		if _, exists := s.edges[key]; exists {
			result.EdgesExisting++
			continue
		}
		if _, ok := s.nodes[key.From]; !ok {
			result.EdgesSkipped++
			result.skip("edge %q: %v", key.String(), appErrors.NodeNotFound(key.From))
			continue
		}
		if _, ok := s.nodes[key.To]; !ok {
			result.EdgesSkipped++
			result.skip("edge %q: %v", key.String(), appErrors.NodeNotFound(key.To))
			continue
		}
		if len(s.outgoing[key.From]) >= s.cfg.MaxEdgesPerNode {
			result.EdgesSkipped++
			result.skip("edge %q: %v", key.String(), appErrors.EdgeLimitExceeded(key.From, s.cfg.MaxEdgesPerNode))
			continue
		}

		edge := edgesByKey[key].Clone()
		if edge.Attrs == nil {
			edge.Attrs = Attributes{}
		}
		if edge.CreatedAt.IsZero() {
			edge.CreatedAt = s.now()
		}
		s.insertEdge(edge)
		result.EdgesAdded++
	}

	s.emit(events.ActionSubgraphMerged, map[string]any{
		"nodes_added":     result.NodesAdded,
		"nodes_updated":   result.NodesUpdated,
		"nodes_unchanged": result.NodesUnchanged,
		"nodes_skipped":   result.NodesSkipped,
		"edges_added":     result.EdgesAdded,
		"edges_existing":  result.EdgesExisting,
		"edges_skipped":   result.EdgesSkipped,
		"malformed":       result.Malformed,
	})
	return result
}

func normalizedNode(in *Node) *Node {
	node := in.Clone()
	if node.Attrs == nil {
		node.Attrs = Attributes{}
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = node.UpdatedAt
	}
	return node
}

// Export returns the tenant's full graph in the native shape. Its JSON form
// decodes through DecodeJSON into a valid merge input.
func (s *Store) Export(tenantID string) *Export {
	nodes := make(map[string]*Node, len(s.nodes))
	for id, node := range s.nodes {
		nodes[id] = node.Clone()
	}
	edges := make(map[EdgeKey]*Edge, len(s.edges))
	for key, edge := range s.edges {
		edges[key] = edge.Clone()
	}
	return &Export{
		Nodes:      nodes,
		Edges:      edges,
		TenantID:   tenantID,
		ExportedAt: s.now(),
		Stats:      s.Stats(),
	}
}

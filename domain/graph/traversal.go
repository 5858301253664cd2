package graph

import (
	"sort"

	appErrors "graphbridge/pkg/errors"
)

// TraversalFilter narrows GetRelated. Zero values mean no restriction, and a
// zero Direction follows edges both ways.
type TraversalFilter struct {
	Direction Direction
	EdgeTypes []EdgeType
	NodeTypes []NodeType
}

// GetRelated walks breadth-first from id's neighbours for up to depth levels.
// The start node is never returned and every node appears at most once, so
// cycles terminate. Results are ordered by level, then by id within a level.
func (s *Store) GetRelated(id string, depth int, filter TraversalFilter) ([]*Node, error) {
	if _, exists := s.nodes[id]; !exists {
		return nil, appErrors.NodeNotFound(id)
	}

	direction := filter.Direction.orDefault()
	edgeTypes := typeFilter(filter.EdgeTypes)
	var nodeTypes map[NodeType]struct{}
	if len(filter.NodeTypes) > 0 {
		nodeTypes = make(map[NodeType]struct{}, len(filter.NodeTypes))
		for _, t := range filter.NodeTypes {
			nodeTypes[t] = struct{}{}
		}
	}

	visited := idSet{id: {}}
	frontier := []string{id}
	result := make([]*Node, 0)

	for ; depth > 0 && len(frontier) > 0; depth-- {
		next := make(idSet)
		for _, current := range frontier {
			for _, key := range s.incidentKeys(current, direction, edgeTypes) {
				neighbour := key.To
				if neighbour == current {
					neighbour = key.From
				}
				if _, seen := visited[neighbour]; seen {
					continue
				}
				next[neighbour] = struct{}{}
			}
		}

		level := make([]string, 0, len(next))
		for nid := range next {
			if nodeTypes != nil {
				if _, ok := nodeTypes[s.nodes[nid].Type]; !ok {
					continue
				}
			}
			level = append(level, nid)
		}
		sort.Strings(level)

		for _, nid := range level {
			visited[nid] = struct{}{}
			result = append(result, s.nodes[nid].Clone())
		}
		frontier = level
	}

	return result, nil
}

// GetSubgraph collects every node within depth hops of id in either
// direction, root included, and returns the subgraph they induce.
func (s *Store) GetSubgraph(id string, depth int) (*Subgraph, error) {
	if _, exists := s.nodes[id]; !exists {
		return nil, appErrors.NodeNotFound(id)
	}

	reach := idSet{id: {}}
	frontier := []string{id}
	for ; depth > 0 && len(frontier) > 0; depth-- {
		var next []string
		for _, current := range frontier {
			for _, key := range s.incidentKeys(current, DirectionBoth, nil) {
				neighbour := key.To
				if neighbour == current {
					neighbour = key.From
				}
				if _, seen := reach[neighbour]; seen {
					continue
				}
				reach[neighbour] = struct{}{}
				next = append(next, neighbour)
			}
		}
		frontier = next
	}

	sub := NewSubgraph()
	sub.Root = id
	sub.ExportedAt = s.now()
	for nid := range reach {
		sub.Nodes[nid] = s.nodes[nid].Clone()
		for key := range s.outgoing[nid] {
			if _, ok := reach[key.To]; ok {
				sub.Edges[key] = s.edges[key].Clone()
			}
		}
	}
	return sub, nil
}

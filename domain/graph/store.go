package graph

import (
	"fmt"
	"sort"
	"time"

	"graphbridge/domain/config"
	"graphbridge/domain/events"
	appErrors "graphbridge/pkg/errors"
)

type idSet map[string]struct{}
type keySet map[EdgeKey]struct{}

// Store is a single tenant's graph. Nodes and edges live in id-keyed maps;
// adjacency and the type and name indexes hold ids only, so there are no
// pointer cycles between records.
type Store struct {
	cfg      *config.DomainConfig
	now      func() time.Time
	onChange func(events.Change)

	nodes    map[string]*Node
	edges    map[EdgeKey]*Edge
	outgoing map[string]keySet
	incoming map[string]keySet
	byType   map[NodeType]idSet
	byName   map[string]idSet
}

// Option configures a Store
type Option func(*Store)

// WithClock replaces time.Now as the source of created/updated timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithChangeHook registers the callback invoked after every successful mutation
func WithChangeHook(fn func(events.Change)) Option {
	return func(s *Store) {
		s.onChange = fn
	}
}

// NewStore creates an empty graph bounded by cfg. A nil cfg uses the defaults.
func NewStore(cfg *config.DomainConfig, opts ...Option) *Store {
	s := &Store{
		cfg:      cfg.WithDefaults(),
		now:      time.Now,
		nodes:    make(map[string]*Node),
		edges:    make(map[EdgeKey]*Edge),
		outgoing: make(map[string]keySet),
		incoming: make(map[string]keySet),
		byType:   make(map[NodeType]idSet),
		byName:   make(map[string]idSet),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the limits this store enforces
func (s *Store) Config() config.DomainConfig {
	return *s.cfg
}

// NodeCount returns the number of nodes
func (s *Store) NodeCount() int {
	return len(s.nodes)
}

// EdgeCount returns the number of edges
func (s *Store) EdgeCount() int {
	return len(s.edges)
}

// AddNode creates a node. The attribute map is copied.
func (s *Store) AddNode(id string, nodeType NodeType, attrs Attributes) (*Node, error) {
	if id == "" {
		return nil, appErrors.Validation("EMPTY_NODE_ID", "node id is required")
	}
	if !nodeType.Valid() {
		return nil, appErrors.InvalidNodeType(string(nodeType))
	}
	if _, exists := s.nodes[id]; exists {
		return nil, appErrors.Conflict("NODE_EXISTS", fmt.Sprintf("node %q already exists", id)).
			WithDetail("node_id", id)
	}
	if len(s.nodes) >= s.cfg.MaxNodes {
		return nil, appErrors.NodeLimitExceeded(s.cfg.MaxNodes)
	}

	now := s.now()
	node := &Node{
		ID:        id,
		Type:      nodeType,
		Attrs:     attrs.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.insertNode(node)

	s.emit(events.ActionNodeAdded, map[string]any{"node": node.Clone()})
	return node.Clone(), nil
}

// UpdateNode shallow-merges attrs over the node's attributes and bumps
// UpdatedAt. CreatedAt and Type never change.
func (s *Store) UpdateNode(id string, attrs Attributes) (*Node, error) {
	node, exists := s.nodes[id]
	if !exists {
		return nil, appErrors.NodeNotFound(id)
	}

	oldName, hadName := node.Attrs.Name()
	for k, v := range attrs {
		node.Attrs[k] = v
	}
	node.UpdatedAt = s.now()

	newName, hasName := node.Attrs.Name()
	if hadName != hasName || oldName != newName {
		if hadName {
			s.unindexName(oldName, id)
		}
		if hasName {
			s.indexName(newName, id)
		}
	}

	changed := make([]string, 0, len(attrs))
	for k := range attrs {
		changed = append(changed, k)
	}
	sort.Strings(changed)

	s.emit(events.ActionNodeUpdated, map[string]any{"node": node.Clone(), "changed": changed})
	return node.Clone(), nil
}

// RemoveNode deletes a node together with every edge touching it
func (s *Store) RemoveNode(id string) error {
	if _, exists := s.nodes[id]; !exists {
		return appErrors.NodeNotFound(id)
	}

	removed := s.deleteNode(id)

	s.emit(events.ActionNodeRemoved, map[string]any{"id": id, "edges_removed": removed})
	return nil
}

// GetNode returns a copy of the node
func (s *Store) GetNode(id string) (*Node, error) {
	node, exists := s.nodes[id]
	if !exists {
		return nil, appErrors.NodeNotFound(id)
	}
	return node.Clone(), nil
}

// NodesByName returns the nodes whose name attribute equals name, id-sorted
func (s *Store) NodesByName(name string) []*Node {
	ids := s.byName[name]
	out := make([]*Node, 0, len(ids))
	for _, id := range sortedIDs(ids) {
		out = append(out, s.nodes[id].Clone())
	}
	return out
}

// AddEdge connects two existing nodes
func (s *Store) AddEdge(from, to string, edgeType EdgeType, attrs Attributes) (*Edge, error) {
	if !edgeType.Valid() {
		return nil, appErrors.InvalidEdgeType(string(edgeType))
	}
	if _, exists := s.nodes[from]; !exists {
		return nil, appErrors.NodeNotFound(from)
	}
	if _, exists := s.nodes[to]; !exists {
		return nil, appErrors.NodeNotFound(to)
	}

	key := EdgeKey{From: from, To: to, Type: edgeType}
	if _, exists := s.edges[key]; exists {
		return nil, appErrors.Conflict("EDGE_EXISTS", fmt.Sprintf("edge %s already exists", key)).
			WithDetail("edge", key.String())
	}
	if len(s.outgoing[from]) >= s.cfg.MaxEdgesPerNode {
		return nil, appErrors.EdgeLimitExceeded(from, s.cfg.MaxEdgesPerNode)
	}

	edge := &Edge{
		From:      from,
		To:        to,
		Type:      edgeType,
		Attrs:     attrs.Clone(),
		CreatedAt: s.now(),
	}
	s.insertEdge(edge)

	s.emit(events.ActionEdgeAdded, map[string]any{"edge": edge.Clone()})
	return edge.Clone(), nil
}

// RemoveEdge deletes the edge identified by its key triple
func (s *Store) RemoveEdge(from, to string, edgeType EdgeType) error {
	key := EdgeKey{From: from, To: to, Type: edgeType}
	if _, exists := s.edges[key]; !exists {
		return appErrors.EdgeNotFound(from, to, string(edgeType))
	}

	s.deleteEdge(key)

	s.emit(events.ActionEdgeRemoved, map[string]any{
		"from": from,
		"to":   to,
		"type": string(edgeType),
	})
	return nil
}

// GetEdges lists edges incident to id in the given direction, optionally
// restricted to edgeTypes. An unknown id yields an empty list.
func (s *Store) GetEdges(id string, direction Direction, edgeTypes ...EdgeType) []*Edge {
	keys := s.incidentKeys(id, direction.orDefault(), typeFilter(edgeTypes))
	out := make([]*Edge, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.edges[key].Clone())
	}
	return out
}

// Stats returns node and edge counts
func (s *Store) Stats() Stats {
	byType := make(map[NodeType]int, len(s.byType))
	for t, ids := range s.byType {
		if len(ids) > 0 {
			byType[t] = len(ids)
		}
	}
	return Stats{
		NodeCount:   len(s.nodes),
		EdgeCount:   len(s.edges),
		NodesByType: byType,
	}
}

// Validate checks the structural invariants: every edge has both endpoints,
// adjacency and indexes agree with the primary maps, and limits hold.
func (s *Store) Validate() error {
	if len(s.nodes) > s.cfg.MaxNodes {
		return fmt.Errorf("node count %d exceeds limit %d", len(s.nodes), s.cfg.MaxNodes)
	}

	for key, edge := range s.edges {
		if key != edge.Key() {
			return fmt.Errorf("edge stored under %s has key %s", key, edge.Key())
		}
		if _, ok := s.nodes[key.From]; !ok {
			return fmt.Errorf("edge %s references non-existent source node", key)
		}
		if _, ok := s.nodes[key.To]; !ok {
			return fmt.Errorf("edge %s references non-existent target node", key)
		}
		if _, ok := s.outgoing[key.From][key]; !ok {
			return fmt.Errorf("edge %s missing from outgoing adjacency", key)
		}
		if _, ok := s.incoming[key.To][key]; !ok {
			return fmt.Errorf("edge %s missing from incoming adjacency", key)
		}
	}

	var outTotal, inTotal int
	for id, keys := range s.outgoing {
		if len(keys) > s.cfg.MaxEdgesPerNode {
			return fmt.Errorf("node %q has %d outgoing edges, limit %d", id, len(keys), s.cfg.MaxEdgesPerNode)
		}
		outTotal += len(keys)
	}
	for _, keys := range s.incoming {
		inTotal += len(keys)
	}
	if outTotal != len(s.edges) || inTotal != len(s.edges) {
		return fmt.Errorf("adjacency size mismatch: %d out, %d in, %d edges", outTotal, inTotal, len(s.edges))
	}

	var indexed int
	for t, ids := range s.byType {
		for id := range ids {
			node, ok := s.nodes[id]
			if !ok || node.Type != t {
				return fmt.Errorf("type index entry %s/%s is stale", t, id)
			}
		}
		indexed += len(ids)
	}
	if indexed != len(s.nodes) {
		return fmt.Errorf("type index holds %d ids, store has %d nodes", indexed, len(s.nodes))
	}

	for name, ids := range s.byName {
		for id := range ids {
			node, ok := s.nodes[id]
			if !ok {
				return fmt.Errorf("name index entry %q/%s is stale", name, id)
			}
			if n, _ := node.Attrs.Name(); n != name {
				return fmt.Errorf("name index entry %q/%s does not match node name %q", name, id, n)
			}
		}
	}
	return nil
}

func (s *Store) emit(action events.Action, data map[string]any) {
	if s.onChange == nil {
		return
	}
	s.onChange(events.Change{
		Action:    action,
		Data:      data,
		Timestamp: s.now(),
	})
}

// insertNode adds node to the maps and indexes without any checks. The
// caller owns the invariants.
func (s *Store) insertNode(node *Node) {
	s.nodes[node.ID] = node
	ids, ok := s.byType[node.Type]
	if !ok {
		ids = make(idSet)
		s.byType[node.Type] = ids
	}
	ids[node.ID] = struct{}{}
	if name, ok := node.Attrs.Name(); ok {
		s.indexName(name, node.ID)
	}
}

// replaceNode swaps a stored node for next, keeping indexes and adjacency
func (s *Store) replaceNode(next *Node) {
	prev := s.nodes[next.ID]
	if prev.Type != next.Type {
		delete(s.byType[prev.Type], prev.ID)
	}
	if name, ok := prev.Attrs.Name(); ok {
		s.unindexName(name, prev.ID)
	}
	s.insertNode(next)
}

// deleteNode removes a node and its incident edges, returning how many edges went
func (s *Store) deleteNode(id string) int {
	node := s.nodes[id]

	var removed int
	for key := range s.outgoing[id] {
		s.deleteEdge(key)
		removed++
	}
	for key := range s.incoming[id] {
		s.deleteEdge(key)
		removed++
	}
	delete(s.outgoing, id)
	delete(s.incoming, id)

	delete(s.byType[node.Type], id)
	if name, ok := node.Attrs.Name(); ok {
		s.unindexName(name, id)
	}
	delete(s.nodes, id)
	return removed
}

func (s *Store) insertEdge(edge *Edge) {
	key := edge.Key()
	s.edges[key] = edge
	addKey(s.outgoing, key.From, key)
	addKey(s.incoming, key.To, key)
}

func (s *Store) deleteEdge(key EdgeKey) {
	delete(s.edges, key)
	removeKey(s.outgoing, key.From, key)
	removeKey(s.incoming, key.To, key)
}

func (s *Store) indexName(name, id string) {
	ids, ok := s.byName[name]
	if !ok {
		ids = make(idSet)
		s.byName[name] = ids
	}
	ids[id] = struct{}{}
}

func (s *Store) unindexName(name, id string) {
	ids := s.byName[name]
	delete(ids, id)
	if len(ids) == 0 {
		delete(s.byName, name)
	}
}

// incidentKeys returns the sorted keys of edges touching id
func (s *Store) incidentKeys(id string, direction Direction, types map[EdgeType]struct{}) []EdgeKey {
	var keys []EdgeKey
	collect := func(set keySet) {
		for key := range set {
			if types != nil {
				if _, ok := types[key.Type]; !ok {
					continue
				}
			}
			keys = append(keys, key)
		}
	}

	if direction == DirectionOutgoing || direction == DirectionBoth {
		collect(s.outgoing[id])
	}
	if direction == DirectionIncoming || direction == DirectionBoth {
		for key := range s.incoming[id] {
			// a self-loop is already in the outgoing set
			if direction == DirectionBoth && key.From == id {
				continue
			}
			if types != nil {
				if _, ok := types[key.Type]; !ok {
					continue
				}
			}
			keys = append(keys, key)
		}
	}

	sortKeys(keys)
	return keys
}

func addKey(adj map[string]keySet, id string, key EdgeKey) {
	set, ok := adj[id]
	if !ok {
		set = make(keySet)
		adj[id] = set
	}
	set[key] = struct{}{}
}

func removeKey(adj map[string]keySet, id string, key EdgeKey) {
	set := adj[id]
	delete(set, key)
	if len(set) == 0 {
		delete(adj, id)
	}
}

func typeFilter(edgeTypes []EdgeType) map[EdgeType]struct{} {
	if len(edgeTypes) == 0 {
		return nil
	}
	set := make(map[EdgeType]struct{}, len(edgeTypes))
	for _, t := range edgeTypes {
		set[t] = struct{}{}
	}
	return set
}

func sortedIDs(ids idSet) []string {
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sortKeys(keys []EdgeKey) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Type < b.Type
	})
}

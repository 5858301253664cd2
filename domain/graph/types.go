// Package graph implements the per-tenant knowledge graph: the store with its
// invariants and secondary indexes, breadth-first traversal, filtered search,
// and the last-write-wins merge used to reconcile a peer's partial graph.
//
// A Store is not safe for concurrent use. It is owned by exactly one tenant
// actor, which serializes every call.
package graph

import (
	"fmt"
	"strings"
	"time"

	appErrors "graphbridge/pkg/errors"
)

// NodeType is the closed set of node kinds
type NodeType string

const (
	NodeTypeFile       NodeType = "file"
	NodeTypeFunction   NodeType = "function"
	NodeTypeType       NodeType = "type"
	NodeTypeTask       NodeType = "task"
	NodeTypePreference NodeType = "preference"
	NodeTypePattern    NodeType = "pattern"
	NodeTypeContext    NodeType = "context"
	NodeTypeEntity     NodeType = "entity"
)

// NodeTypes lists every valid node type
var NodeTypes = []NodeType{
	NodeTypeFile, NodeTypeFunction, NodeTypeType, NodeTypeTask,
	NodeTypePreference, NodeTypePattern, NodeTypeContext, NodeTypeEntity,
}

// EdgeType is the closed set of relationship kinds
type EdgeType string

const (
	EdgeTypeImports    EdgeType = "imports"
	EdgeTypeCalls      EdgeType = "calls"
	EdgeTypeDefines    EdgeType = "defines"
	EdgeTypeDependsOn  EdgeType = "depends_on"
	EdgeTypeRelatesTo  EdgeType = "relates_to"
	EdgeTypeSimilarTo  EdgeType = "similar_to"
	EdgeTypeContains   EdgeType = "contains"
	EdgeTypeReferences EdgeType = "references"
)

// EdgeTypes lists every valid edge type
var EdgeTypes = []EdgeType{
	EdgeTypeImports, EdgeTypeCalls, EdgeTypeDefines, EdgeTypeDependsOn,
	EdgeTypeRelatesTo, EdgeTypeSimilarTo, EdgeTypeContains, EdgeTypeReferences,
}

var (
	nodeTypeSet = make(map[NodeType]struct{}, len(NodeTypes))
	edgeTypeSet = make(map[EdgeType]struct{}, len(EdgeTypes))
)

func init() {
	for _, t := range NodeTypes {
		nodeTypeSet[t] = struct{}{}
	}
	for _, t := range EdgeTypes {
		edgeTypeSet[t] = struct{}{}
	}
}

// Valid reports whether t is a member of the enumeration
func (t NodeType) Valid() bool {
	_, ok := nodeTypeSet[t]
	return ok
}

// Valid reports whether t is a member of the enumeration
func (t EdgeType) Valid() bool {
	_, ok := edgeTypeSet[t]
	return ok
}

// ParseNodeType maps a wire name onto the enumeration. Case and a leading
// ':' are ignored; anything else outside the set is an InvalidType error.
func ParseNodeType(s string) (NodeType, error) {
	t := NodeType(normalizeName(s))
	if !t.Valid() {
		return "", appErrors.InvalidNodeType(s)
	}
	return t, nil
}

// ParseEdgeType maps a wire name onto the enumeration
func ParseEdgeType(s string) (EdgeType, error) {
	t := EdgeType(normalizeName(s))
	if !t.Valid() {
		return "", appErrors.InvalidEdgeType(s)
	}
	return t, nil
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ":"))
}

// Direction selects which incident edges are followed
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// ParseDirection accepts the three direction names; empty means both
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(normalizeName(s)); d {
	case "":
		return DirectionBoth, nil
	case DirectionOutgoing, DirectionIncoming, DirectionBoth:
		return d, nil
	default:
		return "", appErrors.Validation("INVALID_DIRECTION", fmt.Sprintf("invalid direction %q", s))
	}
}

func (d Direction) orDefault() Direction {
	if d == "" {
		return DirectionBoth
	}
	return d
}

// Attributes are free-form node and edge properties
type Attributes map[string]any

// AttrName is the attribute indexed by the name index and matched by search
const AttrName = "name"

// Clone returns a shallow copy; nested values are shared
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Name returns the string name attribute, if any
func (a Attributes) Name() (string, bool) {
	name, ok := a[AttrName].(string)
	return name, ok
}

// Node is a typed entity in a tenant graph
type Node struct {
	ID        string     `json:"id"`
	Type      NodeType   `json:"type"`
	Attrs     Attributes `json:"attrs"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Clone copies the node and its attribute map
func (n *Node) Clone() *Node {
	c := *n
	c.Attrs = n.Attrs.Clone()
	return &c
}

// EdgeKey is the identity of an edge
type EdgeKey struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Type EdgeType `json:"type"`
}

// String renders the key as "from:to:type"
func (k EdgeKey) String() string {
	return k.From + ":" + k.To + ":" + string(k.Type)
}

var keyPartEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// MarshalText lets EdgeKey be a JSON object key. '%' and ':' are escaped in
// each part so distinct keys never render alike. Decoding relies on the edge
// record's own fields, not on this text.
func (k EdgeKey) MarshalText() ([]byte, error) {
	return []byte(keyPartEscaper.Replace(k.From) + ":" +
		keyPartEscaper.Replace(k.To) + ":" +
		keyPartEscaper.Replace(string(k.Type))), nil
}

// Edge is a typed, directed relationship between two nodes of the same tenant
type Edge struct {
	From      string     `json:"from"`
	To        string     `json:"to"`
	Type      EdgeType   `json:"type"`
	Attrs     Attributes `json:"attrs"`
	CreatedAt time.Time  `json:"created_at"`
}

// Key returns the edge identity
func (e *Edge) Key() EdgeKey {
	return EdgeKey{From: e.From, To: e.To, Type: e.Type}
}

// Clone copies the edge and its attribute map
func (e *Edge) Clone() *Edge {
	c := *e
	c.Attrs = e.Attrs.Clone()
	return &c
}

// Subgraph is a set of nodes plus edges whose endpoints lie in that set. It
// is both the traversal result shape and the native merge input shape.
type Subgraph struct {
	Nodes      map[string]*Node  `json:"nodes"`
	Edges      map[EdgeKey]*Edge `json:"edges"`
	Root       string            `json:"root,omitempty"`
	ExportedAt time.Time         `json:"exported_at"`
}

// NewSubgraph returns an empty subgraph
func NewSubgraph() *Subgraph {
	return &Subgraph{
		Nodes: make(map[string]*Node),
		Edges: make(map[EdgeKey]*Edge),
	}
}

// Stats summarises a tenant graph
type Stats struct {
	NodeCount   int              `json:"node_count"`
	EdgeCount   int              `json:"edge_count"`
	NodesByType map[NodeType]int `json:"nodes_by_type"`
}

// Export is the canonical sync document: the full local graph of a tenant.
// Sent back by a peer it is a valid merge input.
type Export struct {
	Nodes      map[string]*Node  `json:"nodes"`
	Edges      map[EdgeKey]*Edge `json:"edges"`
	TenantID   string            `json:"tenant_id"`
	ExportedAt time.Time         `json:"exported_at"`
	Stats      Stats             `json:"stats"`
}

// Subgraph views the export as a merge input
func (e *Export) Subgraph() *Subgraph {
	return &Subgraph{
		Nodes:      e.Nodes,
		Edges:      e.Edges,
		ExportedAt: e.ExportedAt,
	}
}

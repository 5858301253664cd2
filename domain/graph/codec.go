package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	appErrors "graphbridge/pkg/errors"
)

var validate = validator.New()

// nodeRecord and edgeRecord hold the identifying fields of a string-keyed
// record once they have been pulled out of the decoded map
type nodeRecord struct {
	ID   string `validate:"required,max=1024"`
	Type string `validate:"required"`
}

type edgeRecord struct {
	From string `validate:"required,max=1024"`
	To   string `validate:"required,max=1024"`
	Type string `validate:"required"`
}

// Decoded is a normalized merge input together with the records that could
// not be normalized. Malformed records are reported, never fatal.
type Decoded struct {
	Subgraph  *Subgraph
	Malformed []string
}

// DecodeJSON normalizes a JSON merge payload, for example a peer's export
func DecodeJSON(data []byte) (*Decoded, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, appErrors.Validation("INVALID_PAYLOAD", "merge payload is not a JSON object").WithCause(err)
	}
	return DecodeWire(payload)
}

// DecodeWire normalizes the string-keyed shape produced by a generic JSON
// decode. Type names are matched case-insensitively and may carry a leading
// ':'; timestamps are RFC 3339 strings or time.Time values. A node's id must
// match its map key. Edge map keys are ignored in favour of each record's
// from, to and type fields, and a second record with the same triple is
// malformed.
func DecodeWire(payload map[string]any) (*Decoded, error) {
	nodes, err := section(payload, "nodes")
	if err != nil {
		return nil, err
	}
	edges, err := section(payload, "edges")
	if err != nil {
		return nil, err
	}

	out := &Decoded{Subgraph: NewSubgraph()}
	if ts, ok := payload["exported_at"]; ok {
		if t, err := parseTime(ts); err == nil {
			out.Subgraph.ExportedAt = t
		}
	}

	for _, key := range sortedKeys(nodes) {
		node, err := decodeNode(key, nodes[key])
		if err != nil {
			out.Malformed = append(out.Malformed, fmt.Sprintf("node %q: %v", key, err))
			continue
		}
		out.Subgraph.Nodes[node.ID] = node
	}

	for _, key := range sortedKeys(edges) {
		edge, err := decodeEdge(edges[key])
		if err != nil {
			out.Malformed = append(out.Malformed, fmt.Sprintf("edge %q: %v", key, err))
			continue
		}
		if _, dup := out.Subgraph.Edges[edge.Key()]; dup {
			out.Malformed = append(out.Malformed, fmt.Sprintf("edge %q: duplicate of %s", key, edge.Key()))
			continue
		}
		out.Subgraph.Edges[edge.Key()] = edge
	}

	return out, nil
}

func section(payload map[string]any, name string) (map[string]any, error) {
	raw, ok := payload[name]
	if !ok || raw == nil {
		return map[string]any{}, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, appErrors.Validation("INVALID_PAYLOAD", fmt.Sprintf("%s must be an object, got %T", name, raw))
	}
	return m, nil
}

func decodeNode(key string, raw any) (*Node, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("record must be an object, got %T", raw)
	}

	rec := nodeRecord{ID: stringField(m, "id"), Type: stringField(m, "type")}
	switch {
	case rec.ID == "":
		rec.ID = key
	case rec.ID != key:
		return nil, fmt.Errorf("keyed as %q but id is %q", key, rec.ID)
	}
	if err := validateRecord(rec); err != nil {
		return nil, err
	}

	nodeType, err := ParseNodeType(rec.Type)
	if err != nil {
		return nil, err
	}

	rawUpdated, ok := m["updated_at"]
	if !ok {
		return nil, fmt.Errorf("updated_at is required")
	}
	updatedAt, err := parseTime(rawUpdated)
	if err != nil {
		return nil, fmt.Errorf("updated_at: %w", err)
	}

	createdAt := updatedAt
	if rawCreated, ok := m["created_at"]; ok && rawCreated != nil {
		if createdAt, err = parseTime(rawCreated); err != nil {
			return nil, fmt.Errorf("created_at: %w", err)
		}
	}

	attrs, err := attrsField(m)
	if err != nil {
		return nil, err
	}

	return &Node{
		ID:        rec.ID,
		Type:      nodeType,
		Attrs:     attrs,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func decodeEdge(raw any) (*Edge, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("record must be an object, got %T", raw)
	}

	rec := edgeRecord{
		From: stringField(m, "from"),
		To:   stringField(m, "to"),
		Type: stringField(m, "type"),
	}
	if err := validateRecord(rec); err != nil {
		return nil, err
	}

	edgeType, err := ParseEdgeType(rec.Type)
	if err != nil {
		return nil, err
	}

	// a zero CreatedAt is stamped by the merging store
	var createdAt time.Time
	if rawCreated, ok := m["created_at"]; ok && rawCreated != nil {
		if createdAt, err = parseTime(rawCreated); err != nil {
			return nil, fmt.Errorf("created_at: %w", err)
		}
	}

	attrs, err := attrsField(m)
	if err != nil {
		return nil, err
	}

	return &Edge{
		From:      rec.From,
		To:        rec.To,
		Type:      edgeType,
		Attrs:     attrs,
		CreatedAt: createdAt,
	}, nil
}

// validateNative checks a node that arrived in the native shape
func validateNative(key string, node *Node) error {
	if node == nil {
		return fmt.Errorf("record is nil")
	}
	if node.ID == "" {
		return fmt.Errorf("id is required")
	}
	if key != "" && key != node.ID {
		return fmt.Errorf("keyed as %q but id is %q", key, node.ID)
	}
	if !node.Type.Valid() {
		return appErrors.InvalidNodeType(string(node.Type))
	}
	if node.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

func validateNativeEdge(edge *Edge) error {
	if edge == nil {
		return fmt.Errorf("record is nil")
	}
	if edge.From == "" || edge.To == "" {
		return fmt.Errorf("from and to are required")
	}
	if !edge.Type.Valid() {
		return appErrors.InvalidEdgeType(string(edge.Type))
	}
	return nil
}

func validateRecord(rec any) error {
	if err := validate.Struct(rec); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, formatFieldError(fe))
			}
			return fmt.Errorf("%s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Field())
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, fmt.Errorf("zero timestamp")
		}
		return t, nil
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, fmt.Errorf("zero timestamp")
		}
		return *t, nil
	case string:
		// RFC3339Nano also accepts timestamps without a fractional part
		parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(t))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q", t)
		}
		return parsed, nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp %T", v)
	}
}

func stringField(m map[string]any, name string) string {
	s, _ := m[name].(string)
	return s
}

func attrsField(m map[string]any) (Attributes, error) {
	raw, ok := m["attrs"]
	if !ok || raw == nil {
		return Attributes{}, nil
	}
	switch a := raw.(type) {
	case map[string]any:
		return Attributes(a).Clone(), nil
	case Attributes:
		return a.Clone(), nil
	default:
		return nil, fmt.Errorf("attrs must be an object, got %T", raw)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action names a graph mutation
type Action string

// Mutation kinds broadcast on a tenant topic
const (
	ActionNodeAdded      Action = "node_added"
	ActionNodeUpdated    Action = "node_updated"
	ActionNodeRemoved    Action = "node_removed"
	ActionEdgeAdded      Action = "edge_added"
	ActionEdgeRemoved    Action = "edge_removed"
	ActionSubgraphMerged Action = "subgraph_merged"
)

// SourceGraphBridge is the event source used on external buses
const SourceGraphBridge = "graphbridge.knowledge_graph"

// Change is what a graph store reports after a successful mutation.
type Change struct {
	Action    Action         `json:"action"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// ChangeEvent is a Change addressed to a tenant, as delivered to subscribers.
type ChangeEvent struct {
	ID       string `json:"id"`
	Module   string `json:"module"`
	TenantID string `json:"tenant_id"`
	Change
}

// NewChangeEvent stamps a change with a fresh id and its owner
func NewChangeEvent(module, tenantID string, change Change) ChangeEvent {
	return ChangeEvent{
		ID:       uuid.New().String(),
		Module:   module,
		TenantID: tenantID,
		Change:   change,
	}
}

// Topic returns the topic the event is published on
func (e ChangeEvent) Topic() string {
	return Topic(e.Module, e.TenantID)
}

// Topic returns the tenant-scoped notification topic for a module
func Topic(module, tenantID string) string {
	return fmt.Sprintf("%s:%s", module, tenantID)
}

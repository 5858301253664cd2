package ports

import (
	"context"
	"time"

	"graphbridge/domain/events"
)

// Publisher delivers change events to a pub/sub fabric
type Publisher interface {
	// Publish sends a single event on topic
	Publish(ctx context.Context, topic string, event events.ChangeEvent) error
}

// Snapshot is a stored export document of one tenant graph
type Snapshot struct {
	Module    string    `json:"module"`
	TenantID  string    `json:"tenant_id"`
	TakenAt   time.Time `json:"taken_at"`
	NodeCount int       `json:"node_count"`
	EdgeCount int       `json:"edge_count"`
	// Data is the JSON encoding of the export
	Data []byte `json:"data"`
}

// SnapshotStore persists tenant snapshots outside the process
type SnapshotStore interface {
	// Save stores a snapshot
	Save(ctx context.Context, snapshot Snapshot) error

	// Latest returns the most recent snapshot for a tenant, or a NotFound error
	Latest(ctx context.Context, module, tenantID string) (*Snapshot, error)
}

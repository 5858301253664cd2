package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"graphbridge/application/ports"
	"graphbridge/domain/graph"
	appErrors "graphbridge/pkg/errors"
	"graphbridge/pkg/observability"
)

// DefaultModule is the module name used when none is configured
const DefaultModule = "knowledge_graph"

// ServiceConfig tunes the service
type ServiceConfig struct {
	Module              string
	SnapshotConcurrency int
}

// Service is the public API of the knowledge graph. Every call names its
// tenant and is executed by that tenant's actor.
type Service struct {
	cfg       ServiceConfig
	registry  *Registry
	snapshots ports.SnapshotStore
	tracer    trace.Tracer
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewService creates the service. snapshots may be nil, in which case the
// snapshot operations report Unavailable.
func NewService(
	cfg ServiceConfig,
	registry *Registry,
	snapshots ports.SnapshotStore,
	tracer trace.Tracer,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *Service {
	if cfg.Module == "" {
		cfg.Module = DefaultModule
	}
	if cfg.SnapshotConcurrency <= 0 {
		cfg.SnapshotConcurrency = 4
	}
	return &Service{
		cfg:       cfg,
		registry:  registry,
		snapshots: snapshots,
		tracer:    tracer,
		logger:    logger,
		metrics:   metrics,
	}
}

// Module returns the module this service addresses
func (s *Service) Module() string {
	return s.cfg.Module
}

// Registry returns the registry of tenant actors
func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) key(tenantID string) Key {
	return Key{Module: s.cfg.Module, TenantID: tenantID}
}

// run executes fn in the tenant's actor inside a span, recording metrics
func run[T any](ctx context.Context, s *Service, tenantID, op string, fn func(*graph.Store) (T, error)) (T, error) {
	ctx, span := s.tracer.Start(ctx, "graph."+op, trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("graph.op", op),
	))
	defer span.End()

	start := time.Now()
	var result T
	a, err := s.registry.Get(s.key(tenantID))
	if err == nil {
		result, err = call(ctx, a, fn)
	}
	s.metrics.ObserveOperation(op, err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var zero T
		return zero, err
	}
	return result, nil
}

// AddNode creates a node in the tenant's graph
func (s *Service) AddNode(ctx context.Context, tenantID, id string, nodeType graph.NodeType, attrs graph.Attributes) (*graph.Node, error) {
	attrs = attrs.Clone()
	return run(ctx, s, tenantID, "add_node", func(st *graph.Store) (*graph.Node, error) {
		return st.AddNode(id, nodeType, attrs)
	})
}

// UpdateNode shallow-merges attrs into a node
func (s *Service) UpdateNode(ctx context.Context, tenantID, id string, attrs graph.Attributes) (*graph.Node, error) {
	attrs = attrs.Clone()
	return run(ctx, s, tenantID, "update_node", func(st *graph.Store) (*graph.Node, error) {
		return st.UpdateNode(id, attrs)
	})
}

// RemoveNode deletes a node and its edges
func (s *Service) RemoveNode(ctx context.Context, tenantID, id string) error {
	_, err := run(ctx, s, tenantID, "remove_node", func(st *graph.Store) (struct{}, error) {
		return struct{}{}, st.RemoveNode(id)
	})
	return err
}

// GetNode returns one node
func (s *Service) GetNode(ctx context.Context, tenantID, id string) (*graph.Node, error) {
	return run(ctx, s, tenantID, "get_node", func(st *graph.Store) (*graph.Node, error) {
		return st.GetNode(id)
	})
}

// AddEdge connects two nodes
func (s *Service) AddEdge(ctx context.Context, tenantID, from, to string, edgeType graph.EdgeType, attrs graph.Attributes) (*graph.Edge, error) {
	attrs = attrs.Clone()
	return run(ctx, s, tenantID, "add_edge", func(st *graph.Store) (*graph.Edge, error) {
		return st.AddEdge(from, to, edgeType, attrs)
	})
}

// RemoveEdge deletes one edge
func (s *Service) RemoveEdge(ctx context.Context, tenantID, from, to string, edgeType graph.EdgeType) error {
	_, err := run(ctx, s, tenantID, "remove_edge", func(st *graph.Store) (struct{}, error) {
		return struct{}{}, st.RemoveEdge(from, to, edgeType)
	})
	return err
}

// GetEdges lists the edges incident to a node
func (s *Service) GetEdges(ctx context.Context, tenantID, id string, direction graph.Direction, edgeTypes ...graph.EdgeType) ([]*graph.Edge, error) {
	return run(ctx, s, tenantID, "get_edges", func(st *graph.Store) ([]*graph.Edge, error) {
		return st.GetEdges(id, direction, edgeTypes...), nil
	})
}

// GetRelated walks the graph breadth-first from a node
func (s *Service) GetRelated(ctx context.Context, tenantID, id string, depth int, filter graph.TraversalFilter) ([]*graph.Node, error) {
	return run(ctx, s, tenantID, "get_related", func(st *graph.Store) ([]*graph.Node, error) {
		return st.GetRelated(id, depth, filter)
	})
}

// GetSubgraph returns the subgraph induced by a node's neighbourhood
func (s *Service) GetSubgraph(ctx context.Context, tenantID, id string, depth int) (*graph.Subgraph, error) {
	return run(ctx, s, tenantID, "get_subgraph", func(st *graph.Store) (*graph.Subgraph, error) {
		return st.GetSubgraph(id, depth)
	})
}

// Search filters the tenant's nodes
func (s *Service) Search(ctx context.Context, tenantID string, q graph.SearchQuery) ([]*graph.Node, error) {
	return run(ctx, s, tenantID, "search", func(st *graph.Store) ([]*graph.Node, error) {
		return st.Search(q), nil
	})
}

// Stats returns node and edge counts
func (s *Service) Stats(ctx context.Context, tenantID string) (graph.Stats, error) {
	return run(ctx, s, tenantID, "stats", func(st *graph.Store) (graph.Stats, error) {
		return st.Stats(), nil
	})
}

// MergeSubgraph reconciles a native-shaped peer subgraph
func (s *Service) MergeSubgraph(ctx context.Context, tenantID string, in *graph.Subgraph) (graph.MergeResult, error) {
	result, err := run(ctx, s, tenantID, "merge_subgraph", func(st *graph.Store) (graph.MergeResult, error) {
		return st.MergeSubgraph(in), nil
	})
	if err == nil {
		s.recordMerge(tenantID, result)
	}
	return result, err
}

// MergeWire reconciles a string-keyed payload as produced by a generic JSON
// decode
func (s *Service) MergeWire(ctx context.Context, tenantID string, payload map[string]any) (graph.MergeResult, error) {
	decoded, err := graph.DecodeWire(payload)
	if err != nil {
		return graph.MergeResult{}, err
	}
	return s.mergeDecoded(ctx, tenantID, "merge_wire", decoded)
}

// MergeJSON reconciles a raw JSON payload, for example a peer's export
func (s *Service) MergeJSON(ctx context.Context, tenantID string, data []byte) (graph.MergeResult, error) {
	decoded, err := graph.DecodeJSON(data)
	if err != nil {
		return graph.MergeResult{}, err
	}
	return s.mergeDecoded(ctx, tenantID, "merge_json", decoded)
}

func (s *Service) mergeDecoded(ctx context.Context, tenantID, op string, decoded *graph.Decoded) (graph.MergeResult, error) {
	result, err := run(ctx, s, tenantID, op, func(st *graph.Store) (graph.MergeResult, error) {
		return st.MergeDecoded(decoded), nil
	})
	if err == nil {
		s.recordMerge(tenantID, result)
	}
	return result, err
}

func (s *Service) recordMerge(tenantID string, r graph.MergeResult) {
	s.metrics.MergeOutcome("nodes_added", r.NodesAdded)
	s.metrics.MergeOutcome("nodes_updated", r.NodesUpdated)
	s.metrics.MergeOutcome("nodes_unchanged", r.NodesUnchanged)
	s.metrics.MergeOutcome("nodes_skipped", r.NodesSkipped)
	s.metrics.MergeOutcome("edges_added", r.EdgesAdded)
	s.metrics.MergeOutcome("edges_existing", r.EdgesExisting)
	s.metrics.MergeOutcome("edges_skipped", r.EdgesSkipped)
	s.metrics.MergeOutcome("malformed", r.Malformed)

	fields := []zap.Field{
		zap.String("tenant_id", tenantID),
		zap.Int("nodes_added", r.NodesAdded),
		zap.Int("nodes_updated", r.NodesUpdated),
		zap.Int("edges_added", r.EdgesAdded),
		zap.Int("skipped", r.NodesSkipped+r.EdgesSkipped),
		zap.Int("malformed", r.Malformed),
	}
	if len(r.Errors) > 0 {
		s.logger.Warn("Merged subgraph with skipped records", append(fields, zap.Strings("errors", r.Errors))...)
		return
	}
	s.logger.Info("Merged subgraph", fields...)
}

// Export returns the tenant's whole graph
func (s *Service) Export(ctx context.Context, tenantID string) (*graph.Export, error) {
	return run(ctx, s, tenantID, "export", func(st *graph.Store) (*graph.Export, error) {
		return st.Export(tenantID), nil
	})
}

// Snapshot exports the tenant's graph and stores it
func (s *Service) Snapshot(ctx context.Context, tenantID string) (*ports.Snapshot, error) {
	if s.snapshots == nil {
		return nil, appErrors.Unavailable("snapshot store")
	}

	export, err := s.Export(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(export)
	if err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}

	snapshot := ports.Snapshot{
		Module:    s.cfg.Module,
		TenantID:  tenantID,
		TakenAt:   export.ExportedAt,
		NodeCount: export.Stats.NodeCount,
		EdgeCount: export.Stats.EdgeCount,
		Data:      data,
	}
	err = s.snapshots.Save(ctx, snapshot)
	s.metrics.SnapshotTaken(err)
	if err != nil {
		return nil, fmt.Errorf("failed to save snapshot for tenant %s: %w", tenantID, err)
	}

	s.logger.Debug("Saved tenant snapshot",
		zap.String("tenant_id", tenantID),
		zap.Int("nodes", snapshot.NodeCount),
		zap.Int("edges", snapshot.EdgeCount))
	return &snapshot, nil
}

// Restore merges the tenant's latest snapshot into its graph. Nodes newer in
// memory than in the snapshot are kept.
func (s *Service) Restore(ctx context.Context, tenantID string) (graph.MergeResult, error) {
	if s.snapshots == nil {
		return graph.MergeResult{}, appErrors.Unavailable("snapshot store")
	}

	snapshot, err := s.snapshots.Latest(ctx, s.cfg.Module, tenantID)
	if err != nil {
		return graph.MergeResult{}, err
	}
	return s.MergeJSON(ctx, tenantID, snapshot.Data)
}

// SnapshotAll snapshots every live tenant of this module
func (s *Service) SnapshotAll(ctx context.Context) error {
	return s.registry.Each(ctx, s.cfg.SnapshotConcurrency, func(ctx context.Context, a *Actor) error {
		if a.Key().Module != s.cfg.Module {
			return nil
		}
		_, err := s.Snapshot(ctx, a.Key().TenantID)
		return err
	})
}

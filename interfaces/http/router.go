// Package http serves the admin endpoints of graphbridge: health, metrics,
// tenant inspection, peer merges and on-demand snapshots.
package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"graphbridge/application/ports"
	"graphbridge/application/tenant"
	"graphbridge/domain/graph"
	appErrors "graphbridge/pkg/errors"
	"graphbridge/pkg/observability"
)

const maxMergeBody = 32 << 20

// GraphService is what the router needs from the tenant service
type GraphService interface {
	Module() string
	Registry() *tenant.Registry
	Stats(ctx context.Context, tenantID string) (graph.Stats, error)
	Export(ctx context.Context, tenantID string) (*graph.Export, error)
	GetNode(ctx context.Context, tenantID, id string) (*graph.Node, error)
	GetRelated(ctx context.Context, tenantID, id string, depth int, filter graph.TraversalFilter) ([]*graph.Node, error)
	MergeJSON(ctx context.Context, tenantID string, data []byte) (graph.MergeResult, error)
	Snapshot(ctx context.Context, tenantID string) (*ports.Snapshot, error)
}

// Router builds the admin handler
type Router struct {
	service      GraphService
	metrics      *observability.Metrics
	logger       *zap.Logger
	defaultDepth int
}

// NewRouter creates a router. defaultDepth applies to related queries that
// do not name one.
func NewRouter(service GraphService, metrics *observability.Metrics, logger *zap.Logger, defaultDepth int) *Router {
	if defaultDepth <= 0 {
		defaultDepth = 1
	}
	return &Router{
		service:      service,
		metrics:      metrics,
		logger:       logger,
		defaultDepth: defaultDepth,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(requestLogger(rt.logger))

	router.Get("/health", rt.healthCheck)
	router.Handle("/metrics", promhttp.HandlerFor(rt.metrics.Registry(), promhttp.HandlerOpts{}))

	router.Route("/tenants", func(r chi.Router) {
		r.Get("/", rt.listTenants)
		r.Route("/{tenantID}", func(r chi.Router) {
			r.Get("/stats", rt.stats)
			r.Get("/export", rt.export)
			r.Post("/merge", rt.merge)
			r.Post("/snapshot", rt.snapshot)
			r.Get("/nodes/{nodeID}", rt.getNode)
			r.Get("/nodes/{nodeID}/related", rt.related)
		})
	})

	return router
}

func (rt *Router) healthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type tenantView struct {
	Module   string `json:"module"`
	TenantID string `json:"tenant_id"`
}

func (rt *Router) listTenants(w http.ResponseWriter, _ *http.Request) {
	keys := rt.service.Registry().Tenants()
	views := make([]tenantView, 0, len(keys))
	for _, k := range keys {
		if k.Module == rt.service.Module() {
			views = append(views, tenantView{Module: k.Module, TenantID: k.TenantID})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": views})
}

func (rt *Router) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.service.Stats(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) export(w http.ResponseWriter, r *http.Request) {
	export, err := rt.service.Export(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

func (rt *Router) merge(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMergeBody))
	if err != nil {
		rt.writeError(w, r, appErrors.Validation("INVALID_PAYLOAD", "could not read request body"))
		return
	}
	result, err := rt.service.MergeJSON(r.Context(), chi.URLParam(r, "tenantID"), body)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) snapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := rt.service.Snapshot(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"tenant_id":  snapshot.TenantID,
		"taken_at":   snapshot.TakenAt,
		"node_count": snapshot.NodeCount,
		"edge_count": snapshot.EdgeCount,
	})
}

func (rt *Router) getNode(w http.ResponseWriter, r *http.Request) {
	node, err := rt.service.GetNode(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "nodeID"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (rt *Router) related(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	depth := rt.defaultDepth
	if v := q.Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			rt.writeError(w, r, appErrors.Validation("INVALID_DEPTH", "depth must be an integer"))
			return
		}
		depth = n
	}

	direction, err := graph.ParseDirection(q.Get("direction"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	filter := graph.TraversalFilter{Direction: direction}
	for _, v := range q["edge_type"] {
		t, err := graph.ParseEdgeType(v)
		if err != nil {
			rt.writeError(w, r, err)
			return
		}
		filter.EdgeTypes = append(filter.EdgeTypes, t)
	}
	for _, v := range q["node_type"] {
		t, err := graph.ParseNodeType(v)
		if err != nil {
			rt.writeError(w, r, err)
			return
		}
		filter.NodeTypes = append(filter.NodeTypes, t)
	}

	nodes, err := rt.service.GetRelated(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "nodeID"), depth, filter)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

// writeError maps domain error types onto status codes
func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	body := map[string]any{"error": err.Error()}

	if domainErr := appErrors.GetDomainError(err); domainErr != nil {
		body = map[string]any{
			"error": domainErr.Message,
			"type":  domainErr.Type,
			"code":  domainErr.Code,
		}
		switch domainErr.Type {
		case appErrors.ErrorTypeNotFound:
			status = http.StatusNotFound
		case appErrors.ErrorTypeValidation, appErrors.ErrorTypeInvalidType:
			status = http.StatusBadRequest
		case appErrors.ErrorTypeConflict:
			status = http.StatusConflict
		case appErrors.ErrorTypeLimitExceeded:
			status = http.StatusUnprocessableEntity
		case appErrors.ErrorTypeUnavailable:
			status = http.StatusServiceUnavailable
		}
	}

	if status >= http.StatusInternalServerError {
		rt.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// requestLogger logs one line per request
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())))
		})
	}
}

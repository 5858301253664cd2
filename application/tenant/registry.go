package tenant

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"graphbridge/domain/config"
	"graphbridge/domain/events"
	appErrors "graphbridge/pkg/errors"
	"graphbridge/pkg/observability"
)

// ChangeSink receives every change a tenant store reports. Notify must not
// block.
type ChangeSink interface {
	Notify(module, tenantID string, change events.Change) bool
}

// RegistryConfig tunes the actors a registry creates
type RegistryConfig struct {
	Domain      *config.DomainConfig
	MailboxSize int
}

// Registry creates tenant actors on first use and finds them afterwards
type Registry struct {
	cfg     RegistryConfig
	sink    ChangeSink
	logger  *zap.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	actors  map[Key]*Actor
	stopped bool
}

// NewRegistry creates an empty registry. sink may be nil.
func NewRegistry(cfg RegistryConfig, sink ChangeSink, logger *zap.Logger, metrics *observability.Metrics) *Registry {
	cfg.Domain = cfg.Domain.WithDefaults()
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 64
	}
	return &Registry{
		cfg:     cfg,
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		actors:  make(map[Key]*Actor),
	}
}

// Get returns the actor for key, starting it if needed
func (r *Registry) Get(key Key) (*Actor, error) {
	if key.TenantID == "" {
		return nil, appErrors.Validation("EMPTY_TENANT_ID", "tenant id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return nil, appErrors.Unavailable("tenant registry")
	}
	if a, ok := r.actors[key]; ok {
		return a, nil
	}

	a := newActor(key, r.cfg.Domain, r.cfg.MailboxSize, r.sink, r.logger)
	r.actors[key] = a
	r.metrics.SetLiveTenants(len(r.actors))
	r.logger.Info("Started tenant actor",
		zap.String("module", key.Module),
		zap.String("tenant_id", key.TenantID))
	return a, nil
}

// Lookup returns a running actor without creating one
func (r *Registry) Lookup(key Key) (*Actor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actors[key]
	return a, ok
}

// Tenants lists the keys of running actors, sorted
func (r *Registry) Tenants() []Key {
	r.mu.Lock()
	keys := make([]Key, 0, len(r.actors))
	for k := range r.actors {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Module != keys[j].Module {
			return keys[i].Module < keys[j].Module
		}
		return keys[i].TenantID < keys[j].TenantID
	})
	return keys
}

// Each runs fn for every running actor with at most limit calls in flight.
// The first error cancels the rest and is returned.
func (r *Registry) Each(ctx context.Context, limit int, fn func(ctx context.Context, a *Actor) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for _, key := range r.Tenants() {
		a, ok := r.Lookup(key)
		if !ok {
			continue
		}
		g.Go(func() error {
			return fn(gctx, a)
		})
	}
	return g.Wait()
}

// Stop lets every actor finish its queued requests and waits for them to
// exit or for ctx to end. The registry accepts no new tenants afterwards.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	actors := make([]*Actor, 0, len(r.actors))
	for _, a := range r.actors {
		actors = append(actors, a)
		a.stop()
	}
	r.mu.Unlock()

	for _, a := range actors {
		select {
		case <-a.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	r.actors = make(map[Key]*Actor)
	r.mu.Unlock()
	r.metrics.SetLiveTenants(0)

	r.logger.Info("Tenant registry stopped", zap.Int("actors", len(actors)))
	return nil
}

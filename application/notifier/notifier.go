// Package notifier fans graph change events out to the configured publishers.
// Delivery is best effort: a full queue drops the event and a failed publish
// is logged, so neither can ever fail the mutation that produced the change.
package notifier

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"graphbridge/application/ports"
	"graphbridge/domain/events"
	"graphbridge/pkg/observability"
)

// Config tunes the notifier
type Config struct {
	QueueSize      int
	PublishTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	return c
}

// Notifier owns a bounded queue drained by a single delivery goroutine
type Notifier struct {
	cfg        Config
	publishers []ports.Publisher
	logger     *zap.Logger
	metrics    *observability.Metrics

	queue  chan events.ChangeEvent
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a notifier. Call Start before the first Notify.
func New(cfg Config, logger *zap.Logger, metrics *observability.Metrics, publishers ...ports.Publisher) *Notifier {
	cfg = cfg.withDefaults()
	return &Notifier{
		cfg:        cfg,
		publishers: publishers,
		logger:     logger,
		metrics:    metrics,
		queue:      make(chan events.ChangeEvent, cfg.QueueSize),
	}
}

// Start launches the delivery goroutine
func (n *Notifier) Start() {
	n.wg.Add(1)
	go n.deliver()
	n.logger.Info("Change notifier started",
		zap.Int("queue_size", n.cfg.QueueSize),
		zap.Int("publishers", len(n.publishers)))
}

// Stop closes the queue and waits for queued events to be delivered or for
// ctx to end
func (n *Notifier) Stop(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.logger.Info("Change notifier stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify queues a change of a tenant graph without blocking. It reports
// whether the event was accepted.
func (n *Notifier) Notify(module, tenantID string, change events.Change) bool {
	event := events.NewChangeEvent(module, tenantID, change)

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return false
	}

	select {
	case n.queue <- event:
		return true
	default:
		n.metrics.NotificationDropped()
		n.logger.Warn("Notification queue full, dropping event",
			zap.String("event_id", event.ID),
			zap.String("tenant_id", tenantID),
			zap.String("action", string(change.Action)))
		return false
	}
}

func (n *Notifier) deliver() {
	defer n.wg.Done()
	for event := range n.queue {
		n.publish(event)
	}
}

func (n *Notifier) publish(event events.ChangeEvent) {
	topic := event.Topic()
	for _, p := range n.publishers {
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.PublishTimeout)
		err := p.Publish(ctx, topic, event)
		cancel()

		n.metrics.NotificationDelivered(string(event.Action), err)
		if err != nil {
			n.logger.Debug("Failed to publish change event",
				zap.String("topic", topic),
				zap.String("event_id", event.ID),
				zap.String("action", string(event.Action)),
				zap.Error(err))
		}
	}
}

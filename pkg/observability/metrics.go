package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for graphbridge. Each instance owns
// its registry so tests can build as many as they like. All methods accept a
// nil receiver and do nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Tenant operations
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	LiveTenants       prometheus.Gauge

	// Change notifications
	Notifications        *prometheus.CounterVec
	NotificationsDropped prometheus.Counter

	// Merge and snapshots
	MergeRecords *prometheus.CounterVec
	Snapshots    *prometheus.CounterVec
}

// NewMetrics creates the collectors under namespace and registers them
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	operations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of tenant graph operations",
		},
		[]string{"op", "status"},
	)

	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Tenant graph operation duration in seconds, mailbox wait included",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	liveTenants := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_tenants",
			Help:      "Number of running tenant actors",
		},
	)

	notifications := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Change notifications by action and delivery status",
		},
		[]string{"action", "status"},
	)

	notificationsDropped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Change notifications dropped because the queue was full",
		},
	)

	mergeRecords := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_records_total",
			Help:      "Merged records by outcome",
		},
		[]string{"outcome"},
	)

	snapshots := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Tenant snapshots by status",
		},
		[]string{"status"},
	)

	registry.MustRegister(
		operations,
		operationDuration,
		liveTenants,
		notifications,
		notificationsDropped,
		mergeRecords,
		snapshots,
	)

	return &Metrics{
		registry:             registry,
		Operations:           operations,
		OperationDuration:    operationDuration,
		LiveTenants:          liveTenants,
		Notifications:        notifications,
		NotificationsDropped: notificationsDropped,
		MergeRecords:         mergeRecords,
		Snapshots:            snapshots,
	}
}

// Registry returns the Prometheus registry for this instance
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveOperation records one tenant operation
func (m *Metrics) ObserveOperation(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Operations.WithLabelValues(op, status).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// NotificationDelivered records a publish attempt
func (m *Metrics) NotificationDelivered(action string, err error) {
	if m == nil {
		return
	}
	status := "published"
	if err != nil {
		status = "failed"
	}
	m.Notifications.WithLabelValues(action, status).Inc()
}

// NotificationDropped records a notification lost to a full queue
func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.NotificationsDropped.Inc()
}

// MergeOutcome adds n records with the given outcome
func (m *Metrics) MergeOutcome(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.MergeRecords.WithLabelValues(outcome).Add(float64(n))
}

// SetLiveTenants sets the running actor gauge
func (m *Metrics) SetLiveTenants(n int) {
	if m == nil {
		return
	}
	m.LiveTenants.Set(float64(n))
}

// SnapshotTaken records a snapshot attempt
func (m *Metrics) SnapshotTaken(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Snapshots.WithLabelValues(status).Inc()
}

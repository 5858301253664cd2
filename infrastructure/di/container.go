// Package di wires graphbridge together with google/wire.
package di

import (
	"net/http"

	"go.uber.org/zap"

	"graphbridge/application/notifier"
	"graphbridge/application/ports"
	"graphbridge/application/tenant"
	"graphbridge/infrastructure/config"
	"graphbridge/infrastructure/messaging/memory"
	"graphbridge/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config    *config.Config
	Level     zap.AtomicLevel
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Tracing   *observability.TracerProvider
	Bus       *memory.Bus
	Notifier  *notifier.Notifier
	Registry  *tenant.Registry
	Snapshots ports.SnapshotStore
	Service   *tenant.Service
	Router    http.Handler
}

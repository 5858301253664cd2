package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"graphbridge/application/notifier"
	"graphbridge/application/ports"
	"graphbridge/application/tenant"
	"graphbridge/infrastructure/config"
	"graphbridge/infrastructure/messaging/eventbridge"
	"graphbridge/infrastructure/messaging/memory"
	"graphbridge/infrastructure/persistence/dynamodb"
	"graphbridge/infrastructure/persistence/sqlite"
	httpapi "graphbridge/interfaces/http"
	"graphbridge/pkg/observability"
)

const shutdownTimeout = 10 * time.Second

// ProvideLevel parses the configured log level into a level that can be
// changed while running
func ProvideLevel(cfg *config.Config) (zap.AtomicLevel, error) {
	return observability.ParseLevel(cfg.LogLevel)
}

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config, level zap.AtomicLevel) (*zap.Logger, func(), error) {
	logger, err := observability.BuildLogger(level, cfg.Environment)
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { _ = logger.Sync() }, nil
}

// ProvideMetrics creates the metrics registry
func ProvideMetrics(cfg *config.Config) *observability.Metrics {
	return observability.NewMetrics(cfg.Metrics.Namespace)
}

// ProvideTracerProvider installs tracing when enabled
func ProvideTracerProvider(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*observability.TracerProvider, func(), error) {
	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "graphbridge",
		Environment: cfg.Environment,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}
	return tp, cleanup, nil
}

// ProvideTracer returns the service tracer
func ProvideTracer(tp *observability.TracerProvider) trace.Tracer {
	return tp.Tracer()
}

// ProvideAWSConfig creates AWS configuration. Credentials are resolved
// lazily, so this succeeds without AWS access when no AWS backend is used.
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWS.Region),
	)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideBus creates the in-process pub/sub fabric
func ProvideBus(logger *zap.Logger) (*memory.Bus, func()) {
	bus := memory.NewBus(logger)
	return bus, bus.Close
}

// ProvidePublishers lists the fabrics change events are published on. The
// in-process bus is always present; EventBridge is added when enabled.
func ProvidePublishers(cfg *config.Config, bus *memory.Bus, client *awseventbridge.Client, logger *zap.Logger) []ports.Publisher {
	publishers := []ports.Publisher{bus}
	if cfg.EventBus.Enabled {
		publishers = append(publishers, eventbridge.NewPublisher(client, eventbridge.Config{
			EventBusName:     cfg.EventBus.Name,
			Source:           cfg.EventBus.Source,
			MaxRequests:      cfg.EventBus.Breaker.MaxRequests,
			Interval:         cfg.EventBus.Breaker.Interval,
			OpenTimeout:      cfg.EventBus.Breaker.OpenTimeout,
			FailureThreshold: cfg.EventBus.Breaker.FailureThreshold,
		}, logger))
	}
	return publishers
}

// ProvideNotifier creates and starts the change notifier
func ProvideNotifier(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics, publishers []ports.Publisher) (*notifier.Notifier, func()) {
	n := notifier.New(notifier.Config{
		QueueSize:      cfg.Notifier.QueueSize,
		PublishTimeout: cfg.Notifier.PublishTimeout,
	}, logger, metrics, publishers...)
	n.Start()

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := n.Stop(ctx); err != nil {
			logger.Warn("Notifier did not drain before shutdown", zap.Error(err))
		}
	}
	return n, cleanup
}

// ProvideRegistry creates the tenant actor registry
func ProvideRegistry(cfg *config.Config, n *notifier.Notifier, logger *zap.Logger, metrics *observability.Metrics) (*tenant.Registry, func()) {
	registry := tenant.NewRegistry(tenant.RegistryConfig{
		Domain:      cfg.DomainConfig(),
		MailboxSize: cfg.Graph.MailboxSize,
	}, n, logger, metrics)

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := registry.Stop(ctx); err != nil {
			logger.Warn("Tenant actors did not stop before shutdown", zap.Error(err))
		}
	}
	return registry, cleanup
}

// ProvideSnapshotStore opens the configured snapshot backend. The "none"
// backend yields a nil store.
func ProvideSnapshotStore(ctx context.Context, cfg *config.Config, client *awsdynamodb.Client, logger *zap.Logger) (ports.SnapshotStore, func(), error) {
	switch cfg.Snapshot.Backend {
	case config.SnapshotBackendSQLite:
		store, err := sqlite.NewSnapshotStore(ctx, sqlite.Config{Path: cfg.Snapshot.SQLitePath, Keep: 10}, logger)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			if err := store.Close(); err != nil {
				logger.Warn("Failed to close snapshot database", zap.Error(err))
			}
		}
		return store, cleanup, nil

	case config.SnapshotBackendDynamoDB:
		return dynamodb.NewSnapshotStore(client, cfg.Snapshot.DynamoDBTable, 7*24*time.Hour, logger), func() {}, nil

	default:
		return nil, func() {}, nil
	}
}

// ProvideService creates the tenant service
func ProvideService(
	cfg *config.Config,
	registry *tenant.Registry,
	snapshots ports.SnapshotStore,
	tracer trace.Tracer,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *tenant.Service {
	return tenant.NewService(tenant.ServiceConfig{
		Module:              cfg.Graph.Module,
		SnapshotConcurrency: cfg.Snapshot.Concurrency,
	}, registry, snapshots, tracer, logger, metrics)
}

// ProvideRouter creates the admin HTTP handler
func ProvideRouter(cfg *config.Config, service *tenant.Service, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	return httpapi.NewRouter(service, metrics, logger, cfg.Graph.DefaultDepth).Setup()
}

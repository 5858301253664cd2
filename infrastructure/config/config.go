// Package config loads graphbridge configuration from defaults, an optional
// YAML file and environment variables, in that order of priority.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	domainConfig "graphbridge/domain/config"
)

// Environment names accepted in the environment field
const (
	Development = "development"
	Staging     = "staging"
	Production  = "production"
)

// Snapshot backends
const (
	SnapshotBackendNone     = "none"
	SnapshotBackendSQLite   = "sqlite"
	SnapshotBackendDynamoDB = "dynamodb"
)

// Config holds all application configuration
type Config struct {
	Environment string `yaml:"environment" validate:"oneof=development staging production"`
	LogLevel    string `yaml:"log_level" validate:"oneof=debug info warn error"`

	Graph    Graph    `yaml:"graph"`
	Notifier Notifier `yaml:"notifier"`
	EventBus EventBus `yaml:"event_bus"`
	Snapshot Snapshot `yaml:"snapshot"`
	AWS      AWS      `yaml:"aws"`
	Metrics  Metrics  `yaml:"metrics"`
	Tracing  Tracing  `yaml:"tracing"`

	// LoadedFrom lists the sources applied, lowest priority first
	LoadedFrom []string `yaml:"-"`
}

// Graph holds the per-tenant graph limits and actor settings
type Graph struct {
	Module             string `yaml:"module" validate:"required"`
	MaxNodes           int    `yaml:"max_nodes" validate:"gt=0"`
	MaxEdgesPerNode    int    `yaml:"max_edges_per_node" validate:"gt=0"`
	DefaultSearchLimit int    `yaml:"default_search_limit" validate:"gt=0"`
	DefaultDepth       int    `yaml:"default_depth" validate:"gt=0"`
	MailboxSize        int    `yaml:"mailbox_size" validate:"gt=0"`
}

// Notifier tunes change delivery
type Notifier struct {
	QueueSize      int           `yaml:"queue_size" validate:"gt=0"`
	PublishTimeout time.Duration `yaml:"publish_timeout" validate:"gt=0"`
}

// EventBus configures the EventBridge publisher
type EventBus struct {
	Enabled bool           `yaml:"enabled"`
	Name    string         `yaml:"name" validate:"required_if=Enabled true"`
	Source  string         `yaml:"source" validate:"required"`
	Breaker CircuitBreaker `yaml:"breaker"`
}

// CircuitBreaker mirrors the gobreaker settings
type CircuitBreaker struct {
	MaxRequests      uint32        `yaml:"max_requests" validate:"gt=0"`
	Interval         time.Duration `yaml:"interval" validate:"gte=0"`
	OpenTimeout      time.Duration `yaml:"open_timeout" validate:"gt=0"`
	FailureThreshold uint32        `yaml:"failure_threshold" validate:"gt=0"`
}

// Snapshot selects where tenant snapshots are kept
type Snapshot struct {
	Backend       string        `yaml:"backend" validate:"oneof=none sqlite dynamodb"`
	SQLitePath    string        `yaml:"sqlite_path" validate:"required_if=Backend sqlite"`
	DynamoDBTable string        `yaml:"dynamodb_table" validate:"required_if=Backend dynamodb"`
	Interval      time.Duration `yaml:"interval" validate:"gte=0"`
	Concurrency   int           `yaml:"concurrency" validate:"gt=0"`
	// Tenants are restored from the latest snapshot at start
	Tenants []string `yaml:"tenants" validate:"dive,required"`
}

// AWS holds the shared AWS settings
type AWS struct {
	Region string `yaml:"region"`
}

// Metrics configures the admin endpoint
type Metrics struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address" validate:"required_if=Enabled true"`
	Namespace string `yaml:"namespace" validate:"required"`
}

// Tracing configures the OTLP exporter
type Tracing struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint" validate:"required_if=Enabled true"`
	SampleRate float64 `yaml:"sample_rate" validate:"gte=0,lte=1"`
	Insecure   bool    `yaml:"insecure"`
}

// ============================================================================
// CONFIGURATION LOADER
// ============================================================================

// Loader applies configuration sources in order: defaults, the YAML file at
// path (skipped when empty or missing), then environment variables.
type Loader struct {
	path    string
	sources []string
}

// NewLoader creates a loader for the YAML file at path
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load builds and validates the configuration
func (l *Loader) Load() (*Config, error) {
	cfg := Default()
	l.sources = append(l.sources[:0], "defaults")

	if l.path != "" {
		if err := l.loadFile(cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	l.loadEnvironmentVariables(cfg)
	l.sources = append(l.sources, "environment")
	cfg.LoadedFrom = append([]string(nil), l.sources...)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Load is shorthand for NewLoader(path).Load()
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

func (l *Loader) loadFile(cfg *Config) error {
	file, err := os.Open(l.path)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// empty file
			l.sources = append(l.sources, l.path)
			return nil
		}
		return fmt.Errorf("failed to parse %s: %w", l.path, err)
	}

	l.sources = append(l.sources, l.path)
	return nil
}

// loadEnvironmentVariables overlays environment variables on the configuration
func (l *Loader) loadEnvironmentVariables(cfg *Config) {
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", cfg.LogLevel))

	// Graph
	cfg.Graph.Module = getEnv("GRAPH_MODULE", cfg.Graph.Module)
	cfg.Graph.MaxNodes = getEnvInt("GRAPH_MAX_NODES", cfg.Graph.MaxNodes)
	cfg.Graph.MaxEdgesPerNode = getEnvInt("GRAPH_MAX_EDGES_PER_NODE", cfg.Graph.MaxEdgesPerNode)
	cfg.Graph.MailboxSize = getEnvInt("GRAPH_MAILBOX_SIZE", cfg.Graph.MailboxSize)

	// Notifier
	cfg.Notifier.QueueSize = getEnvInt("NOTIFIER_QUEUE_SIZE", cfg.Notifier.QueueSize)

	// Event bus
	cfg.EventBus.Enabled = getEnvBool("ENABLE_EVENT_BUS", cfg.EventBus.Enabled)
	cfg.EventBus.Name = getEnv("EVENT_BUS_NAME", cfg.EventBus.Name)

	// Snapshots
	cfg.Snapshot.Backend = getEnv("SNAPSHOT_BACKEND", cfg.Snapshot.Backend)
	cfg.Snapshot.SQLitePath = getEnv("SQLITE_PATH", cfg.Snapshot.SQLitePath)
	cfg.Snapshot.DynamoDBTable = getEnv("TABLE_NAME", cfg.Snapshot.DynamoDBTable)
	cfg.Snapshot.Interval = getEnvDuration("SNAPSHOT_INTERVAL", cfg.Snapshot.Interval)
	if val := os.Getenv("RESTORE_TENANTS"); val != "" {
		cfg.Snapshot.Tenants = splitList(val)
	}

	// AWS
	cfg.AWS.Region = getEnv("AWS_REGION", cfg.AWS.Region)

	// Observability
	cfg.Metrics.Enabled = getEnvBool("ENABLE_METRICS", cfg.Metrics.Enabled)
	cfg.Metrics.Address = getEnv("METRICS_ADDRESS", cfg.Metrics.Address)
	cfg.Tracing.Enabled = getEnvBool("ENABLE_TRACING", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.Endpoint)
}

// Default returns a configuration that runs without any file or environment
func Default() *Config {
	domain := domainConfig.DefaultDomainConfig()
	return &Config{
		Environment: Development,
		LogLevel:    "info",
		Graph: Graph{
			Module:             "knowledge_graph",
			MaxNodes:           domain.MaxNodes,
			MaxEdgesPerNode:    domain.MaxEdgesPerNode,
			DefaultSearchLimit: domain.DefaultSearchLimit,
			DefaultDepth:       domain.DefaultDepth,
			MailboxSize:        64,
		},
		Notifier: Notifier{
			QueueSize:      1000,
			PublishTimeout: 5 * time.Second,
		},
		EventBus: EventBus{
			Name:   "graphbridge-events",
			Source: "graphbridge.knowledge_graph",
			Breaker: CircuitBreaker{
				MaxRequests:      3,
				Interval:         10 * time.Second,
				OpenTimeout:      30 * time.Second,
				FailureThreshold: 5,
			},
		},
		Snapshot: Snapshot{
			Backend:     SnapshotBackendNone,
			SQLitePath:  "graphbridge.db",
			Interval:    5 * time.Minute,
			Concurrency: 4,
		},
		AWS: AWS{
			Region: "us-east-1",
		},
		Metrics: Metrics{
			Address:   ":9090",
			Namespace: "graphbridge",
		},
		Tracing: Tracing{
			Endpoint:   "localhost:4317",
			SampleRate: 0.1,
			Insecure:   true,
		},
	}
}

// DomainConfig returns the graph rules enforced by every tenant store
func (c *Config) DomainConfig() *domainConfig.DomainConfig {
	return &domainConfig.DomainConfig{
		MaxNodes:           c.Graph.MaxNodes,
		MaxEdgesPerNode:    c.Graph.MaxEdgesPerNode,
		DefaultSearchLimit: c.Graph.DefaultSearchLimit,
		DefaultDepth:       c.Graph.DefaultDepth,
	}
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// ============================================================================
// VALIDATION
// ============================================================================

var validate = validator.New()

// Validate checks the struct tags of every section
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		messages = append(messages, formatFieldError(e))
	}
	return fmt.Errorf("%s", strings.Join(messages, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := e.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}

	switch e.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// ============================================================================
// HELPER FUNCTIONS
// ============================================================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

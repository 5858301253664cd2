package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"graphbridge/infrastructure/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// TestLoadDefaults tests that the defaults validate on their own.
func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, config.Development, cfg.Environment)
	assert.Equal(t, "knowledge_graph", cfg.Graph.Module)
	assert.Equal(t, 10000, cfg.Graph.MaxNodes)
	assert.Equal(t, 100, cfg.Graph.MaxEdgesPerNode)
	assert.Equal(t, config.SnapshotBackendNone, cfg.Snapshot.Backend)
	assert.Equal(t, []string{"defaults", "environment"}, cfg.LoadedFrom)

	domain := cfg.DomainConfig()
	assert.Equal(t, 50, domain.DefaultSearchLimit)
	assert.Equal(t, 1, domain.DefaultDepth)
}

// TestLoadLayering tests that environment variables override the file.
func TestLoadLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphbridge.yaml")
	writeFile(t, path, `
environment: staging
log_level: debug
graph:
  max_nodes: 500
  max_edges_per_node: 10
notifier:
  publish_timeout: 2s
snapshot:
  backend: sqlite
  sqlite_path: /tmp/snapshots.db
  tenants: [alpha, beta]
`)
	t.Setenv("GRAPH_MAX_NODES", "750")
	t.Setenv("LOG_LEVEL", "WARN")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.Staging, cfg.Environment)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 750, cfg.Graph.MaxNodes)
	assert.Equal(t, 10, cfg.Graph.MaxEdgesPerNode)
	assert.Equal(t, 2*time.Second, cfg.Notifier.PublishTimeout)
	assert.Equal(t, config.SnapshotBackendSQLite, cfg.Snapshot.Backend)
	assert.Equal(t, []string{"alpha", "beta"}, cfg.Snapshot.Tenants)
	assert.Equal(t, []string{"defaults", path, "environment"}, cfg.LoadedFrom)
}

// TestLoadMissingFile tests that a missing file is not an error.
func TestLoadMissingFile(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"defaults", "environment"}, cfg.LoadedFrom)
}

// TestLoadRejectsUnknownFields tests that typos in the file are reported.
func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphbridge.yaml")
	writeFile(t, path, "graph:\n  max_nodez: 3\n")

	_, err := config.Load(path)
	assert.Error(t, err)
}

// TestConfigValidation tests configuration validation.
func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(*config.Config) {},
		},
		{
			name:    "unknown environment",
			mutate:  func(c *config.Config) { c.Environment = "qa" },
			wantErr: "Environment must be one of",
		},
		{
			name:    "zero node limit",
			mutate:  func(c *config.Config) { c.Graph.MaxNodes = 0 },
			wantErr: "Graph.MaxNodes must be greater than 0",
		},
		{
			name: "dynamodb without table",
			mutate: func(c *config.Config) {
				c.Snapshot.Backend = config.SnapshotBackendDynamoDB
				c.Snapshot.DynamoDBTable = ""
			},
			wantErr: "Snapshot.DynamoDBTable is required",
		},
		{
			name: "event bus without name",
			mutate: func(c *config.Config) {
				c.EventBus.Enabled = true
				c.EventBus.Name = ""
			},
			wantErr: "EventBus.Name is required",
		},
		{
			name:    "sample rate above one",
			mutate:  func(c *config.Config) { c.Tracing.SampleRate = 1.5 },
			wantErr: "Tracing.SampleRate must be at most 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestWatcherAppliesLogLevel tests hot reloading of the log level.
func TestWatcherAppliesLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphbridge.yaml")
	writeFile(t, path, "log_level: info\n")

	initial, err := config.Load(path)
	require.NoError(t, err)

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	w, err := config.NewWatcher(path, initial, level, zap.NewNop())
	require.NoError(t, err)
	defer w.Stop()

	reloaded := make(chan *config.Config, 1)
	w.OnChange(func(c *config.Config) {
		select {
		case reloaded <- c:
		default:
		}
	})

	writeFile(t, path, "log_level: debug\n")

	assert.Eventually(t, func() bool {
		return level.Level() == zapcore.DebugLevel
	}, 5*time.Second, 50*time.Millisecond)

	select {
	case c := <-reloaded:
		assert.Equal(t, "debug", c.LogLevel)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload callback")
	}
}

// TestWatcherKeepsConfigOnInvalidReload tests that a bad edit is ignored.
func TestWatcherKeepsConfigOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphbridge.yaml")
	writeFile(t, path, "log_level: warn\n")

	initial, err := config.Load(path)
	require.NoError(t, err)

	level := zap.NewAtomicLevelAt(zapcore.WarnLevel)
	w, err := config.NewWatcher(path, initial, level, zap.NewNop())
	require.NoError(t, err)
	defer w.Stop()

	reloaded := make(chan *config.Config, 1)
	w.OnChange(func(c *config.Config) { reloaded <- c })

	writeFile(t, path, "log_level: loud\n")
	time.Sleep(1200 * time.Millisecond)

	assert.Equal(t, zapcore.WarnLevel, level.Level())
	assert.Empty(t, reloaded)
}

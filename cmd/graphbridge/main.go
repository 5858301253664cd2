package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"graphbridge/infrastructure/config"
	"graphbridge/infrastructure/di"
	appErrors "graphbridge/pkg/errors"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "graphbridge",
	Short: "Per-tenant knowledge graphs",
	Long: `graphbridge keeps one in-memory knowledge graph per tenant, reconciles
peer exports into it and snapshots it to SQLite or DynamoDB.

Configuration is read from the YAML file, then from environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("GRAPHBRIDGE_CONFIG"), "path to the YAML configuration file")
	rootCmd.AddCommand(serveCmd, importCmd, exportCmd, relatedCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads the configuration and wires the container
func bootstrap(ctx context.Context, path string) (*di.Container, func(), error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	container, cleanup, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize container: %w", err)
	}

	container.Logger.Debug("Configuration loaded",
		zap.Strings("sources", cfg.LoadedFrom),
		zap.String("environment", cfg.Environment),
		zap.String("snapshot_backend", cfg.Snapshot.Backend))
	return container, cleanup, nil
}

// restoreTenant loads the latest snapshot of a tenant. A tenant without a
// snapshot, or a process without a snapshot store, starts empty.
func restoreTenant(ctx context.Context, c *di.Container, tenantID string) error {
	result, err := c.Service.Restore(ctx, tenantID)
	switch {
	case err == nil:
		c.Logger.Info("Restored tenant from snapshot",
			zap.String("tenant_id", tenantID),
			zap.Int("nodes", result.NodesAdded),
			zap.Int("edges", result.EdgesAdded))
		return nil
	case appErrors.IsNotFound(err), errors.Is(err, appErrors.ErrUnavailable):
		c.Logger.Debug("No snapshot to restore", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil
	default:
		return fmt.Errorf("failed to restore tenant %s: %w", tenantID, err)
	}
}

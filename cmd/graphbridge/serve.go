package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"graphbridge/infrastructure/config"
	"graphbridge/infrastructure/di"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin server and periodic snapshots until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	container, cleanup, err := bootstrap(ctx, configPath)
	if err != nil {
		return err
	}
	defer cleanup()
	cfg := container.Config
	logger := container.Logger

	for _, tenantID := range cfg.Snapshot.Tenants {
		if err := restoreTenant(ctx, container, tenantID); err != nil {
			logger.Error("Failed to restore tenant", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}

	intervals := make(chan time.Duration, 1)
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, cfg, container.Level, logger)
		if err != nil {
			logger.Warn("Configuration hot reloading unavailable", zap.Error(err))
		} else {
			defer watcher.Stop()
			watcher.OnChange(func(next *config.Config) {
				logger.Info("Applying reloaded configuration",
					zap.String("log_level", next.LogLevel),
					zap.Duration("snapshot_interval", next.Snapshot.Interval))
				select {
				case <-intervals:
				default:
				}
				intervals <- next.Snapshot.Interval
			})
		}
	}

	var srv *http.Server
	if cfg.Metrics.Enabled {
		srv = &http.Server{
			Addr:         cfg.Metrics.Address,
			Handler:      container.Router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.Info("Starting admin server",
				zap.String("address", cfg.Metrics.Address),
				zap.String("environment", cfg.Environment))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Admin server failed", zap.Error(err))
				cancel()
			}
		}()
	}

	snapshotsDone := make(chan struct{})
	go func() {
		defer close(snapshotsDone)
		runSnapshots(ctx, container, intervals)
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	cancel()
	<-snapshotsDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Admin server shutdown error", zap.Error(err))
		}
	}

	if container.Snapshots != nil {
		if err := container.Service.SnapshotAll(shutdownCtx); err != nil {
			logger.Error("Final snapshot failed", zap.Error(err))
		}
	}

	logger.Info("Server stopped")
	return nil
}

// runSnapshots snapshots every live tenant on the configured interval until
// ctx ends. A new interval received on intervals replaces the running one;
// zero or less pauses snapshots.
func runSnapshots(ctx context.Context, c *di.Container, intervals <-chan time.Duration) {
	if c.Snapshots == nil {
		<-ctx.Done()
		return
	}

	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	reset := func(d time.Duration) {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
		if d > 0 {
			ticker = time.NewTicker(d)
			tick = ticker.C
		}
	}
	interval := c.Config.Snapshot.Interval
	reset(interval)
	defer reset(0)

	for {
		select {
		case <-ctx.Done():
			return
		case next := <-intervals:
			if next == interval {
				continue
			}
			c.Logger.Info("Snapshot interval changed",
				zap.Duration("from", interval),
				zap.Duration("to", next))
			interval = next
			reset(interval)
		case <-tick:
			start := time.Now()
			if err := c.Service.SnapshotAll(ctx); err != nil {
				c.Logger.Error("Periodic snapshot failed", zap.Error(err))
				continue
			}
			c.Logger.Debug("Periodic snapshot completed",
				zap.Int("tenants", len(c.Registry.Tenants())),
				zap.Duration("duration", time.Since(start)))
		}
	}
}

// Package sqlite keeps tenant snapshots in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"graphbridge/application/ports"
	appErrors "graphbridge/pkg/errors"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Config configures the store
type Config struct {
	Path string
	// Keep is how many snapshots are retained per tenant; 0 keeps all
	Keep int
}

// SnapshotStore implements ports.SnapshotStore on SQLite
type SnapshotStore struct {
	db     *sql.DB
	cfg    Config
	logger *zap.Logger
}

var _ ports.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore opens the database at cfg.Path, creating it and its
// schema if needed
func NewSnapshotStore(ctx context.Context, cfg Config, logger *zap.Logger) (*SnapshotStore, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("snapshots: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("snapshots: open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshots: connect: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("snapshots: pragma %q: %w", p, err)
		}
	}

	s := &SnapshotStore{db: db, cfg: cfg, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshots: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

func (s *SnapshotStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			module     TEXT    NOT NULL,
			tenant_id  TEXT    NOT NULL,
			taken_at   INTEGER NOT NULL,
			node_count INTEGER NOT NULL,
			edge_count INTEGER NOT NULL,
			data       BLOB    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_tenant
			ON snapshots (module, tenant_id, taken_at DESC);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Save stores a snapshot and prunes the tenant's oldest ones beyond Keep
func (s *SnapshotStore) Save(ctx context.Context, snapshot ports.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("snapshots: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (module, tenant_id, taken_at, node_count, edge_count, data)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		snapshot.Module, snapshot.TenantID, snapshot.TakenAt.UTC().UnixNano(),
		snapshot.NodeCount, snapshot.EdgeCount, snapshot.Data)
	if err != nil {
		return fmt.Errorf("snapshots: insert: %w", err)
	}

	if s.cfg.Keep > 0 {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM snapshots
			 WHERE module = ? AND tenant_id = ? AND id NOT IN (
				SELECT id FROM snapshots
				WHERE module = ? AND tenant_id = ?
				ORDER BY taken_at DESC, id DESC
				LIMIT ?
			 )`,
			snapshot.Module, snapshot.TenantID, snapshot.Module, snapshot.TenantID, s.cfg.Keep)
		if err != nil {
			return fmt.Errorf("snapshots: prune: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.logger.Debug("Pruned old snapshots",
				zap.String("tenant_id", snapshot.TenantID),
				zap.Int64("removed", n))
		}
	}

	return tx.Commit()
}

// Latest returns the newest snapshot of a tenant
func (s *SnapshotStore) Latest(ctx context.Context, module, tenantID string) (*ports.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT taken_at, node_count, edge_count, data
		 FROM snapshots
		 WHERE module = ? AND tenant_id = ?
		 ORDER BY taken_at DESC, id DESC
		 LIMIT 1`,
		module, tenantID)

	var takenAt int64
	snapshot := ports.Snapshot{Module: module, TenantID: tenantID}
	err := row.Scan(&takenAt, &snapshot.NodeCount, &snapshot.EdgeCount, &snapshot.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.New(appErrors.ErrorTypeNotFound, "SNAPSHOT_NOT_FOUND",
			fmt.Sprintf("no snapshot for tenant %s", tenantID))
	}
	if err != nil {
		return nil, fmt.Errorf("snapshots: latest: %w", err)
	}
	snapshot.TakenAt = time.Unix(0, takenAt).UTC()
	return &snapshot, nil
}

// Count returns how many snapshots a tenant has
func (s *SnapshotStore) Count(ctx context.Context, module, tenantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE module = ? AND tenant_id = ?`,
		module, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("snapshots: count: %w", err)
	}
	return n, nil
}

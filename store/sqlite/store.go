// Package sqlite implements store.Store on SQLite via Grove ORM.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	quota "github.com/lumenchat/quota"
	"github.com/lumenchat/quota/event"
	quotastore "github.com/lumenchat/quota/store"
)

// compile-time interface check
var _ quotastore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("quota/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("quota/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Event log ====================

func (s *Store) AppendEvents(ctx context.Context, userKey string, expectedVersion int64, envs []event.Envelope) error {
	if len(envs) == 0 {
		return nil
	}

	head, err := s.headVersion(ctx, userKey)
	if err != nil {
		return err
	}
	if head != expectedVersion {
		return fmt.Errorf("%w: expected %d, have %d", quota.ErrVersionConflict, expectedVersion, head)
	}

	models := make([]eventModel, len(envs))
	for i := range envs {
		models[i] = *toEventModel(&envs[i])
	}

	// The unique (user_key, version) index is the backstop for writers that
	// raced past the head check.
	if _, err := s.sdb.NewInsert(&models).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: concurrent append at version %d", quota.ErrVersionConflict, expectedVersion)
		}
		return err
	}
	return nil
}

func (s *Store) LoadEvents(ctx context.Context, userKey string, fromVersion int64) ([]event.Envelope, error) {
	var models []eventModel
	err := s.sdb.NewSelect(&models).
		Where("user_key = ?", userKey).
		Where("version > ?", fromVersion).
		OrderExpr("version ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	envs := make([]event.Envelope, len(models))
	for i := range models {
		env, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		envs[i] = env
	}
	return envs, nil
}

func (s *Store) headVersion(ctx context.Context, userKey string) (int64, error) {
	var head int64
	err := s.sdb.NewRaw(`
		SELECT COALESCE(MAX(version), 0) FROM quota_events WHERE user_key = ?
	`, userKey).Scan(ctx, &head)
	if err != nil {
		return 0, err
	}
	return head, nil
}

// ==================== Snapshots ====================

func (s *Store) SaveSnapshot(ctx context.Context, snap *quotastore.Snapshot) error {
	m, err := toSnapshotModel(snap)
	if err != nil {
		return err
	}
	_, err = s.sdb.NewInsert(m).
		OnConflict("(user_key) DO UPDATE SET id = excluded.id, version = excluded.version, state = excluded.state, taken_at = excluded.taken_at").
		Exec(ctx)
	return err
}

func (s *Store) LoadSnapshot(ctx context.Context, userKey string) (*quotastore.Snapshot, error) {
	m := new(snapshotModel)
	err := s.sdb.NewSelect(m).
		Where("user_key = ?", userKey).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, quota.ErrNotFound
		}
		return nil, err
	}
	return fromSnapshotModel(m)
}

// ==================== Legacy states ====================

func (s *Store) LoadLegacyState(ctx context.Context, userKey string) (*event.State, error) {
	m := new(legacyStateModel)
	err := s.sdb.NewSelect(m).
		Where("user_key = ?", userKey).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, quota.ErrNotFound
		}
		return nil, err
	}
	return fromLegacyStateModel(m)
}

// ==================== Helpers ====================

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation reports whether err is a SQLite unique constraint error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

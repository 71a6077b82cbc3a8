// Package mongo implements store.Store on MongoDB via Grove ORM.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	quota "github.com/lumenchat/quota"
	"github.com/lumenchat/quota/event"
	quotastore "github.com/lumenchat/quota/store"
)

// Collection name constants.
const (
	colEvents       = "quota_events"
	colSnapshots    = "quota_snapshots"
	colLegacyStates = "quota_legacy_states"
)

// compile-time interface check
var _ quotastore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all quota collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("quota/mongo: migrate %s indexes: %w", col, err)
		}
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
	if _, err := s.mdb.NewInsert(&models).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: concurrent append at version %d", quota.ErrVersionConflict, expectedVersion)
		}
		return fmt.Errorf("quota/mongo: append events: %w", err)
	}
	return nil
}

func (s *Store) LoadEvents(ctx context.Context, userKey string, fromVersion int64) ([]event.Envelope, error) {
	var models []eventModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"user_key": userKey, "version": bson.M{"$gt": fromVersion}}).
		Sort(bson.D{{Key: "version", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("quota/mongo: load events: %w", err)
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
	var m eventModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"user_key": userKey}).
		Sort(bson.D{{Key: "version", Value: -1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("quota/mongo: head version: %w", err)
	}
	return m.Version, nil
}

// ==================== Snapshots ====================

func (s *Store) SaveSnapshot(ctx context.Context, snap *quotastore.Snapshot) error {
	m := toSnapshotModel(snap)
	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.UserKey}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("quota/mongo: save snapshot: %w", err)
	}
	return nil
}

func (s *Store) LoadSnapshot(ctx context.Context, userKey string) (*quotastore.Snapshot, error) {
	var m snapshotModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": userKey}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, quota.ErrNotFound
		}
		return nil, fmt.Errorf("quota/mongo: load snapshot: %w", err)
	}
	return fromSnapshotModel(&m)
}

// ==================== Legacy states ====================

func (s *Store) LoadLegacyState(ctx context.Context, userKey string) (*event.State, error) {
	var m legacyStateModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": userKey}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, quota.ErrNotFound
		}
		return nil, fmt.Errorf("quota/mongo: load legacy state: %w", err)
	}
	return fromLegacyStateModel(&m), nil
}

// ==================== Helpers ====================

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all quota collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colEvents: {
			{
				Keys:    bson.D{{Key: "user_key", Value: 1}, {Key: "version", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys: bson.D{{Key: "user_key", Value: 1}},
			},
		},
		colSnapshots:    {},
		colLegacyStates: {},
	}
}

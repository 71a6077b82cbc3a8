// Package store defines the persistence interface for per-user event logs,
// snapshots, and the legacy state migration source.
package store

import (
	"context"
	"time"

	"github.com/lumenchat/quota/event"
	"github.com/lumenchat/quota/id"
)

// Snapshot is a materialized fold of one user's log at a given version.
// Replay after loading a snapshot applies only events beyond Version.
type Snapshot struct {
	ID      id.SnapshotID `json:"id"`
	UserKey string        `json:"user_key"`
	Version int64         `json:"version"`
	State   event.State   `json:"state"`
	TakenAt time.Time     `json:"taken_at"`
}

// Store is the storage interface for the quota engine. One event-ordered log
// per user key plus an optional snapshot; no other durable format exists.
type Store interface {
	// AppendEvents atomically appends a batch of envelopes to a user's log.
	// expectedVersion is the caller's view of the current log head; a
	// mismatch returns ErrVersionConflict and appends nothing. Envelope
	// versions must be contiguous starting at expectedVersion+1.
	AppendEvents(ctx context.Context, userKey string, expectedVersion int64, envs []event.Envelope) error

	// LoadEvents returns a user's envelopes with Version > fromVersion in
	// ascending version order. An empty log yields an empty slice, not an error.
	LoadEvents(ctx context.Context, userKey string, fromVersion int64) ([]event.Envelope, error)

	// SaveSnapshot upserts the user's snapshot. Only the latest is retained.
	SaveSnapshot(ctx context.Context, snap *Snapshot) error

	// LoadSnapshot returns the user's latest snapshot or ErrNotFound.
	LoadSnapshot(ctx context.Context, userKey string) (*Snapshot, error)

	// LoadLegacyState returns the pre-event-sourcing state for a user, or
	// ErrNotFound when the user has no legacy record. Consulted once, when
	// a user's log is empty.
	LoadLegacyState(ctx context.Context, userKey string) (*event.State, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Package memory provides an in-memory Store for tests and single-process use.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/lumenchat/quota"
	"github.com/lumenchat/quota/event"
	"github.com/lumenchat/quota/store"
)

type Store struct {
	mu sync.RWMutex

	// Per-user append-only logs
	logs map[string][]event.Envelope

	// Latest snapshot per user
	snapshots map[string]*store.Snapshot

	// Legacy per-user states seeded via SeedLegacyState
	legacy map[string]*event.State

	closed bool
}

func New() *Store {
	return &Store{
		logs:      make(map[string][]event.Envelope),
		snapshots: make(map[string]*store.Snapshot),
		legacy:    make(map[string]*event.State),
	}
}

func (s *Store) AppendEvents(_ context.Context, userKey string, expectedVersion int64, envs []event.Envelope) error {
	if len(envs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return quota.ErrStoreClosed
	}

	log := s.logs[userKey]
	head := int64(len(log))
	if head != expectedVersion {
		return fmt.Errorf("%w: expected %d, have %d", quota.ErrVersionConflict, expectedVersion, head)
	}

	for i, env := range envs {
		want := expectedVersion + int64(i) + 1
		if env.Version != want {
			return fmt.Errorf("quota/memory: non-contiguous version %d, want %d", env.Version, want)
		}
	}

	s.logs[userKey] = append(log, envs...)
	return nil
}

func (s *Store) LoadEvents(_ context.Context, userKey string, fromVersion int64) ([]event.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, quota.ErrStoreClosed
	}

	log := s.logs[userKey]
	if fromVersion >= int64(len(log)) {
		return []event.Envelope{}, nil
	}

	out := make([]event.Envelope, len(log[fromVersion:]))
	copy(out, log[fromVersion:])
	return out, nil
}

func (s *Store) SaveSnapshot(_ context.Context, snap *store.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return quota.ErrStoreClosed
	}

	cp := *snap
	cp.State = snap.State.Clone()
	s.snapshots[snap.UserKey] = &cp
	return nil
}

func (s *Store) LoadSnapshot(_ context.Context, userKey string) (*store.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, quota.ErrStoreClosed
	}

	snap, ok := s.snapshots[userKey]
	if !ok {
		return nil, quota.ErrNotFound
	}

	cp := *snap
	cp.State = snap.State.Clone()
	return &cp, nil
}

func (s *Store) LoadLegacyState(_ context.Context, userKey string) (*event.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, quota.ErrStoreClosed
	}

	st, ok := s.legacy[userKey]
	if !ok {
		return nil, quota.ErrNotFound
	}

	cp := st.Clone()
	return &cp, nil
}

// SeedLegacyState installs a legacy record for a user. Test helper.
func (s *Store) SeedLegacyState(userKey string, st event.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := st.Clone()
	s.legacy[userKey] = &cp
}

// Version returns the current log head for a user. Test helper.
func (s *Store) Version(userKey string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.logs[userKey]))
}

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return quota.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

var _ store.Store = (*Store)(nil)

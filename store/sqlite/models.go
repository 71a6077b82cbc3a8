package sqlite

import (
	"encoding/json"
	"time"

	"github.com/xraph/grove"

	"github.com/lumenchat/quota/event"
	"github.com/lumenchat/quota/id"
	"github.com/lumenchat/quota/store"
)

type eventModel struct {
	grove.BaseModel `grove:"table:quota_events"`

	ID         string          `grove:"id,pk"`
	UserKey    string          `grove:"user_key"`
	Version    int64           `grove:"version"`
	Kind       string          `grove:"kind"`
	Payload    json.RawMessage `grove:"payload"`
	OccurredAt time.Time       `grove:"occurred_at"`
}

func toEventModel(env *event.Envelope) *eventModel {
	return &eventModel{
		ID:         env.ID.String(),
		UserKey:    env.UserKey,
		Version:    env.Version,
		Kind:       string(env.EventKind),
		Payload:    env.Payload,
		OccurredAt: env.OccurredAt,
	}
}

func fromEventModel(m *eventModel) (event.Envelope, error) {
	eventID, err := id.ParseEventID(m.ID)
	if err != nil {
		return event.Envelope{}, err
	}

	return event.Envelope{
		ID:         eventID,
		UserKey:    m.UserKey,
		Version:    m.Version,
		EventKind:  event.Kind(m.Kind),
		Payload:    m.Payload,
		OccurredAt: m.OccurredAt,
	}, nil
}

type snapshotModel struct {
	grove.BaseModel `grove:"table:quota_snapshots"`

	UserKey string          `grove:"user_key,pk"`
	ID      string          `grove:"id"`
	Version int64           `grove:"version"`
	State   json.RawMessage `grove:"state"`
	TakenAt time.Time       `grove:"taken_at"`
}

func toSnapshotModel(snap *store.Snapshot) (*snapshotModel, error) {
	state, err := json.Marshal(snap.State)
	if err != nil {
		return nil, err
	}

	return &snapshotModel{
		UserKey: snap.UserKey,
		ID:      snap.ID.String(),
		Version: snap.Version,
		State:   state,
		TakenAt: snap.TakenAt,
	}, nil
}

func fromSnapshotModel(m *snapshotModel) (*store.Snapshot, error) {
	snapID, err := id.ParseSnapshotID(m.ID)
	if err != nil {
		return nil, err
	}

	var state event.State
	if err := json.Unmarshal(m.State, &state); err != nil {
		return nil, err
	}

	return &store.Snapshot{
		ID:      snapID,
		UserKey: m.UserKey,
		Version: m.Version,
		State:   state,
		TakenAt: m.TakenAt,
	}, nil
}

type legacyStateModel struct {
	grove.BaseModel `grove:"table:quota_legacy_states"`

	UserKey  string          `grove:"user_key,pk"`
	State    json.RawMessage `grove:"state"`
	SavedAt  time.Time       `grove:"saved_at"`
	Migrated bool            `grove:"migrated"`
}

func fromLegacyStateModel(m *legacyStateModel) (*event.State, error) {
	state := new(event.State)
	if err := json.Unmarshal(m.State, state); err != nil {
		return nil, err
	}

	return state, nil
}

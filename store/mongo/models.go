package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/lumenchat/quota/event"
	"github.com/lumenchat/quota/id"
	"github.com/lumenchat/quota/ratelimit"
	"github.com/lumenchat/quota/store"
	"github.com/lumenchat/quota/subscription"
)

// ==================== Event log models ====================

type eventModel struct {
	grove.BaseModel `grove:"table:quota_events"`

	ID         string    `grove:"id,pk"       bson:"_id"`
	UserKey    string    `grove:"user_key"    bson:"user_key"`
	Version    int64     `grove:"version"     bson:"version"`
	Kind       string    `grove:"kind"        bson:"kind"`
	Payload    []byte    `grove:"payload"     bson:"payload"`
	OccurredAt time.Time `grove:"occurred_at" bson:"occurred_at"`
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

// ==================== State models ====================

// stateModel is the BSON shape of event.State, stored structurally so
// snapshots and legacy records stay queryable.
type stateModel struct {
	Credits                     int                    `bson:"credits"`
	HasInitialCredits           bool                   `bson:"has_initial_credits"`
	HasShownInitialCreditsToast bool                   `bson:"has_shown_initial_credits_toast"`
	Standard                    entitlementModel       `bson:"standard"`
	Ultimate                    entitlementModel       `bson:"ultimate"`
	RateLimits                  map[string]bucketModel `bson:"rate_limits,omitempty"`
	CanReceiveInviteReward      bool                   `bson:"can_receive_invite_reward"`
	CreatedAt                   time.Time              `bson:"created_at"`
}

type entitlementModel struct {
	IsActive        bool      `bson:"is_active"`
	PlanType        string    `bson:"plan_type"`
	Status          string    `bson:"status"`
	StartDate       time.Time `bson:"start_date"`
	EndDate         time.Time `bson:"end_date"`
	SubscriptionIDs []string  `bson:"subscription_ids,omitempty"`
	InvoiceIDs      []string  `bson:"invoice_ids,omitempty"`
}

type bucketModel struct {
	Count        int       `bson:"count"`
	LastRefillAt time.Time `bson:"last_refill_at"`
}

func toStateModel(s event.State) stateModel {
	m := stateModel{
		Credits:                     s.Credits,
		HasInitialCredits:           s.HasInitialCredits,
		HasShownInitialCreditsToast: s.HasShownInitialCreditsToast,
		Standard:                    toEntitlementModel(s.Standard),
		Ultimate:                    toEntitlementModel(s.Ultimate),
		CanReceiveInviteReward:      s.CanReceiveInviteReward,
		CreatedAt:                   s.CreatedAt,
	}
	if len(s.RateLimits) > 0 {
		m.RateLimits = make(map[string]bucketModel, len(s.RateLimits))
		for k, b := range s.RateLimits {
			m.RateLimits[k] = bucketModel{Count: b.Count, LastRefillAt: b.LastRefillAt}
		}
	}
	return m
}

func fromStateModel(m stateModel) event.State {
	s := event.State{
		Credits:                     m.Credits,
		HasInitialCredits:           m.HasInitialCredits,
		HasShownInitialCreditsToast: m.HasShownInitialCreditsToast,
		Standard:                    fromEntitlementModel(m.Standard),
		Ultimate:                    fromEntitlementModel(m.Ultimate),
		CanReceiveInviteReward:      m.CanReceiveInviteReward,
		CreatedAt:                   m.CreatedAt,
	}
	if len(m.RateLimits) > 0 {
		s.RateLimits = make(map[string]ratelimit.Bucket, len(m.RateLimits))
		for k, b := range m.RateLimits {
			s.RateLimits[k] = ratelimit.Bucket{Count: b.Count, LastRefillAt: b.LastRefillAt}
		}
	}
	return s
}

func toEntitlementModel(e subscription.Entitlement) entitlementModel {
	return entitlementModel{
		IsActive:        e.IsActive,
		PlanType:        string(e.PlanType),
		Status:          string(e.Status),
		StartDate:       e.StartDate,
		EndDate:         e.EndDate,
		SubscriptionIDs: e.SubscriptionIDs,
		InvoiceIDs:      e.InvoiceIDs,
	}
}

func fromEntitlementModel(m entitlementModel) subscription.Entitlement {
	return subscription.Entitlement{
		IsActive:        m.IsActive,
		PlanType:        subscription.PlanType(m.PlanType),
		Status:          subscription.Status(m.Status),
		StartDate:       m.StartDate,
		EndDate:         m.EndDate,
		SubscriptionIDs: m.SubscriptionIDs,
		InvoiceIDs:      m.InvoiceIDs,
	}
}

// ==================== Snapshot models ====================

type snapshotModel struct {
	grove.BaseModel `grove:"table:quota_snapshots"`

	UserKey string     `grove:"user_key,pk" bson:"_id"`
	ID      string     `grove:"id"          bson:"id"`
	Version int64      `grove:"version"     bson:"version"`
	State   stateModel `grove:"state"       bson:"state"`
	TakenAt time.Time  `grove:"taken_at"    bson:"taken_at"`
}

func toSnapshotModel(snap *store.Snapshot) *snapshotModel {
	return &snapshotModel{
		UserKey: snap.UserKey,
		ID:      snap.ID.String(),
		Version: snap.Version,
		State:   toStateModel(snap.State),
		TakenAt: snap.TakenAt,
	}
}

func fromSnapshotModel(m *snapshotModel) (*store.Snapshot, error) {
	snapID, err := id.ParseSnapshotID(m.ID)
	if err != nil {
		return nil, err
	}

	return &store.Snapshot{
		ID:      snapID,
		UserKey: m.UserKey,
		Version: m.Version,
		State:   fromStateModel(m.State),
		TakenAt: m.TakenAt,
	}, nil
}

// ==================== Legacy state models ====================

type legacyStateModel struct {
	grove.BaseModel `grove:"table:quota_legacy_states"`

	UserKey  string     `grove:"user_key,pk" bson:"_id"`
	State    stateModel `grove:"state"       bson:"state"`
	SavedAt  time.Time  `grove:"saved_at"    bson:"saved_at"`
	Migrated bool       `grove:"migrated"    bson:"migrated"`
}

func fromLegacyStateModel(m *legacyStateModel) *event.State {
	s := fromStateModel(m.State)
	return &s
}

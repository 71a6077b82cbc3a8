package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lumenchat/quota/id"
	"github.com/lumenchat/quota/ratelimit"
	"github.com/lumenchat/quota/subscription"
)

// Kind identifies an event type on the wire.
type Kind string

// Declared event kinds. Payloads carry only the fields needed for the effect.
const (
	KindInitializeCredits       Kind = "initialize_credits"
	KindSetShownToast           Kind = "set_shown_toast"
	KindUpdateRateLimit         Kind = "update_rate_limit"
	KindClearRateLimit          Kind = "clear_rate_limit"
	KindUpdateSubscription      Kind = "update_subscription"
	KindCancelSubscription      Kind = "cancel_subscription"
	KindUpdateCredits           Kind = "update_credits"
	KindUpdateInviteEligibility Kind = "update_invite_eligibility"
	KindClearAll                Kind = "clear_all"
	KindMigrateLegacyState      Kind = "migrate_legacy_state"
)

// Event is one state-changing record in a user's log.
type Event interface {
	Kind() Kind
}

// InitializeCredits grants the one-time initial credit amount.
type InitializeCredits struct {
	InitialCredits int `json:"initial_credits"`
}

func (InitializeCredits) Kind() Kind { return KindInitializeCredits }

// SetShownToast marks the initial-credits toast as shown.
type SetShownToast struct{}

func (SetShownToast) Kind() Kind { return KindSetShownToast }

// UpdateRateLimit overwrites one action type's bucket state.
type UpdateRateLimit struct {
	ActionType string           `json:"action_type"`
	Bucket     ratelimit.Bucket `json:"bucket"`
}

func (UpdateRateLimit) Kind() Kind { return KindUpdateRateLimit }

// ClearRateLimit removes one action type's bucket so it re-initializes full
// on next use.
type ClearRateLimit struct {
	ActionType string `json:"action_type"`
}

func (ClearRateLimit) Kind() Kind { return KindClearRateLimit }

// UpdateSubscription overwrites the named tier's entitlement.
type UpdateSubscription struct {
	Tier        subscription.Tier        `json:"tier"`
	Entitlement subscription.Entitlement `json:"entitlement"`
}

func (UpdateSubscription) Kind() Kind { return KindUpdateSubscription }

// CancelSubscription clears the named tier's entitlement to defaults.
type CancelSubscription struct {
	Tier subscription.Tier `json:"tier"`
}

func (CancelSubscription) Kind() Kind { return KindCancelSubscription }

// UpdateCredits sets the credit balance to an absolute value.
type UpdateCredits struct {
	NewCredits int `json:"new_credits"`
}

func (UpdateCredits) Kind() Kind { return KindUpdateCredits }

// UpdateInviteEligibility sets the invite-reward eligibility flag.
type UpdateInviteEligibility struct {
	CanReceive bool `json:"can_receive"`
}

func (UpdateInviteEligibility) Kind() Kind { return KindUpdateInviteEligibility }

// ClearAll resets the state to defaults, preserving invite-reward
// eligibility and the creation timestamp.
type ClearAll struct{}

func (ClearAll) Kind() Kind { return KindClearAll }

// MigrateLegacyState replaces the whole state in one step. Committed exactly
// once, as the first event of a user whose log is empty, carrying either the
// legacy store's state or the fresh default.
type MigrateLegacyState struct {
	State State `json:"state"`
}

func (MigrateLegacyState) Kind() Kind { return KindMigrateLegacyState }

// Unknown is a decoded event of a kind this version does not recognize.
// Reduce treats it as a no-op so newer logs replay on older code.
type Unknown struct {
	RawKind Kind `json:"-"`
}

func (u Unknown) Kind() Kind { return u.RawKind }

// ──────────────────────────────────────────────────
// Wire envelope
// ──────────────────────────────────────────────────

// Envelope is the stored form of one committed event.
type Envelope struct {
	ID         id.EventID      `json:"id"`
	UserKey    string          `json:"user_key"`
	Version    int64           `json:"version"`
	EventKind  Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Encode wraps a domain event into an envelope ready for appending at the
// given log version.
func Encode(userKey string, version int64, ev Event, occurredAt time.Time) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("event: encode %s: %w", ev.Kind(), err)
	}

	return Envelope{
		ID:         id.NewEventID(),
		UserKey:    userKey,
		Version:    version,
		EventKind:  ev.Kind(),
		Payload:    payload,
		OccurredAt: occurredAt,
	}, nil
}

// Decode unwraps an envelope back into its domain event. Unrecognized kinds
// decode to Unknown rather than failing, so logs written by newer versions
// still replay.
func Decode(env Envelope) (Event, error) {
	var ev Event

	switch env.EventKind {
	case KindInitializeCredits:
		ev = &InitializeCredits{}
	case KindSetShownToast:
		ev = &SetShownToast{}
	case KindUpdateRateLimit:
		ev = &UpdateRateLimit{}
	case KindClearRateLimit:
		ev = &ClearRateLimit{}
	case KindUpdateSubscription:
		ev = &UpdateSubscription{}
	case KindCancelSubscription:
		ev = &CancelSubscription{}
	case KindUpdateCredits:
		ev = &UpdateCredits{}
	case KindUpdateInviteEligibility:
		ev = &UpdateInviteEligibility{}
	case KindClearAll:
		ev = &ClearAll{}
	case KindMigrateLegacyState:
		ev = &MigrateLegacyState{}
	default:
		return Unknown{RawKind: env.EventKind}, nil
	}

	if err := json.Unmarshal(env.Payload, ev); err != nil {
		return nil, fmt.Errorf("event: decode %s at version %d: %w", env.EventKind, env.Version, err)
	}

	return deref(ev), nil
}

// deref returns the value form so Reduce can switch on concrete types.
func deref(ev Event) Event {
	switch v := ev.(type) {
	case *InitializeCredits:
		return *v
	case *SetShownToast:
		return *v
	case *UpdateRateLimit:
		return *v
	case *ClearRateLimit:
		return *v
	case *UpdateSubscription:
		return *v
	case *CancelSubscription:
		return *v
	case *UpdateCredits:
		return *v
	case *UpdateInviteEligibility:
		return *v
	case *ClearAll:
		return *v
	case *MigrateLegacyState:
		return *v
	default:
		return ev
	}
}

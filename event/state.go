// Package event defines the per-user quota state, the declared event set,
// and the pure reducer that is the sole mutation path for that state.
package event

import (
	"time"

	"github.com/lumenchat/quota/ratelimit"
	"github.com/lumenchat/quota/subscription"
)

// State is one user's quota state. It is owned exclusively by that user's
// actor and is only ever derived by folding committed events through Reduce.
type State struct {
	Credits                     int                           `json:"credits"`
	HasInitialCredits           bool                          `json:"has_initial_credits"`
	HasShownInitialCreditsToast bool                          `json:"has_shown_initial_credits_toast"`
	Standard                    subscription.Entitlement      `json:"standard"`
	Ultimate                    subscription.Entitlement      `json:"ultimate"`
	RateLimits                  map[string]ratelimit.Bucket   `json:"rate_limits,omitempty"`
	CanReceiveInviteReward      bool                          `json:"can_receive_invite_reward"`
	CreatedAt                   time.Time                     `json:"created_at"`
}

// NewState returns the default state for a freshly created user. New users
// are eligible for the invite reward until it is claimed or times out.
func NewState(createdAt time.Time) State {
	return State{
		Standard:               subscription.Empty(),
		Ultimate:               subscription.Empty(),
		CanReceiveInviteReward: true,
		CreatedAt:              createdAt,
	}
}

// Entitlement returns the named tier's entitlement.
func (s State) Entitlement(tier subscription.Tier) subscription.Entitlement {
	if tier == subscription.TierUltimate {
		return s.Ultimate
	}

	return s.Standard
}

// Bucket returns the bucket for an action type, reporting whether one exists.
func (s State) Bucket(actionType string) (ratelimit.Bucket, bool) {
	b, ok := s.RateLimits[actionType]

	return b, ok
}

// Clone returns a deep copy of the state. Reduce clones before mutating so
// callers holding the previous state never observe partial application.
func (s State) Clone() State {
	out := s
	out.Standard = s.Standard.Clone()
	out.Ultimate = s.Ultimate.Clone()
	if s.RateLimits != nil {
		out.RateLimits = make(map[string]ratelimit.Bucket, len(s.RateLimits))
		for k, v := range s.RateLimits {
			out.RateLimits[k] = v
		}
	}

	return out
}

func (s *State) setEntitlement(tier subscription.Tier, e subscription.Entitlement) {
	if tier == subscription.TierUltimate {
		s.Ultimate = e

		return
	}

	s.Standard = e
}

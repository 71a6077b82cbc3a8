package event

import (
	"fmt"

	"github.com/lumenchat/quota/ratelimit"
	"github.com/lumenchat/quota/subscription"
)

// Reduce computes the next state from the current state and one event.
// It is pure, deterministic, and total over the declared event set; unknown
// events return the state unchanged. A malformed known event is a
// programming-invariant violation and panics so the owning actor faults
// instead of applying a partial effect.
func Reduce(s State, ev Event) State {
	switch e := ev.(type) {
	case InitializeCredits:
		if e.InitialCredits < 0 {
			panic(fmt.Sprintf("event: InitializeCredits with negative amount %d", e.InitialCredits))
		}
		if s.HasInitialCredits {
			return s
		}
		s = s.Clone()
		s.Credits += e.InitialCredits
		s.HasInitialCredits = true

		return s

	case SetShownToast:
		s = s.Clone()
		s.HasShownInitialCreditsToast = true

		return s

	case UpdateRateLimit:
		if e.ActionType == "" {
			panic("event: UpdateRateLimit with empty action type")
		}
		if e.Bucket.Count < 0 {
			panic(fmt.Sprintf("event: UpdateRateLimit with negative count %d", e.Bucket.Count))
		}
		s = s.Clone()
		if s.RateLimits == nil {
			s.RateLimits = make(map[string]ratelimit.Bucket, 1)
		}
		s.RateLimits[e.ActionType] = e.Bucket

		return s

	case ClearRateLimit:
		if e.ActionType == "" {
			panic("event: ClearRateLimit with empty action type")
		}
		s = s.Clone()
		delete(s.RateLimits, e.ActionType)

		return s

	case UpdateSubscription:
		if !e.Tier.Valid() {
			panic(fmt.Sprintf("event: UpdateSubscription with invalid tier %q", e.Tier))
		}
		s = s.Clone()
		s.setEntitlement(e.Tier, e.Entitlement.Clone())

		return s

	case CancelSubscription:
		if !e.Tier.Valid() {
			panic(fmt.Sprintf("event: CancelSubscription with invalid tier %q", e.Tier))
		}
		s = s.Clone()
		s.setEntitlement(e.Tier, subscription.Empty())

		return s

	case UpdateCredits:
		if e.NewCredits < 0 {
			panic(fmt.Sprintf("event: UpdateCredits with negative balance %d", e.NewCredits))
		}
		s = s.Clone()
		s.Credits = e.NewCredits

		return s

	case UpdateInviteEligibility:
		s = s.Clone()
		s.CanReceiveInviteReward = e.CanReceive

		return s

	case ClearAll:
		next := NewState(s.CreatedAt)
		next.CanReceiveInviteReward = s.CanReceiveInviteReward

		return next

	case MigrateLegacyState:
		return e.State.Clone()

	default:
		return s
	}
}

// Fold replays a sequence of events over a starting state.
func Fold(s State, evs []Event) State {
	for _, ev := range evs {
		s = Reduce(s, ev)
	}

	return s
}

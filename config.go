package quota

import (
	"time"

	"github.com/lumenchat/quota/ratelimit"
	"github.com/lumenchat/quota/subscription"
)

// TierLimits holds a bucket configuration per subscription standing for one
// action type. Standard subscribers get materially higher capacity.
type TierLimits struct {
	Free     ratelimit.Limits `json:"free"`
	Standard ratelimit.Limits `json:"standard"`
}

// Config is the immutable configuration snapshot injected at Engine
// construction. It is copied on construction; later mutation of the value
// passed in has no effect.
type Config struct {
	// InitialCredits is the one-time grant applied by InitializeCredits.
	InitialCredits int

	// CreditsPerAction is the spend per allowed action for users without an
	// effectively active Standard subscription.
	CreditsPerAction int

	// Operators is the allow-list for administrative credit adjustments and
	// subscription grants.
	Operators []string

	// RateLimits maps action type to its per-tier bucket configuration.
	// Action types absent from the map are not rate limited.
	RateLimits map[string]TierLimits

	// SnapshotInterval persists a state snapshot every N committed events.
	// Zero disables snapshotting.
	SnapshotInterval int64

	// MailboxSize bounds each user actor's pending operation queue.
	MailboxSize int

	// InviteRewardWindow is how long after account creation the invite
	// reward may still be redeemed.
	InviteRewardWindow time.Duration

	// InviteRewardPlan is the Standard plan granted on redemption.
	InviteRewardPlan subscription.PlanType
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		InitialCredits:   320,
		CreditsPerAction: 10,
		RateLimits: map[string]TierLimits{
			ActionConversation: {
				Free:     ratelimit.Limits{Capacity: 10, Window: 3 * time.Hour},
				Standard: ratelimit.Limits{Capacity: 120, Window: 3 * time.Hour},
			},
		},
		SnapshotInterval:   50,
		MailboxSize:        64,
		InviteRewardWindow: 72 * time.Hour,
		InviteRewardPlan:   subscription.PlanWeek,
	}
}

// ActionConversation is the action type for starting a conversation, the
// primary billable action.
const ActionConversation = "conversation"

// clone deep-copies the config so the Engine holds an immutable snapshot.
func (c Config) clone() Config {
	out := c
	if c.Operators != nil {
		out.Operators = append([]string(nil), c.Operators...)
	}
	if c.RateLimits != nil {
		out.RateLimits = make(map[string]TierLimits, len(c.RateLimits))
		for k, v := range c.RateLimits {
			out.RateLimits[k] = v
		}
	}
	return out
}

// limitsFor selects the bucket configuration for an action type given the
// user's current Standard standing. The zero Limits means unlimited.
func (c Config) limitsFor(actionType string, standardActive bool) ratelimit.Limits {
	tl, ok := c.RateLimits[actionType]
	if !ok {
		return ratelimit.Limits{}
	}
	if standardActive {
		return tl.Standard
	}
	return tl.Free
}

// isOperator reports whether operatorID is on the allow-list.
func (c Config) isOperator(operatorID string) bool {
	for _, op := range c.Operators {
		if op == operatorID {
			return true
		}
	}
	return false
}

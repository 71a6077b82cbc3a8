package quota

import (
	"github.com/lumenchat/quota/credits"
	"github.com/lumenchat/quota/event"
	"github.com/lumenchat/quota/ratelimit"
	"github.com/lumenchat/quota/subscription"
)

// Re-export common types for convenience so users don't have to import subpackages.

// State is re-exported from the event package.
type State = event.State

// Entitlement is re-exported from the subscription package.
type Entitlement = subscription.Entitlement

// Tier is re-exported from the subscription package.
type Tier = subscription.Tier

// PlanType is re-exported from the subscription package.
type PlanType = subscription.PlanType

// Bucket is re-exported from the ratelimit package.
type Bucket = ratelimit.Bucket

// CreditsInfo is re-exported from the credits package.
type CreditsInfo = credits.Info

// Re-export tier and plan constants
const (
	TierStandard = subscription.TierStandard
	TierUltimate = subscription.TierUltimate

	PlanNone  = subscription.PlanNone
	PlanDay   = subscription.PlanDay
	PlanWeek  = subscription.PlanWeek
	PlanMonth = subscription.PlanMonth
	PlanYear  = subscription.PlanYear
)

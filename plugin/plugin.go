// Package plugin provides an extensible plugin system for the quota engine.
// Plugins can hook into various lifecycle events to extend functionality.
package plugin

import (
	"context"

	"github.com/lumenchat/quota/subscription"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Action gate hooks
// ──────────────────────────────────────────────────

// OnActionExecuted is called when an action passes the gate.
type OnActionExecuted interface {
	Plugin
	OnActionExecuted(ctx context.Context, userKey, actionType string, subscribed bool, creditsLeft int) error
}

// OnActionDenied is called when the gate refuses an action.
type OnActionDenied interface {
	Plugin
	OnActionDenied(ctx context.Context, userKey, actionType, reason string) error
}

// OnRateLimitReset is called when an action type's bucket is removed.
type OnRateLimitReset interface {
	Plugin
	OnRateLimitReset(ctx context.Context, userKey, actionType string) error
}

// ──────────────────────────────────────────────────
// Credits hooks
// ──────────────────────────────────────────────────

// OnCreditsInitialized is called when the one-time initial grant is applied.
type OnCreditsInitialized interface {
	Plugin
	OnCreditsInitialized(ctx context.Context, userKey string, amount int) error
}

// OnCreditsAdjusted is called after an administrative credit adjustment.
type OnCreditsAdjusted interface {
	Plugin
	OnCreditsAdjusted(ctx context.Context, userKey, operatorID string, requested, applied, newBalance int) error
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionUpdated is called when a tier's entitlement is overwritten.
type OnSubscriptionUpdated interface {
	Plugin
	OnSubscriptionUpdated(ctx context.Context, userKey string, tier subscription.Tier, ent subscription.Entitlement) error
}

// OnSubscriptionCanceled is called when a tier's entitlement is cleared.
type OnSubscriptionCanceled interface {
	Plugin
	OnSubscriptionCanceled(ctx context.Context, userKey string, tier subscription.Tier) error
}

// OnSubscriptionExpired is called when a lapsed entitlement is marked inactive.
type OnSubscriptionExpired interface {
	Plugin
	OnSubscriptionExpired(ctx context.Context, userKey string, tier subscription.Tier, ent subscription.Entitlement) error
}

// ──────────────────────────────────────────────────
// Event log hooks
// ──────────────────────────────────────────────────

// OnEventsCommitted is called after a batch of events is durably appended.
type OnEventsCommitted interface {
	Plugin
	OnEventsCommitted(ctx context.Context, userKey string, count int, version int64) error
}

// OnStateMigrated is called when a user's state is first materialized,
// either from a legacy record or from the fresh default.
type OnStateMigrated interface {
	Plugin
	OnStateMigrated(ctx context.Context, userKey string, fromLegacy bool) error
}

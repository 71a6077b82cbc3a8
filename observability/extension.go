// Package observability provides a metrics extension for the quota engine
// that records lifecycle event counts via a pluggable MetricFactory.
package observability

import (
	"context"

	quota "github.com/lumenchat/quota"
	"github.com/lumenchat/quota/plugin"
	"github.com/lumenchat/quota/subscription"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                 = (*MetricsExtension)(nil)
	_ plugin.OnInit                 = (*MetricsExtension)(nil)
	_ plugin.OnActionExecuted       = (*MetricsExtension)(nil)
	_ plugin.OnActionDenied         = (*MetricsExtension)(nil)
	_ plugin.OnRateLimitReset       = (*MetricsExtension)(nil)
	_ plugin.OnCreditsInitialized   = (*MetricsExtension)(nil)
	_ plugin.OnCreditsAdjusted      = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionUpdated  = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCanceled = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionExpired  = (*MetricsExtension)(nil)
	_ plugin.OnEventsCommitted      = (*MetricsExtension)(nil)
	_ plugin.OnStateMigrated        = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as an engine plugin to automatically track quota metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Gate metrics
	ActionsExecuted          Counter
	ActionsExecutedStandard  Counter
	ActionsDeniedCredits     Counter
	ActionsDeniedRateLimited Counter
	CreditsRemaining         Histogram

	// Credits metrics
	CreditsInitialized Counter
	CreditsAdjusted    Counter
	AdjustmentApplied  Histogram

	// Subscription metrics
	SubscriptionUpdated  Counter
	SubscriptionCanceled Counter
	SubscriptionExpired  Counter

	// Event log metrics
	EventsCommitted Counter
	CommitBatchSize Histogram
	StatesMigrated  Counter
	LegacyMigrated  Counter

	// Rate limit metrics
	RateLimitResets Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Gate metrics
		ActionsExecuted:          factory.Counter("quota.action.executed"),
		ActionsExecutedStandard:  factory.Counter("quota.action.executed.subscribed"),
		ActionsDeniedCredits:     factory.Counter("quota.action.denied.insufficient_credits"),
		ActionsDeniedRateLimited: factory.Counter("quota.action.denied.rate_limited"),
		CreditsRemaining:         factory.Histogram("quota.action.credits_remaining"),

		// Credits metrics
		CreditsInitialized: factory.Counter("quota.credits.initialized"),
		CreditsAdjusted:    factory.Counter("quota.credits.adjusted"),
		AdjustmentApplied:  factory.Histogram("quota.credits.adjustment_applied"),

		// Subscription metrics
		SubscriptionUpdated:  factory.Counter("quota.subscription.updated"),
		SubscriptionCanceled: factory.Counter("quota.subscription.canceled"),
		SubscriptionExpired:  factory.Counter("quota.subscription.expired"),

		// Event log metrics
		EventsCommitted: factory.Counter("quota.events.committed"),
		CommitBatchSize: factory.Histogram("quota.events.batch.size"),
		StatesMigrated:  factory.Counter("quota.state.migrated"),
		LegacyMigrated:  factory.Counter("quota.state.migrated.legacy"),

		// Rate limit metrics
		RateLimitResets: factory.Counter("quota.ratelimit.resets"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Gate hooks
// ──────────────────────────────────────────────────

// OnActionExecuted implements plugin.OnActionExecuted.
func (m *MetricsExtension) OnActionExecuted(_ context.Context, _, _ string, subscribed bool, creditsLeft int) error {
	m.ActionsExecuted.Inc()
	if subscribed {
		m.ActionsExecutedStandard.Inc()
	} else {
		m.CreditsRemaining.Observe(float64(creditsLeft))
	}
	return nil
}

// OnActionDenied implements plugin.OnActionDenied.
func (m *MetricsExtension) OnActionDenied(_ context.Context, _, _, reason string) error {
	switch reason {
	case quota.ReasonInsufficientCredits:
		m.ActionsDeniedCredits.Inc()
	case quota.ReasonRateLimited:
		m.ActionsDeniedRateLimited.Inc()
	}
	return nil
}

// OnRateLimitReset implements plugin.OnRateLimitReset.
func (m *MetricsExtension) OnRateLimitReset(_ context.Context, _, _ string) error {
	m.RateLimitResets.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Credits hooks
// ──────────────────────────────────────────────────

// OnCreditsInitialized implements plugin.OnCreditsInitialized.
func (m *MetricsExtension) OnCreditsInitialized(_ context.Context, _ string, _ int) error {
	m.CreditsInitialized.Inc()
	return nil
}

// OnCreditsAdjusted implements plugin.OnCreditsAdjusted.
func (m *MetricsExtension) OnCreditsAdjusted(_ context.Context, _, _ string, _, applied, _ int) error {
	m.CreditsAdjusted.Inc()
	m.AdjustmentApplied.Observe(float64(applied))
	return nil
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionUpdated implements plugin.OnSubscriptionUpdated.
func (m *MetricsExtension) OnSubscriptionUpdated(_ context.Context, _ string, _ subscription.Tier, _ subscription.Entitlement) error {
	m.SubscriptionUpdated.Inc()
	return nil
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (m *MetricsExtension) OnSubscriptionCanceled(_ context.Context, _ string, _ subscription.Tier) error {
	m.SubscriptionCanceled.Inc()
	return nil
}

// OnSubscriptionExpired implements plugin.OnSubscriptionExpired.
func (m *MetricsExtension) OnSubscriptionExpired(_ context.Context, _ string, _ subscription.Tier, _ subscription.Entitlement) error {
	m.SubscriptionExpired.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Event log hooks
// ──────────────────────────────────────────────────

// OnEventsCommitted implements plugin.OnEventsCommitted.
func (m *MetricsExtension) OnEventsCommitted(_ context.Context, _ string, count int, _ int64) error {
	m.EventsCommitted.Add(float64(count))
	m.CommitBatchSize.Observe(float64(count))
	return nil
}

// OnStateMigrated implements plugin.OnStateMigrated.
func (m *MetricsExtension) OnStateMigrated(_ context.Context, _ string, fromLegacy bool) error {
	m.StatesMigrated.Inc()
	if fromLegacy {
		m.LegacyMigrated.Inc()
	}
	return nil
}

// Package audithook bridges quota engine lifecycle events to an audit
// trail backend.
//
// It defines a local Recorder interface so the package does not import an
// audit backend directly. Callers inject a RecorderFunc adapter that
// bridges to their backend at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lumenchat/quota/plugin"
	"github.com/lumenchat/quota/subscription"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnCreditsInitialized   = (*Extension)(nil)
	_ plugin.OnCreditsAdjusted      = (*Extension)(nil)
	_ plugin.OnSubscriptionUpdated  = (*Extension)(nil)
	_ plugin.OnSubscriptionCanceled = (*Extension)(nil)
	_ plugin.OnSubscriptionExpired  = (*Extension)(nil)
	_ plugin.OnActionDenied         = (*Extension)(nil)
	_ plugin.OnRateLimitReset       = (*Extension)(nil)
	_ plugin.OnStateMigrated        = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// It is defined locally so this package does not import a concrete audit
// module; callers inject the concrete backend at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges quota lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Credits hooks
// ──────────────────────────────────────────────────

// OnCreditsInitialized implements plugin.OnCreditsInitialized.
func (e *Extension) OnCreditsInitialized(ctx context.Context, userKey string, amount int) error {
	return e.record(ctx, ActionCreditsInitialized, SeverityInfo, OutcomeSuccess,
		ResourceCredits, userKey, CategoryCredits, nil,
		"user_key", userKey,
		"amount", amount,
	)
}

// OnCreditsAdjusted implements plugin.OnCreditsAdjusted.
func (e *Extension) OnCreditsAdjusted(ctx context.Context, userKey, operatorID string, requested, applied, newBalance int) error {
	severity := SeverityInfo
	outcome := OutcomeSuccess
	if applied != requested {
		// The floor clamp truncated the request.
		severity = SeverityWarning
		outcome = OutcomePartial
	}
	return e.record(ctx, ActionCreditsAdjusted, severity, outcome,
		ResourceCredits, userKey, CategoryCredits, nil,
		"user_key", userKey,
		"operator_id", operatorID,
		"requested", requested,
		"applied", applied,
		"new_balance", newBalance,
	)
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionUpdated implements plugin.OnSubscriptionUpdated.
func (e *Extension) OnSubscriptionUpdated(ctx context.Context, userKey string, tier subscription.Tier, ent subscription.Entitlement) error {
	return e.record(ctx, ActionSubscriptionUpdated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, userKey, CategorySubscription, nil,
		"user_key", userKey,
		"tier", string(tier),
		"plan", string(ent.PlanType),
		"status", string(ent.Status),
		"end_date", ent.EndDate,
	)
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (e *Extension) OnSubscriptionCanceled(ctx context.Context, userKey string, tier subscription.Tier) error {
	return e.record(ctx, ActionSubscriptionCanceled, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, userKey, CategorySubscription, nil,
		"user_key", userKey,
		"tier", string(tier),
	)
}

// OnSubscriptionExpired implements plugin.OnSubscriptionExpired.
func (e *Extension) OnSubscriptionExpired(ctx context.Context, userKey string, tier subscription.Tier, ent subscription.Entitlement) error {
	return e.record(ctx, ActionSubscriptionExpired, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, userKey, CategorySubscription, nil,
		"user_key", userKey,
		"tier", string(tier),
		"plan", string(ent.PlanType),
		"end_date", ent.EndDate,
	)
}

// ──────────────────────────────────────────────────
// Gate hooks
// ──────────────────────────────────────────────────

// OnActionDenied implements plugin.OnActionDenied.
func (e *Extension) OnActionDenied(ctx context.Context, userKey, actionType, reason string) error {
	return e.record(ctx, ActionGateDenied, SeverityWarning, OutcomeFailure,
		ResourceGate, userKey, CategoryAccess, nil,
		"user_key", userKey,
		"action_type", actionType,
		"reason", reason,
	)
}

// OnRateLimitReset implements plugin.OnRateLimitReset.
func (e *Extension) OnRateLimitReset(ctx context.Context, userKey, actionType string) error {
	return e.record(ctx, ActionRateLimitReset, SeverityInfo, OutcomeSuccess,
		ResourceRateLimit, userKey, CategoryAccess, nil,
		"user_key", userKey,
		"action_type", actionType,
	)
}

// ──────────────────────────────────────────────────
// State hooks
// ──────────────────────────────────────────────────

// OnStateMigrated implements plugin.OnStateMigrated.
func (e *Extension) OnStateMigrated(ctx context.Context, userKey string, fromLegacy bool) error {
	return e.record(ctx, ActionStateMigrated, SeverityInfo, OutcomeSuccess,
		ResourceState, userKey, CategoryMigration, nil,
		"user_key", userKey,
		"from_legacy", fromLegacy,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}

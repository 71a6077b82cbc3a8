package quota

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lumenchat/quota/credits"
	"github.com/lumenchat/quota/event"
	"github.com/lumenchat/quota/id"
	"github.com/lumenchat/quota/ratelimit"
	"github.com/lumenchat/quota/subscription"
)

// Denial reason codes. These are typed results, not errors: a denied action
// is an expected outcome, not a failure.
const (
	ReasonInsufficientCredits = "insufficient_credits"
	ReasonRateLimited         = "rate_limit_exceeded"
)

// Decision is the outcome of a gate check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Resolution is the outcome of subscription resolution. Ultimate has strict
// priority over Standard when both are effectively active.
type Resolution struct {
	Subscribed  bool                     `json:"subscribed"`
	Tier        subscription.Tier        `json:"tier,omitempty"`
	Entitlement subscription.Entitlement `json:"entitlement"`
}

// ──────────────────────────────────────────────────
// Action Gate
// ──────────────────────────────────────────────────

// Execute decides whether a billable action may proceed for a user and, if
// allowed, applies its deductions as one committed event batch. Denial
// paths are read-only except for the time-driven bucket refill.
func (e *Engine) Execute(ctx context.Context, userKey, actionType string) (Decision, error) {
	var d Decision
	err := e.do(ctx, userKey, func(ctx context.Context, a *actor) error {
		var err error
		d, err = a.execute(ctx, actionType)
		return err
	})
	return d, err
}

func (a *actor) execute(ctx context.Context, actionType string) (Decision, error) {
	e := a.engine
	now := e.now().UTC()

	// Ultimate users never touch credits or buckets.
	ultimate, err := a.effectivelyActive(ctx, subscription.TierUltimate, now)
	if err != nil {
		return Decision{}, err
	}
	if ultimate {
		e.plugins.EmitActionExecuted(ctx, a.userKey, actionType, true, a.state.Credits)
		return Decision{Allowed: true}, nil
	}

	standard, err := a.effectivelyActive(ctx, subscription.TierStandard, now)
	if err != nil {
		return Decision{}, err
	}

	// Refill is a pure consequence of elapsed time and commits even when
	// the action is ultimately denied.
	limits := e.cfg.limitsFor(actionType, standard)
	limited := limits.Valid()
	var bucket ratelimit.Bucket
	if limited {
		b, ok := a.state.Bucket(actionType)
		if !ok {
			b = ratelimit.NewBucket(limits, now)
			if err := a.commit(ctx, event.UpdateRateLimit{ActionType: actionType, Bucket: b}); err != nil {
				return Decision{}, err
			}
		} else if refilled, changed := ratelimit.Refill(b, limits, now); changed {
			b = refilled
			if err := a.commit(ctx, event.UpdateRateLimit{ActionType: actionType, Bucket: b}); err != nil {
				return Decision{}, err
			}
		}
		bucket = b
	}

	// Unsubscribed users spend credits. Balance is evaluated against the
	// prospective initial grant so denial commits nothing.
	cost := 0
	balance := a.state.Credits
	if !standard {
		cost = e.cfg.CreditsPerAction
		if !a.state.HasInitialCredits {
			balance = a.state.Credits + e.cfg.InitialCredits
		}
		if balance < cost {
			e.plugins.EmitActionDenied(ctx, a.userKey, actionType, ReasonInsufficientCredits)
			return Decision{Reason: ReasonInsufficientCredits}, nil
		}
	}

	if limited && bucket.Count == 0 {
		e.plugins.EmitActionDenied(ctx, a.userKey, actionType, ReasonRateLimited)
		return Decision{Reason: ReasonRateLimited}, nil
	}

	var evs []event.Event
	if limited {
		evs = append(evs, event.UpdateRateLimit{ActionType: actionType, Bucket: ratelimit.Consume(bucket)})
	}
	if !standard {
		if !a.state.HasInitialCredits {
			evs = append(evs, event.InitializeCredits{InitialCredits: e.cfg.InitialCredits})
		}
		evs = append(evs, event.UpdateCredits{NewCredits: balance - cost})
	}
	if err := a.commit(ctx, evs...); err != nil {
		return Decision{}, err
	}

	e.plugins.EmitActionExecuted(ctx, a.userKey, actionType, standard, a.state.Credits)
	return Decision{Allowed: true}, nil
}

// effectivelyActive evaluates a tier's standing, committing the lapse
// transition when an active entitlement's end date has passed.
func (a *actor) effectivelyActive(ctx context.Context, tier subscription.Tier, now time.Time) (bool, error) {
	ent := a.state.Entitlement(tier)
	if ent.EffectivelyActive(now) {
		return true, nil
	}
	if ent.Lapsed(now) {
		if err := a.expire(ctx, tier, ent); err != nil {
			return false, err
		}
	}
	return false, nil
}

// expire marks a lapsed entitlement inactive. A lapsed Standard also drops
// every bucket, so the user starts a fresh free-tier bucket instead of
// keeping stale subscriber tokens.
func (a *actor) expire(ctx context.Context, tier subscription.Tier, ent subscription.Entitlement) error {
	lapsed := ent.Clone()
	lapsed.IsActive = false

	evs := []event.Event{event.UpdateSubscription{Tier: tier, Entitlement: lapsed}}
	if tier == subscription.TierStandard {
		evs = append(evs, a.clearBucketEvents()...)
	}
	if err := a.commit(ctx, evs...); err != nil {
		return err
	}

	a.engine.plugins.EmitSubscriptionExpired(ctx, a.userKey, tier, lapsed)
	a.engine.logger.Info("subscription lapsed",
		"user_key", a.userKey,
		"tier", tier,
		"end_date", lapsed.EndDate,
	)
	return nil
}

// clearBucketEvents drops every bucket so the current tier's capacity takes
// effect on next use. Keys are sorted for a deterministic event order.
func (a *actor) clearBucketEvents() []event.Event {
	if len(a.state.RateLimits) == 0 {
		return nil
	}
	keys := make([]string, 0, len(a.state.RateLimits))
	for k := range a.state.RateLimits {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	evs := make([]event.Event, 0, len(keys))
	for _, k := range keys {
		evs = append(evs, event.ClearRateLimit{ActionType: k})
	}
	return evs
}

// ──────────────────────────────────────────────────
// Credits Ledger
// ──────────────────────────────────────────────────

// InitializeCredits grants the configured initial credit amount once.
// Repeat calls are silent no-ops and never double-grant.
func (e *Engine) InitializeCredits(ctx context.Context, userKey string) error {
	return e.do(ctx, userKey, func(ctx context.Context, a *actor) error {
		if a.state.HasInitialCredits {
			return nil
		}
		if err := a.commit(ctx, event.InitializeCredits{InitialCredits: e.cfg.InitialCredits}); err != nil {
			return err
		}
		e.plugins.EmitCreditsInitialized(ctx, a.userKey, e.cfg.InitialCredits)
		return nil
	})
}

// GetCredits returns the user's credit standing. ShouldShowToast is true
// until MarkToastShown is called; reading does not clear it.
func (e *Engine) GetCredits(ctx context.Context, userKey string) (credits.Info, error) {
	var info credits.Info
	err := e.do(ctx, userKey, func(ctx context.Context, a *actor) error {
		info = credits.Info{
			IsInitialized:   a.state.HasInitialCredits,
			Credits:         a.state.Credits,
			ShouldShowToast: a.state.HasInitialCredits && !a.state.HasShownInitialCreditsToast,
		}
		return nil
	})
	return info, err
}

// MarkToastShown records that the initial-credits toast was displayed.
func (e *Engine) MarkToastShown(ctx context.Context, userKey string) error {
	return e.do(ctx, userKey, func(ctx context.Context, a *actor) error {
		if a.state.HasShownInitialCreditsToast {
			return nil
		}
		return a.commit(ctx, event.SetShownToast{})
	})
}

// AdjustCredits administratively corrects a user's balance. The operator
// must be on the configured allow-list; the result is clamped at a floor
// of zero. This is the only correction path outside normal spend.
func (e *Engine) AdjustCredits(ctx context.Context, userKey string, delta int, operatorID string) (credits.AdjustResult, error) {
	if !e.cfg.isOperator(operatorID) {
		e.logger.Warn("credit adjustment rejected",
			"user_key", userKey,
			"operator_id", operatorID,
		)
		return credits.AdjustResult{}, fmt.Errorf("%w: operator %q", ErrUnauthorized, operatorID)
	}

	var res credits.AdjustResult
	err := e.do(ctx, userKey, func(ctx context.Context, a *actor) error {
		prev := a.state.Credits
		next := prev + delta
		if next < 0 {
			next = 0
		}
		if err := a.commit(ctx, event.UpdateCredits{NewCredits: next}); err != nil {
			return err
		}
		res = credits.AdjustResult{
			PreviousBalance: prev,
			NewBalance:      next,
			Applied:         next - prev,
		}
		e.plugins.EmitCreditsAdjusted(ctx, a.userKey, operatorID, delta, res.Applied, next)
		return nil
	})
	return res, err
}

// AddCredits grants a positive reward amount (invite rewards and similar).
// Non-positive deltas are logged and ignored. Uninitialized users receive
// the initial grant first, then the reward on top.
func (e *Engine) AddCredits(ctx context.Context, userKey string, delta int) error {
	if delta <= 0 {
		e.logger.Warn("ignoring non-positive credit grant",
			"user_key", userKey,
			"delta", delta,
		)
		return nil
	}

	return e.do(ctx, userKey, func(ctx context.Context, a *actor) error {
		balance := a.state.Credits
		var evs []event.Event
		if !a.state.HasInitialCredits {
			balance += e.cfg.InitialCredits
			evs = append(evs, event.InitializeCredits{InitialCredits: e.cfg.InitialCredits})
		}
		evs = append(evs, event.UpdateCredits{NewCredits: balance + delta})
		return a.commit(ctx, evs...)
	})
}

// ──────────────────────────────────────────────────
// Subscription Resolver
// ──────────────────────────────────────────────────

// Resolve returns the user's governing entitlement, Ultimate first. A
// lapsed entitlement is marked inactive as a side effect of evaluation.
func (e *Engine) Resolve(ctx context.Context, userKey string) (Resolution, error) {
	var res Resolution
	err := e.do(ctx, userKey, func(ctx context.Context, a *actor) error {
		now := e.now().UTC()
		for _, tier := range []subscription.Tier{subscription.TierUltimate, subscription.TierStandard} {
			active, err := a.effectivelyActive(ctx, tier, now)
			if err != nil {
				return err
			}
			if active {
				res = Resolution{
					Subscribed:  true,
					Tier:        tier,
					Entitlement: a.state.Entitlement(tier).Clone(),
				}
				return nil
			}
		}
		res = Resolution{Entitlement: subscription.Empty()}
		return nil
	})
	return res, err
}

// IsUnlimited reports whether the user holds an effectively active Ultimate
// entitlement and therefore bypasses credits and rate limits.
func (e *Engine) IsUnlimited(ctx context.Context, userKey string) (bool, error) {
	var unlimited bool
	err := e.do(ctx, userKey, func(ctx context.Context, a *actor) error {
		var err error
		unlimited, err = a.effectivelyActive(ctx, subscription.TierUltimate, e.now().UTC())
		return err
	})
	return unlimited, err
}

// IsSubscribed reports whether either tier is effectively active.
func (e *Engine) IsSubscribed(ctx context.Context, userKey string) (bool, error) {
	res, err := e.Resolve(ctx, userKey)
	if err != nil {
		return false, err
	}
	return res.Subscribed, nil
}

// GetSubscription returns the stored entitlement for one tier, without the
// lapse side effect.
func (e *Engine) GetSubscription(ctx context.Context, userKey string, tier subscription.Tier) (subscription.Entitlement, error) {
	if !tier.Valid() {
		return subscription.Entitlement{}, fmt.Errorf("%w: tier %q", ErrInvalidInput, tier)
	}
	var ent subscription.Entitlement
	err := e.do(ctx, userKey, func(ctx context.Context, a *actor) error {
		ent = a.state.Entitlement(tier).Clone()
		return nil
	})
	return ent, err
}

// UpdateSubscription unconditionally overwrites the named tier's
// entitlement from the supplied values. This is the entry point billing
// collaborators use; merge arithmetic for Ultimate upgrades is their
// contract (see subscription.Entitlement.Remaining), not a side effect here.
func (e *Engine) UpdateSubscription(ctx context.Context, userKey string, tier subscription.Tier, ent subscription.Entitlement) error {
	if !tier.Valid() {
		return fmt.Errorf("%w: tier %q", ErrInvalidInput, tier)
	}
	if !ent.PlanType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPlan, ent.PlanType)
	}
	if !ent.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, ent.Status)
	}
	if ent.IsActive && !ent.EndDate.After(ent.StartDate) {
		return fmt.Errorf("%w: end date must follow start date", ErrInvalidInput)
	}

	return e.do(ctx, userKey, func(ctx context.Context, a *actor) error {
		evs := []event.Event{event.UpdateSubscription{Tier: tier, Entitlement: ent.Clone()}}
		// Drop buckets so the new standing's capacity applies immediately.
		evs = append(evs, a.clearBucketEvents()...)
		if err := a.commit(ctx, evs...); err != nil {
			return err
		}
		e.plugins.EmitSubscriptionUpdated(ctx, a.userKey, tier, ent)
		return nil
	})
}

// CancelSubscription clears the named tier's entitlement, leaving the other
// tier untouched. Time absorbed by an earlier upgrade merge is not restored.
func (e *Engine) CancelSubscription(ctx context.Context, userKey string, tier subscription.Tier) error {
	if !tier.Valid() {
		return fmt.Errorf("%w: tier %q", ErrInvalidInput, tier)
	}
	return e.do(ctx, userKey, func(ctx context.Context, a *actor) error {
		evs := []event.Event{event.CancelSubscription{Tier: tier}}
		if tier == subscription.TierStandard {
			evs = append(evs, a.clearBucketEvents()...)
		}
		if err := a.commit(ctx, evs...); err != nil {
			return err
		}
		e.plugins.EmitSubscriptionCanceled(ctx, a.userKey, tier)
		return nil
	})
}

// ──────────────────────────────────────────────────
// Store reconciliation (App Store / Play billing)
// ──────────────────────────────────────────────────

// UpdateQuota reconciles a Standard purchase reported by a mobile store.
// The plan is inferred from the product identifier; the entitlement window
// runs from now to the store-reported expiry. Buckets are dropped so the
// subscriber capacity takes effect immediately.
func (e *Engine) UpdateQuota(ctx context.Context, userKey, productID string, expiresAt time.Time, subscriptionID, invoiceID string) error {
	plan := subscription.InferPlanFromProductID(productID)
	if plan == subscription.PlanNone {
		return fmt.Errorf("%w: product %q", ErrInvalidPlan, productID)
	}

	return e.do(ctx, userKey, func(ctx context.Context, a *actor) error {
		now := e.now().UTC()
		if !expiresAt.After(now) {
			return fmt.Errorf("%w: expiry %s already passed", ErrInvalidInput, expiresAt.Format(time.RFC3339))
		}

		ent := a.state.Standard.Clone()
		ent.IsActive = true
		ent.PlanType = plan
		ent.Status = subscription.StatusCompleted
		ent.StartDate = now
		ent.EndDate = expiresAt
		ent.AppendRefs(subscriptionID, invoiceID)

		evs := []event.Event{event.UpdateSubscription{Tier: subscription.TierStandard, Entitlement: ent}}
		evs = append(evs, a.clearBucketEvents()...)
		if err := a.commit(ctx, evs...); err != nil {
			return err
		}
		e.plugins.EmitSubscriptionUpdated(ctx, a.userKey, subscription.TierStandard, ent)
		return nil
	})
}

// ResetQuota clears the Standard entitlement after a store reports the
// subscription gone, dropping buckets back to free-tier capacity.
func (e *Engine) ResetQuota(ctx context.Context, userKey string) error {
	return e.CancelSubscription(ctx, userKey, subscription.TierStandard)
}

// ──────────────────────────────────────────────────
// Operator grants
// ──────────────────────────────────────────────────

// GrantSubscription grants or extends an entitlement on behalf of an
// allow-listed operator. An effectively active entitlement of the same tier
// is extended by the plan's period, keeping the higher of the two plans; an
// Ultimate grant over an active Standard shifts the Standard window forward
// by the same period, so the Standard time resumes after Ultimate ends.
func (e *Engine) GrantSubscription(ctx context.Context, userKey, operatorID string, tier subscription.Tier, plan subscription.PlanType) (id.GrantID, error) {
	if !e.cfg.isOperator(operatorID) {
		e.logger.Warn("subscription grant rejected",
			"user_key", userKey,
			"operator_id", operatorID,
		)
		return id.Nil, fmt.Errorf("%w: operator %q", ErrUnauthorized, operatorID)
	}
	if !tier.Valid() {
		return id.Nil, fmt.Errorf("%w: tier %q", ErrInvalidInput, tier)
	}
	if !plan.Valid() || plan == subscription.PlanNone {
		return id.Nil, fmt.Errorf("%w: %q", ErrInvalidPlan, plan)
	}

	grantID := id.NewGrantID()
	err := e.do(ctx, userKey, func(ctx context.Context, a *actor) error {
		now := e.now().UTC()
		period := plan.Period()

		ent := a.state.Entitlement(tier).Clone()
		if ent.EffectivelyActive(now) {
			if subscription.IsUpgradeOrSame(plan, ent.PlanType) {
				ent.PlanType = plan
			}
			ent.EndDate = ent.EndDate.Add(period)
		} else {
			ent = subscription.Empty()
			ent.IsActive = true
			ent.PlanType = plan
			ent.StartDate = now
			ent.EndDate = subscription.EndDate(plan, now)
		}
		ent.Status = subscription.StatusCompleted
		ent.AppendRefs(grantID.String(), "")

		evs := []event.Event{event.UpdateSubscription{Tier: tier, Entitlement: ent}}
		if tier == subscription.TierUltimate && a.state.Standard.EffectivelyActive(now) {
			shifted := a.state.Standard.Clone()
			shifted.StartDate = shifted.StartDate.Add(period)
			shifted.EndDate = shifted.EndDate.Add(period)
			evs = append(evs, event.UpdateSubscription{Tier: subscription.TierStandard, Entitlement: shifted})
		}
		evs = append(evs, a.clearBucketEvents()...)
		if err := a.commit(ctx, evs...); err != nil {
			return err
		}

		e.plugins.EmitSubscriptionUpdated(ctx, a.userKey, tier, ent)
		e.logger.Info("subscription granted",
			"user_key", a.userKey,
			"operator_id", operatorID,
			"tier", tier,
			"plan", plan,
			"grant_id", grantID.String(),
		)
		return nil
	})
	if err != nil {
		return id.Nil, err
	}
	return grantID, nil
}

// ──────────────────────────────────────────────────
// Invite reward
// ──────────────────────────────────────────────────

// RedeemInviteReward grants the one-shot invite reward: a short Standard
// entitlement for accounts still inside the redemption window. The
// eligibility flag clears on success and on a lapsed window, so the reward
// can never be claimed twice.
func (e *Engine) RedeemInviteReward(ctx context.Context, userKey string) error {
	return e.do(ctx, userKey, func(ctx context.Context, a *actor) error {
		if !a.state.CanReceiveInviteReward {
			return ErrRewardAlreadyClaimed
		}

		now := e.now().UTC()
		if e.cfg.InviteRewardWindow > 0 && now.Sub(a.state.CreatedAt) > e.cfg.InviteRewardWindow {
			if err := a.commit(ctx, event.UpdateInviteEligibility{CanReceive: false}); err != nil {
				return err
			}
			return ErrRewardWindowClosed
		}

		standard, err := a.effectivelyActive(ctx, subscription.TierStandard, now)
		if err != nil {
			return err
		}
		if standard {
			return ErrAlreadySubscribed
		}

		plan := e.cfg.InviteRewardPlan
		ent := subscription.Empty()
		ent.IsActive = true
		ent.PlanType = plan
		ent.Status = subscription.StatusCompleted
		ent.StartDate = now
		ent.EndDate = subscription.EndDate(plan, now)
		ent.AppendRefs(id.NewGrantID().String(), "")

		evs := []event.Event{
			event.UpdateSubscription{Tier: subscription.TierStandard, Entitlement: ent},
			event.UpdateInviteEligibility{CanReceive: false},
		}
		evs = append(evs, a.clearBucketEvents()...)
		if err := a.commit(ctx, evs...); err != nil {
			return err
		}

		e.plugins.EmitSubscriptionUpdated(ctx, a.userKey, subscription.TierStandard, ent)
		return nil
	})
}

// UpdateInviteEligibility sets the invite-reward eligibility flag directly.
func (e *Engine) UpdateInviteEligibility(ctx context.Context, userKey string, canReceive bool) error {
	return e.do(ctx, userKey, func(ctx context.Context, a *actor) error {
		if a.state.CanReceiveInviteReward == canReceive {
			return nil
		}
		return a.commit(ctx, event.UpdateInviteEligibility{CanReceive: canReceive})
	})
}

// ──────────────────────────────────────────────────
// Maintenance
// ──────────────────────────────────────────────────

// ResetRateLimits removes one action type's bucket; it re-initializes full
// on next use with the capacity of the user's current standing.
func (e *Engine) ResetRateLimits(ctx context.Context, userKey, actionType string) error {
	return e.do(ctx, userKey, func(ctx context.Context, a *actor) error {
		if _, ok := a.state.Bucket(actionType); !ok {
			return nil
		}
		if err := a.commit(ctx, event.ClearRateLimit{ActionType: actionType}); err != nil {
			return err
		}
		e.plugins.EmitRateLimitReset(ctx, a.userKey, actionType)
		return nil
	})
}

// ClearAll resets the user's state to defaults, preserving invite-reward
// eligibility and the account creation time.
func (e *Engine) ClearAll(ctx context.Context, userKey string) error {
	return e.do(ctx, userKey, func(ctx context.Context, a *actor) error {
		return a.commit(ctx, event.ClearAll{})
	})
}

// State returns a copy of the user's current materialized state.
func (e *Engine) State(ctx context.Context, userKey string) (event.State, error) {
	var s event.State
	err := e.do(ctx, userKey, func(ctx context.Context, a *actor) error {
		s = a.state.Clone()
		return nil
	})
	return s, err
}

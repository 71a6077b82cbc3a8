// Package subscription defines the dual-tier entitlement model and the
// plan/status vocabulary shared by the quota engine and its billing callers.
package subscription

import (
	"strings"
	"time"
)

// Tier identifies one of the two subscription classes.
type Tier string

const (
	// TierStandard grants higher rate-limit capacity and waives per-action
	// credit cost while effectively active.
	TierStandard Tier = "standard"
	// TierUltimate grants unlimited action use and takes strict priority
	// over Standard whenever both are effectively active.
	TierUltimate Tier = "ultimate"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierStandard || t == TierUltimate
}

// PlanType is the billing period class of an entitlement.
type PlanType string

const (
	PlanNone  PlanType = "none"
	PlanDay   PlanType = "day" // legacy, billed as a week
	PlanWeek  PlanType = "week"
	PlanMonth PlanType = "month"
	PlanYear  PlanType = "year"
)

// Days returns the entitlement period length for the plan.
// PlanDay is a legacy product that was always sold as a 7-day period.
func (p PlanType) Days() int {
	switch p {
	case PlanDay, PlanWeek:
		return 7
	case PlanMonth:
		return 30
	case PlanYear:
		return 390
	default:
		return 0
	}
}

// Period returns the plan length as a duration.
func (p PlanType) Period() time.Duration {
	return time.Duration(p.Days()) * 24 * time.Hour
}

// Order returns the plan's rank for upgrade comparisons. Higher is longer.
func (p PlanType) Order() int {
	switch p {
	case PlanDay:
		return 1
	case PlanWeek:
		return 2
	case PlanMonth:
		return 3
	case PlanYear:
		return 4
	default:
		return 0
	}
}

// Valid reports whether p is a known plan type, including PlanNone.
func (p PlanType) Valid() bool {
	switch p {
	case PlanNone, PlanDay, PlanWeek, PlanMonth, PlanYear:
		return true
	default:
		return false
	}
}

// IsUpgradeOrSame reports whether moving from old to next keeps or
// increases the plan rank.
func IsUpgradeOrSame(next, old PlanType) bool {
	return next.Order() >= old.Order()
}

// InferPlanFromProductID maps a store product identifier to a plan type by
// substring. Used by App Store reconciliation where the notification carries
// only a product ID.
func InferPlanFromProductID(productID string) PlanType {
	pid := strings.ToLower(productID)
	switch {
	case strings.Contains(pid, "year"):
		return PlanYear
	case strings.Contains(pid, "month"):
		return PlanMonth
	case strings.Contains(pid, "week"):
		return PlanWeek
	case strings.Contains(pid, "day"):
		return PlanDay
	default:
		return PlanNone
	}
}

// EndDate returns the entitlement end for a plan starting at start.
func EndDate(plan PlanType, start time.Time) time.Time {
	return start.Add(plan.Period())
}

// Status is the payment lifecycle state reported by the billing caller.
type Status string

const (
	StatusNone                 Status = "none"
	StatusPending              Status = "pending"
	StatusCompleted            Status = "completed"
	StatusFailed               Status = "failed"
	StatusCancelled            Status = "cancelled"
	StatusRefunded             Status = "refunded"
	StatusRefundedInProcessing Status = "refunded_in_processing"
	StatusDisputed             Status = "disputed"
)

// Valid reports whether s is a known payment status.
func (s Status) Valid() bool {
	switch s {
	case StatusNone, StatusPending, StatusCompleted, StatusFailed,
		StatusCancelled, StatusRefunded, StatusRefundedInProcessing, StatusDisputed:
		return true
	default:
		return false
	}
}

// Entitlement is one tier's subscription record. Dates form a half-open
// interval [StartDate, EndDate). IsActive true implies EndDate > StartDate.
type Entitlement struct {
	IsActive        bool      `json:"is_active"`
	PlanType        PlanType  `json:"plan_type"`
	Status          Status    `json:"status"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	SubscriptionIDs []string  `json:"subscription_ids,omitempty"`
	InvoiceIDs      []string  `json:"invoice_ids,omitempty"`
}

// Empty returns the zero entitlement used after Cancel or ClearAll.
func Empty() Entitlement {
	return Entitlement{PlanType: PlanNone, Status: StatusNone}
}

// EffectivelyActive reports whether the entitlement is active and now falls
// within [StartDate, EndDate).
func (e Entitlement) EffectivelyActive(now time.Time) bool {
	return e.IsActive && !now.Before(e.StartDate) && now.Before(e.EndDate)
}

// Lapsed reports whether the entitlement was active but its period has ended.
func (e Entitlement) Lapsed(now time.Time) bool {
	return e.IsActive && !now.Before(e.EndDate)
}

// Remaining returns max(0, EndDate - now). This is the quantity a billing
// caller adds to a new Ultimate base end date when upgrading a user whose
// Standard entitlement is still effectively active.
func (e Entitlement) Remaining(now time.Time) time.Duration {
	if !e.EffectivelyActive(now) {
		return 0
	}

	return e.EndDate.Sub(now)
}

// Clone returns a deep copy of the entitlement.
func (e Entitlement) Clone() Entitlement {
	out := e
	if e.SubscriptionIDs != nil {
		out.SubscriptionIDs = append([]string(nil), e.SubscriptionIDs...)
	}
	if e.InvoiceIDs != nil {
		out.InvoiceIDs = append([]string(nil), e.InvoiceIDs...)
	}

	return out
}

// AppendRefs records provider subscription and invoice references, skipping
// values already present so re-delivered notifications do not duplicate them.
func (e *Entitlement) AppendRefs(subscriptionID, invoiceID string) {
	if subscriptionID != "" && !contains(e.SubscriptionIDs, subscriptionID) {
		e.SubscriptionIDs = append(e.SubscriptionIDs, subscriptionID)
	}
	if invoiceID != "" && !contains(e.InvoiceIDs, invoiceID) {
		e.InvoiceIDs = append(e.InvoiceIDs, invoiceID)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}

	return false
}

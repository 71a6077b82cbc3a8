package audithook

// Action constants for audit events.
const (
	// Credits actions
	ActionCreditsInitialized = "credits.initialized"
	ActionCreditsAdjusted    = "credits.adjusted"

	// Subscription actions
	ActionSubscriptionUpdated  = "subscription.updated"
	ActionSubscriptionCanceled = "subscription.canceled"
	ActionSubscriptionExpired  = "subscription.expired"

	// Gate actions
	ActionGateDenied = "gate.denied"

	// Rate limit actions
	ActionRateLimitReset = "ratelimit.reset"

	// State actions
	ActionStateMigrated = "state.migrated"
)

// Resource constants for audit events.
const (
	ResourceCredits      = "credits"
	ResourceSubscription = "subscription"
	ResourceGate         = "gate"
	ResourceRateLimit    = "ratelimit"
	ResourceState        = "state"
)

// Category constants for audit events.
const (
	CategoryCredits      = "credits"
	CategorySubscription = "subscription"
	CategoryAccess       = "access"
	CategoryMigration    = "migration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)

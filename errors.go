package quota

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound     = errors.New("quota: not found")
	ErrInvalidInput = errors.New("quota: invalid input")
	ErrUnauthorized = errors.New("quota: unauthorized")

	// Engine errors
	ErrEngineClosed  = errors.New("quota: engine is closed")
	ErrActorFailed   = errors.New("quota: account actor failed")
	ErrMailboxFull   = errors.New("quota: account mailbox full")
	ErrAccountClosed = errors.New("quota: account actor closed")

	// Credits errors
	ErrCreditsNotInitialized = errors.New("quota: credits not initialized")
	ErrInsufficientCredits   = errors.New("quota: insufficient credits")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("quota: subscription not found")
	ErrNoActiveSubscription = errors.New("quota: no active subscription")
	ErrInvalidPlan          = errors.New("quota: invalid plan type")
	ErrInvalidStatus        = errors.New("quota: invalid payment status")

	// Invite reward errors
	ErrRewardAlreadyClaimed = errors.New("quota: invite reward already claimed")
	ErrRewardWindowClosed   = errors.New("quota: invite reward window closed")
	ErrAlreadySubscribed    = errors.New("quota: user already subscribed")

	// Store errors
	ErrStoreNotReady   = errors.New("quota: store not ready")
	ErrStoreClosed     = errors.New("quota: store is closed")
	ErrVersionConflict = errors.New("quota: event log version conflict")
	ErrMigrationFailed = errors.New("quota: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("quota: validation failed for %s: %s", e.Field, e.Message)
}

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "quota: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("quota: %d errors occurred", len(e.Errors))
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrNoActiveSubscription)
}

// IsDenied returns true if the error represents an authorization or
// entitlement denial rather than an infrastructure failure.
func IsDenied(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInsufficientCredits) ||
		errors.Is(err, ErrRewardAlreadyClaimed) ||
		errors.Is(err, ErrRewardWindowClosed) ||
		errors.Is(err, ErrAlreadySubscribed)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrMailboxFull)
}

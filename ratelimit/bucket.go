// Package ratelimit implements the token-bucket math used to pace billable
// actions. All functions are pure; the caller commits resulting bucket
// states through its own event log.
package ratelimit

import "time"

// Bucket is the persisted state of one action type's token bucket.
type Bucket struct {
	Count        int       `json:"count"`
	LastRefillAt time.Time `json:"last_refill_at"`
}

// Limits describes a bucket's capacity over a refill window for one
// (action type, tier) pair.
type Limits struct {
	Capacity int           `json:"capacity"`
	Window   time.Duration `json:"window"`
}

// Valid reports whether the limits describe a usable bucket.
func (l Limits) Valid() bool {
	return l.Capacity > 0 && l.Window > 0
}

// NewBucket returns a bucket initialized full at now. Buckets start full so
// a user's first actions are never throttled.
func NewBucket(limits Limits, now time.Time) Bucket {
	return Bucket{Count: limits.Capacity, LastRefillAt: now}
}

// Refill applies continuous refill to b for the elapsed time since
// LastRefillAt: tokensToAdd = floor(elapsed_seconds * capacity / window).
// LastRefillAt advances only when at least one token was added, so
// fractional progress is never lost across frequent small checks.
// Returns the updated bucket and whether it changed.
func Refill(b Bucket, limits Limits, now time.Time) (Bucket, bool) {
	if !limits.Valid() {
		return b, false
	}

	elapsed := now.Sub(b.LastRefillAt)
	if elapsed <= 0 {
		return b, false
	}

	tokens := int(elapsed.Seconds() * float64(limits.Capacity) / limits.Window.Seconds())
	if tokens <= 0 {
		return b, false
	}

	b.Count = min(limits.Capacity, b.Count+tokens)
	b.LastRefillAt = now

	return b, true
}

// Consume removes one token. The caller must have verified Count > 0.
func Consume(b Bucket) Bucket {
	if b.Count > 0 {
		b.Count--
	}

	return b
}

// Package ratelimit implements the abuse counters gating authentication
// endpoints. Counters are keyed by an opaque client-identity string and obey
// a fail-open policy: when the backing store is unavailable every operation
// degrades to "not limited" rather than locking out legitimate clients
// during an infrastructure incident.
package ratelimit

import (
	"context"
	"time"
)

// Counter is the abuse-counter contract shared by the Redis-backed store and
// the in-process fallback. Increment must be atomic with respect to
// concurrent callers on the same key and callers increment BEFORE performing
// the rate-limited operation, so a downstream failure still consumes budget.
type Counter interface {
	// IsLimited reports whether the count for key has reached limit.
	// An absent key means a zero count.
	IsLimited(ctx context.Context, key string, limit int) bool
	// Increment atomically adds one to the key's count and arms the window
	// expiry on first increment.
	Increment(ctx context.Context, key string, window time.Duration)
	// ResetAt returns the absolute time the counter expires, or nil when the
	// key is absent or the store is unavailable.
	ResetAt(ctx context.Context, key string) *time.Time
	// Reset drops the counter for key.
	Reset(ctx context.Context, key string)
}

// LoginKey composes the abuse-counter key for login attempts from a client
// address. Keys are endpoint-scoped so budgets do not bleed across routes.
func LoginKey(clientIP string) string {
	return "rl:login:" + clientIP
}

// ResetRequestKey composes the abuse-counter key for password-reset requests.
func ResetRequestKey(clientIP string) string {
	return "rl:pwreset:" + clientIP
}

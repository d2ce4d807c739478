// Package ports defines the storage contracts of the ratelimit module.
package ports

import (
	"context"
	"time"
)

// WindowStore keeps fixed-window attempt counters.
type WindowStore interface {
	// Increment atomically consumes one attempt for key in the window starting
	// at windowStart unless count already reached maxAttempts. It returns the
	// count after the call and whether the attempt was admitted. A denied call
	// must not mutate the counter. Records of older windows for the same key
	// may be deleted as a side effect.
	Increment(ctx context.Context, key string, windowStart time.Time, window time.Duration, maxAttempts int) (count int, allowed bool, err error)
}

// Purger deletes records whose window has fully elapsed. Stores with native
// expiry (Redis TTLs) do not implement it.
type Purger interface {
	Purge(ctx context.Context, now time.Time) (int64, error)
}

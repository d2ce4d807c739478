package models

import "time"

// RateLimitRecord is the attempt counter of one key within one fixed window.
type RateLimitRecord struct {
	Key         string
	WindowStart time.Time
	Window      time.Duration
	Count       int
}

// Expired reports whether the record's window has fully elapsed at now.
func (r *RateLimitRecord) Expired(now time.Time) bool {
	return !now.Before(r.WindowStart.Add(r.Window))
}

// Policy is an admission budget for one class of operation.
type Policy struct {
	Name        string
	Window      time.Duration
	MaxAttempts int
	// FailOpen admits requests when the store is unreachable. Security-sensitive
	// policies leave it false.
	FailOpen bool
}

// Decision is the outcome of a single check-and-consume.
type Decision struct {
	Allowed    bool
	Key        string
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	// Degraded is set when the store failed and the fail-open/closed rule decided.
	Degraded bool
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for the Retry-After header.
func (d *Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int((d.RetryAfter + time.Second - 1) / time.Second)
}

// WindowStart truncates now to the window boundary: now - (now mod window),
// measured from the Unix epoch so all instances agree.
func WindowStart(now time.Time, window time.Duration) time.Time {
	ns := now.UnixNano()
	w := window.Nanoseconds()
	return time.Unix(0, ns-ns%w).UTC()
}

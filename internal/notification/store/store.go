// Package store persists notifications whose inline delivery failed and
// hands them to the recovery sweep.
package store

import "time"

const leaseExpiredError = "claim lease expired before the attempt finished"

// ClaimParams bounds one sweep claim.
type ClaimParams struct {
	Now         time.Time
	MaxAttempts int
	Lease       time.Duration
	Limit       int
}

// LeaseCutoff is the claim time before which a pending row is abandoned.
func (p ClaimParams) LeaseCutoff() time.Time {
	return p.Now.Add(-p.Lease)
}

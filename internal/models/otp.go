package models

import "time"

// OTPRecord is the live one-time code for a phone. The code itself is never
// stored, only its bcrypt hash.
type OTPRecord struct {
	Phone       string     `json:"phone"`
	CodeHash    string     `json:"code_hash"`
	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// IsLocked reports whether the record is inside a lockout window at now.
func (r *OTPRecord) IsLocked(now time.Time) bool {
	return r.LockedUntil != nil && r.LockedUntil.After(now)
}

// IsExpired reports whether the code expired at now.
func (r *OTPRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// OTPExpiredRetention is how long an expired record stays readable so that
// a late verification is reported as expired rather than unknown.
const OTPExpiredRetention = 5 * time.Minute

// RetainUntil is how long the record must survive in the store: past the
// code expiry by OTPExpiredRetention, or the end of an active lockout if
// later.
func (r *OTPRecord) RetainUntil() time.Time {
	retain := r.ExpiresAt.Add(OTPExpiredRetention)
	if r.LockedUntil != nil && r.LockedUntil.After(retain) {
		return *r.LockedUntil
	}
	return retain
}

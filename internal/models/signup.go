package models

import "time"

// PendingSignup is a staged account awaiting proof of phone ownership.
type PendingSignup struct {
	Phone           string    `json:"phone"`
	Role            Role      `json:"role"`
	FullName        string    `json:"full_name"`
	Email           string    `json:"email,omitempty"`
	PasswordHash    string    `json:"password_hash"`
	ProfileImageRef string    `json:"profile_image_ref,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

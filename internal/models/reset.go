package models

import "time"

// PasswordResetSession authorizes exactly one password change for a phone.
type PasswordResetSession struct {
	Phone     string    `json:"phone"`
	Role      Role      `json:"role"`
	TokenHash string    `json:"token_hash"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Consumed  bool      `json:"consumed"`
}

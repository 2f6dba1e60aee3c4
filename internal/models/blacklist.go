package models

import "time"

// RevocationReason records why a token was blacklisted.
type RevocationReason string

const (
	ReasonLogout         RevocationReason = "logout"
	ReasonTokenRefresh   RevocationReason = "token_refresh"
	ReasonPasswordChange RevocationReason = "password_change"
	ReasonLogoutAll      RevocationReason = "logout_all"
	ReasonSessionRevoked RevocationReason = "session_revoked"
)

// BlacklistEntry revokes a token before its natural expiry. The entry can be
// reaped once NaturalExpiresAt passes.
type BlacklistEntry struct {
	TokenID          string           `json:"token_id"`
	UserID           string           `json:"user_id"`
	Reason           RevocationReason `json:"reason"`
	NaturalExpiresAt time.Time        `json:"natural_expires_at"`
	CreatedAt        time.Time        `json:"created_at"`
}

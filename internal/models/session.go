package models

import "time"

// Session is the server-side record of one issued token.
type Session struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	TokenID   string     `json:"token_id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	IPAddress string     `json:"ip_address"`
	UserAgent string     `json:"user_agent"`
	Revoked   bool       `json:"revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// IsActive reports whether the session is neither revoked nor expired at now.
func (s *Session) IsActive(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// ClientInfo is the request metadata stored with a session and in audit rows.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// IssuedToken is what a client receives after login, signup or refresh.
type IssuedToken struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	ExpiresIn int64     `json:"expires_in"`
	SessionID string    `json:"session_id"`
}

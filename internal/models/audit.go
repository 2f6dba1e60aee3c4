package models

import "time"

type LoginOutcome string

const (
	LoginSuccess LoginOutcome = "success"
	LoginFailed  LoginOutcome = "failed"
	LoginBlocked LoginOutcome = "blocked"
	// LoginError is a server-side failure. It does not count towards lockout.
	LoginError LoginOutcome = "error"
)

type LoginAttempt struct {
	ID        string       `json:"id"`
	Phone     string       `json:"phone"`
	Role      Role         `json:"role"`
	IP        string       `json:"ip"`
	Outcome   LoginOutcome `json:"outcome"`
	Reason    string       `json:"reason,omitempty"`
	UserID    string       `json:"user_id,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Security event types.
const (
	EventSignup                 = "signup"
	EventSignupVerified         = "signup_verified"
	EventLogin                  = "login"
	EventLoginFailed            = "login_failed"
	EventLoginBlocked           = "login_blocked"
	EventLogout                 = "logout"
	EventLogoutAll              = "logout_all"
	EventSessionRevoked         = "session_revoked"
	EventTokenRefresh           = "token_refresh"
	EventPasswordChange         = "password_change"
	EventPasswordResetRequested = "password_reset_requested"
	EventAdminProvisioned       = "admin_provisioned"
	EventSignupFailed           = "signup_failed"
	EventOTPVerifyFailed        = "otp_verify_failed"
	EventTokenRefreshFailed     = "token_refresh_failed"
	EventLogoutFailed           = "logout_failed"
	EventSessionRevokeFailed    = "session_revoke_failed"
	EventPasswordResetFailed    = "password_reset_failed"
)

type SecurityEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

package service

import "github.com/qcom/phoneauth/internal/apperr"

// One-time codes.
var (
	ErrOTPNotFound       = apperr.New(apperr.KindNotFound, "OTP_NOT_FOUND", "no active code for this phone number")
	ErrOTPExpired        = apperr.New(apperr.KindAuthentication, "OTP_EXPIRED", "code expired, request a new one")
	ErrOTPInvalid        = apperr.New(apperr.KindAuthentication, "OTP_INVALID", "invalid code")
	ErrOTPLocked         = apperr.New(apperr.KindLocked, "OTP_LOCKED", "too many incorrect codes, try again later")
	ErrOTPDeliveryFailed = apperr.New(apperr.KindInternal, "OTP_DELIVERY_FAILED", "could not deliver the code, try again")
)

// Signup and password reset.
var (
	ErrNoPendingSignup   = apperr.New(apperr.KindNotFound, "NO_PENDING_SIGNUP", "no pending signup")
	ErrResetTokenInvalid = apperr.New(apperr.KindAuthentication, "RESET_TOKEN_INVALID", "invalid reset token")
	ErrResetTokenExpired = apperr.New(apperr.KindAuthentication, "RESET_TOKEN_EXPIRED", "reset token expired")
	ErrResetTokenUsed    = apperr.New(apperr.KindAuthentication, "RESET_TOKEN_USED", "reset token already used")
)

// Accounts and credentials.
var (
	ErrInvalidCredentials = apperr.New(apperr.KindAuthentication, "INVALID_CREDENTIALS", "invalid phone number or password")
	ErrAccountExists      = apperr.New(apperr.KindValidation, "ACCOUNT_EXISTS", "an account with this phone number already exists")
	ErrAccountNotFound    = apperr.New(apperr.KindNotFound, "ACCOUNT_NOT_FOUND", "account not found")
	ErrAccountBlocked     = apperr.New(apperr.KindForbidden, "ACCOUNT_BLOCKED", "account is blocked")
	ErrForbidden          = apperr.New(apperr.KindForbidden, "FORBIDDEN", "not allowed")
)

// Tokens and sessions.
var (
	ErrTokenInvalid    = apperr.New(apperr.KindTokenInvalid, "TOKEN_INVALID", "invalid token")
	ErrTokenRevoked    = apperr.New(apperr.KindTokenRevoked, "TOKEN_REVOKED", "token revoked")
	ErrSessionNotFound = apperr.New(apperr.KindTokenInvalid, "SESSION_NOT_FOUND", "session not found")
	ErrSessionRevoked  = apperr.New(apperr.KindTokenRevoked, "SESSION_REVOKED", "session revoked")
	ErrUnknownSession  = apperr.New(apperr.KindNotFound, "UNKNOWN_SESSION", "session not found")
)

// Abuse protection.
var (
	ErrRateLimited           = apperr.New(apperr.KindRateLimited, "RATE_LIMITED", "too many requests, try again later")
	ErrTooManyFailedAttempts = apperr.New(apperr.KindLocked, "LOGIN_LOCKED", "too many failed attempts")
)

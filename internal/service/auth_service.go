package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/qcom/phoneauth/internal/apperr"
	"github.com/qcom/phoneauth/internal/config"
	"github.com/qcom/phoneauth/internal/metrics"
	"github.com/qcom/phoneauth/internal/models"
	"github.com/qcom/phoneauth/internal/repository"
)

// OTP verification purposes.
const (
	PurposeSignup = "signup"
	PurposeLogin  = "login"
)

type SignupRequest struct {
	Phone           string
	Role            string
	FullName        string
	Email           string
	Password        string
	ProfileImageRef string
}

type VerifyOTPRequest struct {
	Phone   string
	Role    string
	Code    string
	Purpose string
}

type LoginRequest struct {
	Phone    string
	Role     string
	Password string
}

type ResetPasswordRequest struct {
	Phone       string
	Role        string
	ResetToken  string
	NewPassword string
}

// AuthResult is returned by every flow that signs a user in.
type AuthResult struct {
	User  *models.User        `json:"user"`
	Token *models.IssuedToken `json:"token"`
}

// AuthDeps are the collaborators of AuthService.
type AuthDeps struct {
	Users    repository.UserRepository
	OTP      *OTPService
	Signups  *SignupStore
	Resets   *ResetService
	Sessions *SessionService
	Guard    *Guard
	Audit    *AuditLog
	Notifier Notifier
	Hasher   PasswordHasher
	Password *config.PasswordConfig
	Logger   *logrus.Logger
}

// AuthService implements the signup, login, token and password reset flows.
type AuthService struct {
	users    repository.UserRepository
	otp      *OTPService
	signups  *SignupStore
	resets   *ResetService
	sessions *SessionService
	guard    *Guard
	audit    *AuditLog
	notifier Notifier
	hasher   PasswordHasher
	password *config.PasswordConfig
	logger   *logrus.Logger
}

func NewAuthService(deps AuthDeps) *AuthService {
	return &AuthService{
		users:    deps.Users,
		otp:      deps.OTP,
		signups:  deps.Signups,
		resets:   deps.Resets,
		sessions: deps.Sessions,
		guard:    deps.Guard,
		audit:    deps.Audit,
		notifier: deps.Notifier,
		hasher:   deps.Hasher,
		password: deps.Password,
		logger:   deps.Logger,
	}
}

func parseIdentity(rawPhone, rawRole string) (string, models.Role, error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return "", "", err
	}
	role, err := ParseRole(rawRole)
	if err != nil {
		return "", "", err
	}
	return phone, role, nil
}

// lookupUser returns nil, nil when no account exists.
func (s *AuthService) lookupUser(ctx context.Context, phone string, role models.Role) (*models.User, error) {
	user, err := s.users.GetByPhone(ctx, phone, role)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to get user: %w", err))
	}
	return user, nil
}

func (s *AuthService) event(ctx context.Context, eventType, userID, message string, client models.ClientInfo, severity models.Severity) {
	s.audit.RecordEvent(ctx, models.SecurityEvent{
		UserID:    userID,
		Type:      eventType,
		Message:   message,
		IP:        client.IPAddress,
		UserAgent: client.UserAgent,
		Severity:  severity,
	})
}

// auditFailure records a flow that ended in err. Malformed input is not
// recorded.
func (s *AuthService) auditFailure(ctx context.Context, eventType, userID, phone string, err error, client models.ClientInfo) {
	ae := apperr.From(err)
	if ae.Kind == apperr.KindValidation {
		return
	}
	message := ae.Code + ": " + ae.Message
	if phone != "" {
		message = phone + ": " + message
	}
	s.event(ctx, eventType, userID, message, client, models.SeverityWarning)
}

// Signup stages the account and sends a code to the phone. The account is
// created by VerifyOTP.
func (s *AuthService) Signup(ctx context.Context, req SignupRequest, client models.ClientInfo) (err error) {
	phone, role, err := parseIdentity(req.Phone, req.Role)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			s.auditFailure(ctx, models.EventSignupFailed, "", phone, err, client)
		}
	}()
	if err := ValidateName(req.FullName); err != nil {
		return err
	}
	if err := ValidateEmail(req.Email); err != nil {
		return err
	}
	if err := ValidatePassword(req.Password, s.password.MinLength); err != nil {
		return err
	}

	if err := s.guard.AllowSignup(ctx, client.IPAddress); err != nil {
		return err
	}

	existing, err := s.lookupUser(ctx, phone, role)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAccountExists
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return apperr.Internal(err)
	}

	pending := &models.PendingSignup{
		Phone:           phone,
		Role:            role,
		FullName:        strings.TrimSpace(req.FullName),
		Email:           req.Email,
		PasswordHash:    hash,
		ProfileImageRef: req.ProfileImageRef,
	}
	if err := s.signups.Stage(ctx, pending); err != nil {
		return apperr.Internal(err)
	}

	if err := s.otp.Issue(ctx, phone); err != nil {
		return err
	}

	s.event(ctx, models.EventSignup, "", "signup staged for "+string(role), client, models.SeverityInfo)
	return nil
}

// SendOTP sends a code to a phone that has an account or a staged signup.
func (s *AuthService) SendOTP(ctx context.Context, rawPhone, rawRole string) error {
	return s.sendOTP(ctx, rawPhone, rawRole, s.otp.Issue)
}

// ResendOTP replaces the live code. A lockout stays in place.
func (s *AuthService) ResendOTP(ctx context.Context, rawPhone, rawRole string) error {
	return s.sendOTP(ctx, rawPhone, rawRole, s.otp.Resend)
}

func (s *AuthService) sendOTP(ctx context.Context, rawPhone, rawRole string, issue func(context.Context, string) error) error {
	phone, role, err := parseIdentity(rawPhone, rawRole)
	if err != nil {
		return err
	}

	if err := s.guard.AllowOTPRequest(ctx, phone); err != nil {
		return err
	}

	user, err := s.lookupUser(ctx, phone, role)
	if err != nil {
		return err
	}
	if user == nil {
		staged, err := s.signups.Exists(ctx, phone, role)
		if err != nil {
			return apperr.Internal(err)
		}
		if !staged {
			return ErrAccountNotFound
		}
	} else if user.IsBlocked {
		return ErrAccountBlocked
	}

	return issue(ctx, phone)
}

// VerifyOTP proves phone ownership. For PurposeSignup the staged account is
// created; for PurposeLogin the existing account is signed in.
func (s *AuthService) VerifyOTP(ctx context.Context, req VerifyOTPRequest, client models.ClientInfo) (_ *AuthResult, err error) {
	phone, role, err := parseIdentity(req.Phone, req.Role)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			s.auditFailure(ctx, models.EventOTPVerifyFailed, "", phone, err, client)
		}
	}()
	if strings.TrimSpace(req.Code) == "" {
		return nil, apperr.Validation("code is required")
	}
	purpose := req.Purpose
	if purpose == "" {
		purpose = PurposeSignup
	}
	if purpose != PurposeSignup && purpose != PurposeLogin {
		return nil, apperr.Validation("purpose must be signup or login")
	}

	if err := s.guard.AllowOTPVerify(ctx, phone); err != nil {
		return nil, err
	}

	if err := s.otp.Verify(ctx, phone, strings.TrimSpace(req.Code)); err != nil {
		return nil, err
	}

	var user *models.User
	if purpose == PurposeSignup {
		user, err = s.createFromPending(ctx, phone, role, client)
	} else {
		user, err = s.verifyExisting(ctx, phone, role)
	}
	if err != nil {
		return nil, err
	}

	token, session, err := s.sessions.Issue(ctx, user, client)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if purpose == PurposeSignup {
		metrics.RecordTokenIssued("signup")
	} else {
		metrics.RecordTokenIssued("otp_login")
		s.audit.RecordLoginAttempt(ctx, models.LoginAttempt{
			Phone:   phone,
			Role:    role,
			IP:      client.IPAddress,
			Outcome: models.LoginSuccess,
			Reason:  "otp",
			UserID:  user.ID,
		})
		s.event(ctx, models.EventLogin, user.ID, "signed in with one-time code", client, models.SeverityInfo)
	}
	s.notifier.SessionStarted(ctx, user, session)

	return &AuthResult{User: user, Token: token}, nil
}

func (s *AuthService) createFromPending(ctx context.Context, phone string, role models.Role, client models.ClientInfo) (*models.User, error) {
	pending, err := s.signups.Consume(ctx, phone, role)
	if err != nil {
		if errors.Is(err, ErrNoPendingSignup) {
			return nil, err
		}
		return nil, apperr.Internal(err)
	}

	user := &models.User{
		ID:              uuid.New().String(),
		PhoneNumber:     phone,
		Role:            role,
		Name:            pending.FullName,
		Email:           pending.Email,
		PasswordHash:    pending.PasswordHash,
		ProfileImageRef: pending.ProfileImageRef,
		IsVerified:      true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, ErrAccountExists
		}
		return nil, apperr.Internal(fmt.Errorf("failed to create user: %w", err))
	}

	s.notifier.UserCreated(ctx, user)
	s.event(ctx, models.EventSignupVerified, user.ID, "account created", client, models.SeverityInfo)
	return user, nil
}

func (s *AuthService) verifyExisting(ctx context.Context, phone string, role models.Role) (*models.User, error) {
	user, err := s.lookupUser(ctx, phone, role)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrAccountNotFound
	}
	if user.IsBlocked {
		return nil, ErrAccountBlocked
	}
	if !user.IsVerified {
		if err := s.users.MarkVerified(ctx, user.ID); err != nil {
			return nil, apperr.Internal(fmt.Errorf("failed to mark user verified: %w", err))
		}
		user.IsVerified = true
	}
	return user, nil
}

// Login signs in with phone and password. Unknown phones and wrong
// passwords get the same error after the same amount of hashing work.
func (s *AuthService) Login(ctx context.Context, req LoginRequest, client models.ClientInfo) (*AuthResult, error) {
	phone, role, err := parseIdentity(req.Phone, req.Role)
	if err != nil {
		return nil, err
	}
	if req.Password == "" {
		return nil, apperr.Validation("password is required")
	}

	attempt := models.LoginAttempt{Phone: phone, Role: role, IP: client.IPAddress}

	if err := s.guard.CheckLogin(ctx, phone, role, client.IPAddress); err != nil {
		kind := apperr.KindOf(err)
		if kind != apperr.KindLocked && kind != apperr.KindRateLimited {
			return nil, s.loginError(ctx, attempt, apperr.Internal(err), client)
		}
		attempt.Outcome = models.LoginBlocked
		attempt.Reason = "too_many_failed_attempts"
		s.audit.RecordLoginAttempt(ctx, attempt)
		s.event(ctx, models.EventLoginBlocked, "", "login blocked for "+phone, client, models.SeverityWarning)
		metrics.RecordLoginAttempt(metrics.OutcomeBlocked)
		return nil, err
	}

	user, err := s.lookupUser(ctx, phone, role)
	if err != nil {
		return nil, s.loginError(ctx, attempt, err, client)
	}
	if user == nil {
		s.hasher.CompareDummy(req.Password)
		return nil, s.loginFailed(ctx, attempt, "unknown_account", client)
	}
	attempt.UserID = user.ID

	if user.IsBlocked {
		attempt.Outcome = models.LoginFailed
		attempt.Reason = "account_blocked"
		s.audit.RecordLoginAttempt(ctx, attempt)
		metrics.RecordLoginAttempt(metrics.OutcomeFailed)
		return nil, ErrAccountBlocked
	}

	if err := s.hasher.Compare(user.PasswordHash, req.Password); err != nil {
		if !errors.Is(err, ErrPasswordMismatch) {
			return nil, s.loginError(ctx, attempt, apperr.Internal(err), client)
		}
		return nil, s.loginFailed(ctx, attempt, "invalid_password", client)
	}

	token, session, err := s.sessions.Issue(ctx, user, client)
	if err != nil {
		return nil, s.loginError(ctx, attempt, apperr.Internal(err), client)
	}

	attempt.Outcome = models.LoginSuccess
	s.audit.RecordLoginAttempt(ctx, attempt)
	s.event(ctx, models.EventLogin, user.ID, "signed in with password", client, models.SeverityInfo)
	metrics.RecordLoginAttempt(metrics.OutcomeSuccess)
	metrics.RecordTokenIssued("login")
	s.notifier.SessionStarted(ctx, user, session)

	return &AuthResult{User: user, Token: token}, nil
}

func (s *AuthService) loginFailed(ctx context.Context, attempt models.LoginAttempt, reason string, client models.ClientInfo) error {
	if err := s.guard.RecordLoginFailure(ctx, attempt.Phone, attempt.Role); err != nil {
		s.logger.WithError(err).Error("Failed to count login failure")
	}

	attempt.Outcome = models.LoginFailed
	attempt.Reason = reason
	s.audit.RecordLoginAttempt(ctx, attempt)
	s.event(ctx, models.EventLoginFailed, attempt.UserID, "failed login: "+reason, client, models.SeverityWarning)
	metrics.RecordLoginAttempt(metrics.OutcomeFailed)

	return ErrInvalidCredentials
}

// loginError records an attempt that failed on the server side. It is kept
// apart from failed attempts so it never counts towards lockout.
func (s *AuthService) loginError(ctx context.Context, attempt models.LoginAttempt, err error, client models.ClientInfo) error {
	attempt.Outcome = models.LoginError
	attempt.Reason = apperr.From(err).Code
	s.audit.RecordLoginAttempt(ctx, attempt)
	s.auditFailure(ctx, models.EventLoginFailed, attempt.UserID, attempt.Phone, err, client)
	metrics.RecordLoginAttempt(metrics.OutcomeError)
	return classify(err)
}

// Refresh rotates the caller's token.
func (s *AuthService) Refresh(ctx context.Context, p *Principal, client models.ClientInfo) (_ *models.IssuedToken, err error) {
	defer func() {
		if err != nil {
			s.auditFailure(ctx, models.EventTokenRefreshFailed, p.UserID, "", err, client)
		}
	}()

	if err := s.guard.AllowRefresh(ctx, p.UserID); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, p.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if user.IsBlocked {
		return nil, ErrAccountBlocked
	}

	token, _, err := s.sessions.Refresh(ctx, p, client)
	if err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			return nil, err
		}
		return nil, apperr.Internal(err)
	}

	s.event(ctx, models.EventTokenRefresh, p.UserID, "token refreshed", client, models.SeverityInfo)
	metrics.RecordTokenIssued("refresh")
	return token, nil
}

func (s *AuthService) Logout(ctx context.Context, p *Principal, client models.ClientInfo) error {
	if err := s.sessions.Logout(ctx, p); err != nil {
		err = apperr.Internal(err)
		s.auditFailure(ctx, models.EventLogoutFailed, p.UserID, "", err, client)
		return err
	}
	s.event(ctx, models.EventLogout, p.UserID, "signed out", client, models.SeverityInfo)
	return nil
}

// LogoutAll signs the user out everywhere and returns the number of
// sessions ended.
func (s *AuthService) LogoutAll(ctx context.Context, p *Principal, client models.ClientInfo) (int, error) {
	count, err := s.sessions.LogoutAll(ctx, p.UserID)
	if err != nil {
		err = apperr.Internal(err)
		s.auditFailure(ctx, models.EventLogoutFailed, p.UserID, "", err, client)
		return 0, err
	}
	s.event(ctx, models.EventLogoutAll, p.UserID, fmt.Sprintf("signed out of %d sessions", count), client, models.SeverityInfo)
	return count, nil
}

func (s *AuthService) ListSessions(ctx context.Context, p *Principal) ([]SessionView, error) {
	views, err := s.sessions.ListSessions(ctx, p.UserID, p.SessionID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return views, nil
}

func (s *AuthService) RevokeSession(ctx context.Context, p *Principal, sessionID string, client models.ClientInfo) error {
	if err := s.sessions.RevokeSessionByID(ctx, sessionID, p.UserID); err != nil {
		if !errors.Is(err, ErrUnknownSession) {
			err = apperr.Internal(err)
		}
		s.auditFailure(ctx, models.EventSessionRevokeFailed, p.UserID, "", err, client)
		return err
	}
	s.event(ctx, models.EventSessionRevoked, p.UserID, "session "+sessionID+" revoked", client, models.SeverityInfo)
	return nil
}

// Me returns the caller's account.
func (s *AuthService) Me(ctx context.Context, p *Principal) (*models.User, error) {
	user, err := s.users.GetByID(ctx, p.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return user, nil
}

// SecurityEvents lists audit events for administrators.
func (s *AuthService) SecurityEvents(ctx context.Context, p *Principal, userID string, limit int) ([]*models.SecurityEvent, error) {
	if p.Role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	events, err := s.audit.RecentEvents(ctx, userID, limit)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return events, nil
}

// ForgotPassword sends a reset code when the account exists. The result is
// the same whether or not it does.
func (s *AuthService) ForgotPassword(ctx context.Context, rawPhone, rawRole string, client models.ClientInfo) error {
	phone, role, err := parseIdentity(rawPhone, rawRole)
	if err != nil {
		return err
	}

	if err := s.guard.AllowPasswordReset(ctx, phone); err != nil {
		return err
	}

	user, err := s.lookupUser(ctx, phone, role)
	if err != nil {
		return err
	}
	if user == nil || user.IsBlocked {
		return nil
	}

	if err := s.otp.Issue(ctx, phone); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Warn("Password reset code not sent")
		return nil
	}

	s.event(ctx, models.EventPasswordResetRequested, user.ID, "password reset requested", client, models.SeverityWarning)
	return nil
}

// ForgotPasswordVerify exchanges a reset code for a single-use reset token.
func (s *AuthService) ForgotPasswordVerify(ctx context.Context, rawPhone, rawRole, code string, client models.ClientInfo) (_ string, _ time.Time, err error) {
	phone, role, err := parseIdentity(rawPhone, rawRole)
	if err != nil {
		return "", time.Time{}, err
	}
	defer func() {
		if err != nil {
			s.auditFailure(ctx, models.EventOTPVerifyFailed, "", phone, err, client)
		}
	}()
	if strings.TrimSpace(code) == "" {
		return "", time.Time{}, apperr.Validation("code is required")
	}

	if err := s.guard.AllowOTPVerify(ctx, phone); err != nil {
		return "", time.Time{}, err
	}

	if err := s.otp.Verify(ctx, phone, strings.TrimSpace(code)); err != nil {
		return "", time.Time{}, err
	}

	user, err := s.lookupUser(ctx, phone, role)
	if err != nil {
		return "", time.Time{}, err
	}
	if user == nil {
		return "", time.Time{}, ErrAccountNotFound
	}

	token, expiresAt, err := s.resets.Create(ctx, phone, role)
	if err != nil {
		return "", time.Time{}, apperr.Internal(err)
	}
	return token, expiresAt, nil
}

// ForgotPasswordReset sets a new password and ends every session of the
// account. Sessions are revoked before anything else changes, so a storage
// failure leaves the password and the reset token as they were.
func (s *AuthService) ForgotPasswordReset(ctx context.Context, req ResetPasswordRequest, client models.ClientInfo) (err error) {
	phone, role, err := parseIdentity(req.Phone, req.Role)
	if err != nil {
		return err
	}
	var userID string
	defer func() {
		if err != nil {
			s.auditFailure(ctx, models.EventPasswordResetFailed, userID, phone, err, client)
		}
	}()

	if req.ResetToken == "" {
		return apperr.Validation("reset token is required")
	}
	if err := ValidatePassword(req.NewPassword, s.password.MinLength); err != nil {
		return err
	}

	if _, err := s.resets.Validate(ctx, phone, role, req.ResetToken); err != nil {
		return classify(err)
	}

	user, err := s.lookupUser(ctx, phone, role)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrResetTokenInvalid
	}
	userID = user.ID

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return apperr.Internal(err)
	}

	revoked, err := s.sessions.RevokeAllForPasswordChange(ctx, user.ID)
	if err != nil {
		return apperr.Internal(err)
	}

	if err := s.resets.Consume(ctx, phone, role, req.ResetToken); err != nil {
		return classify(err)
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return apperr.Internal(fmt.Errorf("failed to update password: %w", err))
	}

	// Sessions opened with the old password while it was being replaced.
	late, err := s.sessions.RevokeAllForPasswordChange(ctx, user.ID)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Error("Password changed but late sessions were not revoked")
		return apperr.Internal(err)
	}

	s.event(ctx, models.EventPasswordChange, user.ID,
		fmt.Sprintf("password reset, %d sessions revoked", revoked+late), client, models.SeverityWarning)
	return nil
}

// ProvisionAdmin creates the administrator account for phone or resets its
// password. It is meant for deployment tooling, not the HTTP surface.
func (s *AuthService) ProvisionAdmin(ctx context.Context, rawPhone, name, email, password string) (*models.User, bool, error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return nil, false, err
	}
	if err := ValidateName(name); err != nil {
		return nil, false, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, false, err
	}
	if err := ValidatePassword(password, s.password.MinLength); err != nil {
		return nil, false, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, false, apperr.Internal(err)
	}

	user, err := s.lookupUser(ctx, phone, models.RoleAdmin)
	if err != nil {
		return nil, false, err
	}

	created := user == nil
	if created {
		user = &models.User{
			ID:           uuid.New().String(),
			PhoneNumber:  phone,
			Role:         models.RoleAdmin,
			Name:         strings.TrimSpace(name),
			Email:        email,
			PasswordHash: hash,
			IsVerified:   true,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, false, apperr.Internal(fmt.Errorf("failed to create admin: %w", err))
		}
	} else {
		if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
			return nil, false, apperr.Internal(fmt.Errorf("failed to update admin password: %w", err))
		}
		if !user.IsVerified {
			if err := s.users.MarkVerified(ctx, user.ID); err != nil {
				return nil, false, apperr.Internal(fmt.Errorf("failed to verify admin: %w", err))
			}
			user.IsVerified = true
		}
	}

	message := "administrator password reset"
	if created {
		message = "administrator account created"
	}
	s.event(ctx, models.EventAdminProvisioned, user.ID, message, models.ClientInfo{UserAgent: "provision-admin"}, models.SeverityWarning)
	s.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"created": created,
	}).Warn("Administrator provisioned")

	return user, created, nil
}

// classify keeps taxonomy errors and hides everything else as internal.
func classify(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Internal(err)
}

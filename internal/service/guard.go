package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qcom/phoneauth/internal/config"
	"github.com/qcom/phoneauth/internal/kv"
	"github.com/qcom/phoneauth/internal/metrics"
	"github.com/qcom/phoneauth/internal/models"
	"github.com/qcom/phoneauth/internal/repository"
)

// Guard admits or rejects requests to the sensitive endpoints. Besides the
// per-endpoint rate limiters, logins are refused for an IP or a phone with
// too many recent failures in the audit trail.
type Guard struct {
	login         *RateLimiter
	signup        *RateLimiter
	otpRequest    *RateLimiter
	otpVerify     *RateLimiter
	passwordReset *RateLimiter
	refresh       *RateLimiter

	audit  repository.AuditRepository
	cfg    *config.GuardConfig
	logger *logrus.Logger
	now    func() time.Time
}

func NewGuard(store kv.Store, audit repository.AuditRepository, cfg *config.GuardConfig, logger *logrus.Logger) *Guard {
	return &Guard{
		login:         NewRateLimiter(store, "login", cfg.Login),
		signup:        NewRateLimiter(store, "signup", cfg.Signup),
		otpRequest:    NewRateLimiter(store, "otp_request", cfg.OTPRequest),
		otpVerify:     NewRateLimiter(store, "otp_verify", cfg.OTPVerify),
		passwordReset: NewRateLimiter(store, "password_reset", cfg.PasswordReset),
		refresh:       NewRateLimiter(store, "refresh", cfg.Refresh),
		audit:         audit,
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
	}
}

// setClock points the guard and all of its limiters at one time source.
func (g *Guard) setClock(now func() time.Time) {
	g.now = now
	for _, l := range []*RateLimiter{g.login, g.signup, g.otpRequest, g.otpVerify, g.passwordReset, g.refresh} {
		l.now = now
	}
}

func loginKey(phone string, role models.Role) string {
	return string(role) + ":" + phone
}

func (g *Guard) AllowSignup(ctx context.Context, ip string) error {
	return g.signup.Take(ctx, ip)
}

func (g *Guard) AllowOTPRequest(ctx context.Context, phone string) error {
	return g.otpRequest.Take(ctx, phone)
}

func (g *Guard) AllowOTPVerify(ctx context.Context, phone string) error {
	return g.otpVerify.Take(ctx, phone)
}

func (g *Guard) AllowPasswordReset(ctx context.Context, phone string) error {
	return g.passwordReset.Take(ctx, phone)
}

func (g *Guard) AllowRefresh(ctx context.Context, userID string) error {
	return g.refresh.Take(ctx, userID)
}

// CheckLogin runs before the credentials are looked at. It applies the
// lockout from failure history, then the login limiter, which only counts
// failures.
func (g *Guard) CheckLogin(ctx context.Context, phone string, role models.Role, ip string) error {
	now := g.now()
	since := now.Add(-g.cfg.FailureWindow)

	if ip != "" {
		stats, err := g.audit.FailedLoginsByIP(ctx, ip, since)
		if err != nil {
			return fmt.Errorf("failed to count failed logins by ip: %w", err)
		}
		if err := g.lockout(stats, g.cfg.IPFailureThreshold, now); err != nil {
			g.logger.WithFields(logrus.Fields{"ip": ip, "failures": stats.Count}).Warn("Login blocked for IP")
			return err
		}
	}

	stats, err := g.audit.FailedLoginsByPhone(ctx, phone, role, since)
	if err != nil {
		return fmt.Errorf("failed to count failed logins by phone: %w", err)
	}
	if err := g.lockout(stats, g.cfg.PhoneFailureThreshold, now); err != nil {
		g.logger.WithFields(logrus.Fields{"phone": phone, "role": role, "failures": stats.Count}).Warn("Login blocked for phone")
		return err
	}

	return g.login.Check(ctx, loginKey(phone, role))
}

func (g *Guard) lockout(stats repository.FailureStats, threshold int, now time.Time) error {
	if threshold <= 0 || stats.Count < threshold {
		return nil
	}
	until := stats.Last.Add(g.cfg.BlockDuration)
	if !now.Before(until) {
		return nil
	}
	metrics.RecordRateLimited("login_lockout")
	return ErrTooManyFailedAttempts.WithRetryAfter(until.Sub(now))
}

// RecordLoginFailure counts a failed login against the login limiter.
func (g *Guard) RecordLoginFailure(ctx context.Context, phone string, role models.Role) error {
	return g.login.Hit(ctx, loginKey(phone, role))
}

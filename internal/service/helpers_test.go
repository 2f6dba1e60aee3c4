package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/qcom/phoneauth/internal/config"
	"github.com/qcom/phoneauth/internal/kv"
	"github.com/qcom/phoneauth/internal/repository/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// capturingGateway records the last code sent to each phone.
type capturingGateway struct {
	mu    sync.Mutex
	codes map[string]string
	sent  int
	fail  error
}

func newCapturingGateway() *capturingGateway {
	return &capturingGateway{codes: make(map[string]string)}
}

func (g *capturingGateway) Send(_ context.Context, phone, code string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return g.fail
	}
	g.codes[phone] = code
	g.sent++
	return nil
}

func (g *capturingGateway) setFailure(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = err
}

func (g *capturingGateway) code(t *testing.T, phone string) string {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	code, ok := g.codes[phone]
	require.True(t, ok, "no code sent to %s", phone)
	return code
}

func (g *capturingGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sent
}

// wrongCode returns a code of the same length that differs from code.
func wrongCode(code string) string {
	b := []byte(code)
	if b[0] == '9' {
		b[0] = '0'
	} else {
		b[0]++
	}
	return string(b)
}

func testConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			SecretKey:   testSecret,
			Issuer:      "phoneauth",
			TokenExpiry: 24 * time.Hour,
		},
		OTP: config.OTPConfig{
			Length:          6,
			Expiry:          5 * time.Minute,
			MaxAttempts:     5,
			LockoutWindow:   15 * time.Minute,
			DeliveryTimeout: time.Second,
			HashCost:        bcrypt.MinCost,
		},
		Signup:   config.SignupConfig{PendingTTL: 15 * time.Minute},
		Reset:    config.ResetConfig{SessionTTL: 10 * time.Minute},
		Password: config.PasswordConfig{MinLength: 8, HashCost: bcrypt.MinCost},
		Guard: config.GuardConfig{
			Login:                 config.Limit{Max: 10, Window: 15 * time.Minute},
			Signup:                config.Limit{Max: 3, Window: time.Hour},
			OTPRequest:            config.Limit{Max: 5, Window: 15 * time.Minute},
			OTPVerify:             config.Limit{Max: 10, Window: 15 * time.Minute},
			PasswordReset:         config.Limit{Max: 3, Window: time.Hour},
			Refresh:               config.Limit{Max: 20, Window: 15 * time.Minute},
			IPFailureThreshold:    15,
			PhoneFailureThreshold: 10,
			FailureWindow:         30 * time.Minute,
			BlockDuration:         30 * time.Minute,
		},
		Audit:   config.AuditConfig{WriteTimeout: time.Second},
		Sweeper: config.SweeperConfig{Interval: time.Minute},
	}
}

// harness wires every service over in-memory stores and one fake clock.
type harness struct {
	cfg     *config.Config
	clock   *fakeClock
	kv      *kv.MemoryStore
	durable *memory.Store
	users   *memory.UserRepository
	gateway *capturingGateway

	otp       *OTPService
	signups   *SignupStore
	resets    *ResetService
	tokens    *TokenService
	blacklist *Blacklist
	sessions  *SessionService
	guard     *Guard
	audit     *AuditLog
	auth      *AuthService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := testConfig()
	logger := testLogger()
	clock := newFakeClock()

	h := &harness{
		cfg:     cfg,
		clock:   clock,
		kv:      kv.NewMemoryStore(kv.WithClock(clock.Now)),
		durable: memory.NewStore(),
		users:   memory.NewUserRepository(),
		gateway: newCapturingGateway(),
	}

	tokens, err := NewTokenService(&cfg.JWT, logger)
	require.NoError(t, err)
	tokens.now = clock.Now
	h.tokens = tokens

	h.otp = NewOTPService(h.kv, h.gateway, &cfg.OTP, logger)
	h.otp.now = clock.Now
	h.signups = NewSignupStore(h.kv, cfg.Signup.PendingTTL, logger)
	h.signups.now = clock.Now
	h.resets = NewResetService(h.kv, cfg.Reset.SessionTTL, logger)
	h.resets.now = clock.Now
	h.blacklist = NewBlacklist(h.durable.Blacklist(), logger)
	h.blacklist.now = clock.Now
	h.sessions = NewSessionService(h.durable, tokens, h.blacklist, logger)
	h.sessions.now = clock.Now
	h.guard = NewGuard(h.kv, h.durable.Audit(), &cfg.Guard, logger)
	h.guard.setClock(clock.Now)
	h.audit = NewAuditLog(h.durable.Audit(), cfg.Audit.WriteTimeout, logger)
	h.audit.now = clock.Now

	h.auth = NewAuthService(AuthDeps{
		Users:    h.users,
		OTP:      h.otp,
		Signups:  h.signups,
		Resets:   h.resets,
		Sessions: h.sessions,
		Guard:    h.guard,
		Audit:    h.audit,
		Notifier: NewLogNotifier(logger),
		Hasher:   NewBcryptHasher(cfg.Password.HashCost),
		Password: &cfg.Password,
		Logger:   logger,
	})
	return h
}

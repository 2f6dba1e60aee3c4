package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qcom/phoneauth/internal/kv"
	"github.com/qcom/phoneauth/internal/models"
)

const resetTokenBytes = 32

// ResetService manages single-use password reset sessions. Only a hash of
// the token is stored. A consumed session is kept until it expires so a
// second use is reported as already used.
type ResetService struct {
	store  kv.Store
	ttl    time.Duration
	logger *logrus.Logger
	now    func() time.Time
}

func NewResetService(store kv.Store, ttl time.Duration, logger *logrus.Logger) *ResetService {
	return &ResetService{
		store:  store,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func resetKey(tokenHash string) string {
	return "reset:" + tokenHash
}

// Create starts a reset session for an OTP-verified phone and returns the
// opaque token. The token is not recoverable later.
func (s *ResetService) Create(ctx context.Context, phone string, role models.Role) (string, time.Time, error) {
	raw := make([]byte, resetTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate reset token: %w", err)
	}
	token := hex.EncodeToString(raw)

	now := s.now()
	session := models.PasswordResetSession{
		Phone:     phone,
		Role:      role,
		TokenHash: hashResetToken(token),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	data, err := json.Marshal(session)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to marshal reset session: %w", err)
	}

	ok, err := s.store.CompareAndSet(ctx, resetKey(session.TokenHash), nil, data, s.ttl)
	if err != nil {
		s.logger.WithError(err).Error("Failed to store reset session")
		return "", time.Time{}, fmt.Errorf("failed to store reset session: %w", err)
	}
	if !ok {
		return "", time.Time{}, errors.New("reset token collision")
	}

	return token, session.ExpiresAt, nil
}

// Validate checks token without consuming it.
func (s *ResetService) Validate(ctx context.Context, phone string, role models.Role, token string) (*models.PasswordResetSession, error) {
	data, err := s.store.Get(ctx, resetKey(hashResetToken(token)))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrResetTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reset session: %w", err)
	}

	var session models.PasswordResetSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reset session: %w", err)
	}
	if err := s.check(&session, phone, role, token); err != nil {
		return nil, err
	}
	return &session, nil
}

// Consume validates token and marks it used. Exactly one caller can consume
// a token.
func (s *ResetService) Consume(ctx context.Context, phone string, role models.Role, token string) error {
	var outcome error

	err := kv.Update(ctx, s.store, resetKey(hashResetToken(token)), func(current []byte) (kv.Change, error) {
		if current == nil {
			outcome = ErrResetTokenInvalid
			return kv.Change{Keep: true}, nil
		}

		var session models.PasswordResetSession
		if err := json.Unmarshal(current, &session); err != nil {
			return kv.Change{}, fmt.Errorf("failed to unmarshal reset session: %w", err)
		}
		if outcome = s.check(&session, phone, role, token); outcome != nil {
			return kv.Change{Keep: true}, nil
		}

		session.Consumed = true
		updated, err := json.Marshal(session)
		if err != nil {
			return kv.Change{}, fmt.Errorf("failed to marshal reset session: %w", err)
		}
		return kv.Change{Value: updated, TTL: session.ExpiresAt.Sub(s.now())}, nil
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to consume reset session")
		return fmt.Errorf("failed to consume reset session: %w", err)
	}
	return outcome
}

func (s *ResetService) check(session *models.PasswordResetSession, phone string, role models.Role, token string) error {
	if subtle.ConstantTimeCompare([]byte(session.TokenHash), []byte(hashResetToken(token))) != 1 ||
		session.Phone != phone || session.Role != role {
		return ErrResetTokenInvalid
	}
	if session.Consumed {
		return ErrResetTokenUsed
	}
	if !s.now().Before(session.ExpiresAt) {
		return ErrResetTokenExpired
	}
	return nil
}

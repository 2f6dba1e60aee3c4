package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/qcom/phoneauth/internal/config"
	"github.com/qcom/phoneauth/internal/delivery"
	"github.com/qcom/phoneauth/internal/kv"
	"github.com/qcom/phoneauth/internal/metrics"
	"github.com/qcom/phoneauth/internal/models"
)

// OTPService issues and verifies one-time codes. At most one code is live
// per phone; issuing replaces it and resets the attempt counter.
type OTPService struct {
	store   kv.Store
	gateway delivery.Gateway
	cfg     *config.OTPConfig
	logger  *logrus.Logger
	now     func() time.Time
}

func NewOTPService(store kv.Store, gateway delivery.Gateway, cfg *config.OTPConfig, logger *logrus.Logger) *OTPService {
	return &OTPService{
		store:   store,
		gateway: gateway,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

func otpKey(phone string) string {
	return "otp:" + phone
}

// Issue generates a code, stores it and hands it to the delivery gateway.
// When delivery fails the stored record is removed again. A phone inside a
// lockout window gets ErrOTPLocked and the lockout is left untouched.
func (s *OTPService) Issue(ctx context.Context, phone string) error {
	code, err := s.generateRandomOTP(s.cfg.Length)
	if err != nil {
		return fmt.Errorf("failed to generate OTP: %w", err)
	}

	hashedOTP, err := bcrypt.GenerateFromPassword([]byte(code), s.cfg.HashCost)
	if err != nil {
		return fmt.Errorf("failed to hash OTP: %w", err)
	}

	now := s.now()
	record := models.OTPRecord{
		Phone:     phone,
		CodeHash:  string(hashedOTP),
		Attempts:  0,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.Expiry),
	}
	written, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal OTP record: %w", err)
	}

	var locked error
	err = kv.Update(ctx, s.store, otpKey(phone), func(current []byte) (kv.Change, error) {
		locked = nil
		if current != nil {
			var prev models.OTPRecord
			if err := json.Unmarshal(current, &prev); err == nil && prev.IsLocked(now) {
				locked = ErrOTPLocked.WithRetryAfter(prev.LockedUntil.Sub(now))
				return kv.Change{Keep: true}, nil
			}
		}
		return kv.Change{Value: written, TTL: record.RetainUntil().Sub(now)}, nil
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to store OTP")
		return fmt.Errorf("failed to store OTP: %w", err)
	}
	if locked != nil {
		metrics.RecordOTPIssued(metrics.OutcomeLocked)
		return locked
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
	defer cancel()

	if err := s.gateway.Send(sendCtx, phone, code); err != nil {
		s.rollback(phone, written)
		metrics.RecordOTPIssued(metrics.OutcomeDeliveryFailed)
		s.logger.WithError(err).WithField("phone", phone).Warn("OTP delivery failed")
		return ErrOTPDeliveryFailed.Wrap(err)
	}

	if s.cfg.LogCodes {
		s.logger.WithFields(logrus.Fields{
			"phone": phone,
			"otp":   code,
		}).Info("OTP generated (logged for development)")
	}

	metrics.RecordOTPIssued(metrics.OutcomeSuccess)
	return nil
}

// Resend issues a fresh code. Rate limiting is the caller's concern.
func (s *OTPService) Resend(ctx context.Context, phone string) error {
	return s.Issue(ctx, phone)
}

// rollback removes the record written by Issue, unless something replaced
// it in the meantime. It runs detached from the request so a cancelled
// request still cleans up.
func (s *OTPService) rollback(phone string, written []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DeliveryTimeout)
	defer cancel()

	if _, err := s.store.CompareAndSet(ctx, otpKey(phone), written, nil, 0); err != nil {
		s.logger.WithError(err).WithField("phone", phone).Error("Failed to roll back undelivered OTP")
	}
}

// Verify checks code against the live record for phone. A match consumes
// the record. A mismatch counts against the attempt budget; the attempt that
// exhausts it locks the phone for the lockout window.
func (s *OTPService) Verify(ctx context.Context, phone, code string) error {
	now := s.now()

	// Guesses are compared at most once per stored hash even if the update
	// is retried.
	var (
		comparedHash string
		matched      bool
		outcome      error
	)

	err := kv.Update(ctx, s.store, otpKey(phone), func(current []byte) (kv.Change, error) {
		if current == nil {
			outcome = ErrOTPNotFound
			return kv.Change{Keep: true}, nil
		}

		var record models.OTPRecord
		if err := json.Unmarshal(current, &record); err != nil {
			return kv.Change{}, fmt.Errorf("failed to unmarshal OTP record: %w", err)
		}

		if record.IsLocked(now) {
			outcome = ErrOTPLocked.WithRetryAfter(record.LockedUntil.Sub(now))
			return kv.Change{Keep: true}, nil
		}

		if record.IsExpired(now) {
			outcome = ErrOTPExpired
			return kv.Change{Delete: true}, nil
		}

		if comparedHash != record.CodeHash {
			comparedHash = record.CodeHash
			matched = bcrypt.CompareHashAndPassword([]byte(record.CodeHash), []byte(code)) == nil
		}

		if matched {
			outcome = nil
			return kv.Change{Delete: true}, nil
		}

		record.Attempts++
		if record.Attempts >= s.cfg.MaxAttempts {
			lockedUntil := now.Add(s.cfg.LockoutWindow)
			record.LockedUntil = &lockedUntil
			outcome = ErrOTPLocked.WithRetryAfter(s.cfg.LockoutWindow)
		} else {
			outcome = ErrOTPInvalid.WithRemaining(s.cfg.MaxAttempts - record.Attempts)
		}

		updated, err := json.Marshal(record)
		if err != nil {
			return kv.Change{}, fmt.Errorf("failed to marshal OTP record: %w", err)
		}
		return kv.Change{Value: updated, TTL: record.RetainUntil().Sub(now)}, nil
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to verify OTP")
		return fmt.Errorf("failed to verify OTP: %w", err)
	}

	metrics.RecordOTPVerification(verificationOutcome(outcome))
	return outcome
}

func verificationOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrOTPLocked):
		return metrics.OutcomeLocked
	case errors.Is(err, ErrOTPExpired):
		return metrics.OutcomeExpired
	case errors.Is(err, ErrOTPNotFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeInvalid
	}
}

func (s *OTPService) generateRandomOTP(length int) (string, error) {
	digits := make([]byte, length)
	for i := range digits {
		num, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + num.Int64())
	}
	return string(digits), nil
}

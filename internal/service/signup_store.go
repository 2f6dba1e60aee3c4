package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qcom/phoneauth/internal/kv"
	"github.com/qcom/phoneauth/internal/models"
)

// SignupStore stages signups until the phone is verified. There is at most
// one staged signup per (phone, role); staging again replaces it.
type SignupStore struct {
	store  kv.Store
	ttl    time.Duration
	logger *logrus.Logger
	now    func() time.Time
}

func NewSignupStore(store kv.Store, ttl time.Duration, logger *logrus.Logger) *SignupStore {
	return &SignupStore{
		store:  store,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

func signupKey(phone string, role models.Role) string {
	return "signup:" + string(role) + ":" + phone
}

func (s *SignupStore) Stage(ctx context.Context, pending *models.PendingSignup) error {
	now := s.now()
	pending.CreatedAt = now
	pending.ExpiresAt = now.Add(s.ttl)

	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to marshal pending signup: %w", err)
	}

	if err := s.store.Set(ctx, signupKey(pending.Phone, pending.Role), data, s.ttl); err != nil {
		s.logger.WithError(err).Error("Failed to stage signup")
		return fmt.Errorf("failed to stage signup: %w", err)
	}
	return nil
}

// Exists reports whether a live staged signup exists.
func (s *SignupStore) Exists(ctx context.Context, phone string, role models.Role) (bool, error) {
	data, err := s.store.Get(ctx, signupKey(phone, role))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get pending signup: %w", err)
	}

	var pending models.PendingSignup
	if err := json.Unmarshal(data, &pending); err != nil {
		return false, fmt.Errorf("failed to unmarshal pending signup: %w", err)
	}
	return s.now().Before(pending.ExpiresAt), nil
}

// Consume removes and returns the staged signup. Concurrent consumers race
// for it and only one wins; the others get ErrNoPendingSignup.
func (s *SignupStore) Consume(ctx context.Context, phone string, role models.Role) (*models.PendingSignup, error) {
	now := s.now()
	var pending *models.PendingSignup

	err := kv.Update(ctx, s.store, signupKey(phone, role), func(current []byte) (kv.Change, error) {
		pending = nil
		if current == nil {
			return kv.Change{Keep: true}, nil
		}

		var p models.PendingSignup
		if err := json.Unmarshal(current, &p); err != nil {
			return kv.Change{}, fmt.Errorf("failed to unmarshal pending signup: %w", err)
		}
		if now.Before(p.ExpiresAt) {
			pending = &p
		}
		return kv.Change{Delete: true}, nil
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to consume pending signup")
		return nil, fmt.Errorf("failed to consume pending signup: %w", err)
	}

	if pending == nil {
		return nil, ErrNoPendingSignup
	}
	return pending, nil
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qcom/phoneauth/internal/metrics"
	"github.com/qcom/phoneauth/internal/models"
	"github.com/qcom/phoneauth/internal/repository"
)

// Blacklist revokes individual tokens before their natural expiry.
type Blacklist struct {
	repo   repository.BlacklistRepository
	logger *logrus.Logger
	now    func() time.Time
}

func NewBlacklist(repo repository.BlacklistRepository, logger *logrus.Logger) *Blacklist {
	return &Blacklist{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// In returns a Blacklist that writes through tx.
func (b *Blacklist) In(tx repository.Store) *Blacklist {
	return &Blacklist{repo: tx.Blacklist(), logger: b.logger, now: b.now}
}

// Add is idempotent per token id.
func (b *Blacklist) Add(ctx context.Context, tokenID, userID string, reason models.RevocationReason, naturalExpiresAt time.Time) error {
	entry := &models.BlacklistEntry{
		TokenID:          tokenID,
		UserID:           userID,
		Reason:           reason,
		NaturalExpiresAt: naturalExpiresAt,
		CreatedAt:        b.now(),
	}
	if err := b.repo.Add(ctx, entry); err != nil {
		b.logger.WithError(err).WithField("reason", reason).Error("Failed to blacklist token")
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

func (b *Blacklist) Contains(ctx context.Context, tokenID string) (bool, error) {
	listed, err := b.repo.Contains(ctx, tokenID)
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return listed, nil
}

// Reap deletes entries whose token has expired anyway.
func (b *Blacklist) Reap(ctx context.Context) (int64, error) {
	n, err := b.repo.DeleteExpired(ctx, b.now())
	if err != nil {
		return 0, fmt.Errorf("failed to reap blacklist: %w", err)
	}
	metrics.RecordSweepRemoved("blacklist", n)
	return n, nil
}

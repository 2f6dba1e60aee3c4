package service

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/qcom/phoneauth/internal/metrics"
	"github.com/qcom/phoneauth/internal/models"
	"github.com/qcom/phoneauth/internal/repository"
)

const maxEventsPage = 200

// AuditLog appends security records. Writes are best effort: they outlive
// the request context, are bounded by a timeout, and failures are only
// logged and counted.
type AuditLog struct {
	repo    repository.AuditRepository
	timeout time.Duration
	logger  *logrus.Logger
	now     func() time.Time
}

func NewAuditLog(repo repository.AuditRepository, timeout time.Duration, logger *logrus.Logger) *AuditLog {
	return &AuditLog{
		repo:    repo,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

func (a *AuditLog) RecordLoginAttempt(ctx context.Context, attempt models.LoginAttempt) {
	attempt.ID = ulid.Make().String()
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = a.now()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	if err := a.repo.InsertLoginAttempt(ctx, &attempt); err != nil {
		metrics.RecordAuditWriteFailure("login_attempt")
		a.logger.WithError(err).WithFields(logrus.Fields{
			"phone":   attempt.Phone,
			"outcome": attempt.Outcome,
		}).Error("Failed to record login attempt")
	}
}

func (a *AuditLog) RecordEvent(ctx context.Context, event models.SecurityEvent) {
	event.ID = ulid.Make().String()
	if event.Timestamp.IsZero() {
		event.Timestamp = a.now()
	}
	if event.Severity == "" {
		event.Severity = models.SeverityInfo
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	if err := a.repo.InsertSecurityEvent(ctx, &event); err != nil {
		metrics.RecordAuditWriteFailure("security_event")
		a.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": event.UserID,
			"type":    event.Type,
		}).Error("Failed to record security event")
	}
}

// RecentEvents lists events newest first. An empty userID lists all users.
func (a *AuditLog) RecentEvents(ctx context.Context, userID string, limit int) ([]*models.SecurityEvent, error) {
	if limit <= 0 || limit > maxEventsPage {
		limit = maxEventsPage
	}
	events, err := a.repo.ListSecurityEvents(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	return events, nil
}

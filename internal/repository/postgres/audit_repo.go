package postgres

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/qcom/phoneauth/internal/models"
	"github.com/qcom/phoneauth/internal/repository"
)

// AuditRepository implements repository.AuditRepository over the
// login_attempts and security_events tables.
type AuditRepository struct {
	db DB
}

func NewAuditRepository(db DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) InsertLoginAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO login_attempts (id, phone, role, ip_address, outcome, reason, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		attempt.ID,
		attempt.Phone,
		string(attempt.Role),
		attempt.IP,
		string(attempt.Outcome),
		attempt.Reason,
		attempt.UserID,
		attempt.Timestamp,
	)
	if err != nil {
		return oops.Code("LOGIN_ATTEMPT_INSERT_FAILED").
			With("operation", "insert login attempt").
			With("outcome", string(attempt.Outcome)).
			Wrap(err)
	}
	return nil
}

func (r *AuditRepository) InsertSecurityEvent(ctx context.Context, event *models.SecurityEvent) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO security_events (id, user_id, event_type, message, ip_address, user_agent, severity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		event.ID,
		event.UserID,
		event.Type,
		event.Message,
		event.IP,
		event.UserAgent,
		string(event.Severity),
		event.Timestamp,
	)
	if err != nil {
		return oops.Code("SECURITY_EVENT_INSERT_FAILED").
			With("operation", "insert security event").
			With("event_type", event.Type).
			Wrap(err)
	}
	return nil
}

// FailedLoginsByIP counts failed attempts from ip at or after since.
func (r *AuditRepository) FailedLoginsByIP(ctx context.Context, ip string, since time.Time) (repository.FailureStats, error) {
	stats, err := r.failureStats(ctx, `
		SELECT COUNT(*), COALESCE(MAX(created_at), 'epoch'::timestamptz)
		FROM login_attempts
		WHERE ip_address = $1 AND outcome = 'failed' AND created_at >= $2
	`, ip, since)
	if err != nil {
		return repository.FailureStats{}, oops.Code("FAILED_LOGINS_BY_IP_FAILED").
			With("operation", "count failed logins by ip").
			Wrap(err)
	}
	return stats, nil
}

// FailedLoginsByPhone counts failed attempts against phone and role at or
// after since.
func (r *AuditRepository) FailedLoginsByPhone(ctx context.Context, phone string, role models.Role, since time.Time) (repository.FailureStats, error) {
	stats, err := r.failureStats(ctx, `
		SELECT COUNT(*), COALESCE(MAX(created_at), 'epoch'::timestamptz)
		FROM login_attempts
		WHERE phone = $1 AND role = $2 AND outcome = 'failed' AND created_at >= $3
	`, phone, string(role), since)
	if err != nil {
		return repository.FailureStats{}, oops.Code("FAILED_LOGINS_BY_PHONE_FAILED").
			With("operation", "count failed logins by phone").
			With("role", string(role)).
			Wrap(err)
	}
	return stats, nil
}

func (r *AuditRepository) failureStats(ctx context.Context, query string, args ...any) (repository.FailureStats, error) {
	var (
		count int64
		last  time.Time
	)
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count, &last); err != nil {
		return repository.FailureStats{}, err //nolint:wrapcheck // callers wrap with context
	}

	if count == 0 {
		return repository.FailureStats{}, nil
	}
	return repository.FailureStats{Count: int(count), Last: last}, nil
}

// ListSecurityEvents returns the most recent events for a user, newest
// first. An empty userID lists events across all users.
func (r *AuditRepository) ListSecurityEvents(ctx context.Context, userID string, limit int) ([]*models.SecurityEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, event_type, message, ip_address, user_agent, severity, created_at
		FROM security_events
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, oops.Code("SECURITY_EVENT_LIST_FAILED").
			With("operation", "list security events").
			With("user_id", userID).
			Wrap(err)
	}
	defer rows.Close()

	var events []*models.SecurityEvent
	for rows.Next() {
		var (
			e        models.SecurityEvent
			severity string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.Message, &e.IP, &e.UserAgent, &severity, &e.Timestamp); err != nil {
			return nil, oops.Code("SECURITY_EVENT_SCAN_FAILED").
				With("operation", "scan security event row").
				Wrap(err)
		}
		e.Severity = models.Severity(severity)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, oops.Code("SECURITY_EVENT_ROWS_ERROR").
			With("operation", "iterate security event rows").
			Wrap(err)
	}

	return events, nil
}

var _ repository.AuditRepository = (*AuditRepository)(nil)

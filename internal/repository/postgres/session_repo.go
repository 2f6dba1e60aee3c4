package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/qcom/phoneauth/internal/models"
	"github.com/qcom/phoneauth/internal/repository"
)

const sessionColumns = `id, user_id, token_id, created_at, expires_at, ip_address, user_agent, revoked, revoked_at`

// SessionRepository implements repository.SessionRepository.
type SessionRepository struct {
	db DB
}

func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create stores a new session.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sessions (id, user_id, token_id, created_at, expires_at, ip_address, user_agent, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
	`,
		session.ID,
		session.UserID,
		session.TokenID,
		session.CreatedAt,
		session.ExpiresAt,
		session.IPAddress,
		session.UserAgent,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("SESSION_DUPLICATE").
				With("token_id", session.TokenID).
				Wrap(repository.ErrAlreadyExists)
		}
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("user_id", session.UserID).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").With("id", id).Wrap(repository.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_ID_FAILED").
			With("operation", "get session by id").
			With("id", id).
			Wrap(err)
	}
	return session, nil
}

// GetByTokenID retrieves the session bound to a token's jti.
func (r *SessionRepository) GetByTokenID(ctx context.Context, tokenID string) (*models.Session, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token_id = $1`, tokenID)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(repository.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_TOKEN_FAILED").
			With("operation", "get session by token id").
			Wrap(err)
	}
	return session, nil
}

// ListActiveByUser retrieves all active sessions for a user.
func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*models.Session, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE user_id = $1 AND NOT revoked AND expires_at > $2
		ORDER BY created_at DESC
	`, userID, now)
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").
			With("operation", "list active sessions").
			With("user_id", userID).
			Wrap(err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, oops.Code("SESSION_SCAN_FAILED").
				With("operation", "scan session row").
				Wrap(err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, oops.Code("SESSION_ROWS_ERROR").
			With("operation", "iterate session rows").
			Wrap(err)
	}

	return sessions, nil
}

// Revoke marks an active session revoked. Only the caller that performs the
// transition sees true.
func (r *SessionRepository) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE sessions SET revoked = TRUE, revoked_at = $2
		WHERE id = $1 AND NOT revoked
	`, id, at)
	if err != nil {
		return false, oops.Code("SESSION_REVOKE_FAILED").
			With("operation", "revoke session").
			With("id", id).
			Wrap(err)
	}
	return result.RowsAffected() == 1, nil
}

// RevokeAllByUser revokes every active session of a user and returns the
// count.
func (r *SessionRepository) RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE sessions SET revoked = TRUE, revoked_at = $2
		WHERE user_id = $1 AND NOT revoked AND expires_at > $2
	`, userID, at)
	if err != nil {
		return 0, oops.Code("SESSION_REVOKE_ALL_FAILED").
			With("operation", "revoke sessions by user").
			With("user_id", userID).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes sessions that expired before the given time.
func (r *SessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanSession scans one row. pgx.ErrNoRows is returned unchanged.
func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.TokenID,
		&s.CreatedAt,
		&s.ExpiresAt,
		&s.IPAddress,
		&s.UserAgent,
		&s.Revoked,
		&s.RevokedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}
	return &s, nil
}

var _ repository.SessionRepository = (*SessionRepository)(nil)

package postgres

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/qcom/phoneauth/internal/models"
	"github.com/qcom/phoneauth/internal/repository"
)

// BlacklistRepository implements repository.BlacklistRepository. Lookups hit
// the token_id primary key.
type BlacklistRepository struct {
	db DB
}

func NewBlacklistRepository(db DB) *BlacklistRepository {
	return &BlacklistRepository{db: db}
}

func (r *BlacklistRepository) Add(ctx context.Context, entry *models.BlacklistEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO token_blacklist (token_id, user_id, reason, natural_expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token_id) DO NOTHING
	`,
		entry.TokenID,
		entry.UserID,
		string(entry.Reason),
		entry.NaturalExpiresAt,
		entry.CreatedAt,
	)
	if err != nil {
		return oops.Code("BLACKLIST_ADD_FAILED").
			With("operation", "insert blacklist entry").
			With("user_id", entry.UserID).
			With("reason", string(entry.Reason)).
			Wrap(err)
	}
	return nil
}

func (r *BlacklistRepository) Contains(ctx context.Context, tokenID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM token_blacklist WHERE token_id = $1)
	`, tokenID).Scan(&exists)
	if err != nil {
		return false, oops.Code("BLACKLIST_LOOKUP_FAILED").
			With("operation", "lookup blacklist entry").
			Wrap(err)
	}
	return exists, nil
}

// DeleteExpired removes entries whose token would be rejected on expiry
// alone.
func (r *BlacklistRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM token_blacklist WHERE natural_expires_at < $1`, before)
	if err != nil {
		return 0, oops.Code("BLACKLIST_REAP_FAILED").
			With("operation", "delete expired blacklist entries").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

var _ repository.BlacklistRepository = (*BlacklistRepository)(nil)

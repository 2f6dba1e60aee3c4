package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcom/phoneauth/internal/models"
	"github.com/qcom/phoneauth/internal/repository"
)

func newSession(id, userID string, created time.Time) *models.Session {
	return &models.Session{
		ID:        id,
		UserID:    userID,
		TokenID:   "jti-" + id,
		CreatedAt: created,
		ExpiresAt: created.Add(time.Hour),
	}
}

func TestSessions_Lifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sessions := NewStore().Sessions()

	require.NoError(t, sessions.Create(ctx, newSession("s1", "u1", now.Add(-2*time.Minute))))
	require.NoError(t, sessions.Create(ctx, newSession("s2", "u1", now.Add(-time.Minute))))
	require.NoError(t, sessions.Create(ctx, newSession("s3", "u2", now)))
	assert.ErrorIs(t, sessions.Create(ctx, newSession("s1", "u1", now)), repository.ErrAlreadyExists)

	got, err := sessions.GetByTokenID(ctx, "jti-s2")
	require.NoError(t, err)
	assert.Equal(t, "s2", got.ID)

	active, err := sessions.ListActiveByUser(ctx, "u1", now)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "s2", active[0].ID)

	ok, err := sessions.Revoke(ctx, "s1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = sessions.Revoke(ctx, "s1", now)
	require.NoError(t, err)
	assert.False(t, ok, "second revoke must not win")

	n, err := sessions.RevokeAllByUser(ctx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = sessions.DeleteExpired(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = sessions.GetByID(ctx, "s1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSessions_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	sessions := NewStore().Sessions()
	require.NoError(t, sessions.Create(ctx, newSession("s1", "u1", now)))

	got, err := sessions.GetByID(ctx, "s1")
	require.NoError(t, err)
	got.Revoked = true

	again, err := sessions.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, again.Revoked)
}

func TestStore_WithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewStore()
	require.NoError(t, store.Sessions().Create(ctx, newSession("s1", "u1", now)))

	errBoom := errors.New("boom")
	err := store.WithinTx(ctx, func(tx repository.Store) error {
		if _, err := tx.Sessions().Revoke(ctx, "s1", now); err != nil {
			return err
		}
		if err := tx.Blacklist().Add(ctx, &models.BlacklistEntry{TokenID: "jti-s1", NaturalExpiresAt: now.Add(time.Hour)}); err != nil {
			return err
		}
		if err := tx.Sessions().Create(ctx, newSession("s2", "u1", now)); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	sess, err := store.Sessions().GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, sess.Revoked)

	listed, err := store.Blacklist().Contains(ctx, "jti-s1")
	require.NoError(t, err)
	assert.False(t, listed)

	_, err = store.Sessions().GetByTokenID(ctx, "jti-s2")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStore_RollbackKeepsWritesOutsideTx(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewStore()
	require.NoError(t, store.Sessions().Create(ctx, newSession("s1", "u1", now)))

	errBoom := errors.New("boom")
	err := store.WithinTx(ctx, func(tx repository.Store) error {
		if _, err := tx.Sessions().Revoke(ctx, "s1", now); err != nil {
			return err
		}
		if err := tx.Audit().InsertSecurityEvent(ctx, &models.SecurityEvent{ID: "e-tx", UserID: "u1", Timestamp: now}); err != nil {
			return err
		}

		// Another request writes while the transaction is open.
		if err := store.Sessions().Create(ctx, newSession("s2", "u2", now)); err != nil {
			return err
		}
		if err := store.Audit().InsertLoginAttempt(ctx, &models.LoginAttempt{
			ID: "a1", Phone: "9876543210", Role: models.RoleUser, IP: "10.0.0.1",
			Outcome: models.LoginFailed, Timestamp: now,
		}); err != nil {
			return err
		}
		if err := store.Audit().InsertSecurityEvent(ctx, &models.SecurityEvent{ID: "e-out", UserID: "u2", Timestamp: now}); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	sess, err := store.Sessions().GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, sess.Revoked)
	assert.Nil(t, sess.RevokedAt)

	_, err = store.Sessions().GetByTokenID(ctx, "jti-s2")
	assert.NoError(t, err)

	stats, err := store.Audit().FailedLoginsByPhone(ctx, "9876543210", models.RoleUser, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)

	events, err := store.Audit().ListSecurityEvents(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e-out", events[0].ID)
}

func TestStore_RollbackRestoresDeletedRows(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewStore()
	require.NoError(t, store.Sessions().Create(ctx, newSession("s1", "u1", now.Add(-2*time.Hour))))
	require.NoError(t, store.Blacklist().Add(ctx, &models.BlacklistEntry{TokenID: "jti-old", NaturalExpiresAt: now.Add(-time.Hour)}))

	errBoom := errors.New("boom")
	err := store.WithinTx(ctx, func(tx repository.Store) error {
		if _, err := tx.Sessions().DeleteExpired(ctx, now); err != nil {
			return err
		}
		if _, err := tx.Blacklist().DeleteExpired(ctx, now); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	_, err = store.Sessions().GetByTokenID(ctx, "jti-s1")
	assert.NoError(t, err)

	listed, err := store.Blacklist().Contains(ctx, "jti-old")
	require.NoError(t, err)
	assert.True(t, listed)
}

func TestStore_WithinTxCommits(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewStore()

	err := store.WithinTx(ctx, func(tx repository.Store) error {
		return tx.WithinTx(ctx, func(inner repository.Store) error {
			return inner.Sessions().Create(ctx, newSession("s1", "u1", now))
		})
	})
	require.NoError(t, err)

	_, err = store.Sessions().GetByID(ctx, "s1")
	assert.NoError(t, err)
}

func TestBlacklist(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	bl := NewStore().Blacklist()

	entry := &models.BlacklistEntry{TokenID: "jti-1", Reason: models.ReasonLogout, NaturalExpiresAt: now.Add(time.Minute)}
	require.NoError(t, bl.Add(ctx, entry))
	require.NoError(t, bl.Add(ctx, entry))

	ok, err := bl.Contains(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := bl.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = bl.DeleteExpired(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAudit_FailureStats(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	audit := NewStore().Audit()

	record := func(phone, ip string, outcome models.LoginOutcome, at time.Time) {
		require.NoError(t, audit.InsertLoginAttempt(ctx, &models.LoginAttempt{
			Phone: phone, Role: models.RoleUser, IP: ip, Outcome: outcome, Timestamp: at,
		}))
	}
	record("9876543210", "1.1.1.1", models.LoginFailed, now.Add(-40*time.Minute))
	record("9876543210", "1.1.1.1", models.LoginFailed, now.Add(-10*time.Minute))
	record("9876543210", "2.2.2.2", models.LoginFailed, now.Add(-5*time.Minute))
	record("9876543210", "1.1.1.1", models.LoginSuccess, now.Add(-time.Minute))

	since := now.Add(-30 * time.Minute)

	byIP, err := audit.FailedLoginsByIP(ctx, "1.1.1.1", since)
	require.NoError(t, err)
	assert.Equal(t, repository.FailureStats{Count: 1, Last: now.Add(-10 * time.Minute)}, byIP)

	byPhone, err := audit.FailedLoginsByPhone(ctx, "9876543210", models.RoleUser, since)
	require.NoError(t, err)
	assert.Equal(t, 2, byPhone.Count)
	assert.Equal(t, now.Add(-5*time.Minute), byPhone.Last)

	other, err := audit.FailedLoginsByPhone(ctx, "9876543210", models.RoleAdmin, since)
	require.NoError(t, err)
	assert.Zero(t, other.Count)
}

func TestAudit_ListSecurityEvents(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	audit := NewStore().Audit()

	for i, typ := range []string{models.EventSignup, models.EventLogin, models.EventLogout} {
		require.NoError(t, audit.InsertSecurityEvent(ctx, &models.SecurityEvent{
			ID: typ, UserID: "u1", Type: typ, Timestamp: now.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, audit.InsertSecurityEvent(ctx, &models.SecurityEvent{ID: "x", UserID: "u2", Type: models.EventLogin, Timestamp: now}))

	events, err := audit.ListSecurityEvents(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventLogout, events[0].Type)
	assert.Equal(t, models.EventLogin, events[1].Type)

	all, err := audit.ListSecurityEvents(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository()

	require.NoError(t, repo.Create(ctx, &models.User{ID: "u1", PhoneNumber: "9876543210", Role: models.RoleUser}))
	assert.ErrorIs(t, repo.Create(ctx, &models.User{ID: "u2", PhoneNumber: "9876543210", Role: models.RoleUser}), repository.ErrAlreadyExists)
	require.NoError(t, repo.Create(ctx, &models.User{ID: "u3", PhoneNumber: "9876543210", Role: models.RoleAdmin}))

	got, err := repo.GetByPhone(ctx, "9876543210", models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "u3", got.ID)

	require.NoError(t, repo.UpdatePassword(ctx, "u1", "hash"))
	require.NoError(t, repo.MarkVerified(ctx, "u1"))
	got, err = repo.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.True(t, got.IsVerified)

	assert.ErrorIs(t, repo.MarkVerified(ctx, "missing"), repository.ErrNotFound)
}

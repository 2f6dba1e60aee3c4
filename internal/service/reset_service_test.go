package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcom/phoneauth/internal/models"
)

func TestResetService_CreateValidateConsume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	token, expiresAt, err := h.resets.Create(ctx, testPhone, models.RoleUser)
	require.NoError(t, err)
	assert.Len(t, token, 64)
	assert.Equal(t, h.clock.Now().Add(h.cfg.Reset.SessionTTL), expiresAt)

	session, err := h.resets.Validate(ctx, testPhone, models.RoleUser, token)
	require.NoError(t, err)
	assert.NotEqual(t, token, session.TokenHash)

	require.NoError(t, h.resets.Consume(ctx, testPhone, models.RoleUser, token))
	assert.ErrorIs(t, h.resets.Consume(ctx, testPhone, models.RoleUser, token), ErrResetTokenUsed)

	_, err = h.resets.Validate(ctx, testPhone, models.RoleUser, token)
	assert.ErrorIs(t, err, ErrResetTokenUsed)
}

func TestResetService_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		phone   string
		role    models.Role
		token   func(real string) string
		advance time.Duration
		wantErr error
	}{
		{
			name:    "unknown token",
			phone:   testPhone,
			role:    models.RoleUser,
			token:   func(string) string { return "deadbeef" },
			wantErr: ErrResetTokenInvalid,
		},
		{
			name:    "other phone",
			phone:   "9123456780",
			role:    models.RoleUser,
			token:   func(real string) string { return real },
			wantErr: ErrResetTokenInvalid,
		},
		{
			name:    "other role",
			phone:   testPhone,
			role:    models.RoleProvider,
			token:   func(real string) string { return real },
			wantErr: ErrResetTokenInvalid,
		},
		{
			name:    "expired",
			phone:   testPhone,
			role:    models.RoleUser,
			token:   func(real string) string { return real },
			advance: 10 * time.Minute,
			wantErr: ErrResetTokenExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()

			token, _, err := h.resets.Create(ctx, testPhone, models.RoleUser)
			require.NoError(t, err)

			if tt.advance > 0 {
				// Move the service clock only; the store still holds the
				// session so the expiry check itself is exercised.
				h.resets.now = func() time.Time { return h.clock.Now().Add(tt.advance) }
			}

			err = h.resets.Consume(ctx, tt.phone, tt.role, tt.token(token))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

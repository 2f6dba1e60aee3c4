package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcom/phoneauth/internal/models"
	"github.com/qcom/phoneauth/internal/repository"
)

func assertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T", err)
	assert.Equal(t, code, oopsErr.Code())
}

func TestStore_WithinTx(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		fn        func(tx repository.Store) error
		wantErr   error
		wantCode  string
	}{
		{
			name: "commits on success",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(`UPDATE sessions SET revoked`).
					WithArgs("sess-1", pgxmock.AnyArg()).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
				mock.ExpectExec(`INSERT INTO token_blacklist`).
					WithArgs("jti-1", "user-1", "token_refresh", pgxmock.AnyArg(), pgxmock.AnyArg()).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectCommit()
			},
			fn: func(tx repository.Store) error {
				now := time.Now()
				ok, err := tx.Sessions().Revoke(context.Background(), "sess-1", now)
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("expected revoke")
				}
				return tx.Blacklist().Add(context.Background(), &models.BlacklistEntry{
					TokenID:          "jti-1",
					UserID:           "user-1",
					Reason:           models.ReasonTokenRefresh,
					NaturalExpiresAt: now.Add(time.Hour),
					CreatedAt:        now,
				})
			},
		},
		{
			name: "rolls back when fn fails",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectRollback()
			},
			fn:      func(repository.Store) error { return errBoom },
			wantErr: errBoom,
		},
		{
			name: "begin failure",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin().WillReturnError(errors.New("connection refused"))
			},
			fn:       func(repository.Store) error { return nil },
			wantCode: "TX_BEGIN_FAILED",
		},
		{
			name: "commit failure",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))
			},
			fn:       func(repository.Store) error { return nil },
			wantCode: "TX_COMMIT_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err, "failed to create mock")
			defer mock.Close()

			tt.setupMock(mock)

			err = NewStore(mock).WithinTx(context.Background(), tt.fn)

			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case tt.wantCode != "":
				require.Error(t, err)
				assertErrorCode(t, err, tt.wantCode)
			default:
				require.NoError(t, err)
			}

			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

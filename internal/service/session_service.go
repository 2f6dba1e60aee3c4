package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/qcom/phoneauth/internal/apperr"
	"github.com/qcom/phoneauth/internal/metrics"
	"github.com/qcom/phoneauth/internal/models"
	"github.com/qcom/phoneauth/internal/repository"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID    string
	Role      models.Role
	TokenID   string
	SessionID string
	ExpiresAt time.Time
}

// SessionView is one entry of a session listing.
type SessionView struct {
	*models.Session
	Current bool `json:"current"`
}

// SessionService ties every issued token to a session row and revokes
// tokens through the blacklist. Writes that belong together run in one
// transaction.
type SessionService struct {
	store     repository.Store
	tokens    *TokenService
	blacklist *Blacklist
	logger    *logrus.Logger
	now       func() time.Time
}

func NewSessionService(store repository.Store, tokens *TokenService, blacklist *Blacklist, logger *logrus.Logger) *SessionService {
	return &SessionService{
		store:     store,
		tokens:    tokens,
		blacklist: blacklist,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *SessionService) newSession(userID string, client models.ClientInfo, now time.Time) *models.Session {
	return &models.Session{
		ID:        ulid.Make().String(),
		UserID:    userID,
		TokenID:   uuid.New().String(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.tokens.Expiry()),
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
	}
}

func issuedToken(token string, session *models.Session, now time.Time) *models.IssuedToken {
	return &models.IssuedToken{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: session.ExpiresAt,
		ExpiresIn: int64(session.ExpiresAt.Sub(now).Seconds()),
		SessionID: session.ID,
	}
}

// Issue mints a token and records its session. The token is only returned
// once the session is stored.
func (s *SessionService) Issue(ctx context.Context, user *models.User, client models.ClientInfo) (*models.IssuedToken, *models.Session, error) {
	now := s.now()
	session := s.newSession(user.ID, client, now)

	token, err := s.tokens.Mint(user.ID, user.Role, session.TokenID, now, session.ExpiresAt)
	if err != nil {
		return nil, nil, err
	}

	if err := s.store.Sessions().Create(ctx, session); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Error("Failed to create session")
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	return issuedToken(token, session, now), session, nil
}

// Refresh replaces the caller's session with a new one. The old session is
// revoked, its token blacklisted and the new session created in one
// transaction, so a failure leaves the old token valid and no new token is
// handed out. Of two concurrent refreshes only one succeeds.
func (s *SessionService) Refresh(ctx context.Context, p *Principal, client models.ClientInfo) (*models.IssuedToken, *models.Session, error) {
	now := s.now()
	session := s.newSession(p.UserID, client, now)

	token, err := s.tokens.Mint(p.UserID, p.Role, session.TokenID, now, session.ExpiresAt)
	if err != nil {
		return nil, nil, err
	}

	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		revoked, err := tx.Sessions().Revoke(ctx, p.SessionID, now)
		if err != nil {
			return fmt.Errorf("failed to revoke session: %w", err)
		}
		if !revoked {
			return ErrTokenRevoked
		}
		if err := s.blacklist.In(tx).Add(ctx, p.TokenID, p.UserID, models.ReasonTokenRefresh, p.ExpiresAt); err != nil {
			return err
		}
		if err := tx.Sessions().Create(ctx, session); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrTokenRevoked) {
			s.logger.WithError(err).WithField("user_id", p.UserID).Error("Failed to refresh session")
		}
		return nil, nil, err
	}

	metrics.RecordTokensRevoked(string(models.ReasonTokenRefresh), 1)
	return issuedToken(token, session, now), session, nil
}

// VerifyIncoming authenticates a bearer token: signature and expiry first,
// then the blacklist, then the session row. Storage failures reject the
// token.
func (s *SessionService) VerifyIncoming(ctx context.Context, raw string) (*Principal, error) {
	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return nil, ErrTokenInvalid.Wrap(err)
	}

	listed, err := s.blacklist.Contains(ctx, claims.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if listed {
		return nil, ErrTokenRevoked
	}

	session, err := s.store.Sessions().GetByTokenID(ctx, claims.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if session.UserID != claims.Subject {
		return nil, ErrSessionNotFound
	}
	if session.Revoked {
		return nil, ErrSessionRevoked
	}
	if !session.IsActive(s.now()) {
		return nil, ErrTokenInvalid
	}

	return &Principal{
		UserID:    claims.Subject,
		Role:      claims.Role,
		TokenID:   claims.ID,
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// Logout revokes the caller's session and blacklists its token.
func (s *SessionService) Logout(ctx context.Context, p *Principal) error {
	now := s.now()
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		if err := s.blacklist.In(tx).Add(ctx, p.TokenID, p.UserID, models.ReasonLogout, p.ExpiresAt); err != nil {
			return err
		}
		if _, err := tx.Sessions().Revoke(ctx, p.SessionID, now); err != nil {
			return fmt.Errorf("failed to revoke session: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.RecordTokensRevoked(string(models.ReasonLogout), 1)
	return nil
}

// LogoutAll revokes every active session of the user and returns how many
// there were.
func (s *SessionService) LogoutAll(ctx context.Context, userID string) (int, error) {
	return s.revokeAll(ctx, userID, models.ReasonLogoutAll)
}

// RevokeAllForPasswordChange is LogoutAll recorded as a password change.
func (s *SessionService) RevokeAllForPasswordChange(ctx context.Context, userID string) (int, error) {
	return s.revokeAll(ctx, userID, models.ReasonPasswordChange)
}

func (s *SessionService) revokeAll(ctx context.Context, userID string, reason models.RevocationReason) (int, error) {
	now := s.now()
	var count int

	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		sessions, err := tx.Sessions().ListActiveByUser(ctx, userID, now)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}

		blacklist := s.blacklist.In(tx)
		for _, session := range sessions {
			if err := blacklist.Add(ctx, session.TokenID, userID, reason, session.ExpiresAt); err != nil {
				return err
			}
		}

		n, err := tx.Sessions().RevokeAllByUser(ctx, userID, now)
		if err != nil {
			return fmt.Errorf("failed to revoke sessions: %w", err)
		}
		count = int(n)
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"reason":  reason,
		}).Error("Failed to revoke sessions")
		return 0, err
	}

	metrics.RecordTokensRevoked(string(reason), count)
	return count, nil
}

// RevokeSessionByID revokes one of the user's own sessions. A session of
// another user is reported as unknown.
func (s *SessionService) RevokeSessionByID(ctx context.Context, sessionID, userID string) error {
	now := s.now()

	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		session, err := tx.Sessions().GetByID(ctx, sessionID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUnknownSession
		}
		if err != nil {
			return fmt.Errorf("failed to get session: %w", err)
		}
		if session.UserID != userID || !session.IsActive(now) {
			return ErrUnknownSession
		}

		if err := s.blacklist.In(tx).Add(ctx, session.TokenID, userID, models.ReasonSessionRevoked, session.ExpiresAt); err != nil {
			return err
		}
		revoked, err := tx.Sessions().Revoke(ctx, session.ID, now)
		if err != nil {
			return fmt.Errorf("failed to revoke session: %w", err)
		}
		if !revoked {
			return ErrUnknownSession
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.RecordTokensRevoked(string(models.ReasonSessionRevoked), 1)
	return nil
}

// ListSessions returns the user's active sessions, flagging currentID.
func (s *SessionService) ListSessions(ctx context.Context, userID, currentID string) ([]SessionView, error) {
	sessions, err := s.store.Sessions().ListActiveByUser(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, SessionView{Session: session, Current: session.ID == currentID})
	}
	return views, nil
}

// DeleteExpired removes session rows past their expiry.
func (s *SessionService) DeleteExpired(ctx context.Context) (int64, error) {
	n, err := s.store.Sessions().DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	metrics.RecordSweepRemoved("sessions", n)
	return n, nil
}

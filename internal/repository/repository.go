// Package repository defines the durable stores used by the authentication
// services. Sessions, the token blacklist and the audit trail live in
// PostgreSQL (package postgres); accounts live in DynamoDB.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/qcom/phoneauth/internal/models"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a uniqueness constraint is violated.
	ErrAlreadyExists = errors.New("already exists")
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByPhone(ctx context.Context, phone string, role models.Role) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	MarkVerified(ctx context.Context, id string) error
}

type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	GetByTokenID(ctx context.Context, tokenID string) (*models.Session, error)
	// ListActiveByUser returns unrevoked, unexpired sessions, newest first.
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*models.Session, error)
	// Revoke flips an active session to revoked. It reports false when the
	// session was already revoked.
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type BlacklistRepository interface {
	// Add is idempotent on TokenID.
	Add(ctx context.Context, entry *models.BlacklistEntry) error
	Contains(ctx context.Context, tokenID string) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// FailureStats summarizes failed logins in a window.
type FailureStats struct {
	Count int
	Last  time.Time
}

type AuditRepository interface {
	InsertLoginAttempt(ctx context.Context, attempt *models.LoginAttempt) error
	InsertSecurityEvent(ctx context.Context, event *models.SecurityEvent) error
	FailedLoginsByIP(ctx context.Context, ip string, since time.Time) (FailureStats, error)
	FailedLoginsByPhone(ctx context.Context, phone string, role models.Role, since time.Time) (FailureStats, error)
	ListSecurityEvents(ctx context.Context, userID string, limit int) ([]*models.SecurityEvent, error)
}

// Store groups the security tables so that writes spanning several of them
// can run in one transaction.
type Store interface {
	Sessions() SessionRepository
	Blacklist() BlacklistRepository
	Audit() AuditRepository
	// WithinTx runs fn in a transaction. If fn returns an error nothing it
	// wrote is kept.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

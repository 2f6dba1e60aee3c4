// Package memory provides in-process repositories for local development and
// tests. Nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/qcom/phoneauth/internal/models"
	"github.com/qcom/phoneauth/internal/repository"
)

type state struct {
	mu        sync.RWMutex
	sessions  map[string]*models.Session
	byToken   map[string]string
	blacklist map[string]*models.BlacklistEntry
	attempts  []*models.LoginAttempt
	events    []*models.SecurityEvent
}

// undoLog collects the inverse of every write made inside a transaction.
// Rollback replays it newest first, so writes made outside the transaction
// in the meantime survive.
type undoLog struct {
	ops []func()
}

// record is a no-op outside a transaction. Callers hold st.mu.
func (u *undoLog) record(op func()) {
	if u != nil {
		u.ops = append(u.ops, op)
	}
}

func (s *state) rollback(u *undoLog) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(u.ops) - 1; i >= 0; i-- {
		u.ops[i]()
	}
}

// Store implements repository.Store. Transactions are serialized with each
// other and roll back by undoing only their own writes.
type Store struct {
	txMu  sync.Mutex
	state *state
}

func NewStore() *Store {
	return &Store{state: &state{
		sessions:  make(map[string]*models.Session),
		byToken:   make(map[string]string),
		blacklist: make(map[string]*models.BlacklistEntry),
	}}
}

func (s *Store) Sessions() repository.SessionRepository   { return &sessionRepo{st: s.state} }
func (s *Store) Blacklist() repository.BlacklistRepository { return &blacklistRepo{st: s.state} }
func (s *Store) Audit() repository.AuditRepository         { return &auditRepo{st: s.state} }

func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &txStore{state: s.state, undo: &undoLog{}}
	if err := fn(tx); err != nil {
		s.state.rollback(tx.undo)
		return err
	}
	return nil
}

// txStore is the view handed to a running transaction. Nested calls join
// the outer transaction.
type txStore struct {
	state *state
	undo  *undoLog
}

func (t *txStore) Sessions() repository.SessionRepository {
	return &sessionRepo{st: t.state, undo: t.undo}
}

func (t *txStore) Blacklist() repository.BlacklistRepository {
	return &blacklistRepo{st: t.state, undo: t.undo}
}

func (t *txStore) Audit() repository.AuditRepository {
	return &auditRepo{st: t.state, undo: t.undo}
}

func (t *txStore) WithinTx(_ context.Context, fn func(tx repository.Store) error) error {
	return fn(t)
}

// unrevoke restores the revocation fields of session id if it still exists.
func (s *state) unrevoke(id string, revoked bool, at *time.Time) func() {
	return func() {
		if sess, ok := s.sessions[id]; ok {
			sess.Revoked = revoked
			sess.RevokedAt = at
		}
	}
}

type sessionRepo struct {
	st   *state
	undo *undoLog
}

func (r *sessionRepo) Create(_ context.Context, session *models.Session) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if _, ok := r.st.sessions[session.ID]; ok {
		return repository.ErrAlreadyExists
	}
	if _, ok := r.st.byToken[session.TokenID]; ok {
		return repository.ErrAlreadyExists
	}
	cp := *session
	r.st.sessions[session.ID] = &cp
	r.st.byToken[session.TokenID] = session.ID
	r.undo.record(func() {
		delete(r.st.sessions, cp.ID)
		delete(r.st.byToken, cp.TokenID)
	})
	return nil
}

func (r *sessionRepo) GetByID(_ context.Context, id string) (*models.Session, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	sess, ok := r.st.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (r *sessionRepo) GetByTokenID(ctx context.Context, tokenID string) (*models.Session, error) {
	r.st.mu.RLock()
	id, ok := r.st.byToken[tokenID]
	r.st.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *sessionRepo) ListActiveByUser(_ context.Context, userID string, now time.Time) ([]*models.Session, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	var out []*models.Session
	for _, sess := range r.st.sessions {
		if sess.UserID == userID && sess.IsActive(now) {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *sessionRepo) Revoke(_ context.Context, id string, at time.Time) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	sess, ok := r.st.sessions[id]
	if !ok || sess.Revoked {
		return false, nil
	}
	r.undo.record(r.st.unrevoke(id, sess.Revoked, sess.RevokedAt))
	revokedAt := at
	sess.Revoked = true
	sess.RevokedAt = &revokedAt
	return true, nil
}

func (r *sessionRepo) RevokeAllByUser(_ context.Context, userID string, at time.Time) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	var n int64
	for _, sess := range r.st.sessions {
		if sess.UserID == userID && sess.IsActive(at) {
			r.undo.record(r.st.unrevoke(sess.ID, sess.Revoked, sess.RevokedAt))
			revokedAt := at
			sess.Revoked = true
			sess.RevokedAt = &revokedAt
			n++
		}
	}
	return n, nil
}

func (r *sessionRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	var n int64
	for id, sess := range r.st.sessions {
		if sess.ExpiresAt.Before(before) {
			delete(r.st.sessions, id)
			delete(r.st.byToken, sess.TokenID)
			r.undo.record(func() {
				r.st.sessions[id] = sess
				r.st.byToken[sess.TokenID] = id
			})
			n++
		}
	}
	return n, nil
}

type blacklistRepo struct {
	st   *state
	undo *undoLog
}

func (r *blacklistRepo) Add(_ context.Context, entry *models.BlacklistEntry) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if _, ok := r.st.blacklist[entry.TokenID]; ok {
		return nil
	}
	cp := *entry
	r.st.blacklist[entry.TokenID] = &cp
	r.undo.record(func() { delete(r.st.blacklist, cp.TokenID) })
	return nil
}

func (r *blacklistRepo) Contains(_ context.Context, tokenID string) (bool, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	_, ok := r.st.blacklist[tokenID]
	return ok, nil
}

func (r *blacklistRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	var n int64
	for id, e := range r.st.blacklist {
		if e.NaturalExpiresAt.Before(before) {
			delete(r.st.blacklist, id)
			r.undo.record(func() { r.st.blacklist[id] = e })
			n++
		}
	}
	return n, nil
}

type auditRepo struct {
	st   *state
	undo *undoLog
}

func (r *auditRepo) InsertLoginAttempt(_ context.Context, attempt *models.LoginAttempt) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	cp := *attempt
	r.st.attempts = append(r.st.attempts, &cp)
	r.undo.record(func() { r.st.attempts = without(r.st.attempts, &cp) })
	return nil
}

func (r *auditRepo) InsertSecurityEvent(_ context.Context, event *models.SecurityEvent) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	cp := *event
	r.st.events = append(r.st.events, &cp)
	r.undo.record(func() { r.st.events = without(r.st.events, &cp) })
	return nil
}

func (r *auditRepo) FailedLoginsByIP(_ context.Context, ip string, since time.Time) (repository.FailureStats, error) {
	return r.failures(since, func(a *models.LoginAttempt) bool { return a.IP == ip }), nil
}

func (r *auditRepo) FailedLoginsByPhone(_ context.Context, phone string, role models.Role, since time.Time) (repository.FailureStats, error) {
	return r.failures(since, func(a *models.LoginAttempt) bool { return a.Phone == phone && a.Role == role }), nil
}

func (r *auditRepo) failures(since time.Time, match func(*models.LoginAttempt) bool) repository.FailureStats {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	var stats repository.FailureStats
	for _, a := range r.st.attempts {
		if a.Outcome != models.LoginFailed || a.Timestamp.Before(since) || !match(a) {
			continue
		}
		stats.Count++
		if a.Timestamp.After(stats.Last) {
			stats.Last = a.Timestamp
		}
	}
	return stats
}

func (r *auditRepo) ListSecurityEvents(_ context.Context, userID string, limit int) ([]*models.SecurityEvent, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	var out []*models.SecurityEvent
	for i := len(r.st.events) - 1; i >= 0; i-- {
		e := r.st.events[i]
		if userID != "" && e.UserID != userID {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// without removes the element identical to target, keeping order.
func without[T any](items []*T, target *T) []*T {
	for i, item := range items {
		if item == target {
			return append(items[:i:i], items[i+1:]...)
		}
	}
	return items
}

var _ repository.Store = (*Store)(nil)

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/qcom/phoneauth/internal/models"
	"github.com/qcom/phoneauth/internal/repository"
)

type UserRepository struct {
	mu      sync.RWMutex
	users   map[string]*models.User
	byPhone map[string]string
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		users:   make(map[string]*models.User),
		byPhone: make(map[string]string),
	}
}

func (r *UserRepository) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := models.PhoneKey(user.PhoneNumber, user.Role)
	if _, ok := r.byPhone[key]; ok {
		return repository.ErrAlreadyExists
	}
	if _, ok := r.users[user.ID]; ok {
		return repository.ErrAlreadyExists
	}

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	cp := *user
	r.users[user.ID] = &cp
	r.byPhone[key] = user.ID
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *UserRepository) GetByPhone(ctx context.Context, phone string, role models.Role) (*models.User, error) {
	r.mu.RLock()
	id, ok := r.byPhone[models.PhoneKey(phone, role)]
	r.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *UserRepository) UpdatePassword(_ context.Context, id, passwordHash string) error {
	return r.update(id, func(u *models.User) { u.PasswordHash = passwordHash })
}

func (r *UserRepository) MarkVerified(_ context.Context, id string) error {
	return r.update(id, func(u *models.User) { u.IsVerified = true })
}

func (r *UserRepository) update(id string, fn func(*models.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now()
	return nil
}

var _ repository.UserRepository = (*UserRepository)(nil)

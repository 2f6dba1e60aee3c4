package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/qcom/phoneauth/internal/config"
	"github.com/qcom/phoneauth/internal/kv"
	"github.com/qcom/phoneauth/internal/metrics"
)

type windowState struct {
	Count int       `json:"count"`
	Start time.Time `json:"start"`
}

// RateLimiter is a fixed-window counter per key. A window opens on the first
// hit and closes exactly Window later.
type RateLimiter struct {
	store kv.Store
	name  string
	limit config.Limit
	now   func() time.Time
}

func NewRateLimiter(store kv.Store, name string, limit config.Limit) *RateLimiter {
	return &RateLimiter{
		store: store,
		name:  name,
		limit: limit,
		now:   time.Now,
	}
}

func (l *RateLimiter) key(key string) string {
	return "ratelimit:" + l.name + ":" + key
}

func (l *RateLimiter) decode(data []byte, now time.Time) (windowState, bool) {
	if data == nil {
		return windowState{}, false
	}
	var w windowState
	if err := json.Unmarshal(data, &w); err != nil {
		return windowState{}, false
	}
	if !now.Before(w.Start.Add(l.limit.Window)) {
		return windowState{}, false
	}
	return w, true
}

func (l *RateLimiter) rejected(w windowState, now time.Time) error {
	metrics.RecordRateLimited(l.name)
	return ErrRateLimited.WithRetryAfter(w.Start.Add(l.limit.Window).Sub(now))
}

// Take counts a request and rejects it once the window already holds Max.
// Rejected requests are not counted.
func (l *RateLimiter) Take(ctx context.Context, key string) error {
	return l.hit(ctx, key, true)
}

// Hit counts a request without rejecting it.
func (l *RateLimiter) Hit(ctx context.Context, key string) error {
	return l.hit(ctx, key, false)
}

func (l *RateLimiter) hit(ctx context.Context, key string, enforce bool) error {
	now := l.now()
	var outcome error

	err := kv.Update(ctx, l.store, l.key(key), func(current []byte) (kv.Change, error) {
		outcome = nil
		w, open := l.decode(current, now)
		if !open {
			w = windowState{Start: now}
		}
		if enforce && w.Count >= l.limit.Max {
			outcome = l.rejected(w, now)
			return kv.Change{Keep: true}, nil
		}
		w.Count++

		data, err := json.Marshal(w)
		if err != nil {
			return kv.Change{}, err
		}
		return kv.Change{Value: data, TTL: w.Start.Add(l.limit.Window).Sub(now)}, nil
	})
	if err != nil {
		return fmt.Errorf("failed to update rate limit %s: %w", l.name, err)
	}
	return outcome
}

// Check rejects when the window is full, without counting.
func (l *RateLimiter) Check(ctx context.Context, key string) error {
	now := l.now()
	data, err := l.store.Get(ctx, l.key(key))
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read rate limit %s: %w", l.name, err)
	}

	if w, open := l.decode(data, now); open && w.Count >= l.limit.Max {
		return l.rejected(w, now)
	}
	return nil
}

// Reset clears the window for key.
func (l *RateLimiter) Reset(ctx context.Context, key string) error {
	if err := l.store.Delete(ctx, l.key(key)); err != nil {
		return fmt.Errorf("failed to reset rate limit %s: %w", l.name, err)
	}
	return nil
}

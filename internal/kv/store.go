// Package kv holds the short-lived keyed state of the authentication flows
// (one-time codes, staged signups, reset sessions, rate-limit windows).
//
// A single instance runs on MemoryStore. Several instances must share one
// RedisStore; callers only see the Store interface and do not change.
package kv

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

var (
	// ErrNotFound is returned by Get for a missing or expired key.
	ErrNotFound = errors.New("kv: key not found")
	// ErrConflict is returned by Update when the key kept changing underneath.
	ErrConflict = errors.New("kv: concurrent update conflict")
)

// Store is a key/value store with per-key expiry and an atomic
// compare-and-set.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value; ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// CompareAndSet replaces the value of key with next only if its current
	// value equals old. A nil old requires the key to be absent; a nil next
	// deletes the key. It reports whether the swap happened.
	CompareAndSet(ctx context.Context, key string, old, next []byte, ttl time.Duration) (bool, error)
}

// Change describes what Update should write.
type Change struct {
	Value  []byte
	TTL    time.Duration
	Delete bool
	// Keep leaves the key untouched.
	Keep bool
}

// UpdateFunc computes the next state from the current value (nil when the
// key is absent). It may be called several times when writers race, so it
// must not have side effects besides recording its latest outcome.
type UpdateFunc func(current []byte) (Change, error)

const (
	maxUpdateRetries = 32
	updateBaseDelay  = time.Millisecond
	updateMaxDelay   = 25 * time.Millisecond
)

// Update runs a read-modify-write cycle on key that is atomic with respect to
// other Update calls on the same key.
func Update(ctx context.Context, s Store, key string, fn UpdateFunc) error {
	backoff := retry.NewExponential(updateBaseDelay)
	backoff = retry.WithCappedDuration(updateMaxDelay, backoff)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithMaxRetries(maxUpdateRetries, backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		current, err := s.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			current = nil
		} else if err != nil {
			return err
		}

		change, err := fn(current)
		if err != nil {
			return err
		}
		if change.Keep || (change.Delete && current == nil) {
			return nil
		}

		var next []byte
		if !change.Delete {
			next = change.Value
			if next == nil {
				next = []byte{}
			}
		}

		swapped, err := s.CompareAndSet(ctx, key, current, next, change.TTL)
		if err != nil {
			return err
		}
		if !swapped {
			return retry.RetryableError(ErrConflict)
		}
		return nil
	})
	return err
}

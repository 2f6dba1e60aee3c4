package kv

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeHarness lets the same contract run against every backend.
type storeHarness struct {
	store   Store
	advance func(time.Duration)
}

func runStoreContract(t *testing.T, newHarness func(t *testing.T) storeHarness) {
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set get delete", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.Set(ctx, "k", []byte("v1"), time.Minute))

		got, err := h.store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)

		require.NoError(t, h.store.Delete(ctx, "k"))
		_, err = h.store.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ttl expiry", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.Set(ctx, "k", []byte("v"), 2*time.Second))

		h.advance(time.Second)
		_, err := h.store.Get(ctx, "k")
		require.NoError(t, err)

		h.advance(2 * time.Second)
		_, err = h.store.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("compare and set requires absence when old is nil", func(t *testing.T) {
		h := newHarness(t)
		ok, err := h.store.CompareAndSet(ctx, "k", nil, []byte("a"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = h.store.CompareAndSet(ctx, "k", nil, []byte("b"), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		got, _ := h.store.Get(ctx, "k")
		assert.Equal(t, []byte("a"), got)
	})

	t.Run("compare and set swaps only on match", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.Set(ctx, "k", []byte("a"), time.Minute))

		ok, err := h.store.CompareAndSet(ctx, "k", []byte("x"), []byte("b"), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = h.store.CompareAndSet(ctx, "k", []byte("a"), []byte("b"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		got, _ := h.store.Get(ctx, "k")
		assert.Equal(t, []byte("b"), got)
	})

	t.Run("compare and delete", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.Set(ctx, "k", []byte("a"), time.Minute))

		ok, err := h.store.CompareAndSet(ctx, "k", []byte("a"), nil, 0)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = h.store.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrNotFound)

		ok, err = h.store.CompareAndSet(ctx, "k", []byte("a"), nil, 0)
		require.NoError(t, err)
		assert.False(t, ok, "deleting an absent key must not report success")
	})

	t.Run("concurrent updates are serialized", func(t *testing.T) {
		h := newHarness(t)
		const workers = 16

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := Update(ctx, h.store, "counter", func(current []byte) (Change, error) {
					var n uint64
					if len(current) == 8 {
						n = binary.BigEndian.Uint64(current)
					}
					next := make([]byte, 8)
					binary.BigEndian.PutUint64(next, n+1)
					return Change{Value: next, TTL: time.Minute}, nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := h.store.Get(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, uint64(workers), binary.BigEndian.Uint64(got))
	})

	t.Run("update keep and delete", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.Set(ctx, "k", []byte("v"), time.Minute))

		require.NoError(t, Update(ctx, h.store, "k", func([]byte) (Change, error) {
			return Change{Keep: true}, nil
		}))
		got, _ := h.store.Get(ctx, "k")
		assert.Equal(t, []byte("v"), got)

		require.NoError(t, Update(ctx, h.store, "k", func([]byte) (Change, error) {
			return Change{Delete: true}, nil
		}))
		_, err := h.store.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, Update(ctx, h.store, "k", func(current []byte) (Change, error) {
			assert.Nil(t, current)
			return Change{Delete: true}, nil
		}))
	})
}

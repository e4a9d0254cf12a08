package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKeys(t *testing.T) {
	assert.Equal(t, []string{"room:a", "user:a", "user:b"}, normalizeKeys([]string{"user:b", "room:a", "", "user:a", "user:b"}))
}

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("ExclusiveAccess", func(t *testing.T) {
		locker := NewMemoryLocker(time.Second)
		var inside, maxInside int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := locker.Lock(ctx, "room:r1", "user:u1")
				if !assert.NoError(t, err) {
					return
				}
				defer unlock()

				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), maxInside)
		assert.Empty(t, locker.locks)
	})

	t.Run("Timeout", func(t *testing.T) {
		locker := NewMemoryLocker(20 * time.Millisecond)
		unlock, err := locker.Lock(ctx, "room:r1")
		require.NoError(t, err)

		_, err = locker.Lock(ctx, "user:u1", "room:r1")
		assert.ErrorIs(t, err, ErrLockTimeout)

		// user:u1 was released after the failed attempt
		unlockUser, err := locker.Lock(ctx, "user:u1")
		require.NoError(t, err)
		unlockUser()

		unlock()
		unlock() // повторный вызов безопасен
		unlock, err = locker.Lock(ctx, "room:r1")
		require.NoError(t, err)
		unlock()
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		locker := NewMemoryLocker(0)
		unlock, err := locker.Lock(ctx, "room:r1")
		require.NoError(t, err)
		defer unlock()

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = locker.Lock(cctx, "room:r1")
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("DisjointKeys", func(t *testing.T) {
		locker := NewMemoryLocker(50 * time.Millisecond)
		unlockA, err := locker.Lock(ctx, "room:a")
		require.NoError(t, err)
		defer unlockA()
		unlockB, err := locker.Lock(ctx, "room:b")
		require.NoError(t, err)
		unlockB()
	})
}

package repository

import (
	"context"
	"testing"
	"time"

	"peregovorka/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLocker(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	defer client.Close()

	locker := NewRedisLocker(client, time.Minute, 50*time.Millisecond)
	ctx := context.Background()

	t.Run("AcquireAndRelease", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, "room:r1", "user:u1")
		require.NoError(t, err)
		assert.True(t, s.Exists("lock:room:r1"))
		assert.True(t, s.Exists("lock:user:u1"))

		ttl := s.TTL("lock:room:r1")
		assert.True(t, ttl > 0 && ttl <= time.Minute)

		unlock()
		assert.False(t, s.Exists("lock:room:r1"))
		assert.False(t, s.Exists("lock:user:u1"))
	})

	t.Run("HeldKeyTimesOut", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, "room:r1")
		require.NoError(t, err)
		defer unlock()

		_, err = locker.Lock(ctx, "room:r1", "user:u2")
		assert.ErrorIs(t, err, ErrLockTimeout)
		assert.False(t, s.Exists("lock:user:u2"), "partially acquired keys are released")
	})

	t.Run("ForeignTokenKept", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, "room:r9")
		require.NoError(t, err)

		// Блокировка истекла и ее взял другой процесс
		require.NoError(t, s.Set("lock:room:r9", "someone-else"))
		unlock()

		got, err := s.Get("lock:room:r9")
		require.NoError(t, err)
		assert.Equal(t, "someone-else", got)
	})

	t.Run("WaitsForRelease", func(t *testing.T) {
		slow := NewRedisLocker(client, time.Minute, time.Second)
		unlock, err := slow.Lock(ctx, "room:r5")
		require.NoError(t, err)

		go func() {
			time.Sleep(30 * time.Millisecond)
			unlock()
		}()

		unlock2, err := slow.Lock(ctx, "room:r5")
		require.NoError(t, err)
		unlock2()
	})

	t.Run("ServerDown", func(t *testing.T) {
		broken := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
		defer broken.Close()
		_, err := NewRedisLocker(broken, time.Minute, 50*time.Millisecond).Lock(ctx, "room:r1")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrLockTimeout)
	})
}

func TestNewRedisClient(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	defer Close(client)

	assert.NoError(t, Ping(context.Background(), client))
	assert.NoError(t, Close(nil))
}

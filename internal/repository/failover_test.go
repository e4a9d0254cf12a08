package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	args := m.Called(ctx, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}

func TestFailoverLocker(t *testing.T) {
	primary := new(mockLocker)
	fallback := new(mockLocker)
	logger := zerolog.New(io.Discard)
	locker := NewFailoverLocker(primary, fallback, &logger)
	ctx := context.Background()
	noop := func() {}

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Lock", ctx, []string{"room:1"}).Return(noop, nil).Once()

		unlock, err := locker.Lock(ctx, "room:1")
		require.NoError(t, err)
		assert.NotNil(t, unlock)
		assert.False(t, locker.IsDown())
		primary.AssertExpectations(t)
	})

	t.Run("TimeoutIsNotFailure", func(t *testing.T) {
		primary.On("Lock", ctx, []string{"room:2"}).Return(nil, ErrLockTimeout).Once()

		_, err := locker.Lock(ctx, "room:2")
		assert.ErrorIs(t, err, ErrLockTimeout)
		assert.False(t, locker.IsDown())
		fallback.AssertNotCalled(t, "Lock", ctx, []string{"room:2"})
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("Lock", ctx, []string{"room:3"}).Return(nil, errors.New("connection refused")).Once()
		fallback.On("Lock", ctx, []string{"room:3"}).Return(noop, nil).Once()

		_, err := locker.Lock(ctx, "room:3")
		require.NoError(t, err)
		assert.True(t, locker.IsDown())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("StaysOnFallback", func(t *testing.T) {
		fallback.On("Lock", ctx, []string{"room:4"}).Return(noop, nil).Once()

		_, err := locker.Lock(ctx, "room:4")
		require.NoError(t, err)
		primary.AssertNotCalled(t, "Lock", ctx, []string{"room:4"})
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		locker.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())
		primary.On("Lock", ctx, []string{"room:5"}).Return(noop, nil).Once()

		_, err := locker.Lock(ctx, "room:5")
		require.NoError(t, err)
		assert.False(t, locker.IsDown())
		primary.AssertExpectations(t)
	})
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDelay(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2}

	assert.Equal(t, 100*time.Millisecond, p.NextDelay(0))
	assert.Equal(t, 100*time.Millisecond, p.NextDelay(1))
	assert.Equal(t, 200*time.Millisecond, p.NextDelay(2))
	assert.Equal(t, 300*time.Millisecond, p.NextDelay(3))

	var zero Policy
	assert.Equal(t, time.Second, zero.NextDelay(1))
	assert.Equal(t, 2*time.Second, zero.NextDelay(2))
}

func TestDo(t *testing.T) {
	errBusy := errors.New("busy")
	errFatal := errors.New("fatal")
	isBusy := func(err error) bool { return errors.Is(err, errBusy) }
	p := Policy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	ctx := context.Background()

	t.Run("SucceedsAfterTransientFailures", func(t *testing.T) {
		calls := 0
		err := p.Do(ctx, isBusy, func() error {
			calls++
			if calls < 3 {
				return errBusy
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("StopsOnNonRetryable", func(t *testing.T) {
		calls := 0
		err := p.Do(ctx, isBusy, func() error {
			calls++
			return errFatal
		})
		assert.ErrorIs(t, err, errFatal)
		assert.Equal(t, 1, calls)
	})

	t.Run("GivesUpAfterMaxRetries", func(t *testing.T) {
		calls := 0
		err := p.Do(ctx, isBusy, func() error {
			calls++
			return errBusy
		})
		assert.ErrorIs(t, err, errBusy)
		assert.Equal(t, 4, calls)
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		calls := 0
		slow := Policy{MaxRetries: 5, InitialDelay: time.Hour}
		err := slow.Do(cctx, isBusy, func() error {
			calls++
			return errBusy
		})
		assert.ErrorIs(t, err, errBusy)
		assert.Equal(t, 1, calls)
	})
}

package repository

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"peregovorka/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverLocker uses primary until it errors, then serves locks from fallback
// and probes primary again once a minute.
type FailoverLocker struct {
	primary   domain.Locker
	fallback  domain.Locker
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverLocker(primary, fallback domain.Locker, logger *zerolog.Logger) *FailoverLocker {
	return &FailoverLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// Занятая блокировка и отмена контекста не означают отказ Redis.
func isBackendFailure(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrLockTimeout) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func (l *FailoverLocker) markDown(err error) {
	l.logger.Error().Err(err).Msg("Primary locker failed, falling back to memory")
	l.isDown.Store(true)
	l.lastCheck.Store(time.Now().UnixNano())
}

func (l *FailoverLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	if l.isDown.Load() && time.Since(time.Unix(0, l.lastCheck.Load())) > recoveryInterval {
		unlock, err := l.primary.Lock(ctx, keys...)
		if !isBackendFailure(err) {
			l.logger.Info().Msg("Primary locker recovered")
			l.isDown.Store(false)
			return unlock, err
		}
		l.lastCheck.Store(time.Now().UnixNano())
	} else if !l.isDown.Load() {
		unlock, err := l.primary.Lock(ctx, keys...)
		if !isBackendFailure(err) {
			return unlock, err
		}
		l.markDown(err)
	}

	return l.fallback.Lock(ctx, keys...)
}

func (l *FailoverLocker) IsDown() bool {
	return l.isDown.Load()
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"peregovorka/internal/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

// Снимаем блокировку только если она все еще наша
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker holds each key as "lock:<key>" with SET NX PX. Works across processes.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
}

func NewRedisLocker(client *redis.Client, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		poll:   10 * time.Millisecond,
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string, deadline time.Time) error {
	delay := l.poll
	for {
		ok, err := l.client.SetNX(ctx, lockKey(key), token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		if time.Now().Add(delay).After(deadline) {
			return ErrLockTimeout
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if delay < 100*time.Millisecond {
			delay *= 2
		}
	}
}

func (l *RedisLocker) release(keys []string, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := len(keys) - 1; i >= 0; i-- {
		// При ошибке ключ сам истечет по TTL
		_ = releaseScript.Run(ctx, l.client, []string{lockKey(keys[i])}, token).Err()
	}
}

func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	if l.client == nil {
		return nil, errors.New("redis client is nil")
	}
	keys = normalizeKeys(keys)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for i, key := range keys {
		if err := l.acquire(ctx, key, token, deadline); err != nil {
			l.release(keys[:i], token)
			return nil, err
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(keys, token) })
	}, nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}

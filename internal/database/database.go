package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"peregovorka/internal/config"
	"peregovorka/internal/domain"
	"peregovorka/internal/models"
	"peregovorka/internal/retry"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound               = errors.New("record not found")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrDuplicate              = errors.New("duplicate record")
	ErrUnavailable            = errors.New("storage temporarily unavailable")
)

var defaultRetryPolicy = retry.Policy{
	MaxRetries:    3,
	InitialDelay:  20 * time.Millisecond,
	MaxDelay:      500 * time.Millisecond,
	BackoffFactor: 2,
}

type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
	retry  retry.Policy

	mu            sync.RWMutex
	roomsCache    map[string]*models.Room
	roomsLoadedAt time.Time
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	return Open(config.DatabaseConfig{Path: path}, logger)
}

func Open(cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	busyTimeout := cfg.BusyTimeoutMS
	if busyTimeout <= 0 {
		busyTimeout = 5000
	}

	var dsn string
	if cfg.Path == ":memory:" {
		dsn = ":memory:?_foreign_keys=on"
	} else {
		// Создаем директорию для БД, если её нет
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate",
			cfg.Path, busyTimeout)
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Одно соединение: транзакции выполняются строго по очереди
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	policy := cfg.Retry.Policy()
	if policy.MaxRetries == 0 {
		policy = defaultRetryPolicy
	}

	logger.Info().Str("path", cfg.Path).Msg("Database initialized")
	return &DB{
		DB:         sqlDB,
		path:       cfg.Path,
		logger:     logger,
		retry:      policy,
		roomsCache: make(map[string]*models.Room),
	}, nil
}

func (db *DB) Path() string {
	return db.path
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            capacity INTEGER NOT NULL DEFAULT 0,
            amenities TEXT NOT NULL DEFAULT '[]',
            is_available BOOLEAN NOT NULL DEFAULT 1,
            sort_order INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            email TEXT NOT NULL DEFAULT '',
            manager_id TEXT NOT NULL DEFAULT '',
            role TEXT NOT NULL DEFAULT 'employee',
            telegram_chat_id INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id TEXT PRIMARY KEY,
            room_id TEXT NOT NULL,
            organizer_id TEXT NOT NULL,
            title TEXT NOT NULL,
            start_time DATETIME NOT NULL,
            end_time DATETIME NOT NULL,
            status TEXT NOT NULL,
            requires_approval BOOLEAN NOT NULL DEFAULT 0,
            is_emergency BOOLEAN NOT NULL DEFAULT 0,
            notes TEXT NOT NULL DEFAULT '',
            actual_end_time DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1,
            CHECK (start_time < end_time)
        )`,
		`CREATE TABLE IF NOT EXISTS attendees (
            id TEXT PRIMARY KEY,
            booking_id TEXT NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
            user_id TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'invited',
            role TEXT NOT NULL DEFAULT '',
            UNIQUE (booking_id, user_id)
        )`,
		`CREATE TABLE IF NOT EXISTS approvals (
            id TEXT PRIMARY KEY,
            booking_id TEXT NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
            requester_id TEXT NOT NULL,
            approver_id TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL,
            comments TEXT NOT NULL DEFAULT '',
            is_emergency BOOLEAN NOT NULL DEFAULT 0,
            suggested_room_id TEXT NOT NULL DEFAULT '',
            requested_at DATETIME NOT NULL,
            approved_at DATETIME,
            resolved_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS outbox (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            event_type TEXT NOT NULL,
            aggregate_id TEXT NOT NULL DEFAULT '',
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_room_time ON bookings(room_id, start_time, end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_organizer ON bookings(organizer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_attendees_user ON attendees(user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_users_manager ON users(manager_id)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_requester ON approvals(requester_id, status)`,
		// Не больше одной открытой заявки на бронирование
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_approvals_one_pending ON approvals(booking_id) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// WithTx runs fn inside one transaction. Busy/locked errors restart the whole
// transaction with backoff; once retries are exhausted ErrUnavailable is returned.
func (db *DB) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	return db.withRetry(ctx, func() error {
		return db.runTx(ctx, fn)
	})
}

func (db *DB) runTx(ctx context.Context, fn func(tx domain.Tx) error) (err error) {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (db *DB) withRetry(ctx context.Context, fn func() error) error {
	attempts := 0
	err := db.retry.Do(ctx, isTransient, func() error {
		attempts++
		return fn()
	})
	if err != nil && isTransient(err) {
		db.logger.Warn().Err(err).Int("attempts", attempts).Msg("Storage busy, giving up")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func isTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// utc приводит время к UTC: строки DATETIME сравниваются лексикографически.
func utc(t time.Time) time.Time {
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time.UTC()
	return &v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Tx is the transactional view of the store.
type Tx struct {
	tx *sql.Tx
}

var _ domain.Tx = (*Tx)(nil)
var _ domain.Repository = (*DB)(nil)

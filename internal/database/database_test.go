package database

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"peregovorka/internal/domain"
	"peregovorka/internal/models"
	"peregovorka/internal/retry"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	db.retry = retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.SyncRooms(ctx, []models.Room{
		{ID: "r1", Name: "Ладога", Capacity: 6, IsAvailable: true, SortOrder: 1},
		{ID: "r2", Name: "Онега", Capacity: 10, IsAvailable: true, SortOrder: 2},
	}))
	require.NoError(t, db.SyncUsers(ctx, []models.User{
		{ID: "boss", Name: "Boss", Role: models.RoleManager},
		{ID: "alice", Name: "Alice", ManagerID: "boss"},
		{ID: "bob", Name: "Bob", ManagerID: "boss"},
		{ID: "root", Name: "Root", Role: models.RoleAdmin},
	}))
	return db
}

func slot(hour int) time.Time {
	return time.Date(2026, 3, 2, hour, 0, 0, 0, time.UTC)
}

func mustInsert(t *testing.T, db *DB, b *models.Booking) {
	t.Helper()
	err := db.WithTx(context.Background(), func(tx domain.Tx) error {
		return tx.InsertBooking(context.Background(), b)
	})
	require.NoError(t, err)
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, dbPath, db.Path())
}

func TestNewDB_Error(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "db_err")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	logger := zerolog.New(io.Discard)
	_, err = NewDB(tmpDir, &logger)
	assert.Error(t, err)
}

func TestWithTx_RollbackOnError(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	b := &models.Booking{
		RoomID: "r1", OrganizerID: "alice", Title: "sync",
		Start: slot(10), End: slot(11), Status: models.BookingScheduled,
	}
	err := db.WithTx(ctx, func(tx domain.Tx) error {
		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = db.GetBooking(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithTx_RetriesTransientErrors(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	attempts := 0
	err := db.WithTx(ctx, func(tx domain.Tx) error {
		attempts++
		if attempts < 2 {
			return sqlite3.Error{Code: sqlite3.ErrBusy}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)

	attempts = 0
	err = db.WithTx(ctx, func(tx domain.Tx) error {
		attempts++
		return sqlite3.Error{Code: sqlite3.ErrLocked}
	})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, attempts)
}

func TestWithTx_BusinessErrorNotRetried(t *testing.T) {
	db := setupTestDB(t)
	attempts := 0
	err := db.WithTx(context.Background(), func(tx domain.Tx) error {
		attempts++
		return ErrConcurrentModification
	})
	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.Equal(t, 1, attempts)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.True(t, isTransient(errors.Join(errors.New("wrap"), sqlite3.Error{Code: sqlite3.ErrLocked})))
	assert.False(t, isTransient(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, isTransient(errors.New("other")))
}

func TestDB_ErrorPaths(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	db.Close() // Close the DB to trigger errors

	ctx := context.Background()

	_, err = db.GetBooking(ctx, "x")
	assert.Error(t, err)
	_, err = db.FindRoomBookings(ctx, "r1", slot(9), slot(10))
	assert.Error(t, err)
	_, err = db.ListRooms(ctx)
	assert.Error(t, err)
	err = db.WithTx(ctx, func(tx domain.Tx) error { return nil })
	assert.Error(t, err)
	err = db.CreateOutboxTask(ctx, &models.OutboxTask{EventType: "x", Payload: "{}"})
	assert.Error(t, err)
}

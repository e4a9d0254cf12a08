package database

import (
	"context"
	"testing"
	"time"

	"peregovorka/internal/domain"
	"peregovorka/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertPendingBooking(t *testing.T, db *DB, organizer string, emergency bool, requestedAt time.Time) (*models.Booking, *models.ApprovalRequest) {
	t.Helper()
	ctx := context.Background()
	b := &models.Booking{
		RoomID: "r1", OrganizerID: organizer, Title: "needs approval",
		Start: slot(10), End: slot(11), Status: models.BookingPending,
		RequiresApproval: true, IsEmergency: emergency,
	}
	a := &models.ApprovalRequest{
		RequesterID: organizer, Status: models.ApprovalPending,
		IsEmergency: emergency, RequestedAt: requestedAt,
	}
	err := db.WithTx(ctx, func(tx domain.Tx) error {
		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		a.BookingID = b.ID
		return tx.InsertApproval(ctx, a)
	})
	require.NoError(t, err)
	return b, a
}

func TestApprovalLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	b, a := insertPendingBooking(t, db, "alice", false, time.Now())

	found, err := db.GetApproval(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, found.BookingID)
	assert.Equal(t, models.ApprovalPending, found.Status)
	assert.Nil(t, found.ResolvedAt)

	// вторая открытая заявка запрещена индексом
	err = db.WithTx(ctx, func(tx domain.Tx) error {
		return tx.InsertApproval(ctx, &models.ApprovalRequest{BookingID: b.ID, RequesterID: "alice", Status: models.ApprovalPending})
	})
	assert.ErrorIs(t, err, ErrDuplicate)

	err = db.WithTx(ctx, func(tx domain.Tx) error {
		return tx.SetSuggestedRoom(ctx, a.ID, "r2", "boss")
	})
	require.NoError(t, err)

	now := time.Now()
	err = db.WithTx(ctx, func(tx domain.Tx) error {
		pending, err := tx.GetPendingApproval(ctx, b.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, "r2", pending.SuggestedRoomID)
		assert.True(t, pending.RoomSuggested())

		pending.Status = models.ApprovalApproved
		pending.ApproverID = "boss"
		pending.Comments = "ok"
		pending.ApprovedAt = &now
		pending.ResolvedAt = &now
		return tx.ResolveApproval(ctx, pending)
	})
	require.NoError(t, err)

	found, err = db.GetApproval(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, found.Status)
	assert.Equal(t, "boss", found.ApproverID)
	require.NotNil(t, found.ApprovedAt)
	require.NotNil(t, found.ResolvedAt)

	// повторное решение проигрывает
	err = db.WithTx(ctx, func(tx domain.Tx) error {
		found.Status = models.ApprovalRejected
		return tx.ResolveApproval(ctx, found)
	})
	assert.ErrorIs(t, err, ErrConcurrentModification)

	err = db.WithTx(ctx, func(tx domain.Tx) error {
		_, err := tx.GetPendingApproval(ctx, b.ID)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)

	err = db.WithTx(ctx, func(tx domain.Tx) error {
		return tx.SetSuggestedRoom(ctx, "missing", "r2", "boss")
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListApprovalsByRequesters(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	_, oldest := insertPendingBooking(t, db, "alice", false, base)
	_, newer := insertPendingBooking(t, db, "bob", false, base.Add(10*time.Minute))
	_, urgent := insertPendingBooking(t, db, "bob", true, base.Add(20*time.Minute))
	insertPendingBooking(t, db, "root", false, base)

	got, err := db.ListApprovalsByRequesters(ctx, []string{"alice", "bob"}, true)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, urgent.ID, got[0].ID)
	assert.Equal(t, oldest.ID, got[1].ID)
	assert.Equal(t, newer.ID, got[2].ID)

	got, err = db.ListApprovalsByRequesters(ctx, nil, false)
	require.NoError(t, err)
	assert.Empty(t, got)
}

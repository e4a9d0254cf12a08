package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"peregovorka/internal/models"

	"github.com/google/uuid"
)

const approvalColumns = `id, booking_id, requester_id, approver_id, status, comments, is_emergency,
        suggested_room_id, requested_at, approved_at, resolved_at`

func scanApproval(row rowScanner) (*models.ApprovalRequest, error) {
	var a models.ApprovalRequest
	var approvedAt, resolvedAt sql.NullTime
	err := row.Scan(
		&a.ID,
		&a.BookingID,
		&a.RequesterID,
		&a.ApproverID,
		&a.Status,
		&a.Comments,
		&a.IsEmergency,
		&a.SuggestedRoomID,
		&a.RequestedAt,
		&approvedAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	a.RequestedAt = a.RequestedAt.UTC()
	a.ApprovedAt = nullTimePtr(approvedAt)
	a.ResolvedAt = nullTimePtr(resolvedAt)
	return &a, nil
}

func getApproval(ctx context.Context, q querier, query string, args ...any) (*models.ApprovalRequest, error) {
	a, err := scanApproval(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	return a, nil
}

func insertApproval(ctx context.Context, q querier, a *models.ApprovalRequest) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.RequestedAt.IsZero() {
		a.RequestedAt = time.Now()
	}
	a.RequestedAt = utc(a.RequestedAt)

	query := `INSERT INTO approvals (` + approvalColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := q.ExecContext(ctx, query,
		a.ID,
		a.BookingID,
		a.RequesterID,
		a.ApproverID,
		a.Status,
		a.Comments,
		a.IsEmergency,
		a.SuggestedRoomID,
		a.RequestedAt,
		utcPtr(a.ApprovedAt),
		utcPtr(a.ResolvedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: pending approval for booking %s", ErrDuplicate, a.BookingID)
		}
		return fmt.Errorf("failed to create approval: %w", err)
	}
	return nil
}

// resolveApproval переводит заявку из pending в итоговый статус. Проигравший гонку получает ErrConcurrentModification.
func resolveApproval(ctx context.Context, q querier, a *models.ApprovalRequest) error {
	query := `UPDATE approvals SET status = ?, approver_id = ?, comments = ?, approved_at = ?, resolved_at = ?
              WHERE id = ? AND status = ?`
	res, err := q.ExecContext(ctx, query,
		a.Status,
		a.ApproverID,
		a.Comments,
		utcPtr(a.ApprovedAt),
		utcPtr(a.ResolvedAt),
		a.ID,
		models.ApprovalPending,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve approval: %w", err)
	}
	return approvalMissOrRace(ctx, q, res, a.ID)
}

func setSuggestedRoom(ctx context.Context, q querier, approvalID, roomID, approverID string) error {
	query := `UPDATE approvals SET suggested_room_id = ?, approver_id = ? WHERE id = ? AND status = ?`
	res, err := q.ExecContext(ctx, query, roomID, approverID, approvalID, models.ApprovalPending)
	if err != nil {
		return fmt.Errorf("failed to suggest room: %w", err)
	}
	return approvalMissOrRace(ctx, q, res, approvalID)
}

func approvalMissOrRace(ctx context.Context, q querier, res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}
	var exists int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM approvals WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check approval existence: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrConcurrentModification
}

func (db *DB) GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	var out *models.ApprovalRequest
	err := db.withRetry(ctx, func() (err error) {
		out, err = getApproval(ctx, db.DB, `SELECT `+approvalColumns+` FROM approvals WHERE id = ?`, id)
		return err
	})
	return out, err
}

// ListApprovalsByRequesters: срочные заявки первыми, затем самые старые.
func (db *DB) ListApprovalsByRequesters(
	ctx context.Context,
	requesterIDs []string,
	onlyPending bool,
) ([]*models.ApprovalRequest, error) {
	if len(requesterIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE requester_id IN (` + placeholders(len(requesterIDs)) + `)`
	args := make([]any, 0, len(requesterIDs)+1)
	for _, id := range requesterIDs {
		args = append(args, id)
	}
	if onlyPending {
		query += ` AND status = ?`
		args = append(args, models.ApprovalPending)
	}
	query += ` ORDER BY is_emergency DESC, requested_at ASC, id ASC`

	var approvals []*models.ApprovalRequest
	err := db.withRetry(ctx, func() error {
		approvals = approvals[:0]
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to list approvals: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			a, err := scanApproval(rows)
			if err != nil {
				return fmt.Errorf("failed to scan approval: %w", err)
			}
			approvals = append(approvals, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return approvals, nil
}

func (t *Tx) GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	return getApproval(ctx, t.tx, `SELECT `+approvalColumns+` FROM approvals WHERE id = ?`, id)
}

func (t *Tx) GetPendingApproval(ctx context.Context, bookingID string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE booking_id = ? AND status = ?`
	return getApproval(ctx, t.tx, query, bookingID, models.ApprovalPending)
}

func (t *Tx) InsertApproval(ctx context.Context, approval *models.ApprovalRequest) error {
	return insertApproval(ctx, t.tx, approval)
}

func (t *Tx) ResolveApproval(ctx context.Context, approval *models.ApprovalRequest) error {
	return resolveApproval(ctx, t.tx, approval)
}

func (t *Tx) SetSuggestedRoom(ctx context.Context, approvalID, roomID, approverID string) error {
	return setSuggestedRoom(ctx, t.tx, approvalID, roomID, approverID)
}

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

const bookingColumns = `b.id, b.room_id, b.organizer_id, b.title, b.start_time, b.end_time, b.status,
        b.requires_approval, b.is_emergency, b.notes, b.actual_end_time, b.created_at, b.updated_at, b.version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var actualEnd sql.NullTime
	err := row.Scan(
		&b.ID,
		&b.RoomID,
		&b.OrganizerID,
		&b.Title,
		&b.Start,
		&b.End,
		&b.Status,
		&b.RequiresApproval,
		&b.IsEmergency,
		&b.Notes,
		&actualEnd,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.Version,
	)
	if err != nil {
		return nil, err
	}
	b.Start = b.Start.UTC()
	b.End = b.End.UTC()
	b.ActualEndTime = nullTimePtr(actualEnd)
	return &b, nil
}

func activeStatusArgs() []any {
	statuses := models.ActiveStatuses()
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	return args
}

func queryBookings(ctx context.Context, q querier, query string, args ...any) ([]*models.Booking, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bookings, nil
}

func findRoomBookings(ctx context.Context, q querier, roomID string, start, end time.Time) ([]*models.Booking, error) {
	statuses := activeStatusArgs()
	query := `SELECT ` + bookingColumns + `
        FROM bookings b
        WHERE b.room_id = ? AND b.status IN (` + placeholders(len(statuses)) + `)
        AND b.start_time < ? AND b.end_time > ?
        ORDER BY b.start_time, b.id`

	args := append([]any{roomID}, statuses...)
	args = append(args, utc(end), utc(start))
	bookings, err := queryBookings(ctx, q, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find room bookings: %w", err)
	}
	return bookings, nil
}

// findUserBookings: пользователь занят, если он организатор или принял приглашение.
func findUserBookings(ctx context.Context, q querier, userID string, start, end time.Time) ([]*models.Booking, error) {
	statuses := activeStatusArgs()
	query := `SELECT ` + bookingColumns + `
        FROM bookings b
        WHERE (b.organizer_id = ? OR EXISTS (
            SELECT 1 FROM attendees a
            WHERE a.booking_id = b.id AND a.user_id = ? AND a.status = ?
        ))
        AND b.status IN (` + placeholders(len(statuses)) + `)
        AND b.start_time < ? AND b.end_time > ?
        ORDER BY b.start_time, b.id`

	args := append([]any{userID, userID, string(models.AttendeeAccepted)}, statuses...)
	args = append(args, utc(end), utc(start))
	bookings, err := queryBookings(ctx, q, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find user bookings: %w", err)
	}
	return bookings, nil
}

func getBooking(ctx context.Context, q querier, id string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings b WHERE b.id = ?`
	b, err := scanBooking(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}

	attendees, err := getAttendees(ctx, q, id)
	if err != nil {
		return nil, err
	}
	b.Attendees = attendees
	return b, nil
}

func getAttendees(ctx context.Context, q querier, bookingID string) ([]*models.Attendee, error) {
	query := `SELECT id, booking_id, user_id, status, role FROM attendees WHERE booking_id = ? ORDER BY rowid`
	rows, err := q.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attendees: %w", err)
	}
	defer rows.Close()

	var attendees []*models.Attendee
	for rows.Next() {
		var a models.Attendee
		if err := rows.Scan(&a.ID, &a.BookingID, &a.UserID, &a.Status, &a.Role); err != nil {
			return nil, fmt.Errorf("failed to scan attendee: %w", err)
		}
		attendees = append(attendees, &a)
	}
	return attendees, rows.Err()
}

func insertBooking(ctx context.Context, q querier, b *models.Booking) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	b.Start = utc(b.Start)
	b.End = utc(b.End)
	b.CreatedAt = now
	b.UpdatedAt = now
	b.Version = 1

	query := `INSERT INTO bookings (
				id, room_id, organizer_id, title, start_time, end_time, status,
				requires_approval, is_emergency, notes, actual_end_time, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := q.ExecContext(ctx, query,
		b.ID,
		b.RoomID,
		b.OrganizerID,
		b.Title,
		b.Start,
		b.End,
		b.Status,
		b.RequiresApproval,
		b.IsEmergency,
		b.Notes,
		utcPtr(b.ActualEndTime),
		b.CreatedAt,
		b.UpdatedAt,
		b.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: booking %s", ErrDuplicate, b.ID)
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}

	for _, a := range b.Attendees {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.Status == "" {
			a.Status = models.AttendeeInvited
		}
		a.BookingID = b.ID
		_, err := q.ExecContext(ctx,
			`INSERT INTO attendees (id, booking_id, user_id, status, role) VALUES (?, ?, ?, ?, ?)`,
			a.ID, a.BookingID, a.UserID, a.Status, a.Role,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: attendee %s", ErrDuplicate, a.UserID)
			}
			return fmt.Errorf("failed to create attendee: %w", err)
		}
	}
	return nil
}

// bookingMissOrRace отличает удаленную запись от проигранной гонки после UPDATE без затронутых строк.
func bookingMissOrRace(ctx context.Context, q querier, id string) error {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check booking existence: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrConcurrentModification
}

func updateBookingWithVersion(ctx context.Context, q querier, b *models.Booking, version int64) error {
	now := time.Now().UTC()
	query := `UPDATE bookings SET
				room_id = ?, title = ?, start_time = ?, end_time = ?, status = ?,
				requires_approval = ?, notes = ?, updated_at = ?, version = version + 1
			WHERE id = ? AND version = ?`
	res, err := q.ExecContext(ctx, query,
		b.RoomID,
		b.Title,
		utc(b.Start),
		utc(b.End),
		b.Status,
		b.RequiresApproval,
		b.Notes,
		now,
		b.ID,
		version,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return bookingMissOrRace(ctx, q, b.ID)
	}
	b.UpdatedAt = now
	b.Version = version + 1
	return nil
}

func transitionBooking(ctx context.Context, q querier, id string, from, to models.BookingStatus, actualEnd *time.Time) error {
	query := `UPDATE bookings SET
				status = ?, actual_end_time = COALESCE(?, actual_end_time), updated_at = ?, version = version + 1
			WHERE id = ? AND status = ?`
	res, err := q.ExecContext(ctx, query, to, utcPtr(actualEnd), time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return bookingMissOrRace(ctx, q, id)
	}
	return nil
}

func updateAttendeeStatus(ctx context.Context, q querier, bookingID, userID string, status models.AttendeeStatus) error {
	res, err := q.ExecContext(ctx,
		`UPDATE attendees SET status = ? WHERE booking_id = ? AND user_id = ?`,
		status, bookingID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to update attendee: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	_, err = q.ExecContext(ctx,
		`UPDATE bookings SET updated_at = ?, version = version + 1 WHERE id = ?`,
		time.Now().UTC(), bookingID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch booking: %w", err)
	}
	return nil
}

// Чтение вне транзакции

func (db *DB) FindRoomBookings(ctx context.Context, roomID string, start, end time.Time) ([]*models.Booking, error) {
	var out []*models.Booking
	err := db.withRetry(ctx, func() (err error) {
		out, err = findRoomBookings(ctx, db.DB, roomID, start, end)
		return err
	})
	return out, err
}

func (db *DB) FindUserBookings(ctx context.Context, userID string, start, end time.Time) ([]*models.Booking, error) {
	var out []*models.Booking
	err := db.withRetry(ctx, func() (err error) {
		out, err = findUserBookings(ctx, db.DB, userID, start, end)
		return err
	})
	return out, err
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var out *models.Booking
	err := db.withRetry(ctx, func() (err error) {
		out, err = getBooking(ctx, db.DB, id)
		return err
	})
	return out, err
}

// Транзакционные операции

func (t *Tx) FindRoomBookings(ctx context.Context, roomID string, start, end time.Time) ([]*models.Booking, error) {
	return findRoomBookings(ctx, t.tx, roomID, start, end)
}

func (t *Tx) FindUserBookings(ctx context.Context, userID string, start, end time.Time) ([]*models.Booking, error) {
	return findUserBookings(ctx, t.tx, userID, start, end)
}

func (t *Tx) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return getBooking(ctx, t.tx, id)
}

func (t *Tx) InsertBooking(ctx context.Context, booking *models.Booking) error {
	return insertBooking(ctx, t.tx, booking)
}

func (t *Tx) UpdateBookingWithVersion(ctx context.Context, booking *models.Booking, version int64) error {
	return updateBookingWithVersion(ctx, t.tx, booking, version)
}

func (t *Tx) TransitionBooking(
	ctx context.Context,
	id string,
	from, to models.BookingStatus,
	actualEnd *time.Time,
) error {
	return transitionBooking(ctx, t.tx, id, from, to, actualEnd)
}

func (t *Tx) UpdateAttendeeStatus(ctx context.Context, bookingID, userID string, status models.AttendeeStatus) error {
	return updateAttendeeStatus(ctx, t.tx, bookingID, userID, status)
}

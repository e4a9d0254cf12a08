package conflict

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"peregovorka/internal/domain"
	"peregovorka/internal/models"
)

var ErrInvalidWindow = errors.New("start must be before end")

// Window is a half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidWindow)
	}
	if !w.Start.Before(w.End) {
		return ErrInvalidWindow
	}
	return nil
}

// Overlaps: касание границ (10:00-11:00 и 11:00-12:00) пересечением не считается.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// Filter keeps the non-cancelled bookings whose [Start, End) overlaps w. A booking whose ID equals exclude is skipped.
func Filter(bookings []*models.Booking, w Window, exclude string) []*models.Booking {
	var out []*models.Booking
	for _, b := range bookings {
		if b == nil || (exclude != "" && b.ID == exclude) {
			continue
		}
		if !b.Status.HoldsTime() {
			continue
		}
		if Overlaps(b.Start, b.End, w.Start, w.End) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// Draft is a proposed booking.
type Draft struct {
	RoomID      string
	OrganizerID string
	AttendeeIDs []string
	Window      Window
	ExcludeID   string
}

// Participants returns the organizer and attendees without duplicates, organizer first.
func (d Draft) Participants() []string {
	seen := make(map[string]struct{}, len(d.AttendeeIDs)+1)
	var ids []string
	for _, id := range append([]string{d.OrganizerID}, d.AttendeeIDs...) {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// Detector answers conflict queries against a BookingFinder. It never writes.
type Detector struct {
	finder domain.BookingFinder
}

func NewDetector(finder domain.BookingFinder) *Detector {
	return &Detector{finder: finder}
}

func (d *Detector) RoomConflicts(ctx context.Context, roomID string, w Window, exclude string) ([]*models.Booking, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	candidates, err := d.finder.FindRoomBookings(ctx, roomID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("failed to load room bookings: %w", err)
	}
	return Filter(candidates, w, exclude), nil
}

func (d *Detector) UserConflicts(ctx context.Context, userID string, w Window, exclude string) ([]*models.Booking, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	candidates, err := d.finder.FindUserBookings(ctx, userID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("failed to load user bookings: %w", err)
	}
	return Filter(candidates, w, exclude), nil
}

func (d *Detector) IsRoomAvailable(ctx context.Context, roomID string, w Window, exclude string) (bool, error) {
	conflicts, err := d.RoomConflicts(ctx, roomID, w, exclude)
	if err != nil {
		return false, err
	}
	return len(conflicts) == 0, nil
}

// Check combines room and participant conflicts for a draft.
func (d *Detector) Check(ctx context.Context, draft Draft) (*models.ConflictReport, error) {
	report := &models.ConflictReport{}

	rooms, err := d.RoomConflicts(ctx, draft.RoomID, draft.Window, draft.ExcludeID)
	if err != nil {
		return nil, err
	}
	report.RoomConflicts = rooms

	for _, userID := range draft.Participants() {
		bookings, err := d.UserConflicts(ctx, userID, draft.Window, draft.ExcludeID)
		if err != nil {
			return nil, err
		}
		for _, b := range bookings {
			report.AttendeeConflicts = append(report.AttendeeConflicts, models.AttendeeConflict{UserID: userID, Booking: b})
		}
	}
	return report, nil
}

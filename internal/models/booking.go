package models

import "time"

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingApproved  BookingStatus = "approved" // reserved: ProcessApproval goes straight to scheduled
	BookingScheduled BookingStatus = "scheduled"
	BookingRejected  BookingStatus = "rejected"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

// bookingTransitions lists every allowed status change. Terminal statuses have no entry.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingApproved, BookingScheduled, BookingRejected, BookingCancelled},
	BookingApproved:  {BookingScheduled, BookingCancelled},
	BookingScheduled: {BookingPending, BookingCompleted, BookingCancelled},
}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingApproved, BookingScheduled, BookingRejected, BookingCancelled, BookingCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s BookingStatus) Terminal() bool {
	_, ok := bookingTransitions[s]
	return !ok
}

func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// HoldsTime reports whether a booking in this status occupies its room and participants.
// Only cancelled bookings release their window.
func (s BookingStatus) HoldsTime() bool {
	return s.Valid() && s != BookingCancelled
}

// ActiveStatuses returns the statuses that take part in conflict detection.
func ActiveStatuses() []BookingStatus {
	return []BookingStatus{BookingPending, BookingApproved, BookingScheduled, BookingRejected, BookingCompleted}
}

type Booking struct {
	ID               string        `json:"id"`
	RoomID           string        `json:"room_id"`
	OrganizerID      string        `json:"organizer_id"`
	Title            string        `json:"title"`
	Start            time.Time     `json:"start"`
	End              time.Time     `json:"end"`
	Status           BookingStatus `json:"status"`
	RequiresApproval bool          `json:"requires_approval"`
	IsEmergency      bool          `json:"is_emergency"`
	Notes            string        `json:"notes,omitempty"`
	ActualEndTime    *time.Time    `json:"actual_end_time,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	Version          int64         `json:"version"`
	Attendees        []*Attendee   `json:"attendees,omitempty"`
}

// EffectiveEnd is when the meeting actually finished. Conflict checks always use End.
func (b *Booking) EffectiveEnd() time.Time {
	if b.Status == BookingCompleted && b.ActualEndTime != nil && b.ActualEndTime.Before(b.End) {
		return *b.ActualEndTime
	}
	return b.End
}

// Participants returns the organizer followed by every accepted attendee.
func (b *Booking) Participants() []string {
	ids := []string{b.OrganizerID}
	for _, a := range b.Attendees {
		if a.Status == AttendeeAccepted && a.UserID != b.OrganizerID {
			ids = append(ids, a.UserID)
		}
	}
	return ids
}

type AttendeeStatus string

const (
	AttendeeInvited  AttendeeStatus = "invited"
	AttendeeAccepted AttendeeStatus = "accepted"
	AttendeeDeclined AttendeeStatus = "declined"
)

type Attendee struct {
	ID        string         `json:"id"`
	BookingID string         `json:"booking_id"`
	UserID    string         `json:"user_id"`
	Status    AttendeeStatus `json:"status"`
	Role      string         `json:"role,omitempty"`
}

// AttendeeConflict pairs a participant with one of their overlapping bookings.
type AttendeeConflict struct {
	UserID  string   `json:"user_id"`
	Booking *Booking `json:"booking"`
}

// ConflictReport is the result of checking a draft against existing commitments.
type ConflictReport struct {
	RoomConflicts     []*Booking         `json:"room_conflicts"`
	AttendeeConflicts []AttendeeConflict `json:"attendee_conflicts"`
}

func (r *ConflictReport) Empty() bool {
	return r == nil || (len(r.RoomConflicts) == 0 && len(r.AttendeeConflicts) == 0)
}

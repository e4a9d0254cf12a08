package service

import (
	"time"

	"peregovorka/internal/models"
)

type CreateBookingRequest struct {
	RoomID      string    `json:"room_id" validate:"required"`
	OrganizerID string    `json:"organizer_id" validate:"required"`
	Title       string    `json:"title" validate:"required,max=200"`
	Start       time.Time `json:"start" validate:"required"`
	End         time.Time `json:"end" validate:"required"`
	AttendeeIDs []string  `json:"attendee_ids" validate:"max=200,dive,required"`
	IsEmergency bool      `json:"is_emergency"`
	Notes       string    `json:"notes" validate:"max=2000"`
}

// UpdateBookingRequest: nil fields are left unchanged.
type UpdateBookingRequest struct {
	Title     *string    `json:"title" validate:"omitempty,max=200"`
	Notes     *string    `json:"notes" validate:"omitempty,max=2000"`
	RoomID    *string    `json:"room_id"`
	Start     *time.Time `json:"start"`
	End       *time.Time `json:"end"`
	UpdatedBy string     `json:"updated_by"`
}

type ConflictCheckRequest struct {
	RoomID           string    `json:"room_id" validate:"required"`
	OrganizerID      string    `json:"organizer_id"`
	AttendeeIDs      []string  `json:"attendee_ids" validate:"dive,required"`
	Start            time.Time `json:"start" validate:"required"`
	End              time.Time `json:"end" validate:"required"`
	ExcludeBookingID string    `json:"exclude_booking_id"`
}

type ProcessApprovalRequest struct {
	ApprovalID string                `json:"approval_id" validate:"required"`
	Decision   models.ApprovalStatus `json:"decision" validate:"required,oneof=approved rejected"`
	ApproverID string                `json:"approver_id" validate:"required"`
	Comments   string                `json:"comments" validate:"max=2000"`
}

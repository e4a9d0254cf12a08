package models

import "time"

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

type ApprovalRequest struct {
	ID              string         `json:"id"`
	BookingID       string         `json:"booking_id"`
	RequesterID     string         `json:"requester_id"`
	ApproverID      string         `json:"approver_id,omitempty"`
	Status          ApprovalStatus `json:"status"`
	Comments        string         `json:"comments,omitempty"`
	IsEmergency     bool           `json:"is_emergency"`
	SuggestedRoomID string         `json:"suggested_room_id,omitempty"`
	RequestedAt     time.Time      `json:"requested_at"`
	ApprovedAt      *time.Time     `json:"approved_at,omitempty"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
}

// RoomSuggested reports whether an approver proposed another room without resolving the request.
func (a *ApprovalRequest) RoomSuggested() bool {
	return a.Status == ApprovalPending && a.SuggestedRoomID != ""
}

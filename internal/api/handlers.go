package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"peregovorka/internal/apperrors"
	"peregovorka/internal/models"
	"peregovorka/internal/service"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

type bookingAPI interface {
	availabilityReader
	Create(ctx context.Context, req service.CreateBookingRequest) (*models.Booking, error)
	Update(ctx context.Context, id string, req service.UpdateBookingRequest) (*models.Booking, error)
	Extend(ctx context.Context, id, organizerID string, newEnd time.Time) (*models.Booking, error)
	EndEarly(ctx context.Context, id, organizerID string) (*models.Booking, error)
	Cancel(ctx context.Context, id, cancelledBy string) (*models.Booking, error)
	RespondToInvitation(ctx context.Context, bookingID, userID string, accept bool) (*models.Booking, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
}

type approvalAPI interface {
	CreateApprovalRequest(ctx context.Context, bookingID, requesterID string) (*models.ApprovalRequest, error)
	ProcessApproval(ctx context.Context, req service.ProcessApprovalRequest) (*models.ApprovalRequest, error)
	SuggestAlternativeRoom(ctx context.Context, approvalID, roomID, approverID string) (*models.ApprovalRequest, error)
	FindAlternativeRooms(ctx context.Context, approvalID string) ([]*models.Room, error)
	GetPendingApprovals(ctx context.Context, managerID string) ([]*models.ApprovalRequest, error)
	GetAllApprovals(ctx context.Context, managerID string) ([]*models.ApprovalRequest, error)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.Validation("request body is required", nil)
		}
		return apperrors.Validation("invalid JSON body", map[string]any{"reason": err.Error()})
	}
	return nil
}

func (s *HTTPServer) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.bookings.ListRooms(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (s *HTTPServer) handleRoomAvailability(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	q := r.URL.Query()
	start, err := parseTimeField("start", strings.TrimSpace(q.Get("start")))
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := parseTimeField("end", strings.TrimSpace(q.Get("end")))
	if err != nil {
		writeError(w, err)
		return
	}

	available, err := s.bookings.CheckRoomAvailability(r.Context(), roomID, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room_id":   roomID,
		"start":     start,
		"end":       end,
		"available": available,
	})
}

func (s *HTTPServer) handleCheckConflicts(w http.ResponseWriter, r *http.Request) {
	var req service.ConflictCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	report, err := s.bookings.CheckConflicts(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conflictsResponse(report))
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req service.CreateBookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	booking, err := s.bookings.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := s.bookings.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleUpdateBooking(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateBookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	booking, err := s.bookings.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleExtendBooking(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrganizerID string    `json:"organizer_id"`
		NewEnd      time.Time `json:"new_end"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.NewEnd.IsZero() {
		writeError(w, apperrors.Validation("new_end is required", map[string]any{"new_end": "required"}))
		return
	}
	booking, err := s.bookings.Extend(r.Context(), chi.URLParam(r, "id"), body.OrganizerID, body.NewEnd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleEndBooking(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrganizerID string `json:"organizer_id"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	booking, err := s.bookings.EndEarly(r.Context(), chi.URLParam(r, "id"), body.OrganizerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CancelledBy string `json:"cancelled_by"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	booking, err := s.bookings.Cancel(r.Context(), chi.URLParam(r, "id"), body.CancelledBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleRespond(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Accept *bool `json:"accept"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Accept == nil {
		writeError(w, apperrors.Validation("accept is required", map[string]any{"accept": "required"}))
		return
	}
	booking, err := s.bookings.RespondToInvitation(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userID"), *body.Accept)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleCreateApproval(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RequesterID string `json:"requester_id"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	approval, err := s.approvals.CreateApprovalRequest(r.Context(), chi.URLParam(r, "id"), body.RequesterID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, approval)
}

func (s *HTTPServer) handleDecision(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Decision   models.ApprovalStatus `json:"decision"`
		ApproverID string                `json:"approver_id"`
		Comments   string                `json:"comments"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	approval, err := s.approvals.ProcessApproval(r.Context(), service.ProcessApprovalRequest{
		ApprovalID: chi.URLParam(r, "id"),
		Decision:   body.Decision,
		ApproverID: body.ApproverID,
		Comments:   body.Comments,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

func (s *HTTPServer) handleSuggestRoom(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RoomID     string `json:"room_id"`
		ApproverID string `json:"approver_id"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	approval, err := s.approvals.SuggestAlternativeRoom(r.Context(), chi.URLParam(r, "id"), body.RoomID, body.ApproverID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

func (s *HTTPServer) handleAlternatives(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.approvals.FindAlternativeRooms(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if rooms == nil {
		rooms = []*models.Room{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (s *HTTPServer) handleManagerApprovals(w http.ResponseWriter, r *http.Request) {
	managerID := chi.URLParam(r, "id")

	var (
		approvals []*models.ApprovalRequest
		err       error
	)
	switch scope := strings.TrimSpace(r.URL.Query().Get("scope")); scope {
	case "", "pending":
		approvals, err = s.approvals.GetPendingApprovals(r.Context(), managerID)
	case "all":
		approvals, err = s.approvals.GetAllApprovals(r.Context(), managerID)
	default:
		err = apperrors.Validation("scope must be pending or all", map[string]any{"scope": scope})
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": approvals})
}

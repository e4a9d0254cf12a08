package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"peregovorka/internal/apperrors"
	"peregovorka/internal/conflict"
	"peregovorka/internal/database"
	"peregovorka/internal/domain"
	"peregovorka/internal/events"
	"peregovorka/internal/metrics"
	"peregovorka/internal/models"

	"github.com/rs/zerolog"
)

// ApprovalService drives approval requests and, on resolution, the booking they belong to.
type ApprovalService struct {
	repo      domain.Repository
	rooms     domain.RoomDirectory
	hierarchy domain.Hierarchy
	eventBus  domain.EventPublisher
	logger    *zerolog.Logger
	now       func() time.Time
}

func NewApprovalService(
	repo domain.Repository,
	rooms domain.RoomDirectory,
	hierarchy domain.Hierarchy,
	eventBus domain.EventPublisher,
	logger *zerolog.Logger,
) *ApprovalService {
	return &ApprovalService{
		repo:      repo,
		rooms:     rooms,
		hierarchy: hierarchy,
		eventBus:  eventBus,
		logger:    logger,
		now:       time.Now,
	}
}

// openRequest creates a pending request for booking inside tx. managerID is only used for notifications.
func (s *ApprovalService) openRequest(
	ctx context.Context,
	tx domain.Tx,
	booking *models.Booking,
	managerID string,
	batch *eventBatch,
) (*models.ApprovalRequest, error) {
	existing, err := tx.GetPendingApproval(ctx, booking.ID)
	switch {
	case err == nil:
		return nil, apperrors.Conflict("approval request is already pending", map[string]any{
			"approval_id": existing.ID,
			"booking_id":  booking.ID,
		})
	case !errors.Is(err, database.ErrNotFound):
		return nil, storeError(err, "approval", booking.ID)
	}

	approval := &models.ApprovalRequest{
		BookingID:   booking.ID,
		RequesterID: booking.OrganizerID,
		Status:      models.ApprovalPending,
		IsEmergency: booking.IsEmergency,
		RequestedAt: s.now(),
	}
	if err := tx.InsertApproval(ctx, approval); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, apperrors.Conflict("approval request is already pending", map[string]any{
				"booking_id": booking.ID,
			})
		}
		return nil, storeError(err, "approval", booking.ID)
	}

	batch.add(events.EventApprovalRequested, approvalPayload(approval, managerID))
	if approval.IsEmergency {
		batch.add(events.EventApprovalEscalated, approvalPayload(approval, managerID))
	}
	return approval, nil
}

func (s *ApprovalService) managerOf(ctx context.Context, userID string) (string, error) {
	user, err := s.hierarchy.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.ManagerID, nil
}

func (s *ApprovalService) CreateApprovalRequest(ctx context.Context, bookingID, requesterID string) (*models.ApprovalRequest, error) {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeError(err, "booking", bookingID)
	}
	if booking.Status != models.BookingPending {
		return nil, apperrors.InvalidState("booking is not awaiting approval", map[string]any{
			"booking_id": bookingID,
			"status":     booking.Status,
		})
	}
	if booking.OrganizerID != requesterID {
		return nil, apperrors.Forbidden("only the organizer can request approval")
	}

	managerID, err := s.managerOf(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	var (
		approval *models.ApprovalRequest
		batch    eventBatch
	)
	err = s.repo.WithTx(ctx, func(tx domain.Tx) error {
		batch.reset()
		current, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return storeError(err, "booking", bookingID)
		}
		if current.Status != models.BookingPending {
			return apperrors.InvalidState("booking is not awaiting approval", map[string]any{
				"booking_id": bookingID,
				"status":     current.Status,
			})
		}
		approval, err = s.openRequest(ctx, tx, current, managerID, &batch)
		return err
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("booking_id", bookingID).Msg("approval request rejected")
		return nil, storeError(err, "approval", bookingID)
	}

	publishEvents(s.eventBus, s.logger, batch)
	return approval, nil
}

// authorize loads the approval and checks that approverID may decide on it.
func (s *ApprovalService) authorize(ctx context.Context, approvalID, approverID string) (*models.ApprovalRequest, error) {
	approval, err := s.repo.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, storeError(err, "approval", approvalID)
	}
	ok, err := s.hierarchy.CanApprove(ctx, approverID, approval.RequesterID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.Forbidden("approver is not authorized for this request")
	}
	return approval, nil
}

func notPending(approval *models.ApprovalRequest) error {
	return apperrors.InvalidState("approval request is already resolved", map[string]any{
		"approval_id": approval.ID,
		"status":      approval.Status,
	})
}

func (s *ApprovalService) ProcessApproval(ctx context.Context, req ProcessApprovalRequest) (result *models.ApprovalRequest, err error) {
	defer func() {
		if err != nil {
			s.logger.Warn().Err(err).Str("approval_id", req.ApprovalID).Msg("approval decision rejected")
		}
	}()

	if err := validateStruct(req); err != nil {
		return nil, err
	}
	approval, err := s.authorize(ctx, req.ApprovalID, req.ApproverID)
	if err != nil {
		return nil, err
	}
	if approval.Status != models.ApprovalPending {
		return nil, notPending(approval)
	}

	target := models.BookingScheduled
	bookingEvent := events.EventBookingScheduled
	approvalEvent := events.EventApprovalApproved
	if req.Decision == models.ApprovalRejected {
		target = models.BookingRejected
		bookingEvent = events.EventBookingRejected
		approvalEvent = events.EventApprovalRejected
	}

	var batch eventBatch
	err = s.repo.WithTx(ctx, func(tx domain.Tx) error {
		batch.reset()
		current, err := tx.GetApproval(ctx, req.ApprovalID)
		if err != nil {
			return storeError(err, "approval", req.ApprovalID)
		}
		if current.Status != models.ApprovalPending {
			return notPending(current)
		}

		now := s.now()
		current.Status = req.Decision
		current.ApproverID = req.ApproverID
		if req.Comments != "" {
			current.Comments = req.Comments
		}
		current.ResolvedAt = &now
		if req.Decision == models.ApprovalApproved {
			current.ApprovedAt = &now
		}
		if err := tx.ResolveApproval(ctx, current); err != nil {
			if errors.Is(err, database.ErrConcurrentModification) {
				return apperrors.InvalidState("approval request was resolved concurrently", map[string]any{
					"approval_id": current.ID,
				})
			}
			return storeError(err, "approval", current.ID)
		}

		booking, err := tx.GetBooking(ctx, current.BookingID)
		if err != nil {
			return storeError(err, "booking", current.BookingID)
		}
		if booking.Status != models.BookingPending {
			return apperrors.InvalidState("booking is no longer awaiting approval", map[string]any{
				"booking_id": booking.ID,
				"status":     booking.Status,
			})
		}
		if err := tx.TransitionBooking(ctx, booking.ID, models.BookingPending, target, nil); err != nil {
			return storeError(err, "booking", booking.ID)
		}
		booking.Status = target

		result = current
		batch.add(approvalEvent, approvalPayload(current, req.ApproverID))
		batch.add(bookingEvent, bookingPayload(booking, req.ApproverID))
		return nil
	})
	if err != nil {
		return nil, storeError(err, "approval", req.ApprovalID)
	}

	metrics.IncApprovalDecision(string(req.Decision))
	publishEvents(s.eventBus, s.logger, batch)
	s.logger.Info().
		Str("approval_id", result.ID).
		Str("booking_id", result.BookingID).
		Str("decision", string(result.Status)).
		Str("approver_id", result.ApproverID).
		Msg("approval processed")
	return result, nil
}

// SuggestAlternativeRoom records a proposed room on a pending request without resolving it.
func (s *ApprovalService) SuggestAlternativeRoom(ctx context.Context, approvalID, roomID, approverID string) (*models.ApprovalRequest, error) {
	approval, err := s.authorize(ctx, approvalID, approverID)
	if err != nil {
		return nil, err
	}
	if approval.Status != models.ApprovalPending {
		return nil, notPending(approval)
	}
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsAvailable {
		return nil, apperrors.Validation("suggested room is not available for booking", map[string]any{
			"room_id": roomID,
		})
	}
	booking, err := s.repo.GetBooking(ctx, approval.BookingID)
	if err != nil {
		return nil, storeError(err, "booking", approval.BookingID)
	}
	if room.ID == booking.RoomID {
		return nil, apperrors.Validation("suggested room must differ from the booked room", map[string]any{
			"room_id": roomID,
		})
	}

	err = s.repo.WithTx(ctx, func(tx domain.Tx) error {
		if err := tx.SetSuggestedRoom(ctx, approvalID, room.ID, approverID); err != nil {
			if errors.Is(err, database.ErrConcurrentModification) {
				return apperrors.InvalidState("approval request was resolved concurrently", map[string]any{
					"approval_id": approvalID,
				})
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, storeError(err, "approval", approvalID)
	}

	approval.SuggestedRoomID = room.ID
	approval.ApproverID = approverID
	publishEvents(s.eventBus, s.logger, eventBatch{{
		eventType: events.EventApprovalRoomSuggested,
		payload:   approvalPayload(approval, approverID),
	}})
	return approval, nil
}

// FindAlternativeRooms lists other available rooms that fit the booking and are free for its window.
func (s *ApprovalService) FindAlternativeRooms(ctx context.Context, approvalID string) ([]*models.Room, error) {
	approval, err := s.repo.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, storeError(err, "approval", approvalID)
	}
	booking, err := s.repo.GetBooking(ctx, approval.BookingID)
	if err != nil {
		return nil, storeError(err, "booking", approval.BookingID)
	}
	rooms, err := s.rooms.ListRooms(ctx)
	if err != nil {
		return nil, err
	}

	needed := 1
	for _, a := range booking.Attendees {
		if a.Status != models.AttendeeDeclined && a.UserID != booking.OrganizerID {
			needed++
		}
	}

	detector := conflict.NewDetector(s.repo)
	window := conflict.Window{Start: booking.Start, End: booking.End}
	var out []*models.Room
	for _, room := range rooms {
		if !room.IsAvailable || room.ID == booking.RoomID || room.Capacity < needed {
			continue
		}
		free, err := detector.IsRoomAvailable(ctx, room.ID, window, booking.ID)
		if err != nil {
			return nil, storeError(err, "room", room.ID)
		}
		if free {
			out = append(out, room)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Capacity != out[j].Capacity {
			return out[i].Capacity < out[j].Capacity
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// GetPendingApprovals: срочные заявки первыми, затем самые старые.
func (s *ApprovalService) GetPendingApprovals(ctx context.Context, managerID string) ([]*models.ApprovalRequest, error) {
	return s.listForManager(ctx, managerID, true)
}

func (s *ApprovalService) GetAllApprovals(ctx context.Context, managerID string) ([]*models.ApprovalRequest, error) {
	return s.listForManager(ctx, managerID, false)
}

func (s *ApprovalService) listForManager(ctx context.Context, managerID string, onlyPending bool) ([]*models.ApprovalRequest, error) {
	reports, err := s.hierarchy.DirectReports(ctx, managerID)
	if err != nil {
		return nil, err
	}
	approvals, err := s.repo.ListApprovalsByRequesters(ctx, reports, onlyPending)
	if err != nil {
		return nil, storeError(err, "approval", "")
	}
	if approvals == nil {
		approvals = []*models.ApprovalRequest{}
	}
	return approvals, nil
}

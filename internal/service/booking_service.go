package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

type BookingOptions struct {
	MaxDuration    time.Duration
	MaxAdvanceDays int
}

// BookingService owns the booking lifecycle. Every write that reserves time runs
// under room/user locks and inside one transaction with the conflict check.
type BookingService struct {
	repo      domain.Repository
	rooms     domain.RoomDirectory
	hierarchy domain.Hierarchy
	policy    domain.ApprovalPolicy
	locker    domain.Locker
	approvals *ApprovalService
	eventBus  domain.EventPublisher
	opts      BookingOptions
	logger    *zerolog.Logger
	now       func() time.Time
}

func NewBookingService(
	repo domain.Repository,
	rooms domain.RoomDirectory,
	hierarchy domain.Hierarchy,
	policy domain.ApprovalPolicy,
	locker domain.Locker,
	approvals *ApprovalService,
	eventBus domain.EventPublisher,
	opts BookingOptions,
	logger *zerolog.Logger,
) *BookingService {
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = models.DefaultMaxBookingDuration
	}
	if opts.MaxAdvanceDays <= 0 {
		opts.MaxAdvanceDays = models.DefaultMaxAdvanceDays
	}
	return &BookingService{
		repo:      repo,
		rooms:     rooms,
		hierarchy: hierarchy,
		policy:    policy,
		locker:    locker,
		approvals: approvals,
		eventBus:  eventBus,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

func roomLockKey(id string) string { return "room:" + id }
func userLockKey(id string) string { return "user:" + id }

func (s *BookingService) lock(ctx context.Context, roomIDs []string, userIDs []string) (func(), error) {
	keys := make([]string, 0, len(roomIDs)+len(userIDs))
	for _, id := range roomIDs {
		keys = append(keys, roomLockKey(id))
	}
	for _, id := range userIDs {
		keys = append(keys, userLockKey(id))
	}
	unlock, err := s.locker.Lock(ctx, keys...)
	if err != nil {
		s.logger.Warn().Err(err).Strs("keys", keys).Msg("failed to acquire booking locks")
		return nil, apperrors.Unavailable("booking resources are busy, try again", err)
	}
	return unlock, nil
}

// observe records the operation outcome.
func (s *BookingService) observe(op, bookingID string, err error) {
	if err == nil {
		metrics.IncBookingOp(op, "ok")
		return
	}
	appErr := apperrors.As(err)
	metrics.IncBookingOp(op, string(appErr.Kind))
	if appErr.Conflicts != nil {
		metrics.AddConflicts("room", len(appErr.Conflicts.RoomConflicts))
		metrics.AddConflicts("attendee", len(appErr.Conflicts.AttendeeConflicts))
	}

	event := s.logger.Warn()
	if appErr.Kind == apperrors.KindInternal || appErr.Kind == apperrors.KindUnavailable {
		event = s.logger.Error()
	}
	event.Err(err).Str("operation", op).Str("booking_id", bookingID).Msg("booking operation failed")
}

// validateWindow checks the interval against the booking limits. Past starts are rejected only for new times.
func (s *BookingService) validateWindow(w conflict.Window) error {
	if err := w.Validate(); err != nil {
		return apperrors.Validation(err.Error(), map[string]any{"start": w.Start, "end": w.End})
	}
	if d := w.End.Sub(w.Start); d > s.opts.MaxDuration {
		return apperrors.Validation("booking is too long", map[string]any{
			"max_duration": s.opts.MaxDuration.String(),
		})
	}
	now := s.now()
	if !w.End.After(now) {
		return apperrors.Validation("booking ends in the past", map[string]any{"end": w.End})
	}
	if w.Start.After(now.AddDate(0, 0, s.opts.MaxAdvanceDays)) {
		return apperrors.Validation("booking starts too far ahead", map[string]any{
			"max_advance_days": s.opts.MaxAdvanceDays,
		})
	}
	return nil
}

func (s *BookingService) bookableRoom(ctx context.Context, roomID string) (*models.Room, error) {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsAvailable {
		return nil, apperrors.Validation("room is not available for booking", map[string]any{"room_id": roomID})
	}
	return room, nil
}

func checkCapacity(room *models.Room, attendees int) error {
	if attendees > room.Capacity-1 {
		return apperrors.Validation("too many attendees for the room", map[string]any{
			"room_id":       room.ID,
			"capacity":      room.Capacity,
			"max_attendees": room.Capacity - 1,
		})
	}
	return nil
}

// dedupeAttendees drops duplicates and the organizer, keeping input order.
func dedupeAttendees(organizerID string, ids []string) []string {
	seen := map[string]struct{}{organizerID: {}}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *BookingService) resolveUsers(ctx context.Context, organizerID string, attendeeIDs []string) (*models.User, error) {
	organizer, err := s.hierarchy.GetUser(ctx, organizerID)
	if err != nil {
		return nil, err
	}
	var unknown []string
	for _, id := range attendeeIDs {
		if _, err := s.hierarchy.GetUser(ctx, id); err != nil {
			if apperrors.IsKind(err, apperrors.KindNotFound) {
				unknown = append(unknown, id)
				continue
			}
			return nil, err
		}
	}
	if len(unknown) > 0 {
		return nil, apperrors.Validation("unknown attendees", map[string]any{"attendee_ids": unknown})
	}
	return organizer, nil
}

// activeAttendees returns attendee ids that have not declined.
func activeAttendees(b *models.Booking) []string {
	var ids []string
	for _, a := range b.Attendees {
		if a.Status != models.AttendeeDeclined && a.UserID != b.OrganizerID {
			ids = append(ids, a.UserID)
		}
	}
	return ids
}

func checkDraft(ctx context.Context, tx domain.Tx, draft conflict.Draft) error {
	report, err := conflict.NewDetector(tx).Check(ctx, draft)
	if err != nil {
		return storeError(err, "booking", draft.ExcludeID)
	}
	if !report.Empty() {
		return apperrors.BookingConflict(report)
	}
	return nil
}

func (s *BookingService) Create(ctx context.Context, req CreateBookingRequest) (booking *models.Booking, err error) {
	defer func() { s.observe("create", bookingIDOf(booking), err) }()

	if err := validateStruct(req); err != nil {
		return nil, err
	}
	window := conflict.Window{Start: req.Start, End: req.End}
	if err := s.validateWindow(window); err != nil {
		return nil, err
	}
	if !req.Start.After(s.now()) {
		return nil, apperrors.Validation("booking starts in the past", map[string]any{"start": req.Start})
	}

	room, err := s.bookableRoom(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	attendeeIDs := dedupeAttendees(req.OrganizerID, req.AttendeeIDs)
	if err := checkCapacity(room, len(attendeeIDs)); err != nil {
		return nil, err
	}
	organizer, err := s.resolveUsers(ctx, req.OrganizerID, attendeeIDs)
	if err != nil {
		return nil, err
	}

	draft := &models.Booking{
		RoomID:      room.ID,
		OrganizerID: organizer.ID,
		Title:       strings.TrimSpace(req.Title),
		Start:       req.Start,
		End:         req.End,
		IsEmergency: req.IsEmergency,
		Notes:       req.Notes,
	}
	for _, id := range attendeeIDs {
		draft.Attendees = append(draft.Attendees, &models.Attendee{UserID: id, Status: models.AttendeeInvited})
	}
	draft.RequiresApproval = s.policy.RequiresApproval(room, draft)
	draft.Status = models.BookingScheduled
	if draft.RequiresApproval {
		draft.Status = models.BookingPending
	}

	unlock, err := s.lock(ctx, []string{room.ID}, append([]string{organizer.ID}, attendeeIDs...))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var batch eventBatch
	err = s.repo.WithTx(ctx, func(tx domain.Tx) error {
		batch.reset()
		err := checkDraft(ctx, tx, conflict.Draft{
			RoomID:      room.ID,
			OrganizerID: organizer.ID,
			AttendeeIDs: attendeeIDs,
			Window:      window,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertBooking(ctx, draft); err != nil {
			return storeError(err, "booking", draft.ID)
		}
		batch.add(events.EventBookingCreated, bookingPayload(draft, organizer.ID))
		if draft.Status == models.BookingScheduled {
			batch.add(events.EventBookingScheduled, bookingPayload(draft, organizer.ID))
		}
		if draft.RequiresApproval {
			if _, err := s.approvals.openRequest(ctx, tx, draft, organizer.ManagerID, &batch); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeError(err, "booking", draft.ID)
	}

	publishEvents(s.eventBus, s.logger, batch)
	s.logger.Info().
		Str("booking_id", draft.ID).
		Str("room_id", draft.RoomID).
		Str("status", string(draft.Status)).
		Msg("booking created")
	return draft, nil
}

func bookingIDOf(b *models.Booking) string {
	if b == nil {
		return ""
	}
	return b.ID
}

func editable(b *models.Booking) error {
	switch b.Status {
	case models.BookingPending, models.BookingApproved, models.BookingScheduled:
		return nil
	}
	return apperrors.InvalidState("booking can no longer be changed", map[string]any{
		"booking_id": b.ID,
		"status":     b.Status,
	})
}

// Update changes title, notes, room or time. A new room or time re-applies creation rules.
func (s *BookingService) Update(ctx context.Context, id string, req UpdateBookingRequest) (booking *models.Booking, err error) {
	defer func() { s.observe("update", id, err) }()

	if err := validateStruct(req); err != nil {
		return nil, err
	}
	current, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, storeError(err, "booking", id)
	}
	if err := editable(current); err != nil {
		return nil, err
	}

	updated := *current
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, apperrors.Validation("title must not be empty", map[string]any{"title": "required"})
		}
		updated.Title = title
	}
	if req.Notes != nil {
		updated.Notes = *req.Notes
	}
	if req.RoomID != nil {
		updated.RoomID = strings.TrimSpace(*req.RoomID)
	}
	if req.Start != nil {
		updated.Start = *req.Start
	}
	if req.End != nil {
		updated.End = *req.End
	}

	reschedule := updated.RoomID != current.RoomID ||
		!updated.Start.Equal(current.Start) ||
		!updated.End.Equal(current.End)

	var (
		room      *models.Room
		organizer *models.User
		requires  bool
		window    = conflict.Window{Start: updated.Start, End: updated.End}
		attendees = activeAttendees(current)
	)
	if reschedule {
		if err := s.validateWindow(window); err != nil {
			return nil, err
		}
		if !updated.Start.Equal(current.Start) && !updated.Start.After(s.now()) {
			return nil, apperrors.Validation("booking starts in the past", map[string]any{"start": updated.Start})
		}
		if room, err = s.bookableRoom(ctx, updated.RoomID); err != nil {
			return nil, err
		}
		if err := checkCapacity(room, len(attendees)); err != nil {
			return nil, err
		}
		if organizer, err = s.hierarchy.GetUser(ctx, current.OrganizerID); err != nil {
			return nil, err
		}
		requires = s.policy.RequiresApproval(room, &updated)

		unlock, err := s.lock(ctx,
			[]string{current.RoomID, updated.RoomID},
			append([]string{current.OrganizerID}, attendees...),
		)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	var batch eventBatch
	err = s.repo.WithTx(ctx, func(tx domain.Tx) error {
		batch.reset()
		fresh, err := tx.GetBooking(ctx, id)
		if err != nil {
			return storeError(err, "booking", id)
		}
		if fresh.Version != current.Version {
			return apperrors.InvalidState("booking was modified concurrently", map[string]any{"booking_id": id})
		}

		next := updated
		needsRequest := false
		if reschedule {
			err := checkDraft(ctx, tx, conflict.Draft{
				RoomID:      next.RoomID,
				OrganizerID: next.OrganizerID,
				AttendeeIDs: attendees,
				Window:      window,
				ExcludeID:   id,
			})
			if err != nil {
				return err
			}
			if requires {
				next.RequiresApproval = true
				switch next.Status {
				case models.BookingScheduled:
					next.Status = models.BookingPending
					needsRequest = true
				case models.BookingPending:
					_, err := tx.GetPendingApproval(ctx, id)
					switch {
					case errors.Is(err, database.ErrNotFound):
						needsRequest = true
					case err != nil:
						return storeError(err, "approval", id)
					}
				}
			}
		}
		if next.Status != current.Status && !current.Status.CanTransitionTo(next.Status) {
			return apperrors.InvalidState(
				fmt.Sprintf("cannot move booking from %s to %s", current.Status, next.Status),
				map[string]any{"booking_id": id},
			)
		}

		if err := tx.UpdateBookingWithVersion(ctx, &next, current.Version); err != nil {
			return storeError(err, "booking", id)
		}
		next.Start = next.Start.UTC()
		next.End = next.End.UTC()
		booking = &next

		batch.add(events.EventBookingUpdated, bookingPayload(&next, req.UpdatedBy))
		if needsRequest {
			managerID := ""
			if organizer != nil {
				managerID = organizer.ManagerID
			}
			if _, err := s.approvals.openRequest(ctx, tx, &next, managerID, &batch); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeError(err, "booking", id)
	}

	publishEvents(s.eventBus, s.logger, batch)
	return booking, nil
}

// Extend moves the end of a scheduled booking forward after re-checking conflicts.
func (s *BookingService) Extend(ctx context.Context, id, organizerID string, newEnd time.Time) (booking *models.Booking, err error) {
	defer func() { s.observe("extend", id, err) }()

	current, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, storeError(err, "booking", id)
	}
	if current.OrganizerID != organizerID {
		return nil, apperrors.Forbidden("only the organizer can extend the booking")
	}
	if current.Status != models.BookingScheduled {
		return nil, apperrors.InvalidState("only scheduled bookings can be extended", map[string]any{
			"booking_id": id,
			"status":     current.Status,
		})
	}
	if !newEnd.After(current.End) {
		return nil, apperrors.Validation("new end must be after the current end", map[string]any{
			"end":     current.End,
			"new_end": newEnd,
		})
	}
	if newEnd.Sub(current.Start) > s.opts.MaxDuration {
		return nil, apperrors.Validation("booking is too long", map[string]any{
			"max_duration": s.opts.MaxDuration.String(),
		})
	}

	participants := current.Participants()
	unlock, err := s.lock(ctx, []string{current.RoomID}, participants)
	if err != nil {
		return nil, err
	}
	defer unlock()

	window := conflict.Window{Start: current.Start, End: newEnd}
	var batch eventBatch
	err = s.repo.WithTx(ctx, func(tx domain.Tx) error {
		batch.reset()
		fresh, err := tx.GetBooking(ctx, id)
		if err != nil {
			return storeError(err, "booking", id)
		}
		if fresh.Status != models.BookingScheduled {
			return apperrors.InvalidState("only scheduled bookings can be extended", map[string]any{
				"booking_id": id,
				"status":     fresh.Status,
			})
		}
		err = checkDraft(ctx, tx, conflict.Draft{
			RoomID:      fresh.RoomID,
			OrganizerID: fresh.OrganizerID,
			AttendeeIDs: participants[1:],
			Window:      window,
			ExcludeID:   id,
		})
		if err != nil {
			return err
		}

		fresh.End = newEnd
		if err := tx.UpdateBookingWithVersion(ctx, fresh, fresh.Version); err != nil {
			return storeError(err, "booking", id)
		}
		fresh.End = fresh.End.UTC()
		booking = fresh
		batch.add(events.EventBookingExtended, bookingPayload(fresh, organizerID))
		return nil
	})
	if err != nil {
		return nil, storeError(err, "booking", id)
	}

	publishEvents(s.eventBus, s.logger, batch)
	return booking, nil
}

// EndEarly completes a scheduled booking now and releases the rest of its interval.
func (s *BookingService) EndEarly(ctx context.Context, id, organizerID string) (booking *models.Booking, err error) {
	defer func() { s.observe("end_early", id, err) }()

	current, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, storeError(err, "booking", id)
	}
	if current.OrganizerID != organizerID {
		return nil, apperrors.Forbidden("only the organizer can end the booking")
	}
	if current.Status != models.BookingScheduled {
		return nil, apperrors.InvalidState("only scheduled bookings can be ended early", map[string]any{
			"booking_id": id,
			"status":     current.Status,
		})
	}

	actualEnd := s.now().UTC()
	if actualEnd.Before(current.Start) {
		actualEnd = current.Start
	}
	if actualEnd.After(current.End) {
		actualEnd = current.End
	}

	err = s.repo.WithTx(ctx, func(tx domain.Tx) error {
		return tx.TransitionBooking(ctx, id, models.BookingScheduled, models.BookingCompleted, &actualEnd)
	})
	if err != nil {
		return nil, storeError(err, "booking", id)
	}

	current.Status = models.BookingCompleted
	current.ActualEndTime = &actualEnd
	publishEvents(s.eventBus, s.logger, eventBatch{{
		eventType: events.EventBookingCompleted,
		payload:   bookingPayload(current, organizerID),
	}})
	return current, nil
}

// Cancel closes any non-terminal booking. A pending approval is rejected in the same transaction.
func (s *BookingService) Cancel(ctx context.Context, id, cancelledBy string) (booking *models.Booking, err error) {
	defer func() { s.observe("cancel", id, err) }()

	var batch eventBatch
	err = s.repo.WithTx(ctx, func(tx domain.Tx) error {
		batch.reset()
		current, err := tx.GetBooking(ctx, id)
		if err != nil {
			return storeError(err, "booking", id)
		}
		if current.Status.Terminal() {
			return apperrors.InvalidState("booking is already closed", map[string]any{
				"booking_id": id,
				"status":     current.Status,
			})
		}
		if err := tx.TransitionBooking(ctx, id, current.Status, models.BookingCancelled, nil); err != nil {
			return storeError(err, "booking", id)
		}
		current.Status = models.BookingCancelled
		booking = current
		batch.add(events.EventBookingCancelled, bookingPayload(current, cancelledBy))

		approval, err := tx.GetPendingApproval(ctx, id)
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		if err != nil {
			return storeError(err, "approval", id)
		}
		now := s.now()
		approval.Status = models.ApprovalRejected
		approval.Comments = models.CancelledApprovalComment
		approval.ResolvedAt = &now
		if err := tx.ResolveApproval(ctx, approval); err != nil {
			return storeError(err, "approval", approval.ID)
		}
		batch.add(events.EventApprovalRejected, approvalPayload(approval, cancelledBy))
		return nil
	})
	if err != nil {
		return nil, storeError(err, "booking", id)
	}

	publishEvents(s.eventBus, s.logger, batch)
	return booking, nil
}

// RespondToInvitation records an attendee's answer. Accepting makes the booking count
// against the attendee's calendar, so it is conflict-checked first.
func (s *BookingService) RespondToInvitation(ctx context.Context, bookingID, userID string, accept bool) (booking *models.Booking, err error) {
	defer func() { s.observe("respond", bookingID, err) }()

	current, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeError(err, "booking", bookingID)
	}
	invited := false
	for _, a := range current.Attendees {
		if a.UserID == userID {
			invited = true
			break
		}
	}
	if !invited {
		return nil, apperrors.Forbidden("user is not invited to this booking")
	}
	if current.Status.Terminal() {
		return nil, apperrors.InvalidState("booking is already closed", map[string]any{
			"booking_id": bookingID,
			"status":     current.Status,
		})
	}

	status := models.AttendeeDeclined
	if accept {
		status = models.AttendeeAccepted
		unlock, err := s.lock(ctx, nil, []string{userID})
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	var batch eventBatch
	err = s.repo.WithTx(ctx, func(tx domain.Tx) error {
		batch.reset()
		fresh, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return storeError(err, "booking", bookingID)
		}
		if fresh.Status.Terminal() {
			return apperrors.InvalidState("booking is already closed", map[string]any{
				"booking_id": bookingID,
				"status":     fresh.Status,
			})
		}
		if accept && fresh.Status.HoldsTime() {
			window := conflict.Window{Start: fresh.Start, End: fresh.End}
			conflicts, err := conflict.NewDetector(tx).UserConflicts(ctx, userID, window, fresh.ID)
			if err != nil {
				return storeError(err, "booking", bookingID)
			}
			if len(conflicts) > 0 {
				report := &models.ConflictReport{}
				for _, c := range conflicts {
					report.AttendeeConflicts = append(report.AttendeeConflicts, models.AttendeeConflict{UserID: userID, Booking: c})
				}
				return apperrors.BookingConflict(report)
			}
		}
		if err := tx.UpdateAttendeeStatus(ctx, bookingID, userID, status); err != nil {
			return storeError(err, "attendee", userID)
		}
		for _, a := range fresh.Attendees {
			if a.UserID == userID {
				a.Status = status
			}
		}
		booking = fresh

		payload := bookingPayload(fresh, userID)
		payload.Accepted = &accept
		batch.add(events.EventAttendeeResponded, payload)
		return nil
	})
	if err != nil {
		return nil, storeError(err, "booking", bookingID)
	}

	publishEvents(s.eventBus, s.logger, batch)
	return booking, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	booking, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, storeError(err, "booking", id)
	}
	return booking, nil
}

// CheckRoomAvailability is a read-only probe; calling it has no effect on state.
func (s *BookingService) CheckRoomAvailability(ctx context.Context, roomID string, start, end time.Time) (bool, error) {
	window := conflict.Window{Start: start, End: end}
	if err := window.Validate(); err != nil {
		return false, apperrors.Validation(err.Error(), map[string]any{"start": start, "end": end})
	}
	if _, err := s.rooms.GetRoom(ctx, roomID); err != nil {
		return false, err
	}
	free, err := conflict.NewDetector(s.repo).IsRoomAvailable(ctx, roomID, window, "")
	if err != nil {
		return false, storeError(err, "room", roomID)
	}
	return free, nil
}

func (s *BookingService) CheckConflicts(ctx context.Context, req ConflictCheckRequest) (*models.ConflictReport, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	window := conflict.Window{Start: req.Start, End: req.End}
	if err := window.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error(), map[string]any{"start": req.Start, "end": req.End})
	}
	if _, err := s.rooms.GetRoom(ctx, req.RoomID); err != nil {
		return nil, err
	}
	report, err := conflict.NewDetector(s.repo).Check(ctx, conflict.Draft{
		RoomID:      req.RoomID,
		OrganizerID: req.OrganizerID,
		AttendeeIDs: req.AttendeeIDs,
		Window:      window,
		ExcludeID:   req.ExcludeBookingID,
	})
	if err != nil {
		return nil, storeError(err, "booking", req.ExcludeBookingID)
	}
	return report, nil
}

func (s *BookingService) ListRooms(ctx context.Context) ([]*models.Room, error) {
	return s.rooms.ListRooms(ctx)
}

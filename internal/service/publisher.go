package service

import (
	"peregovorka/internal/domain"
	"peregovorka/internal/events"
	"peregovorka/internal/models"

	"github.com/rs/zerolog"
)

type queuedEvent struct {
	eventType string
	payload   interface{}
}

// eventBatch collects events produced inside a transaction. They are published after commit.
type eventBatch []queuedEvent

func (b *eventBatch) add(eventType string, payload interface{}) {
	*b = append(*b, queuedEvent{eventType: eventType, payload: payload})
}

func (b *eventBatch) reset() {
	*b = (*b)[:0]
}

func publishEvents(bus domain.EventPublisher, logger *zerolog.Logger, batch eventBatch) {
	if bus == nil {
		return
	}
	for _, e := range batch {
		if err := bus.PublishJSON(e.eventType, e.payload); err != nil {
			logger.Error().Err(err).Str("event_type", e.eventType).Msg("publish event error")
		}
	}
}

func bookingPayload(b *models.Booking, changedBy string) events.BookingEventPayload {
	attendees := make([]string, 0, len(b.Attendees))
	for _, a := range b.Attendees {
		attendees = append(attendees, a.UserID)
	}
	return events.BookingEventPayload{
		BookingID:   b.ID,
		RoomID:      b.RoomID,
		OrganizerID: b.OrganizerID,
		Title:       b.Title,
		Status:      string(b.Status),
		Start:       b.Start,
		End:         b.EffectiveEnd(),
		IsEmergency: b.IsEmergency,
		AttendeeIDs: attendees,
		ChangedBy:   changedBy,
	}
}

func approvalPayload(a *models.ApprovalRequest, managerID string) events.ApprovalEventPayload {
	return events.ApprovalEventPayload{
		ApprovalID:      a.ID,
		BookingID:       a.BookingID,
		RequesterID:     a.RequesterID,
		ApproverID:      a.ApproverID,
		ManagerID:       managerID,
		Status:          string(a.Status),
		Comments:        a.Comments,
		IsEmergency:     a.IsEmergency,
		SuggestedRoomID: a.SuggestedRoomID,
	}
}

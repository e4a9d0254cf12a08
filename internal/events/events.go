package events

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

const (
	EventBookingCreated    = "booking_created"
	EventBookingUpdated    = "booking_updated"
	EventBookingScheduled  = "booking_scheduled"
	EventBookingRejected   = "booking_rejected"
	EventBookingCancelled  = "booking_cancelled"
	EventBookingExtended   = "booking_extended"
	EventBookingCompleted  = "booking_completed"
	EventAttendeeResponded = "attendee_responded"

	EventApprovalRequested     = "approval_requested"
	EventApprovalEscalated     = "approval_escalated"
	EventApprovalApproved      = "approval_approved"
	EventApprovalRejected      = "approval_rejected"
	EventApprovalRoomSuggested = "approval_room_suggested"
)

// AllEventTypes lists every event the core publishes.
func AllEventTypes() []string {
	return []string{
		EventBookingCreated, EventBookingUpdated, EventBookingScheduled, EventBookingRejected,
		EventBookingCancelled, EventBookingExtended, EventBookingCompleted, EventAttendeeResponded,
		EventApprovalRequested, EventApprovalEscalated, EventApprovalApproved, EventApprovalRejected,
		EventApprovalRoomSuggested,
	}
}

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID   string    `json:"booking_id"`
	RoomID      string    `json:"room_id"`
	OrganizerID string    `json:"organizer_id"`
	Title       string    `json:"title"`
	Status      string    `json:"status"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	IsEmergency bool      `json:"is_emergency,omitempty"`
	AttendeeIDs []string  `json:"attendee_ids,omitempty"`
	ChangedBy   string    `json:"changed_by,omitempty"`
	Accepted    *bool     `json:"accepted,omitempty"`
}

func (p BookingEventPayload) AggregateID() string { return p.BookingID }

type ApprovalEventPayload struct {
	ApprovalID      string `json:"approval_id"`
	BookingID       string `json:"booking_id"`
	RequesterID     string `json:"requester_id"`
	ApproverID      string `json:"approver_id,omitempty"`
	ManagerID       string `json:"manager_id,omitempty"`
	Status          string `json:"status"`
	Comments        string `json:"comments,omitempty"`
	IsEmergency     bool   `json:"is_emergency,omitempty"`
	SuggestedRoomID string `json:"suggested_room_id,omitempty"`
}

func (p ApprovalEventPayload) AggregateID() string { return p.BookingID }

type aggregate interface {
	AggregateID() string
}

// Event represents a lightweight domain event.
type Event struct {
	ID          int64
	Type        string
	AggregateID string
	Payload     []byte
	CreatedAt   time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// allEvents is the subscription key that receives every event type.
const allEvents = "*"

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

func (b *EventBus) SubscribeAll(handler EventHandler) {
	b.Subscribe(allEvents, handler)
}

// Publish runs subscribers synchronously and joins their errors.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[allEvents]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	return b.Publish(&event)
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	event := Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}
	if agg, ok := payload.(aggregate); ok {
		event.AggregateID = agg.AggregateID()
	}
	return event, nil
}

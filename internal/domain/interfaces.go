package domain

import (
	"context"
	"time"

	"peregovorka/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/segmentio/kafka-go"
)

// BookingFinder returns conflict-active bookings overlapping [start, end).
// Implemented by the store and by an open transaction.
type BookingFinder interface {
	FindRoomBookings(ctx context.Context, roomID string, start, end time.Time) ([]*models.Booking, error)
	FindUserBookings(ctx context.Context, userID string, start, end time.Time) ([]*models.Booking, error)
}

// Tx is a unit of work. All reads made through it see its own writes.
type Tx interface {
	BookingFinder
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	InsertBooking(ctx context.Context, booking *models.Booking) error
	UpdateBookingWithVersion(ctx context.Context, booking *models.Booking, version int64) error
	TransitionBooking(ctx context.Context, id string, from, to models.BookingStatus, actualEnd *time.Time) error
	UpdateAttendeeStatus(ctx context.Context, bookingID, userID string, status models.AttendeeStatus) error

	GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error)
	GetPendingApproval(ctx context.Context, bookingID string) (*models.ApprovalRequest, error)
	InsertApproval(ctx context.Context, approval *models.ApprovalRequest) error
	ResolveApproval(ctx context.Context, approval *models.ApprovalRequest) error
	SetSuggestedRoom(ctx context.Context, approvalID, roomID, approverID string) error
}

type Repository interface {
	BookingFinder
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error)
	ListApprovalsByRequesters(ctx context.Context, requesterIDs []string, onlyPending bool) ([]*models.ApprovalRequest, error)
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

type RoomDirectory interface {
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	ListRooms(ctx context.Context) ([]*models.Room, error)
}

type Hierarchy interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	DirectReports(ctx context.Context, managerID string) ([]string, error)
	CanApprove(ctx context.Context, approverID, requesterID string) (bool, error)
}

type ApprovalPolicy interface {
	RequiresApproval(room *models.Room, booking *models.Booking) bool
}

// Locker grants exclusive access to a set of keys until unlock is called.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type OutboxStore interface {
	CreateOutboxTask(ctx context.Context, task *models.OutboxTask) error
	GetPendingOutboxTasks(ctx context.Context, limit int) ([]*models.OutboxTask, error)
	GetOutboxTask(ctx context.Context, id int64) (*models.OutboxTask, error)
	UpdateOutboxTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// Sink delivers one outbox event to an external channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, task *models.OutboxTask) error
}

type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

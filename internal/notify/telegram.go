package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"peregovorka/internal/domain"
	"peregovorka/internal/events"
	"peregovorka/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

type userLookup interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// TelegramSink notifies people about approval decisions and cancellations.
// Messages go to the recipient's personal chat when known, otherwise to the shared chat.
type TelegramSink struct {
	sender      domain.TelegramSender
	users       userLookup
	defaultChat int64
	logger      *zerolog.Logger
}

func NewTelegramSink(sender domain.TelegramSender, users userLookup, defaultChat int64, logger *zerolog.Logger) *TelegramSink {
	return &TelegramSink{
		sender:      sender,
		users:       users,
		defaultChat: defaultChat,
		logger:      logger,
	}
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Deliver(ctx context.Context, task *models.OutboxTask) error {
	text, recipient, ok, err := render(task)
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", task.EventType, err)
	}
	if !ok {
		return nil
	}

	chatID := s.chatFor(ctx, recipient)
	if chatID == 0 {
		s.logger.Debug().Str("event_type", task.EventType).Msg("no telegram chat for event, skipping")
		return nil
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := s.sender.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

func (s *TelegramSink) chatFor(ctx context.Context, userID string) int64 {
	if userID != "" && s.users != nil {
		user, err := s.users.GetUser(ctx, userID)
		if err == nil && user.TelegramChatID != 0 {
			return user.TelegramChatID
		}
	}
	return s.defaultChat
}

// render returns the message text and the user it is addressed to. ok is false for events
// that are not sent to chat.
func render(task *models.OutboxTask) (text, recipient string, ok bool, err error) {
	switch task.EventType {
	case events.EventApprovalRequested, events.EventApprovalEscalated,
		events.EventApprovalApproved, events.EventApprovalRejected, events.EventApprovalRoomSuggested:
		var p events.ApprovalEventPayload
		if err := json.Unmarshal([]byte(task.Payload), &p); err != nil {
			return "", "", false, err
		}
		return renderApproval(task.EventType, p)
	case events.EventBookingCancelled, events.EventBookingScheduled:
		var p events.BookingEventPayload
		if err := json.Unmarshal([]byte(task.Payload), &p); err != nil {
			return "", "", false, err
		}
		return renderBooking(task.EventType, p)
	}
	return "", "", false, nil
}

func renderApproval(eventType string, p events.ApprovalEventPayload) (string, string, bool, error) {
	var sb strings.Builder
	recipient := p.RequesterID
	switch eventType {
	case events.EventApprovalRequested:
		recipient = p.ManagerID
		fmt.Fprintf(&sb, "Новая заявка на согласование от %s\nБронь: %s", p.RequesterID, p.BookingID)
	case events.EventApprovalEscalated:
		recipient = p.ManagerID
		fmt.Fprintf(&sb, "🚨 Срочная заявка от %s\nБронь: %s", p.RequesterID, p.BookingID)
	case events.EventApprovalApproved:
		fmt.Fprintf(&sb, "✅ Бронь %s согласована", p.BookingID)
	case events.EventApprovalRejected:
		fmt.Fprintf(&sb, "❌ Бронь %s отклонена", p.BookingID)
	case events.EventApprovalRoomSuggested:
		fmt.Fprintf(&sb, "Для брони %s предложена другая комната: %s", p.BookingID, p.SuggestedRoomID)
	}
	if p.Comments != "" {
		fmt.Fprintf(&sb, "\nКомментарий: %s", p.Comments)
	}
	return sb.String(), recipient, true, nil
}

func renderBooking(eventType string, p events.BookingEventPayload) (string, string, bool, error) {
	when := fmt.Sprintf("%s-%s", p.Start.Format("02.01.2006 15:04"), p.End.Format("15:04"))
	switch eventType {
	case events.EventBookingScheduled:
		return fmt.Sprintf("📅 %s\nКомната %s, %s", p.Title, p.RoomID, when), p.OrganizerID, true, nil
	default:
		return fmt.Sprintf("Бронь «%s» отменена\nКомната %s, %s", p.Title, p.RoomID, when), p.OrganizerID, true, nil
	}
}

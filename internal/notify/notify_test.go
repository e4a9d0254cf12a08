package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"peregovorka/internal/config"
	"peregovorka/internal/events"
	"peregovorka/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	return m.Called(ctx, msgs).Error(0)
}

func (m *mockWriter) Close() error {
	return m.Called().Error(0)
}

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

type fakeUsers map[string]*models.User

func (f fakeUsers) GetUser(_ context.Context, id string) (*models.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, errors.New("not found")
}

func outboxTask(t *testing.T, eventType string, payload interface{}) *models.OutboxTask {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &models.OutboxTask{
		ID:          7,
		EventType:   eventType,
		AggregateID: "b1",
		Payload:     string(raw),
		CreatedAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestKafkaSink_Deliver(t *testing.T) {
	w := new(mockWriter)
	sink := NewKafkaSink(w)
	task := outboxTask(t, events.EventBookingCreated, events.BookingEventPayload{BookingID: "b1"})

	w.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
		if len(msgs) != 1 {
			return false
		}
		m := msgs[0]
		return string(m.Key) == "b1" &&
			string(m.Value) == task.Payload &&
			len(m.Headers) == 2 &&
			string(m.Headers[0].Value) == events.EventBookingCreated &&
			string(m.Headers[1].Value) == "7"
	})).Return(nil).Once()

	require.NoError(t, sink.Deliver(context.Background(), task))
	assert.Equal(t, "kafka", sink.Name())
	w.AssertExpectations(t)
}

func TestKafkaSink_Errors(t *testing.T) {
	w := new(mockWriter)
	sink := NewKafkaSink(w)

	err := sink.Deliver(context.Background(), &models.OutboxTask{EventType: "x"})
	assert.ErrorIs(t, err, ErrEmptyPayload)

	w.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	err = sink.Deliver(context.Background(), outboxTask(t, events.EventBookingCreated, map[string]string{}))
	assert.ErrorContains(t, err, "broker down")

	w.On("Close").Return(nil)
	assert.NoError(t, sink.Close())
}

func TestNewKafkaWriter(t *testing.T) {
	logger := zerolog.Nop()

	_, err := NewKafkaWriter(config.KafkaConfig{Topic: "t"}, &logger)
	assert.Error(t, err)
	_, err = NewKafkaWriter(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, &logger)
	assert.Error(t, err)

	w, err := NewKafkaWriter(config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "bookings", ClientID: "peregovorka"}, &logger)
	require.NoError(t, err)
	assert.Equal(t, "bookings", w.Topic)
	assert.NoError(t, w.Close())
}

func TestTelegramSink_RoutesToPersonalChat(t *testing.T) {
	sender := &fakeSender{}
	users := fakeUsers{"boss": {ID: "boss", TelegramChatID: 42}}
	logger := zerolog.Nop()
	sink := NewTelegramSink(sender, users, 100, &logger)

	task := outboxTask(t, events.EventApprovalEscalated, events.ApprovalEventPayload{
		ApprovalID:  "a1",
		BookingID:   "b1",
		RequesterID: "alice",
		ManagerID:   "boss",
		IsEmergency: true,
	})
	require.NoError(t, sink.Deliver(context.Background(), task))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(42), sender.sent[0].ChatID)
	assert.Contains(t, sender.sent[0].Text, "Срочная заявка")

	// У Алисы нет личного чата, уходит в общий
	task = outboxTask(t, events.EventApprovalRejected, events.ApprovalEventPayload{
		BookingID:   "b1",
		RequesterID: "alice",
		Comments:    "booking cancelled",
	})
	require.NoError(t, sink.Deliver(context.Background(), task))
	require.Len(t, sender.sent, 2)
	assert.Equal(t, int64(100), sender.sent[1].ChatID)
	assert.Contains(t, sender.sent[1].Text, "booking cancelled")
}

func TestTelegramSink_SkipsAndErrors(t *testing.T) {
	sender := &fakeSender{}
	logger := zerolog.Nop()
	sink := NewTelegramSink(sender, nil, 0, &logger)

	// Событие без шаблона пропускается
	require.NoError(t, sink.Deliver(context.Background(), outboxTask(t, events.EventBookingExtended, map[string]string{})))
	// Нет ни личного, ни общего чата
	require.NoError(t, sink.Deliver(context.Background(), outboxTask(t, events.EventBookingCancelled, events.BookingEventPayload{
		BookingID: "b1",
		Title:     "Планерка",
	})))
	assert.Empty(t, sender.sent)

	bad := &models.OutboxTask{EventType: events.EventApprovalApproved, Payload: "{"}
	assert.Error(t, sink.Deliver(context.Background(), bad))

	sender.err = errors.New("telegram down")
	sink = NewTelegramSink(sender, nil, 5, &logger)
	err := sink.Deliver(context.Background(), outboxTask(t, events.EventBookingScheduled, events.BookingEventPayload{BookingID: "b1"}))
	assert.ErrorContains(t, err, "telegram down")
	assert.Equal(t, "telegram", sink.Name())
}

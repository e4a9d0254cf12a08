package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"peregovorka/internal/config"
	"peregovorka/internal/domain"
	"peregovorka/internal/models"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventType = "event_type"
	HeaderOutboxID  = "outbox_id"
)

var ErrEmptyPayload = errors.New("empty event payload")

// NewKafkaWriter builds a writer that keeps events of one aggregate in one partition.
func NewKafkaWriter(cfg config.KafkaConfig, logger *zerolog.Logger) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic cannot be empty")
	}

	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		MaxAttempts:  3,
		Transport:    &kafka.Transport{ClientID: cfg.ClientID},
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug().Msgf(msg, args...)
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error().Msgf(msg, args...)
		}),
	}, nil
}

// KafkaSink publishes outbox events keyed by aggregate id.
type KafkaSink struct {
	writer domain.KafkaWriter
}

func NewKafkaSink(writer domain.KafkaWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Deliver(ctx context.Context, task *models.OutboxTask) error {
	if task.Payload == "" {
		return ErrEmptyPayload
	}
	msg := kafka.Message{
		Key:   []byte(task.AggregateID),
		Value: []byte(task.Payload),
		Time:  task.CreatedAt,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(task.EventType)},
			{Key: HeaderOutboxID, Value: []byte(strconv.FormatInt(task.ID, 10))},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

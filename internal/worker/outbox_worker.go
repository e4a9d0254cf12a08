package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"peregovorka/internal/config"
	"peregovorka/internal/domain"
	"peregovorka/internal/events"
	"peregovorka/internal/metrics"
	"peregovorka/internal/models"
	"peregovorka/internal/retry"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisQueueKey = "outbox:queue"
	deadLetterKey = "outbox:dead"
)

// OutboxWorker delivers persisted events to every sink with backoff.
// New tasks travel through redis (or the in-memory queue); retries are picked up by polling the store.
type OutboxWorker struct {
	store        domain.OutboxStore
	sinks        []domain.Sink
	redis        *redis.Client
	retryPolicy  retry.Policy
	queue        chan models.OutboxTask
	pollInterval time.Duration
	batchSize    int
	logger       *zerolog.Logger
}

// NewOutboxWorker builds a worker with sane defaults.
func NewOutboxWorker(
	store domain.OutboxStore,
	sinks []domain.Sink,
	redisClient *redis.Client,
	cfg config.OutboxConfig,
	logger *zerolog.Logger,
) *OutboxWorker {
	policy := cfg.Retry.Policy()
	if policy.MaxRetries == 0 {
		policy.MaxRetries = 5
	}
	if policy.InitialDelay == 0 {
		policy.InitialDelay = 2 * time.Second
	}
	if policy.MaxDelay == 0 {
		policy.MaxDelay = time.Minute
	}
	if policy.BackoffFactor == 0 {
		policy.BackoffFactor = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = models.OutboxBatchSize
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &OutboxWorker{
		store:        store,
		sinks:        sinks,
		redis:        redisClient,
		retryPolicy:  policy,
		queue:        make(chan models.OutboxTask, models.OutboxQueueSize),
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		logger:       logger,
	}
}

// HandleEvent is an event bus subscriber: it persists the event and schedules delivery.
func (w *OutboxWorker) HandleEvent(event *events.Event) error {
	return w.Enqueue(context.Background(), event.Type, event.AggregateID, event.Payload)
}

// Enqueue persists a task and schedules it via redis or the in-memory queue.
func (w *OutboxWorker) Enqueue(ctx context.Context, eventType, aggregateID string, payload []byte) error {
	if eventType == "" {
		return errors.New("event type is required")
	}

	task := models.OutboxTask{
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     string(payload),
		Status:      models.OutboxPending,
	}
	if err := w.store.CreateOutboxTask(ctx, &task); err != nil {
		return fmt.Errorf("persist outbox task: %w", err)
	}

	if w.redis != nil {
		err := w.pushRedis(ctx, task)
		if err == nil {
			return nil
		}
		w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, fallback to memory queue")
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("in-memory queue full, task left to polling")
	}
	return nil
}

// Start launches main loop; stops when ctx is done.
func (w *OutboxWorker) Start(ctx context.Context) {
	w.logger.Info().Int("sinks", len(w.sinks)).Msg("outbox worker started")
	defer w.logger.Info().Msg("outbox worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processQueued(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processQueued(ctx, &t)
			continue
		}

		processed, err := w.pollOnce(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("fetch pending outbox tasks")
		}
		if processed == 0 && !w.sleep(ctx) {
			return
		}
	}
}

func (w *OutboxWorker) sleep(ctx context.Context) bool {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// pollOnce delivers due tasks from the store and reports how many were handled.
func (w *OutboxWorker) pollOnce(ctx context.Context) (int, error) {
	tasks, err := w.store.GetPendingOutboxTasks(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	for _, task := range tasks {
		w.processTask(ctx, task)
	}
	return len(tasks), nil
}

func (w *OutboxWorker) tryLocalQueue() (models.OutboxTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.OutboxTask{}, false
	}
}

func (w *OutboxWorker) tryRedis(ctx context.Context) (models.OutboxTask, bool) {
	if w.redis == nil {
		return models.OutboxTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, redis.Nil) {
			return models.OutboxTask{}, false
		}
		w.logger.Error().Err(err).Msg("redis BRPOP error")
		return models.OutboxTask{}, false
	}
	if len(res) != 2 {
		return models.OutboxTask{}, false
	}
	var task models.OutboxTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.OutboxTask{}, false
	}
	return task, true
}

// processQueued re-reads a queued task: polling may have handled it already.
func (w *OutboxWorker) processQueued(ctx context.Context, queued *models.OutboxTask) {
	task, err := w.store.GetOutboxTask(ctx, queued.ID)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", queued.ID).Msg("load queued outbox task")
		return
	}
	if task.Status == models.OutboxCompleted || task.Status == models.OutboxFailed {
		return
	}
	w.processTask(ctx, task)
}

func (w *OutboxWorker) processTask(ctx context.Context, task *models.OutboxTask) {
	var errs []error
	for _, sink := range w.sinks {
		if err := sink.Deliver(ctx, task); err != nil {
			metrics.IncOutboxDelivery(sink.Name(), "error")
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			continue
		}
		metrics.IncOutboxDelivery(sink.Name(), "ok")
	}
	if err := errors.Join(errs...); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.store.UpdateOutboxTaskStatus(ctx, task.ID, models.OutboxCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
}

func (w *OutboxWorker) retryOrFail(ctx context.Context, task *models.OutboxTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("event_type", task.EventType).Msg("outbox task failed")
		if err := w.store.UpdateOutboxTaskStatus(ctx, task.ID, models.OutboxFailed, cause.Error(), nil); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
		}
		w.pushDeadLetter(ctx, task)
		return
	}

	nextTime := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Time("next_retry_at", nextTime).Msg("outbox delivery failed, will retry")
	if err := w.store.UpdateOutboxTaskStatus(ctx, task.ID, models.OutboxRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
}

func (w *OutboxWorker) pushRedis(ctx context.Context, task models.OutboxTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, redisQueueKey, data).Err()
}

func (w *OutboxWorker) pushDeadLetter(ctx context.Context, task *models.OutboxTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
	}
}

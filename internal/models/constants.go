package models

import "time"

const (
	// DefaultMaxBookingDuration ограничивает длину одного бронирования
	DefaultMaxBookingDuration = 8 * time.Hour

	// DefaultMaxAdvanceDays насколько далеко вперед можно бронировать
	DefaultMaxAdvanceDays = 90

	// DefaultLockTTL время жизни блокировки комнаты/пользователя в Redis
	DefaultLockTTL = 10 * time.Second

	// DefaultLockWait сколько ждать освобождения блокировки
	DefaultLockWait = 3 * time.Second

	// OutboxQueueSize размер in-memory очереди воркера
	OutboxQueueSize = 128

	// OutboxBatchSize сколько задач забирать из БД за один проход
	OutboxBatchSize = 20

	// RoomsCacheTTL время жизни кэша комнат в памяти
	RoomsCacheTTL = 30 * time.Minute

	// CancelledApprovalComment комментарий при закрытии заявки из-за отмены бронирования
	CancelledApprovalComment = "booking cancelled"
)

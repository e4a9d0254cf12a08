package service

import (
	"context"

	"peregovorka/internal/models"

	"github.com/rs/zerolog"
)

type roomStore interface {
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	ListRooms(ctx context.Context) ([]*models.Room, error)
}

type RoomService struct {
	store  roomStore
	logger *zerolog.Logger
}

func NewRoomService(store roomStore, logger *zerolog.Logger) *RoomService {
	return &RoomService{
		store:  store,
		logger: logger,
	}
}

func (s *RoomService) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	room, err := s.store.GetRoom(ctx, id)
	if err != nil {
		return nil, storeError(err, "room", id)
	}
	return room, nil
}

func (s *RoomService) ListRooms(ctx context.Context) ([]*models.Room, error) {
	rooms, err := s.store.ListRooms(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list rooms")
		return nil, storeError(err, "room", "")
	}
	return rooms, nil
}

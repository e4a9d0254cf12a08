package service

import (
	"context"
	"errors"

	"peregovorka/internal/database"
	"peregovorka/internal/models"

	"github.com/rs/zerolog"
)

type userStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	DirectReports(ctx context.Context, managerID string) ([]string, error)
}

// UserService answers hierarchy questions from the directory store.
type UserService struct {
	store  userStore
	logger *zerolog.Logger
}

func NewUserService(store userStore, logger *zerolog.Logger) *UserService {
	return &UserService{
		store:  store,
		logger: logger,
	}
}

func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, storeError(err, "user", id)
	}
	return user, nil
}

func (s *UserService) DirectReports(ctx context.Context, managerID string) ([]string, error) {
	if _, err := s.GetUser(ctx, managerID); err != nil {
		return nil, err
	}
	ids, err := s.store.DirectReports(ctx, managerID)
	if err != nil {
		return nil, storeError(err, "user", managerID)
	}
	return ids, nil
}

// CanApprove: решение принимает прямой руководитель заявителя или администратор.
func (s *UserService) CanApprove(ctx context.Context, approverID, requesterID string) (bool, error) {
	approver, err := s.store.GetUser(ctx, approverID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		return false, storeError(err, "user", approverID)
	}
	if approver.IsAdmin() {
		return true, nil
	}

	requester, err := s.store.GetUser(ctx, requesterID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		return false, storeError(err, "user", requesterID)
	}
	return requester.ManagerID != "" && requester.ManagerID == approver.ID, nil
}

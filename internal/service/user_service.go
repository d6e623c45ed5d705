package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/digkill/TGArtBot/internal/models"
	"github.com/digkill/TGArtBot/internal/repository"
)

type UserService struct {
	users *repository.UserRepository
}

func NewUserService(users *repository.UserRepository) *UserService {
	return &UserService{users: users}
}

func (s *UserService) Ensure(ctx context.Context, telegramID int64, username, firstName, lastName string) (*models.User, bool, error) {
	user, created, err := s.users.Ensure(ctx, telegramID, username, firstName, lastName)
	if err != nil {
		return nil, false, fmt.Errorf("ensure user: %w", err)
	}
	return user, created, nil
}

func (s *UserService) FindByID(ctx context.Context, id int64) (*models.User, error) {
	return s.users.FindByID(ctx, id)
}

func (s *UserService) FindByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	return s.users.FindByTelegramID(ctx, telegramID)
}

func (s *UserService) SetBanned(ctx context.Context, userID int64, banned bool) error {
	return s.users.SetBanned(ctx, userID, banned)
}

func (s *UserService) SetPrivileged(ctx context.Context, userID int64, privileged bool) error {
	return s.users.SetPrivileged(ctx, userID, privileged)
}

// Debit is the administrative subtraction: clamped at zero, no task tie.
func (s *UserService) Debit(ctx context.Context, userID int64, amount decimal.Decimal) error {
	return s.users.DebitBalance(ctx, userID, amount)
}

func (s *UserService) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.users.ListTelegramIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list telegram ids: %w", err)
	}
	return ids, nil
}

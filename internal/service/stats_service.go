package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/digkill/TGArtBot/internal/models"
	"github.com/digkill/TGArtBot/internal/repository"
)

// Stats are the aggregate numbers exposed to administrative tooling.
type Stats struct {
	TaskCounts  map[models.TaskStatus]int `json:"task_counts"`
	Revenue     decimal.Decimal           `json:"revenue"`
	ActiveUsers int                       `json:"active_users"`
}

type StatsService struct {
	tasks *repository.TaskRepository
	users *repository.UserRepository
}

func NewStatsService(tasks *repository.TaskRepository, users *repository.UserRepository) *StatsService {
	return &StatsService{tasks: tasks, users: users}
}

func (s *StatsService) Collect(ctx context.Context) (*Stats, error) {
	counts, err := s.tasks.CountsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	revenue, err := s.tasks.Revenue(ctx)
	if err != nil {
		return nil, err
	}
	active, err := s.users.CountActive(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{TaskCounts: counts, Revenue: revenue, ActiveUsers: active}, nil
}

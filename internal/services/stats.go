package services

import (
	"context"

	"github.com/freelance-marketplace/backend/internal/models"
)

type StatsService struct {
	stats StatsStore
}

func NewStatsService(stats StatsStore) *StatsService {
	return &StatsService{stats: stats}
}

func (s *StatsService) PaymentStats(ctx context.Context, actor models.Principal) (*models.PaymentStats, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.stats.PaymentStats(ctx)
}

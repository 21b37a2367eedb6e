// Package stats はダッシュボードの集計タイルを提供する。
package stats

import (
	"context"
	"fmt"
	"math"

	"github.com/hitoshi/choraleadmin/internal/model"
	"github.com/hitoshi/choraleadmin/internal/repository"
)

type Service struct {
	repo repository.StatsRepository
}

func NewService(repo repository.StatsRepository) *Service {
	return &Service{repo: repo}
}

// Dashboard は件数と割合を返す。
// 割合は小数点以下1桁に丸め、分母が0の場合は0とする。
func (s *Service) Dashboard(ctx context.Context) (*model.DashboardStats, error) {
	st, err := s.repo.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("集計の取得に失敗しました: %w", err)
	}
	st.ActivePercent = percent(st.ActiveChorales, st.TotalChorales)
	st.PendingPercent = percent(st.PendingMembers, st.TotalMembers)
	return st, nil
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*1000) / 10
}

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/choraleadmin/internal/model"
)

// PostgresStatsRepo はPostgreSQLを使用したダッシュボード集計リポジトリ。
type PostgresStatsRepo struct {
	db *sql.DB
}

// NewPostgresStatsRepo はPostgresStatsRepoを生成する。
func NewPostgresStatsRepo(db *sql.DB) *PostgresStatsRepo {
	return &PostgresStatsRepo{db: db}
}

// Counts は集計タイル用の件数を1クエリで返す。割合は計算しない。
func (r *PostgresStatsRepo) Counts(ctx context.Context) (*model.DashboardStats, error) {
	s := &model.DashboardStats{}
	err := r.db.QueryRowContext(ctx,
		`SELECT
			(SELECT count(*) FROM chorales),
			(SELECT count(*) FROM chorales WHERE statut = 'actif'),
			(SELECT count(*) FROM profiles),
			(SELECT count(*) FROM chants),
			(SELECT count(*) FROM profiles WHERE statut_validation = 'en_attente'),
			(SELECT count(*) FROM profiles WHERE role IN ('admin', 'super_admin'))`,
	).Scan(&s.TotalChorales, &s.ActiveChorales, &s.TotalMembers, &s.TotalSongs, &s.PendingMembers, &s.TotalAdmins)
	if err != nil {
		return nil, fmt.Errorf("failed to count dashboard stats: %w", err)
	}
	return s, nil
}

// compile-time interface check
var _ StatsRepository = (*PostgresStatsRepo)(nil)

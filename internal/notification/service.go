// Package notification は管理者向け通知（新規登録など）を提供する。
// 通知はprofiles挿入時のトリガーで生成される。
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/choraleadmin/internal/model"
	"github.com/hitoshi/choraleadmin/internal/repository"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// Service は管理者向け通知のサービス層。
type Service struct {
	repo repository.NotificationRepository
}

// NewService はServiceを生成する。
func NewService(repo repository.NotificationRepository) *Service {
	return &Service{repo: repo}
}

// Summary は通知一覧と未読件数。
type Summary struct {
	Notifications []*model.Notification
	Unread        int
}

// List は通知を新しい順に返す。limitが0以下の場合は10件。
func (s *Service) List(ctx context.Context, limit int, onlyUnread bool) (*Summary, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}

	items, err := s.repo.List(ctx, limit, onlyUnread)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗しました: %w", err)
	}
	unread, err := s.repo.CountUnread(ctx)
	if err != nil {
		return nil, fmt.Errorf("未読件数の取得に失敗しました: %w", err)
	}
	return &Summary{Notifications: items, Unread: unread}, nil
}

// UnreadCount は未読通知の件数を返す。
func (s *Service) UnreadCount(ctx context.Context) (int, error) {
	n, err := s.repo.CountUnread(ctx)
	if err != nil {
		return 0, fmt.Errorf("未読件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// MarkRead は通知を既読にする。存在しない場合はNOTIFICATION_NOT_FOUNDを返す。
func (s *Service) MarkRead(ctx context.Context, id int64) error {
	found, err := s.repo.MarkRead(ctx, id)
	if err != nil {
		return fmt.Errorf("通知の更新に失敗しました: %w", err)
	}
	if !found {
		return model.NewNotificationNotFoundError(id)
	}
	return nil
}

// MarkAllRead は全通知を既読にし、更新件数を返す。
func (s *Service) MarkAllRead(ctx context.Context) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx)
	if err != nil {
		return 0, fmt.Errorf("通知の一括更新に失敗しました: %w", err)
	}
	return n, nil
}

// PurgeRead は保持期間を過ぎた既読通知を削除し、削除件数を返す。
func (s *Service) PurgeRead(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.repo.DeleteReadBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("既読通知の削除に失敗しました: %w", err)
	}
	return n, nil
}

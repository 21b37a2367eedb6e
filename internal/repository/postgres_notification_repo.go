package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/choraleadmin/internal/model"
)

// PostgresNotificationRepo はPostgreSQLを使用した管理者通知リポジトリ。
// 通知の生成はprofiles挿入時のトリガーが行う。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

// List は通知を新しい順に返す。
func (r *PostgresNotificationRepo) List(ctx context.Context, limit int, onlyUnread bool) ([]*model.Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, type, titre, message, COALESCE(user_id::text, ''), lu, created_at
		 FROM admin_notifications
		 WHERE NOT $1 OR lu = FALSE
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		onlyUnread, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*model.Notification
	for rows.Next() {
		n := &model.Notification{}
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Message, &n.UserID, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return notifications, nil
}

// CountUnread は未読通知数を返す。
func (r *PostgresNotificationRepo) CountUnread(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM admin_notifications WHERE lu = FALSE`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead は通知を既読にする。見つからない場合はfalseを返す。
func (r *PostgresNotificationRepo) MarkRead(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `UPDATE admin_notifications SET lu = TRUE WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkAllRead は全通知を既読にし、更新件数を返す。
func (r *PostgresNotificationRepo) MarkAllRead(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `UPDATE admin_notifications SET lu = TRUE WHERE lu = FALSE`)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// DeleteReadBefore は指定時刻より古い既読通知を削除し、削除件数を返す。
func (r *PostgresNotificationRepo) DeleteReadBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM admin_notifications WHERE lu = TRUE AND created_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete read notifications: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)

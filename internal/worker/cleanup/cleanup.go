// Package cleanup は期限切れデータの定期削除ジョブを提供する。
// 期限切れのプロバイダーセッションと、保持期間を過ぎた既読通知、
// 期限切れまたは使用済みのパスワード再設定コードを削除する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SessionStore はプロバイダーセッションの削除と集計を行う。
type SessionStore interface {
	DeleteExpired(ctx context.Context) (int64, error)
	CountActive(ctx context.Context) (int, error)
}

// NotificationPurger は既読通知を削除する。
type NotificationPurger interface {
	PurgeRead(ctx context.Context, retention time.Duration) (int64, error)
}

// CodePurger は期限切れ・使用済みの確認コードを削除する。
type CodePurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Recorder はジョブの結果を記録する。
type Recorder interface {
	RecordCleanup(sessions, notifications int64)
	SetActiveSessions(n int)
}

// CleanupJob は期限切れデータの削除ジョブ。冪等で、削除対象がなくてもエラーにならない。
type CleanupJob struct {
	sessions      SessionStore
	notifications NotificationPurger
	logger        *slog.Logger
	recorder      Recorder
	RetentionDays int        // 既読通知の保持日数（デフォルト: 90）
	Codes         CodePurger // nilの場合は確認コードを削除しない
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(sessions SessionStore, notifications NotificationPurger, logger *slog.Logger, recorder Recorder) *CleanupJob {
	return &CleanupJob{
		sessions:      sessions,
		notifications: notifications,
		logger:        logger,
		recorder:      recorder,
		RetentionDays: 90,
	}
}

// Run は1回分の削除を実行する。
// 片方の削除に失敗しても残りは実行し、エラーをまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	var errs []error

	sessions, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		errs = append(errs, fmt.Errorf("セッション削除に失敗: %w", err))
	}

	retention := time.Duration(j.RetentionDays) * 24 * time.Hour
	notifications, err := j.notifications.PurgeRead(ctx, retention)
	if err != nil {
		j.logger.Error("既読通知の削除に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		errs = append(errs, fmt.Errorf("通知削除に失敗: %w", err))
	}

	var codes int64
	if j.Codes != nil {
		codes, err = j.Codes.DeleteExpired(ctx)
		if err != nil {
			j.logger.Error("期限切れ確認コードの削除に失敗しました",
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("確認コード削除に失敗: %w", err))
		}
	}

	if j.recorder != nil {
		j.recorder.RecordCleanup(sessions, notifications)
		if active, err := j.sessions.CountActive(ctx); err == nil {
			j.recorder.SetActiveSessions(active)
		} else {
			j.logger.Warn("有効セッション数の取得に失敗しました", slog.String("error", err.Error()))
		}
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_notifications", notifications),
		slog.Int64("deleted_codes", codes),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return errors.Join(errs...)
}

// Start は起動直後に1回実行し、その後interval間隔で実行する。
// コンテキストがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Package audit は管理操作の監査ログを提供する。
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hitoshi/choraleadmin/internal/model"
	"github.com/hitoshi/choraleadmin/internal/repository"
)

// 記録する操作の種類
const (
	ActionCreateChorale    = "create_chorale"
	ActionUpdateChorale    = "update_chorale"
	ActionToggleChorale    = "toggle_chorale_status"
	ActionDeleteChorale    = "delete_chorale"
	ActionCreateUser       = "admin_create_user"
	ActionUpdateUser       = "update_user"
	ActionDeleteUser       = "delete_user"
	ActionValidateMember   = "validate_member"
	ActionRejectMember     = "reject_member"
	ActionGrantPermission  = "grant_permission"
	ActionRevokePermission = "revoke_permission"
	ActionUpdateChant      = "update_chant"
	ActionDeleteChant      = "delete_chant"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// Logger は管理操作を記録する。記録の失敗は呼び出し元に返さない。
type Logger interface {
	Log(ctx context.Context, actorID, action, table, recordID string, details any)
}

// Service は監査ログのサービス層。
type Service struct {
	repo repository.AuditRepository
}

// NewService はServiceを生成する。
func NewService(repo repository.AuditRepository) *Service {
	return &Service{repo: repo}
}

// Log は管理操作を記録する。
// 監査ログの失敗で管理操作自体を失敗させないため、エラーはログに残して握りつぶす。
func (s *Service) Log(ctx context.Context, actorID, action, table, recordID string, details any) {
	var raw json.RawMessage
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			slog.Warn("failed to encode audit details",
				slog.String("action", action),
				slog.String("error", err.Error()),
			)
		} else {
			raw = b
		}
	}

	entry := &model.AuditEntry{
		AdminID:   actorID,
		Action:    action,
		TableName: table,
		RecordID:  recordID,
		Details:   raw,
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		slog.Error("failed to write audit entry",
			slog.String("action", action),
			slog.String("admin_id", actorID),
			slog.String("record_id", recordID),
			slog.String("error", err.Error()),
		)
	}
}

// List は監査ログを新しい順に返す。
// limitが0以下の場合は100件、上限は500件。
func (s *Service) List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}

	entries, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("監査ログの取得に失敗しました: %w", err)
	}
	return entries, nil
}

var _ Logger = (*Service)(nil)

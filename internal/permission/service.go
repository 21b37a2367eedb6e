// Package permission は管理者ごとの機能モジュール権限を提供する。
//
// super_adminは全モジュールの権限を暗黙的に保持する。この権限は計算で求め、
// user_permissionsには保存しない。明示的な付与・剥奪の対象はadminロールのみ。
package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hitoshi/choraleadmin/internal/audit"
	"github.com/hitoshi/choraleadmin/internal/model"
	"github.com/hitoshi/choraleadmin/internal/repository"
)

// モジュールコード
const (
	ModuleViewDashboard   = "view_dashboard"
	ModuleManageChorales  = "manage_chorales"
	ModuleManageUsers     = "manage_users"
	ModuleValidateMembers = "validate_members"
	ModuleManageChants    = "manage_chants"
	ModuleViewLogs        = "view_logs"
)

// Service は権限管理のサービス層。
type Service struct {
	repo     repository.PermissionRepository
	profiles repository.ProfileRepository
	audit    audit.Logger
}

// NewService はServiceを生成する。
func NewService(repo repository.PermissionRepository, profiles repository.ProfileRepository, auditLog audit.Logger) *Service {
	return &Service{repo: repo, profiles: profiles, audit: auditLog}
}

// Modules は権限モジュールの一覧を返す。
func (s *Service) Modules(ctx context.Context) ([]*model.PermissionModule, error) {
	modules, err := s.repo.ListModules(ctx)
	if err != nil {
		return nil, fmt.Errorf("権限モジュールの取得に失敗しました: %w", err)
	}
	return modules, nil
}

// Matrix は管理者ごとの権限一覧を返す。super_adminには全モジュールを補完する。
func (s *Service) Matrix(ctx context.Context) ([]*model.UserPermissions, error) {
	users, err := s.repo.ListAdminPermissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("権限一覧の取得に失敗しました: %w", err)
	}

	var all []string
	for _, u := range users {
		if u.Role != model.RoleSuperAdmin {
			continue
		}
		if all == nil {
			if all, err = s.allCodes(ctx); err != nil {
				return nil, err
			}
		}
		u.Modules = slices.Clone(all)
	}
	return users, nil
}

// Effective はプロフィールが保持するモジュールコードを返す。
func (s *Service) Effective(ctx context.Context, profile *model.Profile) ([]string, error) {
	switch profile.Role {
	case model.RoleSuperAdmin:
		return s.allCodes(ctx)
	case model.RoleAdmin:
		codes, err := s.repo.ModulesForUser(ctx, profile.UserID)
		if err != nil {
			return nil, fmt.Errorf("ユーザー権限の取得に失敗しました: %w", err)
		}
		return codes, nil
	}
	return nil, nil
}

// Grant は管理者に権限を付与する。付与済みの場合は何もしない。
// 実行できるのはsuper_adminのみ。
func (s *Service) Grant(ctx context.Context, actor *model.Profile, userID, code string) error {
	if err := s.checkChange(ctx, actor, userID, code); err != nil {
		return err
	}
	if err := s.repo.Grant(ctx, userID, code); err != nil {
		if errors.Is(err, repository.ErrReferenceMissing) {
			return model.NewUserNotFoundError(userID)
		}
		return fmt.Errorf("権限の付与に失敗しました: %w", err)
	}

	slog.Info("permission granted",
		slog.String("user_id", userID),
		slog.String("module", code),
	)
	s.audit.Log(ctx, actor.UserID, audit.ActionGrantPermission, "user_permissions", userID, map[string]string{"module": code})
	return nil
}

// Revoke は管理者の権限を剥奪する。未付与の場合は何もしない。
// 実行できるのはsuper_adminのみ。
func (s *Service) Revoke(ctx context.Context, actor *model.Profile, userID, code string) error {
	if err := s.checkChange(ctx, actor, userID, code); err != nil {
		return err
	}
	if err := s.repo.Revoke(ctx, userID, code); err != nil {
		return fmt.Errorf("権限の剥奪に失敗しました: %w", err)
	}

	slog.Info("permission revoked",
		slog.String("user_id", userID),
		slog.String("module", code),
	)
	s.audit.Log(ctx, actor.UserID, audit.ActionRevokePermission, "user_permissions", userID, map[string]string{"module": code})
	return nil
}

func (s *Service) checkChange(ctx context.Context, actor *model.Profile, userID, code string) error {
	if actor == nil || actor.Role != model.RoleSuperAdmin {
		return model.NewForbiddenError("seul un super administrateur peut modifier les permissions")
	}

	module, err := s.repo.FindModule(ctx, code)
	if err != nil {
		return fmt.Errorf("権限モジュールの取得に失敗しました: %w", err)
	}
	if module == nil {
		return model.NewModuleNotFoundError(code)
	}

	target, err := s.profiles.FindByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if target == nil {
		return model.NewUserNotFoundError(userID)
	}
	switch target.Role {
	case model.RoleAdmin:
		return nil
	case model.RoleSuperAdmin:
		return model.NewInvalidInputError("un super administrateur possède déjà toutes les permissions")
	}
	return model.NewInvalidInputError("les permissions ne s'appliquent qu'aux administrateurs")
}

func (s *Service) allCodes(ctx context.Context) ([]string, error) {
	modules, err := s.Modules(ctx)
	if err != nil {
		return nil, err
	}
	codes := make([]string, len(modules))
	for i, m := range modules {
		codes[i] = m.Code
	}
	return codes, nil
}

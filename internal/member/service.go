// Package member は管理画面からのユーザー（プロフィール）管理を提供する。
package member

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/choraleadmin/internal/audit"
	"github.com/hitoshi/choraleadmin/internal/identity"
	"github.com/hitoshi/choraleadmin/internal/model"
	"github.com/hitoshi/choraleadmin/internal/repository"
	"github.com/hitoshi/choraleadmin/internal/security"
)

// IdentityAdmin は認証プロバイダーに対する管理操作。
type IdentityAdmin interface {
	CreateUser(ctx context.Context, email, password string, profile *model.Profile) (string, error)
	DeleteUser(ctx context.Context, userID string) error
	InvalidateUser(ctx context.Context, userID string) error
	NotifyUpdated(userID string)
}

// CreateInput は管理者によるユーザー作成の入力値。
type CreateInput struct {
	Email     string
	Password  string // 空の場合は一時パスワードを生成する
	FullName  string
	Role      model.Role
	ChoraleID string
}

// UpdateInput はユーザー更新の入力値。
type UpdateInput struct {
	FullName  string
	Role      model.Role
	ChoraleID string
}

// Created は作成結果。TemporaryPasswordはパスワードを生成した場合のみ設定される。
type Created struct {
	Profile           *model.Profile
	TemporaryPassword string
}

// Service はユーザー管理のサービス層。
type Service struct {
	profiles   repository.ProfileRepository
	chorales   repository.ChoraleRepository
	identities IdentityAdmin
	sanitizer  security.TextSanitizer
	audit      audit.Logger
}

// NewService はServiceを生成する。
func NewService(
	profiles repository.ProfileRepository,
	chorales repository.ChoraleRepository,
	identities IdentityAdmin,
	sanitizer security.TextSanitizer,
	auditLog audit.Logger,
) *Service {
	return &Service{
		profiles:   profiles,
		chorales:   chorales,
		identities: identities,
		sanitizer:  sanitizer,
		audit:      auditLog,
	}
}

// List は条件に一致するユーザーを返す。
func (s *Service) List(ctx context.Context, filter model.ProfileFilter) ([]*model.Profile, error) {
	filter.Query = strings.TrimSpace(filter.Query)
	profiles, err := s.profiles.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return profiles, nil
}

// Get は指定ユーザーのプロフィールを返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := s.profiles.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewUserNotFoundError(userID)
	}
	return p, nil
}

// Create はidentityとプロフィールを作成する。管理者が作成したユーザーは承認済みとする。
func (s *Service) Create(ctx context.Context, actor *model.Profile, in CreateInput) (*Created, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" {
		return nil, model.NewInvalidInputError("l'email est requis")
	}
	name := s.sanitizer.PlainText(in.FullName)
	if name == "" {
		return nil, model.NewInvalidInputError("le nom complet est requis")
	}
	if err := checkRoleAssignment(actor, in.Role); err != nil {
		return nil, err
	}
	if err := s.checkChorale(ctx, in.ChoraleID); err != nil {
		return nil, err
	}

	profile := &model.Profile{
		FullName:         name,
		Role:             in.Role,
		ChoraleID:        in.ChoraleID,
		ValidationStatus: model.StatusValide,
	}
	password, err := s.identities.CreateUser(ctx, email, in.Password, profile)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrWeakPassword):
			return nil, model.NewInvalidInputError("le mot de passe doit contenir au moins 8 caractères")
		case errors.Is(err, repository.ErrDuplicate):
			return nil, model.NewConflictError("Un compte avec cet email")
		case errors.Is(err, repository.ErrReferenceMissing):
			return nil, model.NewChoraleNotFoundError(in.ChoraleID)
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	created := &Created{Profile: profile}
	if in.Password == "" {
		created.TemporaryPassword = password
	}

	s.audit.Log(ctx, actor.UserID, audit.ActionCreateUser, "profiles", profile.UserID, map[string]string{
		"email": profile.Email,
		"role":  string(profile.Role),
	})
	return created, nil
}

// Update は氏名・ロール・所属チョラルを更新する。
// 管理者ロールを外す場合は全権限を削除し、プロバイダーセッションを破棄する。
func (s *Service) Update(ctx context.Context, actor *model.Profile, userID string, in UpdateInput) (*model.Profile, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	name := s.sanitizer.PlainText(in.FullName)
	if name == "" {
		return nil, model.NewInvalidInputError("le nom complet est requis")
	}
	roleChanged := in.Role != p.Role
	if roleChanged {
		if actor.UserID == userID {
			return nil, model.NewForbiddenError("vous ne pouvez pas modifier votre propre rôle")
		}
		if p.Role == model.RoleSuperAdmin && actor.Role != model.RoleSuperAdmin {
			return nil, model.NewForbiddenError("seul un super administrateur peut modifier un super administrateur")
		}
		if err := checkRoleAssignment(actor, in.Role); err != nil {
			return nil, err
		}
	}
	if in.ChoraleID != p.ChoraleID {
		if err := s.checkChorale(ctx, in.ChoraleID); err != nil {
			return nil, err
		}
	}

	demoted := p.Role.IsAdmin() && !in.Role.IsAdmin()
	previous := p.Role
	p.FullName = name
	p.Role = in.Role
	p.ChoraleID = in.ChoraleID

	if err := s.profiles.Update(ctx, p, demoted); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, model.NewUserNotFoundError(userID)
		case errors.Is(err, repository.ErrReferenceMissing):
			return nil, model.NewChoraleNotFoundError(in.ChoraleID)
		}
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}

	if demoted {
		slog.Info("admin rights removed",
			slog.String("user_id", userID),
			slog.String("previous_role", string(previous)),
			slog.String("role", string(p.Role)),
		)
		if err := s.identities.InvalidateUser(ctx, userID); err != nil {
			// 権限は削除済み。次回のリクエストでポリシー確認に失敗する
			slog.Error("failed to invalidate sessions of demoted admin",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	} else {
		s.identities.NotifyUpdated(userID)
	}

	details := map[string]string{"full_name": p.FullName, "role": string(p.Role)}
	if roleChanged {
		details["previous_role"] = string(previous)
	}
	s.audit.Log(ctx, actor.UserID, audit.ActionUpdateUser, "profiles", userID, details)
	return p, nil
}

// Delete はユーザーを削除する。権限・プロフィール・セッションも削除される。
// 自分自身は削除できない。
func (s *Service) Delete(ctx context.Context, actor *model.Profile, userID string) error {
	if actor.UserID == userID {
		return model.NewSelfDeleteError()
	}
	p, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if p.Role == model.RoleSuperAdmin && actor.Role != model.RoleSuperAdmin {
		return model.NewForbiddenError("seul un super administrateur peut supprimer un super administrateur")
	}

	if err := s.identities.DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewUserNotFoundError(userID)
		}
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("user deleted", slog.String("user_id", userID))
	s.audit.Log(ctx, actor.UserID, audit.ActionDeleteUser, "profiles", userID, map[string]string{
		"email":     p.Email,
		"full_name": p.FullName,
	})
	return nil
}

func (s *Service) checkChorale(ctx context.Context, choraleID string) error {
	if choraleID == "" {
		return nil
	}
	c, err := s.chorales.FindByID(ctx, choraleID)
	if err != nil {
		return fmt.Errorf("チョラルの取得に失敗しました: %w", err)
	}
	if c == nil {
		return model.NewChoraleNotFoundError(choraleID)
	}
	return nil
}

// checkRoleAssignment はロールが有効で、操作者が付与できるものかを確認する。
func checkRoleAssignment(actor *model.Profile, role model.Role) error {
	if _, err := model.ParseRole(string(role)); err != nil {
		return model.NewInvalidInputError(fmt.Sprintf("rôle inconnu : %q", role))
	}
	if role == model.RoleSuperAdmin && actor.Role != model.RoleSuperAdmin {
		return model.NewForbiddenError("seul un super administrateur peut attribuer ce rôle")
	}
	return nil
}

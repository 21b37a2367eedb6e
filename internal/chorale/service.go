// Package chorale はチョラル（合唱団）管理のドメインロジックを提供する。
package chorale

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/choraleadmin/internal/audit"
	"github.com/hitoshi/choraleadmin/internal/model"
	"github.com/hitoshi/choraleadmin/internal/repository"
	"github.com/hitoshi/choraleadmin/internal/security"
)

const (
	minNameLength = 2
	maxNameLength = 200
)

// Input はチョラルの作成・更新時の入力値。
type Input struct {
	Name         string
	Description  string
	LogoURL      string
	ThemeColor   string
	ContactEmail string
	Phone        string
	Address      string
	City         string
	Country      string
	Website      string
}

// Service はチョラル管理のサービス層。
type Service struct {
	repo      repository.ChoraleRepository
	guard     security.URLGuard
	sanitizer security.TextSanitizer
	audit     audit.Logger
}

// NewService はServiceを生成する。
func NewService(
	repo repository.ChoraleRepository,
	guard security.URLGuard,
	sanitizer security.TextSanitizer,
	auditLog audit.Logger,
) *Service {
	return &Service{
		repo:      repo,
		guard:     guard,
		sanitizer: sanitizer,
		audit:     auditLog,
	}
}

// List はチョラルをメンバー数・チャント数付きで返す。
func (s *Service) List(ctx context.Context, filter model.ChoraleFilter) ([]model.ChoraleWithCounts, error) {
	filter.Query = strings.TrimSpace(filter.Query)
	chorales, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("チョラル一覧の取得に失敗しました: %w", err)
	}
	return chorales, nil
}

// Get は指定IDのチョラルを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Chorale, error) {
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("チョラルの取得に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewChoraleNotFoundError(id)
	}
	return c, nil
}

// Create はチョラルを作成する。slugは名前から生成する。
func (s *Service) Create(ctx context.Context, actorID string, in Input) (*model.Chorale, error) {
	c := &model.Chorale{Status: model.ChoraleActive}
	if err := s.apply(c, in); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, c); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewConflictError("Une chorale portant ce nom")
		}
		return nil, fmt.Errorf("チョラルの作成に失敗しました: %w", err)
	}

	slog.Info("chorale created",
		slog.String("chorale_id", c.ID),
		slog.String("slug", c.Slug),
	)
	s.audit.Log(ctx, actorID, audit.ActionCreateChorale, "chorales", c.ID, map[string]string{"nom": c.Name})
	return c, nil
}

// Update はチョラル情報を更新する。名前が変わった場合はslugも更新する。
func (s *Service) Update(ctx context.Context, actorID, id string, in Input) (*model.Chorale, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(c, in); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, c); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, model.NewChoraleNotFoundError(id)
		case errors.Is(err, repository.ErrDuplicate):
			return nil, model.NewConflictError("Une chorale portant ce nom")
		}
		return nil, fmt.Errorf("チョラルの更新に失敗しました: %w", err)
	}

	s.audit.Log(ctx, actorID, audit.ActionUpdateChorale, "chorales", c.ID, map[string]string{"nom": c.Name})
	return c, nil
}

// ToggleStatus は稼働状態をactifとinactifの間で切り替える。
func (s *Service) ToggleStatus(ctx context.Context, actorID, id string) (*model.Chorale, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	next := model.ChoraleInactive
	if c.Status != model.ChoraleActive {
		next = model.ChoraleActive
	}
	if err := s.repo.UpdateStatus(ctx, id, next); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewChoraleNotFoundError(id)
		}
		return nil, fmt.Errorf("チョラルの状態更新に失敗しました: %w", err)
	}
	c.Status = next

	s.audit.Log(ctx, actorID, audit.ActionToggleChorale, "chorales", id, map[string]string{"statut": string(next)})
	return c, nil
}

// Delete はチョラルを削除する。所属メンバーのchorale_idはNULLになる。
func (s *Service) Delete(ctx context.Context, actorID, id string) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewChoraleNotFoundError(id)
		}
		return fmt.Errorf("チョラルの削除に失敗しました: %w", err)
	}

	slog.Info("chorale deleted", slog.String("chorale_id", id))
	s.audit.Log(ctx, actorID, audit.ActionDeleteChorale, "chorales", id, map[string]string{"nom": c.Name})
	return nil
}

// apply は入力値を検証・無害化してチョラルに反映する。
func (s *Service) apply(c *model.Chorale, in Input) error {
	name := s.sanitizer.PlainText(in.Name)
	if n := utf8.RuneCountInString(name); n < minNameLength || n > maxNameLength {
		return model.NewInvalidInputError(fmt.Sprintf("le nom doit contenir entre %d et %d caractères", minNameLength, maxNameLength))
	}
	slug := Slugify(name)
	if slug == "" {
		return model.NewInvalidInputError("le nom doit contenir au moins une lettre ou un chiffre")
	}

	website, err := s.guard.NormalizeOptional(in.Website)
	if err != nil {
		return model.NewInvalidURLError("site_web", err.Error())
	}
	logo, err := s.guard.NormalizeOptional(in.LogoURL)
	if err != nil {
		return model.NewInvalidURLError("logo_url", err.Error())
	}

	c.Name = name
	c.Slug = slug
	c.Description = s.sanitizer.RichText(in.Description)
	c.LogoURL = logo
	c.Website = website
	c.ThemeColor = strings.TrimSpace(in.ThemeColor)
	c.ContactEmail = strings.TrimSpace(in.ContactEmail)
	c.Phone = s.sanitizer.PlainText(in.Phone)
	c.Address = s.sanitizer.PlainText(in.Address)
	c.City = s.sanitizer.PlainText(in.City)
	c.Country = s.sanitizer.PlainText(in.Country)
	return nil
}

// Package chant はチョラルのレパートリー（楽曲）管理を提供する。
// 楽曲の登録と詳細の編集はモバイルアプリ側で行うため、
// 管理画面では一覧・タイトルと所属チョラルの修正・削除のみを扱う。
package chant

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

const maxTitleLength = 300

// Input は楽曲更新時の入力値。
type Input struct {
	Title     string
	ChoraleID string
}

// Listing は楽曲一覧と声部別の件数。
type Listing struct {
	Chants  []*model.Chant
	Summary model.ChantSummary
}

// Service は楽曲管理のサービス層。
type Service struct {
	repo      repository.ChantRepository
	chorales  repository.ChoraleRepository
	sanitizer security.TextSanitizer
	audit     audit.Logger
}

// NewService はServiceを生成する。
func NewService(
	repo repository.ChantRepository,
	chorales repository.ChoraleRepository,
	sanitizer security.TextSanitizer,
	auditLog audit.Logger,
) *Service {
	return &Service{
		repo:      repo,
		chorales:  chorales,
		sanitizer: sanitizer,
		audit:     auditLog,
	}
}

// List は条件に一致する楽曲を新しい順に返す。件数は絞り込み後の一覧から数える。
func (s *Service) List(ctx context.Context, filter model.ChantFilter) (*Listing, error) {
	filter.Query = strings.TrimSpace(filter.Query)
	chants, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("楽曲一覧の取得に失敗しました: %w", err)
	}
	if chants == nil {
		chants = []*model.Chant{}
	}
	return &Listing{Chants: chants, Summary: model.SummarizeChants(chants)}, nil
}

// Get は指定IDの楽曲を返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Chant, error) {
	ch, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("楽曲の取得に失敗しました: %w", err)
	}
	if ch == nil {
		return nil, model.NewChantNotFoundError(id)
	}
	return ch, nil
}

// Update はタイトルと所属チョラルを更新する。その他の項目は変更しない。
func (s *Service) Update(ctx context.Context, actorID, id string, in Input) (*model.Chant, error) {
	title := s.sanitizer.PlainText(in.Title)
	if n := utf8.RuneCountInString(title); n == 0 || n > maxTitleLength {
		return nil, model.NewInvalidInputError(fmt.Sprintf("le titre doit contenir entre 1 et %d caractères", maxTitleLength))
	}
	choraleID := strings.TrimSpace(in.ChoraleID)
	if choraleID == "" {
		return nil, model.NewInvalidInputError("la chorale est obligatoire")
	}

	ch, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	chorale, err := s.chorales.FindByID(ctx, choraleID)
	if err != nil {
		return nil, fmt.Errorf("チョラルの取得に失敗しました: %w", err)
	}
	if chorale == nil {
		return nil, model.NewChoraleNotFoundError(choraleID)
	}

	previous := ch.ChoraleID
	ch.Title = title
	ch.ChoraleID = chorale.ID
	ch.ChoraleName = chorale.Name
	if err := s.repo.Update(ctx, ch); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, model.NewChantNotFoundError(id)
		case errors.Is(err, repository.ErrReferenceMissing):
			// 確認後にチョラルが削除された
			return nil, model.NewChoraleNotFoundError(choraleID)
		}
		return nil, fmt.Errorf("楽曲の更新に失敗しました: %w", err)
	}

	details := map[string]string{"titre": ch.Title}
	if previous != ch.ChoraleID {
		details["chorale_id"] = ch.ChoraleID
	}
	s.audit.Log(ctx, actorID, audit.ActionUpdateChant, "chants", ch.ID, details)
	return ch, nil
}

// Delete は楽曲を削除する。
func (s *Service) Delete(ctx context.Context, actorID, id string) error {
	ch, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewChantNotFoundError(id)
		}
		return fmt.Errorf("楽曲の削除に失敗しました: %w", err)
	}

	slog.Info("chant deleted", slog.String("chant_id", id), slog.String("chorale_id", ch.ChoraleID))
	s.audit.Log(ctx, actorID, audit.ActionDeleteChant, "chants", id, map[string]string{"titre": ch.Title})
	return nil
}

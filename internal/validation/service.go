// Package validation は新規登録メンバーの承認・却下を提供する。
package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/choraleadmin/internal/audit"
	"github.com/hitoshi/choraleadmin/internal/mailer"
	"github.com/hitoshi/choraleadmin/internal/model"
	"github.com/hitoshi/choraleadmin/internal/repository"
	"github.com/hitoshi/choraleadmin/internal/security"
)

// minMotiveLength は却下理由の最小文字数。
const minMotiveLength = 10

// defaultMailTimeout は通知メール1通の送信（再試行を含む）に許す時間。
const defaultMailTimeout = time.Minute

// SessionControl は承認結果を対象ユーザーのセッションに反映する。
type SessionControl interface {
	InvalidateUser(ctx context.Context, userID string) error
	NotifyUpdated(userID string)
}

// Service はメンバー承認のサービス層。
type Service struct {
	profiles  repository.ProfileRepository
	chorales  repository.ChoraleRepository
	sessions  SessionControl
	sender    mailer.Sender
	sanitizer security.TextSanitizer
	audit     audit.Logger

	// MailTimeout はリクエストから切り離した通知メール送信の上限時間。
	MailTimeout time.Duration
	mails       sync.WaitGroup
}

// NewService はServiceを生成する。
func NewService(
	profiles repository.ProfileRepository,
	chorales repository.ChoraleRepository,
	sessions SessionControl,
	sender mailer.Sender,
	sanitizer security.TextSanitizer,
	auditLog audit.Logger,
) *Service {
	return &Service{
		profiles:    profiles,
		chorales:    chorales,
		sessions:    sessions,
		sender:      sender,
		sanitizer:   sanitizer,
		audit:       auditLog,
		MailTimeout: defaultMailTimeout,
	}
}

// Pending は承認待ちのメンバーを登録が古い順に返す。
func (s *Service) Pending(ctx context.Context) ([]*model.Profile, error) {
	profiles, err := s.profiles.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("承認待ち一覧の取得に失敗しました: %w", err)
	}
	return profiles, nil
}

// Validate はメンバーを承認し、チョラルに所属させる。
// 所属なしの利用者（user）はmembreに昇格する。
func (s *Service) Validate(ctx context.Context, actor *model.Profile, userID, choraleID string) (*model.Profile, error) {
	if choraleID == "" {
		return nil, model.NewInvalidInputError("une chorale doit être sélectionnée")
	}
	chorale, err := s.chorales.FindByID(ctx, choraleID)
	if err != nil {
		return nil, fmt.Errorf("チョラルの取得に失敗しました: %w", err)
	}
	if chorale == nil {
		return nil, model.NewChoraleNotFoundError(choraleID)
	}

	p, err := s.target(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p.ValidationStatus == model.StatusValide {
		return nil, model.NewAlreadyValidatedError()
	}

	p.ValidationStatus = model.StatusValide
	p.ChoraleID = choraleID
	if p.Role == model.RoleUser {
		p.Role = model.RoleMembre
	}
	decision := &model.ValidationDecision{
		UserID:      userID,
		ChoraleID:   choraleID,
		ValidatorID: actor.UserID,
		Action:      model.StatusValide,
	}
	if err := s.record(ctx, p, decision); err != nil {
		return nil, err
	}

	s.sessions.NotifyUpdated(userID)
	s.audit.Log(ctx, actor.UserID, audit.ActionValidateMember, "profiles", userID, map[string]string{
		"chorale_id": choraleID,
		"chorale":    chorale.Name,
	})

	msg, err := mailer.MemberValidated(p.Email, p.FullName, chorale.Name)
	s.notify(ctx, userID, msg, err)
	return p, nil
}

// Reject はメンバーを却下し、プロバイダーセッションを破棄する。
func (s *Service) Reject(ctx context.Context, actor *model.Profile, userID, motive string) (*model.Profile, error) {
	motive = s.sanitizer.PlainText(motive)
	if utf8.RuneCountInString(motive) < minMotiveLength {
		return nil, model.NewInvalidInputError(fmt.Sprintf("le motif doit contenir au moins %d caractères", minMotiveLength))
	}

	p, err := s.target(ctx, userID)
	if err != nil {
		return nil, err
	}
	switch p.ValidationStatus {
	case model.StatusValide:
		return nil, model.NewAlreadyValidatedError()
	case model.StatusRefuse:
		return nil, model.NewAlreadyRejectedError()
	}

	p.ValidationStatus = model.StatusRefuse
	decision := &model.ValidationDecision{
		UserID:      userID,
		ChoraleID:   p.ChoraleID,
		ValidatorID: actor.UserID,
		Action:      model.StatusRefuse,
		Comment:     motive,
	}
	if err := s.record(ctx, p, decision); err != nil {
		return nil, err
	}

	if err := s.sessions.InvalidateUser(ctx, userID); err != nil {
		slog.Error("failed to invalidate sessions of rejected member",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	s.audit.Log(ctx, actor.UserID, audit.ActionRejectMember, "profiles", userID, map[string]string{"motif": motive})

	msg, err := mailer.MemberRejected(p.Email, p.FullName, motive)
	s.notify(ctx, userID, msg, err)
	return p, nil
}

func (s *Service) target(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := s.profiles.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewUserNotFoundError(userID)
	}
	return p, nil
}

func (s *Service) record(ctx context.Context, p *model.Profile, decision *model.ValidationDecision) error {
	if err := s.profiles.RecordDecision(ctx, p, decision); err != nil {
		if errors.Is(err, repository.ErrReferenceMissing) {
			return model.NewChoraleNotFoundError(decision.ChoraleID)
		}
		return fmt.Errorf("承認結果の保存に失敗しました: %w", err)
	}
	slog.Info("membership decision recorded",
		slog.String("user_id", p.UserID),
		slog.String("action", string(decision.Action)),
		slog.String("validator_id", decision.ValidatorID),
	)
	return nil
}

// notify は結果をメールで通知する。送信失敗は承認結果に影響させない。
// 送信はリクエストから切り離して行うため、メールAPIの遅延で応答が遅れず、
// クライアントの切断でも送信は取り消されない。
func (s *Service) notify(ctx context.Context, userID string, msg mailer.Message, buildErr error) {
	if buildErr != nil {
		logMailFailure(userID, msg, buildErr)
		return
	}

	ctx = context.WithoutCancel(ctx)
	s.mails.Add(1)
	go func() {
		defer s.mails.Done()
		ctx, cancel := context.WithTimeout(ctx, s.MailTimeout)
		defer cancel()
		if err := s.sender.Send(ctx, msg); err != nil {
			logMailFailure(userID, msg, err)
		}
	}()
}

// Wait は送信中の通知メールがすべて終わるまで待つ。シャットダウン時に呼ぶ。
func (s *Service) Wait() {
	s.mails.Wait()
}

func logMailFailure(userID string, msg mailer.Message, err error) {
	slog.Warn("failed to send membership mail",
		slog.String("user_id", userID),
		slog.String("template", msg.Template),
		slog.String("error", err.Error()),
	)
}

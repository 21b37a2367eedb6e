// Package identity はメールアドレスとパスワードによる認証プロバイダーを提供する。
// identity・資格情報・プロバイダーセッションを管理し、
// ブラウザ単位のClientを通じて認証フローに機能を公開する。
package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/choraleadmin/internal/model"
	"github.com/hitoshi/choraleadmin/internal/repository"
)

// minPasswordLength はパスワードの最小長。
const minPasswordLength = 8

var (
	// ErrInvalidCredentials はメールアドレスまたはパスワードが一致しない場合のエラー。
	ErrInvalidCredentials = errors.New("invalid login credentials")
	// ErrProfileNotFound はidentityに紐づくプロフィールが存在しない場合のエラー。
	ErrProfileNotFound = errors.New("profile not found")
	// ErrWeakPassword はパスワードが要件を満たさない場合のエラー。
	ErrWeakPassword = errors.New("password does not meet requirements")
)

// ServiceConfig は認証プロバイダーの設定。
type ServiceConfig struct {
	SessionMaxAge int // プロバイダーセッション有効期間（秒）
	BcryptCost    int
}

// Service はPostgreSQLを使用した認証プロバイダー。
type Service struct {
	creds    repository.CredentialRepository
	sessions repository.SessionRepository
	profiles repository.ProfileRepository
	broker   *Broker
	config   ServiceConfig

	dummyOnce sync.Once
	dummyHash []byte
}

// NewService はServiceを生成する。
func NewService(
	creds repository.CredentialRepository,
	sessions repository.SessionRepository,
	profiles repository.ProfileRepository,
	broker *Broker,
	config ServiceConfig,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		creds:    creds,
		sessions: sessions,
		profiles: profiles,
		broker:   broker,
		config:   config,
	}
}

// Broker はイベント配信に使用するBrokerを返す。
func (s *Service) Broker() *Broker {
	return s.broker
}

// Authenticate は資格情報を検証し、新しいプロバイダーセッションを発行する。
// 資格情報が一致しない場合はErrInvalidCredentialsを返す。
// 未登録のメールアドレスでもbcrypt比較を行い、応答時間から存在を推測させない。
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.Identity, *model.ProviderSession, error) {
	cred, err := s.creds.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find credential: %w", err)
	}

	if cred == nil {
		_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
		return nil, nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(cred.PasswordHash, []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}
	if cred.Disabled {
		return nil, nil, fmt.Errorf("%w: account disabled", ErrInvalidCredentials)
	}

	session, err := s.createSession(ctx, cred.ID)
	if err != nil {
		return nil, nil, err
	}

	identity := cred.Identity
	return &identity, session, nil
}

// Lookup はトークンに対応するidentityを返す。
// セッションが存在しない・期限切れ・identityが無効の場合はnilを返す。
func (s *Service) Lookup(ctx context.Context, token string) (*model.Identity, error) {
	if token == "" {
		return nil, nil
	}

	session, err := s.sessions.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	identity, err := s.creds.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	return identity, nil
}

// Invalidate は指定トークンのプロバイダーセッションを破棄する。冪等。
func (s *Service) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	session, err := s.sessions.FindByToken(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to find session: %w", err)
	}
	if err := s.sessions.DeleteByToken(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if session != nil {
		s.broker.Publish(Event{Kind: SessionEnded, UserID: session.UserID, Token: token})
	}
	return nil
}

// InvalidateUser は指定ユーザーの全プロバイダーセッションを破棄し、
// そのユーザーのClientに終了を通知する。
func (s *Service) InvalidateUser(ctx context.Context, userID string) error {
	tokens, err := s.sessions.DeleteByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}

	slog.Info("provider sessions invalidated",
		slog.String("user_id", userID),
		slog.Int("count", len(tokens)),
	)
	s.broker.Publish(Event{Kind: SessionEnded, UserID: userID})
	return nil
}

// NotifyUpdated はidentityまたはプロフィールの変更をClientに通知する。
func (s *Service) NotifyUpdated(userID string) {
	s.broker.Publish(Event{Kind: IdentityUpdated, UserID: userID})
}

// FetchProfile はidentityに紐づくプロフィールを返す。
// 存在しない場合はErrProfileNotFoundを返す。
func (s *Service) FetchProfile(ctx context.Context, userID string) (*model.Profile, error) {
	profile, err := s.profiles.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	if profile == nil {
		return nil, ErrProfileNotFound
	}
	return profile, nil
}

// CreateUser はidentityとプロフィールを同一トランザクションで作成する。
// passwordが空の場合は一時パスワードを生成して返す。
func (s *Service) CreateUser(ctx context.Context, email, password string, profile *model.Profile) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", fmt.Errorf("email is required")
	}

	if password == "" {
		generated, err := GeneratePassword()
		if err != nil {
			return "", err
		}
		password = generated
	}

	hash, err := s.HashPassword(password)
	if err != nil {
		return "", err
	}

	cred := &model.Credential{
		Identity:     model.Identity{Email: email},
		PasswordHash: hash,
	}
	if err := s.creds.CreateWithProfile(ctx, cred, profile); err != nil {
		return "", fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("identity created",
		slog.String("user_id", cred.ID),
		slog.String("role", string(profile.Role)),
	)
	return password, nil
}

// DeleteUser はidentityを削除し、そのユーザーのClientにセッション終了を通知する。
// プロフィール・権限・セッションはCASCADE削除される。
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	if err := s.creds.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}
	s.broker.Publish(Event{Kind: SessionEnded, UserID: userID})
	return nil
}

// ResetPassword はパスワードを変更し、そのユーザーの全プロバイダーセッションを破棄する。
func (s *Service) ResetPassword(ctx context.Context, userID, password string) error {
	hash, err := s.HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.creds.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return s.InvalidateUser(ctx, userID)
}

// HashPassword はパスワードをbcryptでハッシュ化する。
func (s *Service) HashPassword(password string) ([]byte, error) {
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: at least %d characters", ErrWeakPassword, minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, fmt.Errorf("%w: %v", ErrWeakPassword, err)
		}
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return hash, nil
}

// CountActiveSessions は有効なプロバイダーセッション数を返す。
func (s *Service) CountActiveSessions(ctx context.Context) (int, error) {
	return s.sessions.CountActive(ctx)
}

func (s *Service) createSession(ctx context.Context, userID string) (*model.ProviderSession, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := time.Now()
	session := &model.ProviderSession{
		Token:     token,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

// dummy は未登録メールアドレスの比較に使うハッシュを遅延生成する。
func (s *Service) dummy() []byte {
	s.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("choraleadmin-dummy-password"), s.config.BcryptCost)
		if err != nil {
			slog.Error("failed to generate dummy hash", slog.String("error", err.Error()))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

// generateToken は暗号的に安全なセッショントークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GeneratePassword は一時パスワードを生成する。
func GeneratePassword() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

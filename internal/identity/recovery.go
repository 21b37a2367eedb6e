package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/hitoshi/choraleadmin/internal/mailer"
	"github.com/hitoshi/choraleadmin/internal/model"
	"github.com/hitoshi/choraleadmin/internal/repository"
)

const (
	defaultCodeTTL     = 10 * time.Minute
	defaultMaxAttempts = 5
	codeDigits         = 6
)

// ErrInvalidCode は確認コードが一致しない・期限切れ・使用済みの場合のエラー。
// どの理由で失敗したかは呼び出し側に区別させない。
var ErrInvalidCode = errors.New("invalid or expired code")

// RecoveryConfig はパスワード再設定の設定。
type RecoveryConfig struct {
	CodeTTL     time.Duration
	MaxAttempts int
}

// Recovery はメールで送る確認コードによるパスワード再設定を提供する。
type Recovery struct {
	svc    *Service
	codes  repository.OTPRepository
	sender mailer.Sender
	config RecoveryConfig
}

// NewRecovery はRecoveryを生成する。
func NewRecovery(svc *Service, codes repository.OTPRepository, sender mailer.Sender, config RecoveryConfig) *Recovery {
	if config.CodeTTL <= 0 {
		config.CodeTTL = defaultCodeTTL
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	return &Recovery{svc: svc, codes: codes, sender: sender, config: config}
}

// Request は確認コードを発行してメールで送る。
// 未登録・無効なアカウントでもエラーにしない。応答からアカウントの存在を推測させないため。
// 新しいコードを発行すると、同じユーザーの未使用コードは無効になる。
func (r *Recovery) Request(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}

	cred, err := r.svc.creds.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find credential: %w", err)
	}
	if cred == nil || cred.Disabled {
		slog.Info("password code requested for unknown account")
		return nil
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}
	otp := &model.OTPCode{
		UserID:    cred.ID,
		CodeHash:  hashCode(code),
		ExpiresAt: time.Now().Add(r.config.CodeTTL),
	}
	if err := r.codes.Create(ctx, otp); err != nil {
		return fmt.Errorf("failed to save code: %w", err)
	}

	msg, err := mailer.PasswordCode(cred.Email, code, r.config.CodeTTL)
	if err != nil {
		return err
	}
	if err := r.sender.Send(ctx, msg); err != nil {
		slog.Warn("failed to send password code",
			slog.String("user_id", cred.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	slog.Info("password code sent", slog.String("user_id", cred.ID))
	return nil
}

// Reset は確認コードを検証してパスワードを変更する。
// 変更後はそのユーザーの全セッションが破棄される。
// 試行回数が上限に達したコードは使用済みとして扱う。
func (r *Recovery) Reset(ctx context.Context, email, code, password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: at least %d characters", ErrWeakPassword, minPasswordLength)
	}

	cred, err := r.svc.creds.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return fmt.Errorf("failed to find credential: %w", err)
	}
	if cred == nil || cred.Disabled {
		return ErrInvalidCode
	}

	otp, err := r.codes.FindActive(ctx, cred.ID)
	if err != nil {
		return fmt.Errorf("failed to find code: %w", err)
	}
	if otp == nil {
		return ErrInvalidCode
	}

	attempts, err := r.codes.IncrementAttempts(ctx, otp.ID)
	if err != nil {
		return fmt.Errorf("failed to count attempt: %w", err)
	}
	match := subtle.ConstantTimeCompare(hashCode(strings.TrimSpace(code)), otp.CodeHash) == 1
	if !match || attempts > r.config.MaxAttempts {
		if attempts >= r.config.MaxAttempts {
			if err := r.codes.MarkUsed(ctx, otp.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("failed to burn code: %w", err)
			}
			slog.Warn("password code burned after too many attempts", slog.String("user_id", cred.ID))
		}
		return ErrInvalidCode
	}

	// 同時に同じコードが使われた場合は一方だけが成功する
	if err := r.codes.MarkUsed(ctx, otp.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidCode
		}
		return fmt.Errorf("failed to consume code: %w", err)
	}

	if err := r.svc.ResetPassword(ctx, cred.ID, password); err != nil {
		return err
	}
	slog.Info("password reset", slog.String("user_id", cred.ID))
	return nil
}

func hashCode(code string) []byte {
	sum := sha256.Sum256([]byte(code))
	return sum[:]
}

// generateCode は10進6桁の確認コードを生成する。
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

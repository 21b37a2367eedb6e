package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/choraleadmin/internal/model"
)

// PostgresOTPRepo はPostgreSQLを使用したパスワード再設定コードのリポジトリ。
type PostgresOTPRepo struct {
	db *sql.DB
}

// NewPostgresOTPRepo はPostgresOTPRepoを生成する。
func NewPostgresOTPRepo(db *sql.DB) *PostgresOTPRepo {
	return &PostgresOTPRepo{db: db}
}

// Create はコードを保存し、同じユーザーの未使用コードを無効化する。
func (r *PostgresOTPRepo) Create(ctx context.Context, code *model.OTPCode) error {
	if code.ID == "" {
		code.ID = uuid.New().String()
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE otp_codes SET used_at = now() WHERE user_id = $1 AND used_at IS NULL`,
		code.UserID,
	); err != nil {
		return fmt.Errorf("failed to burn previous codes: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO otp_codes (id, user_id, code_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		code.ID, code.UserID, code.CodeHash, code.ExpiresAt, code.CreatedAt,
	); err != nil {
		return wrapPQError("failed to insert otp code", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FindActive は指定ユーザーの未使用かつ有効期限内の最新コードを返す。見つからない場合はnilを返す。
func (r *PostgresOTPRepo) FindActive(ctx context.Context, userID string) (*model.OTPCode, error) {
	code := &model.OTPCode{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, code_hash, attempts, expires_at, used_at, created_at
		 FROM otp_codes
		 WHERE user_id = $1 AND used_at IS NULL AND expires_at > now()
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID,
	).Scan(&code.ID, &code.UserID, &code.CodeHash, &code.Attempts, &code.ExpiresAt, &code.UsedAt, &code.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find otp code: %w", err)
	}
	return code, nil
}

// IncrementAttempts は試行回数を1増やし、更新後の値を返す。
func (r *PostgresOTPRepo) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx,
		`UPDATE otp_codes SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`,
		id,
	).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("otp code %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment otp attempts: %w", err)
	}
	return attempts, nil
}

// MarkUsed はコードを使用済みにする。既に使用済みの場合はErrNotFoundを返す。
func (r *PostgresOTPRepo) MarkUsed(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE otp_codes SET used_at = now() WHERE id = $1 AND used_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark otp code used: %w", err)
	}
	return expectOneRow(result, "otp code", id)
}

// DeleteExpired は期限切れまたは使用済みのコードを削除し、削除件数を返す。
func (r *PostgresOTPRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM otp_codes WHERE expires_at < now() OR used_at IS NOT NULL`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired otp codes: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ OTPRepository = (*PostgresOTPRepo)(nil)

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/choraleadmin/internal/model"
)

// PostgresCredentialRepo はPostgreSQLを使用した資格情報リポジトリ。
type PostgresCredentialRepo struct {
	db *sql.DB
}

// NewPostgresCredentialRepo はPostgresCredentialRepoを生成する。
func NewPostgresCredentialRepo(db *sql.DB) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db}
}

// FindByEmail はメールアドレスで資格情報を取得する。見つからない場合はnilを返す。
func (r *PostgresCredentialRepo) FindByEmail(ctx context.Context, email string) (*model.Credential, error) {
	cred := &model.Credential{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, disabled, created_at
		 FROM identities
		 WHERE lower(email) = lower($1)`,
		strings.TrimSpace(email),
	).Scan(&cred.ID, &cred.Email, &cred.PasswordHash, &cred.Disabled, &cred.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credential by email: %w", err)
	}

	return cred, nil
}

// FindByID は指定IDのidentityを取得する。見つからない場合はnilを返す。
func (r *PostgresCredentialRepo) FindByID(ctx context.Context, id string) (*model.Identity, error) {
	identity := &model.Identity{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, created_at FROM identities WHERE id = $1 AND NOT disabled`,
		id,
	).Scan(&identity.ID, &identity.Email, &identity.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by ID: %w", err)
	}

	return identity, nil
}

// Create はidentityを作成する。
func (r *PostgresCredentialRepo) Create(ctx context.Context, cred *model.Credential) error {
	prepareCredential(cred)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO identities (id, email, password_hash, disabled, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		cred.ID, cred.Email, cred.PasswordHash, cred.Disabled, cred.CreatedAt,
	)
	if err != nil {
		return wrapPQError("failed to insert identity", err)
	}
	return nil
}

// CreateWithProfile はidentityとprofileを同一トランザクションで作成する。
func (r *PostgresCredentialRepo) CreateWithProfile(ctx context.Context, cred *model.Credential, profile *model.Profile) error {
	prepareCredential(cred)
	if profile.ID == "" {
		profile.ID = uuid.New().String()
	}
	profile.UserID = cred.ID
	profile.Email = cred.Email
	profile.CreatedAt = cred.CreatedAt
	profile.UpdatedAt = cred.CreatedAt

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities (id, email, password_hash, disabled, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		cred.ID, cred.Email, cred.PasswordHash, cred.Disabled, cred.CreatedAt,
	)
	if err != nil {
		return wrapPQError("failed to insert identity", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO profiles (id, user_id, full_name, role, chorale_id, statut_validation, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		profile.ID, profile.UserID, profile.FullName, string(profile.Role),
		nullIfEmpty(profile.ChoraleID), nullIfEmpty(string(profile.ValidationStatus)),
		profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		return wrapPQError("failed to insert profile", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// DeleteByID は指定IDのidentityを削除する。
// 関連するprofiles、user_permissions、sessionsはCASCADE削除される。
func (r *PostgresCredentialRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM identities WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("identity %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdatePassword はパスワードハッシュを更新する。
func (r *PostgresCredentialRepo) UpdatePassword(ctx context.Context, id string, passwordHash []byte) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE identities SET password_hash = $2 WHERE id = $1`,
		id, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return expectOneRow(result, "identity", id)
}

func prepareCredential(cred *model.Credential) {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now()
	}
	cred.Email = strings.ToLower(strings.TrimSpace(cred.Email))
}

// compile-time interface check
var _ CredentialRepository = (*PostgresCredentialRepo)(nil)

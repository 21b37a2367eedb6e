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

const profileColumns = `p.id, p.user_id, p.full_name, i.email, p.role, p.chorale_id, p.statut_validation, p.created_at, p.updated_at`

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanProfile は1行を読み取り、ロールと承認状態を閉じた列挙型として検証する。
func scanProfile(row rowScanner) (*model.Profile, error) {
	var (
		p         model.Profile
		role      string
		choraleID sql.NullString
		status    sql.NullString
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.FullName, &p.Email, &role, &choraleID, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}

	parsedRole, err := model.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", p.UserID, err)
	}
	parsedStatus, err := model.ParseValidationStatus(status.String)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", p.UserID, err)
	}

	p.Role = parsedRole
	p.ValidationStatus = parsedStatus
	p.ChoraleID = choraleID.String
	return &p, nil
}

// FindByUserID はidentity IDでプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, nil
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+`
		 FROM profiles p
		 JOIN identities i ON i.id = p.user_id
		 WHERE p.user_id = $1`,
		userID,
	)
	profile, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	return profile, nil
}

// List は条件に一致するプロフィールを作成日時の降順で返す。
// 承認状態の絞り込みでvalideを指定した場合はNULLも含める。
func (r *PostgresProfileRepo) List(ctx context.Context, filter model.ProfileFilter) ([]*model.Profile, error) {
	var (
		conds []string
		args  []any
	)
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+q+"%")
		conds = append(conds, fmt.Sprintf("(p.full_name ILIKE $%d OR i.email ILIKE $%d)", len(args), len(args)))
	}
	if filter.Role != "" {
		args = append(args, string(filter.Role))
		conds = append(conds, fmt.Sprintf("p.role = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		if filter.Status == model.StatusValide {
			conds = append(conds, fmt.Sprintf("(p.statut_validation = $%d OR p.statut_validation IS NULL)", len(args)))
		} else {
			conds = append(conds, fmt.Sprintf("p.statut_validation = $%d", len(args)))
		}
	}

	query := `SELECT ` + profileColumns + `
		 FROM profiles p
		 JOIN identities i ON i.id = p.user_id`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY p.created_at DESC"

	return r.queryProfiles(ctx, query, args...)
}

// ListPending は承認待ちのプロフィールを作成日時の昇順で返す。
func (r *PostgresProfileRepo) ListPending(ctx context.Context) ([]*model.Profile, error) {
	return r.queryProfiles(ctx,
		`SELECT `+profileColumns+`
		 FROM profiles p
		 JOIN identities i ON i.id = p.user_id
		 WHERE p.statut_validation = 'en_attente'
		 ORDER BY p.created_at ASC`,
	)
}

func (r *PostgresProfileRepo) queryProfiles(ctx context.Context, query string, args ...any) ([]*model.Profile, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return profiles, nil
}

// Update は氏名・ロール・所属チョラルを更新する。
// revokePermissionsがtrueの場合は同一トランザクションで全権限を削除する。
func (r *PostgresProfileRepo) Update(ctx context.Context, profile *model.Profile, revokePermissions bool) error {
	profile.UpdatedAt = time.Now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE profiles SET full_name = $2, role = $3, chorale_id = $4, updated_at = $5
		 WHERE user_id = $1`,
		profile.UserID, profile.FullName, string(profile.Role), nullIfEmpty(profile.ChoraleID), profile.UpdatedAt,
	)
	if err != nil {
		return wrapPQError("failed to update profile", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("profile %s: %w", profile.UserID, ErrNotFound)
	}

	if revokePermissions {
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_permissions WHERE user_id = $1`, profile.UserID); err != nil {
			return fmt.Errorf("failed to revoke permissions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecordDecision はプロフィールの承認状態・ロール・所属チョラルを更新し、
// validations_membresへの履歴挿入を同一トランザクションで行う。
func (r *PostgresProfileRepo) RecordDecision(ctx context.Context, profile *model.Profile, decision *model.ValidationDecision) error {
	now := time.Now()
	profile.UpdatedAt = now
	if decision.ID == "" {
		decision.ID = uuid.New().String()
	}
	decision.CreatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE profiles SET statut_validation = $2, role = $3, chorale_id = $4, updated_at = $5
		 WHERE user_id = $1`,
		profile.UserID, string(profile.ValidationStatus), string(profile.Role), nullIfEmpty(profile.ChoraleID), now,
	)
	if err != nil {
		return wrapPQError("failed to update validation status", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO validations_membres (id, user_id, chorale_id, validateur_id, action, commentaire, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		decision.ID, decision.UserID, nullIfEmpty(decision.ChoraleID), nullIfEmpty(decision.ValidatorID),
		string(decision.Action), decision.Comment, decision.CreatedAt,
	)
	if err != nil {
		return wrapPQError("failed to insert validation history", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/choraleadmin/internal/model"
)

// PostgresPermissionRepo はPostgreSQLを使用した権限リポジトリ。
type PostgresPermissionRepo struct {
	db *sql.DB
}

// NewPostgresPermissionRepo はPostgresPermissionRepoを生成する。
func NewPostgresPermissionRepo(db *sql.DB) *PostgresPermissionRepo {
	return &PostgresPermissionRepo{db: db}
}

// ListModules は権限モジュールをカテゴリ・名前順に返す。
func (r *PostgresPermissionRepo) ListModules(ctx context.Context) ([]*model.PermissionModule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, code, nom, description, categorie, created_at
		 FROM modules_permissions
		 ORDER BY categorie ASC, nom ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list permission modules: %w", err)
	}
	defer rows.Close()

	var modules []*model.PermissionModule
	for rows.Next() {
		m := &model.PermissionModule{}
		if err := rows.Scan(&m.ID, &m.Code, &m.Name, &m.Description, &m.Category, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission module: %w", err)
		}
		modules = append(modules, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permission modules: %w", err)
	}
	return modules, nil
}

// FindModule はコードで権限モジュールを取得する。見つからない場合はnilを返す。
func (r *PostgresPermissionRepo) FindModule(ctx context.Context, code string) (*model.PermissionModule, error) {
	m := &model.PermissionModule{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, code, nom, description, categorie, created_at
		 FROM modules_permissions WHERE code = $1`,
		code,
	).Scan(&m.ID, &m.Code, &m.Name, &m.Description, &m.Category, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find permission module: %w", err)
	}
	return m, nil
}

// ListAdminPermissions は管理者ロールのユーザーと付与済みモジュールを返す。
// super_adminの暗黙的な全権限はここでは展開しない。
func (r *PostgresPermissionRepo) ListAdminPermissions(ctx context.Context) ([]*model.UserPermissions, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.user_id, p.full_name, i.email, p.role,
			COALESCE(array_agg(up.module_code ORDER BY up.module_code) FILTER (WHERE up.module_code IS NOT NULL), '{}')
		 FROM profiles p
		 JOIN identities i ON i.id = p.user_id
		 LEFT JOIN user_permissions up ON up.user_id = p.user_id
		 WHERE p.role IN ('admin', 'super_admin')
		 GROUP BY p.user_id, p.full_name, i.email, p.role
		 ORDER BY p.full_name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list admin permissions: %w", err)
	}
	defer rows.Close()

	var results []*model.UserPermissions
	for rows.Next() {
		var (
			up   model.UserPermissions
			role string
		)
		if err := rows.Scan(&up.UserID, &up.FullName, &up.Email, &role, pq.Array(&up.Modules)); err != nil {
			return nil, fmt.Errorf("failed to scan admin permissions: %w", err)
		}
		parsed, err := model.ParseRole(role)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", up.UserID, err)
		}
		up.Role = parsed
		results = append(results, &up)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate admin permissions: %w", err)
	}
	return results, nil
}

// ModulesForUser は指定ユーザーに付与されたモジュールコードを返す。
func (r *PostgresPermissionRepo) ModulesForUser(ctx context.Context, userID string) ([]string, error) {
	var codes []string
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(array_agg(module_code ORDER BY module_code), '{}')
		 FROM user_permissions WHERE user_id = $1`,
		userID,
	).Scan(pq.Array(&codes))
	if err != nil {
		return nil, fmt.Errorf("failed to list user modules: %w", err)
	}
	return codes, nil
}

// Grant は権限を付与する。付与済みの場合は何もしない。
func (r *PostgresPermissionRepo) Grant(ctx context.Context, userID, moduleCode string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_permissions (user_id, module_code)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id, module_code) DO NOTHING`,
		userID, moduleCode,
	)
	if err != nil {
		return wrapPQError("failed to grant permission", err)
	}
	return nil
}

// Revoke は権限を剥奪する。未付与の場合は何もしない。
func (r *PostgresPermissionRepo) Revoke(ctx context.Context, userID, moduleCode string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM user_permissions WHERE user_id = $1 AND module_code = $2`,
		userID, moduleCode,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PermissionRepository = (*PostgresPermissionRepo)(nil)

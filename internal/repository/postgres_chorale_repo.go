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

const choraleColumns = `c.id, c.nom, c.slug, c.description, c.logo_url, c.couleur_theme, c.email_contact,
	c.telephone, c.adresse, c.ville, c.pays, c.site_web, c.statut, c.created_at, c.updated_at`

// PostgresChoraleRepo はPostgreSQLを使用したチョラルリポジトリ。
type PostgresChoraleRepo struct {
	db *sql.DB
}

// NewPostgresChoraleRepo はPostgresChoraleRepoを生成する。
func NewPostgresChoraleRepo(db *sql.DB) *PostgresChoraleRepo {
	return &PostgresChoraleRepo{db: db}
}

func scanChorale(row rowScanner, c *model.Chorale, extra ...any) error {
	dest := []any{
		&c.ID, &c.Name, &c.Slug, &c.Description, &c.LogoURL, &c.ThemeColor, &c.ContactEmail,
		&c.Phone, &c.Address, &c.City, &c.Country, &c.Website, &c.Status, &c.CreatedAt, &c.UpdatedAt,
	}
	return row.Scan(append(dest, extra...)...)
}

// FindByID は指定IDのチョラルを取得する。見つからない場合はnilを返す。
func (r *PostgresChoraleRepo) FindByID(ctx context.Context, id string) (*model.Chorale, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	c := &model.Chorale{}
	err := scanChorale(r.db.QueryRowContext(ctx,
		`SELECT `+choraleColumns+` FROM chorales c WHERE c.id = $1`,
		id,
	), c)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find chorale: %w", err)
	}
	return c, nil
}

// List は条件に一致するチョラルをメンバー数・チャント数付きで名前順に返す。
func (r *PostgresChoraleRepo) List(ctx context.Context, filter model.ChoraleFilter) ([]model.ChoraleWithCounts, error) {
	var (
		conds []string
		args  []any
	)
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+q+"%")
		conds = append(conds, fmt.Sprintf("(c.nom ILIKE $%d OR c.ville ILIKE $%d)", len(args), len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("c.statut = $%d", len(args)))
	}

	query := `SELECT ` + choraleColumns + `,
			(SELECT count(*) FROM profiles p WHERE p.chorale_id = c.id),
			(SELECT count(*) FROM chants ch WHERE ch.chorale_id = c.id)
		 FROM chorales c`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY c.nom ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chorales: %w", err)
	}
	defer rows.Close()

	var results []model.ChoraleWithCounts
	for rows.Next() {
		var c model.ChoraleWithCounts
		if err := scanChorale(rows, &c.Chorale, &c.MemberCount, &c.SongCount); err != nil {
			return nil, fmt.Errorf("failed to scan chorale: %w", err)
		}
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chorales: %w", err)
	}
	return results, nil
}

// Create はチョラルを作成する。slug重複時はErrDuplicateを返す。
func (r *PostgresChoraleRepo) Create(ctx context.Context, c *model.Chorale) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = model.ChoraleActive
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chorales (id, nom, slug, description, logo_url, couleur_theme, email_contact,
			telephone, adresse, ville, pays, site_web, statut, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		c.ID, c.Name, c.Slug, c.Description, c.LogoURL, c.ThemeColor, c.ContactEmail,
		c.Phone, c.Address, c.City, c.Country, c.Website, string(c.Status), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return wrapPQError("failed to insert chorale", err)
	}
	return nil
}

// Update はチョラル情報を更新する。
func (r *PostgresChoraleRepo) Update(ctx context.Context, c *model.Chorale) error {
	c.UpdatedAt = time.Now()
	result, err := r.db.ExecContext(ctx,
		`UPDATE chorales SET nom = $2, slug = $3, description = $4, logo_url = $5, couleur_theme = $6,
			email_contact = $7, telephone = $8, adresse = $9, ville = $10, pays = $11, site_web = $12,
			statut = $13, updated_at = $14
		 WHERE id = $1`,
		c.ID, c.Name, c.Slug, c.Description, c.LogoURL, c.ThemeColor,
		c.ContactEmail, c.Phone, c.Address, c.City, c.Country, c.Website,
		string(c.Status), c.UpdatedAt,
	)
	if err != nil {
		return wrapPQError("failed to update chorale", err)
	}
	return expectOneRow(result, "chorale", c.ID)
}

// UpdateStatus はチョラルの稼働状態を更新する。
func (r *PostgresChoraleRepo) UpdateStatus(ctx context.Context, id string, status model.ChoraleStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE chorales SET statut = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("failed to update chorale status: %w", err)
	}
	return expectOneRow(result, "chorale", id)
}

// Delete は指定IDのチョラルを削除する。
// chantsはCASCADE削除され、profiles.chorale_idはNULLになる。
func (r *PostgresChoraleRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM chorales WHERE id = $1`, id)
	if err != nil {
		return wrapPQError("failed to delete chorale", err)
	}
	return expectOneRow(result, "chorale", id)
}

func expectOneRow(result sql.Result, what, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

// compile-time interface check
var _ ChoraleRepository = (*PostgresChoraleRepo)(nil)

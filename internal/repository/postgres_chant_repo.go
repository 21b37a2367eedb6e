package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/choraleadmin/internal/model"
)

const chantColumns = `ch.id, ch.chorale_id, c.nom, ch.titre, ch.compositeur, ch.paroles, ch.audio_url,
	ch.duree, ch.langue, ch.categorie, ch.pupitre, ch.created_at, ch.updated_at`

// PostgresChantRepo はPostgreSQLを使用した楽曲リポジトリ。
type PostgresChantRepo struct {
	db *sql.DB
}

// NewPostgresChantRepo はPostgresChantRepoを生成する。
func NewPostgresChantRepo(db *sql.DB) *PostgresChantRepo {
	return &PostgresChantRepo{db: db}
}

func scanChant(row rowScanner) (*model.Chant, error) {
	ch := &model.Chant{}
	var pupitre string
	if err := row.Scan(
		&ch.ID, &ch.ChoraleID, &ch.ChoraleName, &ch.Title, &ch.Composer, &ch.Lyrics, &ch.AudioURL,
		&ch.Duration, &ch.Language, &ch.Category, &pupitre, &ch.CreatedAt, &ch.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p, err := model.ParsePupitre(pupitre)
	if err != nil {
		return nil, fmt.Errorf("chant %s: %w", ch.ID, err)
	}
	ch.Pupitre = p
	return ch, nil
}

// FindByID は指定IDの楽曲を所属チョラル名付きで取得する。見つからない場合はnilを返す。
func (r *PostgresChantRepo) FindByID(ctx context.Context, id string) (*model.Chant, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	ch, err := scanChant(r.db.QueryRowContext(ctx,
		`SELECT `+chantColumns+`
		 FROM chants ch JOIN chorales c ON c.id = ch.chorale_id
		 WHERE ch.id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find chant: %w", err)
	}
	return ch, nil
}

// List は条件に一致する楽曲を作成日時の降順で返す。
func (r *PostgresChantRepo) List(ctx context.Context, filter model.ChantFilter) ([]*model.Chant, error) {
	var (
		conds []string
		args  []any
	)
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+q+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(ch.titre ILIKE $%d OR ch.compositeur ILIKE $%d OR c.nom ILIKE $%d)", n, n, n))
	}
	if filter.ChoraleID != "" {
		if _, err := uuid.Parse(filter.ChoraleID); err != nil {
			return nil, nil
		}
		args = append(args, filter.ChoraleID)
		conds = append(conds, fmt.Sprintf("ch.chorale_id = $%d", len(args)))
	}
	if filter.Pupitre != nil {
		args = append(args, string(*filter.Pupitre))
		conds = append(conds, fmt.Sprintf("ch.pupitre = $%d", len(args)))
	}

	query := `SELECT ` + chantColumns + ` FROM chants ch JOIN chorales c ON c.id = ch.chorale_id`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ch.created_at DESC, ch.id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chants: %w", err)
	}
	defer rows.Close()

	var chants []*model.Chant
	for rows.Next() {
		ch, err := scanChant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chant: %w", err)
		}
		chants = append(chants, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chants: %w", err)
	}
	return chants, nil
}

// Update はタイトルと所属チョラルを更新する。
func (r *PostgresChantRepo) Update(ctx context.Context, ch *model.Chant) error {
	err := r.db.QueryRowContext(ctx,
		`UPDATE chants SET titre = $2, chorale_id = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		ch.ID, ch.Title, ch.ChoraleID,
	).Scan(&ch.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("chant %s: %w", ch.ID, ErrNotFound)
	}
	if err != nil {
		return wrapPQError("failed to update chant", err)
	}
	return nil
}

// Delete は指定IDの楽曲を削除する。
func (r *PostgresChantRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM chants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete chant: %w", err)
	}
	return expectOneRow(result, "chant", id)
}

// compile-time interface check
var _ ChantRepository = (*PostgresChantRepo)(nil)

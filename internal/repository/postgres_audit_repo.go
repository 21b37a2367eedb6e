package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/choraleadmin/internal/model"
)

// PostgresAuditRepo はPostgreSQLを使用した監査ログリポジトリ。
type PostgresAuditRepo struct {
	db *sql.DB
}

// NewPostgresAuditRepo はPostgresAuditRepoを生成する。
func NewPostgresAuditRepo(db *sql.DB) *PostgresAuditRepo {
	return &PostgresAuditRepo{db: db}
}

// Create は監査ログを記録する。
func (r *PostgresAuditRepo) Create(ctx context.Context, entry *model.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	details := entry.Details
	if len(details) == 0 {
		details = []byte("{}")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO admin_logs (id, admin_id, action, table_name, record_id, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, nullIfEmpty(entry.AdminID), entry.Action, entry.TableName, entry.RecordID, string(details), entry.CreatedAt,
	)
	if err != nil {
		return wrapPQError("failed to insert audit entry", err)
	}
	return nil
}

// List は監査ログを新しい順に返す。操作者のメールアドレスを結合する。
func (r *PostgresAuditRepo) List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT l.id, COALESCE(l.admin_id::text, ''), COALESCE(i.email, ''), l.action,
			l.table_name, l.record_id, l.details, l.created_at
		 FROM admin_logs l
		 LEFT JOIN identities i ON i.id = l.admin_id
		 WHERE ($1 = '' OR l.action = $1)
		 ORDER BY l.created_at DESC
		 LIMIT $2`,
		filter.Action, filter.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.AuditEntry
	for rows.Next() {
		e := &model.AuditEntry{}
		var details []byte
		if err := rows.Scan(&e.ID, &e.AdminID, &e.AdminEmail, &e.Action, &e.TableName, &e.RecordID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Details = details
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}

// compile-time interface check
var _ AuditRepository = (*PostgresAuditRepo)(nil)

// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/choraleadmin/internal/model"
)

// CredentialRepository は認証プロバイダーが管理する資格情報の永続化インターフェース。
type CredentialRepository interface {
	// FindByEmail はメールアドレス（大文字小文字を区別しない）で資格情報を取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Credential, error)

	// FindByID は指定IDのidentityを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Identity, error)

	// Create はidentityを作成する。メールアドレス重複時はErrDuplicateを返す。
	Create(ctx context.Context, cred *model.Credential) error

	// CreateWithProfile はidentityとprofileを同一トランザクションで作成する。
	CreateWithProfile(ctx context.Context, cred *model.Credential, profile *model.Profile) error

	// DeleteByID は指定IDのidentityを削除する。
	// 関連するprofiles、user_permissions、sessionsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error

	// UpdatePassword はパスワードハッシュを更新する。見つからない場合はErrNotFoundを返す。
	UpdatePassword(ctx context.Context, id string, passwordHash []byte) error
}

// OTPRepository はパスワード再設定コードの永続化インターフェース。
type OTPRepository interface {
	// Create はコードを保存する。同じユーザーの未使用コードは同一トランザクションで無効化する。
	Create(ctx context.Context, code *model.OTPCode) error
	// FindActive は指定ユーザーの未使用かつ有効期限内の最新コードを返す。見つからない場合はnilを返す。
	FindActive(ctx context.Context, userID string) (*model.OTPCode, error)
	// IncrementAttempts は試行回数を1増やし、更新後の値を返す。
	IncrementAttempts(ctx context.Context, id string) (int, error)
	// MarkUsed はコードを使用済みにする。既に使用済みの場合はErrNotFoundを返す。
	MarkUsed(ctx context.Context, id string) error
	// DeleteExpired は期限切れまたは使用済みのコードを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// SessionRepository はプロバイダーセッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.ProviderSession) error
	// FindByToken は指定トークンのセッションを取得する。期限切れの場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.ProviderSession, error)
	// DeleteByToken は指定トークンのセッションを削除する。
	DeleteByToken(ctx context.Context, token string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除し、削除したトークンを返す。
	DeleteByUserID(ctx context.Context, userID string) ([]string, error)
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
	// CountActive は有効なセッション数を返す。
	CountActive(ctx context.Context) (int, error)
}

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByUserID はidentity IDでプロフィールを取得する。見つからない場合はnilを返す。
	// ロールと承認状態はモデル境界で検証され、未知の値はエラーになる。
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)

	// List は条件に一致するプロフィールを作成日時の降順で返す。
	List(ctx context.Context, filter model.ProfileFilter) ([]*model.Profile, error)

	// ListPending は承認待ちのプロフィールを作成日時の昇順で返す。
	ListPending(ctx context.Context) ([]*model.Profile, error)

	// Update は氏名・ロール・所属チョラルを更新する。
	// revokePermissionsがtrueの場合は同一トランザクションで全権限を削除する。
	Update(ctx context.Context, profile *model.Profile, revokePermissions bool) error

	// RecordDecision はプロフィールの承認状態を更新し、承認履歴を同一トランザクションで記録する。
	RecordDecision(ctx context.Context, profile *model.Profile, decision *model.ValidationDecision) error
}

// ChoraleRepository はチョラルの永続化インターフェース。
type ChoraleRepository interface {
	// FindByID は指定IDのチョラルを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Chorale, error)

	// List は条件に一致するチョラルをメンバー数・チャント数付きで名前順に返す。
	List(ctx context.Context, filter model.ChoraleFilter) ([]model.ChoraleWithCounts, error)

	// Create はチョラルを作成する。slug重複時はErrDuplicateを返す。
	Create(ctx context.Context, chorale *model.Chorale) error

	// Update はチョラル情報を更新する。
	Update(ctx context.Context, chorale *model.Chorale) error

	// UpdateStatus はチョラルの稼働状態を更新する。
	UpdateStatus(ctx context.Context, id string, status model.ChoraleStatus) error

	// Delete は指定IDのチョラルを削除する。
	Delete(ctx context.Context, id string) error
}

// ChantRepository は楽曲の永続化インターフェース。
type ChantRepository interface {
	// FindByID は指定IDの楽曲を所属チョラル名付きで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Chant, error)

	// List は条件に一致する楽曲を作成日時の降順で返す。
	List(ctx context.Context, filter model.ChantFilter) ([]*model.Chant, error)

	// Update はタイトルと所属チョラルを更新する。
	// チョラルが存在しない場合はErrReferenceMissingを返す。
	Update(ctx context.Context, chant *model.Chant) error

	// Delete は指定IDの楽曲を削除する。
	Delete(ctx context.Context, id string) error
}

// PermissionRepository は権限モジュールとユーザー権限の永続化インターフェース。
type PermissionRepository interface {
	// ListModules は権限モジュールをカテゴリ・名前順に返す。
	ListModules(ctx context.Context) ([]*model.PermissionModule, error)

	// FindModule はコードで権限モジュールを取得する。見つからない場合はnilを返す。
	FindModule(ctx context.Context, code string) (*model.PermissionModule, error)

	// ListAdminPermissions は管理者ロールのユーザーと付与済みモジュールを返す。
	ListAdminPermissions(ctx context.Context) ([]*model.UserPermissions, error)

	// ModulesForUser は指定ユーザーに付与されたモジュールコードを返す。
	ModulesForUser(ctx context.Context, userID string) ([]string, error)

	// Grant は権限を付与する。付与済みの場合は何もしない。
	Grant(ctx context.Context, userID, moduleCode string) error

	// Revoke は権限を剥奪する。未付与の場合は何もしない。
	Revoke(ctx context.Context, userID, moduleCode string) error
}

// AuditRepository は管理操作ログの永続化インターフェース。
type AuditRepository interface {
	// Create は監査ログを記録する。
	Create(ctx context.Context, entry *model.AuditEntry) error
	// List は監査ログを新しい順に返す。
	List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error)
}

// NotificationRepository は管理者向け通知の永続化インターフェース。
type NotificationRepository interface {
	// List は通知を新しい順に返す。
	List(ctx context.Context, limit int, onlyUnread bool) ([]*model.Notification, error)
	// CountUnread は未読通知数を返す。
	CountUnread(ctx context.Context) (int, error)
	// MarkRead は通知を既読にする。見つからない場合はfalseを返す。
	MarkRead(ctx context.Context, id int64) (bool, error)
	// MarkAllRead は全通知を既読にし、更新件数を返す。
	MarkAllRead(ctx context.Context) (int64, error)
	// DeleteReadBefore は指定時刻より古い既読通知を削除し、削除件数を返す。
	DeleteReadBefore(ctx context.Context, before time.Time) (int64, error)
}

// StatsRepository はダッシュボード集計の読み出しインターフェース。
type StatsRepository interface {
	// Counts は集計タイル用の件数を返す。割合は計算しない。
	Counts(ctx context.Context) (*model.DashboardStats, error)
}

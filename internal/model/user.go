// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"time"
)

// Identity は認証プロバイダーが管理するアカウントを表す。
// アプリケーション側からは読み取り専用として扱う。
type Identity struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// Credential はIdentityの資格情報の状態を表す。
// identityパッケージの外には公開しない前提のレコード。
type Credential struct {
	Identity
	PasswordHash []byte
	Disabled     bool
}

// Role はプロフィールのロールを表す閉じた列挙型。
type Role string

const (
	// RoleSuperAdmin は全権限を暗黙的に保持するシステム管理者。
	RoleSuperAdmin Role = "super_admin"
	// RoleAdmin はダッシュボードにアクセスできる管理者。
	RoleAdmin Role = "admin"
	// RoleMembre はチョラルに所属する一般メンバー。
	RoleMembre Role = "membre"
	// RoleUser は未所属の利用者。
	RoleUser Role = "user"
)

// ValidationStatus はプロフィールの承認状態を表す閉じた列挙型。
type ValidationStatus string

const (
	// StatusValide は承認済み。
	StatusValide ValidationStatus = "valide"
	// StatusEnAttente は承認待ち。
	StatusEnAttente ValidationStatus = "en_attente"
	// StatusRefuse は却下済み。
	StatusRefuse ValidationStatus = "refuse"
)

var (
	// ErrUnknownRole は未知のロール文字列を受け取った場合のエラー。
	ErrUnknownRole = errors.New("unknown role")
	// ErrUnknownValidationStatus は未知の承認状態文字列を受け取った場合のエラー。
	ErrUnknownValidationStatus = errors.New("unknown validation status")
)

// ParseRole は文字列をRoleに変換する。未知の値はErrUnknownRoleを返す。
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSuperAdmin, RoleAdmin, RoleMembre, RoleUser:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// IsAdmin はダッシュボードへのアクセスが許可されたロールかどうかを返す。
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// ParseValidationStatus は文字列をValidationStatusに変換する。
// 空文字列（DB上のNULL）はStatusValideとして扱う。
func ParseValidationStatus(s string) (ValidationStatus, error) {
	switch ValidationStatus(s) {
	case "":
		return StatusValide, nil
	case StatusValide, StatusEnAttente, StatusRefuse:
		return ValidationStatus(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownValidationStatus, s)
}

// Profile はIdentityに紐づくアプリケーション側のユーザー情報を表す。
type Profile struct {
	ID               string
	UserID           string
	FullName         string
	Email            string
	Role             Role
	ChoraleID        string // 未所属の場合は空文字列
	ValidationStatus ValidationStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProviderSession は認証プロバイダーが発行するベアラーセッションを表す。
type ProviderSession struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ProfileFilter はプロフィール一覧の絞り込み条件。
type ProfileFilter struct {
	Query  string
	Role   Role
	Status ValidationStatus
}

// OTPCode はパスワード再設定用の確認コードを表す。
// コード本体は保持せずSHA-256ハッシュのみを保存する。
type OTPCode struct {
	ID        string
	UserID    string
	CodeHash  []byte
	Attempts  int
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

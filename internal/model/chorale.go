// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"
)

// ChoraleStatus はチョラルの稼働状態を表す。
type ChoraleStatus string

const (
	// ChoraleActive は稼働中。
	ChoraleActive ChoraleStatus = "actif"
	// ChoraleInactive は停止中。
	ChoraleInactive ChoraleStatus = "inactif"
)

// Chorale は合唱団（テナント相当）を表す。
type Chorale struct {
	ID           string
	Name         string
	Slug         string
	Description  string
	LogoURL      string
	ThemeColor   string
	ContactEmail string
	Phone        string
	Address      string
	City         string
	Country      string
	Website      string
	Status       ChoraleStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ChoraleWithCounts はチョラルと集計値を結合した構造体。
type ChoraleWithCounts struct {
	Chorale
	MemberCount int
	SongCount   int
}

// ChoraleFilter はチョラル一覧の絞り込み条件。
type ChoraleFilter struct {
	Query  string
	Status ChoraleStatus
}

// PermissionModule は付与可能な機能モジュールを表す。
type PermissionModule struct {
	ID          string
	Code        string
	Name        string
	Description string
	Category    string
	CreatedAt   time.Time
}

// UserPermissions は管理者ユーザーと保持モジュールの一覧。
type UserPermissions struct {
	UserID   string
	FullName string
	Email    string
	Role     Role
	Modules  []string
}

// AuditEntry は管理操作の監査ログを表す。
type AuditEntry struct {
	ID         string
	AdminID    string
	AdminEmail string
	Action     string
	TableName  string
	RecordID   string
	Details    json.RawMessage
	CreatedAt  time.Time
}

// AuditFilter は監査ログ一覧の絞り込み条件。
type AuditFilter struct {
	Action string
	Limit  int
}

// NotificationType は管理者向け通知の種類。
type NotificationType string

const (
	NotificationNewSignup      NotificationType = "new_signup"
	NotificationEmailConfirmed NotificationType = "email_confirmed"
)

// Notification は管理者向け通知を表す。
type Notification struct {
	ID        int64
	Type      NotificationType
	Title     string
	Message   string
	UserID    string
	Read      bool
	CreatedAt time.Time
}

// ValidationDecision はメンバー承認・却下の履歴を表す。
type ValidationDecision struct {
	ID          string
	UserID      string
	ChoraleID   string
	ValidatorID string
	Action      ValidationStatus
	Comment     string
	CreatedAt   time.Time
}

// DashboardStats はダッシュボードの集計タイルを表す。
type DashboardStats struct {
	TotalChorales  int
	ActiveChorales int
	TotalMembers   int
	TotalSongs     int
	PendingMembers int
	TotalAdmins    int
	ActivePercent  float64
	PendingPercent float64
}

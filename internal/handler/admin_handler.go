package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/choraleadmin/internal/audit"
	"github.com/hitoshi/choraleadmin/internal/model"
	"github.com/hitoshi/choraleadmin/internal/notification"
	"github.com/hitoshi/choraleadmin/internal/stats"
)

// AuditServiceInterface は監査ログ参照に必要なサービスインターフェース。
type AuditServiceInterface interface {
	List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error)
}

// StatsServiceInterface はダッシュボード集計に必要なサービスインターフェース。
type StatsServiceInterface interface {
	Dashboard(ctx context.Context) (*model.DashboardStats, error)
}

// NotificationServiceInterface は通知ハンドラーが必要とするサービスインターフェース。
type NotificationServiceInterface interface {
	List(ctx context.Context, limit int, onlyUnread bool) (*notification.Summary, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context) (int64, error)
}

var (
	_ AuditServiceInterface        = (*audit.Service)(nil)
	_ StatsServiceInterface        = (*stats.Service)(nil)
	_ NotificationServiceInterface = (*notification.Service)(nil)
)

// AdminHandler は監査ログ・集計・通知の参照系HTTPハンドラー。
type AdminHandler struct {
	audit         AuditServiceInterface
	stats         StatsServiceInterface
	notifications NotificationServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(auditSvc AuditServiceInterface, statsSvc StatsServiceInterface, notifications NotificationServiceInterface) *AdminHandler {
	return &AdminHandler{
		audit:         auditSvc,
		stats:         statsSvc,
		notifications: notifications,
	}
}

type auditEntryResponse struct {
	ID         string          `json:"id"`
	AdminID    string          `json:"admin_id"`
	AdminEmail string          `json:"admin_email"`
	Action     string          `json:"action"`
	TableName  string          `json:"table_name"`
	RecordID   string          `json:"record_id"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type statsResponse struct {
	TotalChorales  int     `json:"total_chorales"`
	ActiveChorales int     `json:"chorales_actives"`
	TotalMembers   int     `json:"total_membres"`
	TotalSongs     int     `json:"total_chants"`
	PendingMembers int     `json:"membres_en_attente"`
	TotalAdmins    int     `json:"total_admins"`
	ActivePercent  float64 `json:"pourcentage_actives"`
	PendingPercent float64 `json:"pourcentage_en_attente"`
}

type notificationResponse struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"titre"`
	Message   string    `json:"message"`
	UserID    string    `json:"user_id,omitempty"`
	Read      bool      `json:"lu"`
	CreatedAt time.Time `json:"created_at"`
}

type notificationListResponse struct {
	Notifications []notificationResponse `json:"notifications"`
	Unread        int                    `json:"non_lues"`
}

// ListLogs は監査ログを新しい順に返す。
// GET /api/logs?action=...&limit=...
func (h *AdminHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	entries, err := h.audit.List(r.Context(), model.AuditFilter{
		Action: r.URL.Query().Get("action"),
		Limit:  limit,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, auditEntryResponse{
			ID:         e.ID,
			AdminID:    e.AdminID,
			AdminEmail: e.AdminEmail,
			Action:     e.Action,
			TableName:  e.TableName,
			RecordID:   e.RecordID,
			Details:    e.Details,
			CreatedAt:  e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stats はダッシュボードの集計タイルを返す。
// GET /api/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.stats.Dashboard(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(s))
}

func toStatsResponse(s *model.DashboardStats) statsResponse {
	return statsResponse{
		TotalChorales:  s.TotalChorales,
		ActiveChorales: s.ActiveChorales,
		TotalMembers:   s.TotalMembers,
		TotalSongs:     s.TotalSongs,
		PendingMembers: s.PendingMembers,
		TotalAdmins:    s.TotalAdmins,
		ActivePercent:  s.ActivePercent,
		PendingPercent: s.PendingPercent,
	}
}

// ListNotifications は通知と未読件数を返す。
// GET /api/notifications?limit=...&only_unread=true
func (h *AdminHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	onlyUnread, _ := strconv.ParseBool(r.URL.Query().Get("only_unread"))

	summary, err := h.notifications.List(r.Context(), limit, onlyUnread)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := notificationListResponse{
		Notifications: make([]notificationResponse, 0, len(summary.Notifications)),
		Unread:        summary.Unread,
	}
	for _, n := range summary.Notifications {
		resp.Notifications = append(resp.Notifications, notificationResponse{
			ID:        n.ID,
			Type:      string(n.Type),
			Title:     n.Title,
			Message:   n.Message,
			UserID:    n.UserID,
			Read:      n.Read,
			CreatedAt: n.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// UnreadCount は未読通知の件数を返す。
// GET /api/notifications/unread-count
func (h *AdminHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.UnreadCount(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"non_lues": n})
}

// MarkNotificationRead は通知を既読にする。
// POST /api/notifications/{id}/read
func (h *AdminHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeAPIError(w, model.NewInvalidInputError("identifiant de notification invalide"))
		return
	}

	if err := h.notifications.MarkRead(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllNotificationsRead は全通知を既読にする。
// POST /api/notifications/read-all
func (h *AdminHandler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.MarkAllRead(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// parseLimit はlimitクエリパラメータを読み取る。未指定の場合は0を返す。
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeAPIError(w, model.NewInvalidInputError("limit doit être un entier positif"))
		return 0, false
	}
	return limit, true
}

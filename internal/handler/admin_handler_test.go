package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/choraleadmin/internal/model"
	"github.com/hitoshi/choraleadmin/internal/notification"
)

func newTestAdminHandler(a *mockAuditService, n *mockNotificationService) *AdminHandler {
	if a == nil {
		a = &mockAuditService{}
	}
	if n == nil {
		n = &mockNotificationService{}
	}
	return NewAdminHandler(a, &mockStatsService{}, n)
}

func TestAdminHandler_ListLogs(t *testing.T) {
	var got model.AuditFilter
	h := newTestAdminHandler(&mockAuditService{
		listFn: func(_ context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error) {
			got = filter
			return []*model.AuditEntry{{
				ID:         "a-1",
				AdminEmail: "admin@x.org",
				Action:     "delete_chorale",
				Details:    json.RawMessage(`{"nom":"Chœur"}`),
				CreatedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
			}}, nil
		},
	}, nil)

	w := httptest.NewRecorder()
	h.ListLogs(w, httptest.NewRequest(http.MethodGet, "/api/logs?action=delete_chorale&limit=20", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got.Action != "delete_chorale" || got.Limit != 20 {
		t.Errorf("filter = %+v", got)
	}
	if !strings.Contains(w.Body.String(), `"details":{"nom":"Chœur"}`) {
		t.Errorf("details should be embedded as JSON: %s", w.Body.String())
	}
}

func TestAdminHandler_ListLogs_InvalidLimit(t *testing.T) {
	h := newTestAdminHandler(nil, nil)
	for _, limit := range []string{"abc", "-1"} {
		w := httptest.NewRecorder()
		h.ListLogs(w, httptest.NewRequest(http.MethodGet, "/api/logs?limit="+limit, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", limit, w.Code)
		}
	}
}

func TestAdminHandler_Stats(t *testing.T) {
	h := newTestAdminHandler(nil, nil)

	w := httptest.NewRecorder()
	h.Stats(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	var resp statsResponse
	decodeBody(t, w, &resp)
	if resp.TotalChorales != 3 || resp.ActivePercent != 66.7 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAdminHandler_ListNotifications(t *testing.T) {
	var gotLimit int
	var gotUnread bool
	h := newTestAdminHandler(nil, &mockNotificationService{
		listFn: func(_ context.Context, limit int, onlyUnread bool) (*notification.Summary, error) {
			gotLimit, gotUnread = limit, onlyUnread
			return &notification.Summary{
				Notifications: []*model.Notification{{ID: 7, Type: model.NotificationNewSignup, Title: "Nouvelle inscription"}},
				Unread:        1,
			}, nil
		},
	})

	w := httptest.NewRecorder()
	h.ListNotifications(w, httptest.NewRequest(http.MethodGet, "/api/notifications?only_unread=true", nil))

	if gotLimit != 0 || !gotUnread {
		t.Errorf("limit = %d, onlyUnread = %v", gotLimit, gotUnread)
	}
	var resp notificationListResponse
	decodeBody(t, w, &resp)
	if resp.Unread != 1 || len(resp.Notifications) != 1 || resp.Notifications[0].Type != "new_signup" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAdminHandler_MarkNotificationRead(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		err        error
		wantStatus int
	}{
		{"ok", "7", nil, http.StatusNoContent},
		{"missing", "8", model.NewNotificationNotFoundError(8), http.StatusNotFound},
		{"not a number", "abc", nil, http.StatusBadRequest},
		{"zero", "0", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestAdminHandler(nil, &mockNotificationService{
				markReadFn: func(context.Context, int64) error { return tt.err },
			})
			req := withChiURLParams(httptest.NewRequest(http.MethodPost, "/api/notifications/"+tt.id+"/read", nil), "id", tt.id)
			w := httptest.NewRecorder()
			h.MarkNotificationRead(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestAdminHandler_MarkAllNotificationsRead(t *testing.T) {
	h := newTestAdminHandler(nil, &mockNotificationService{
		markAllReadFn: func(context.Context) (int64, error) { return 3, nil },
	})
	w := httptest.NewRecorder()
	h.MarkAllNotificationsRead(w, httptest.NewRequest(http.MethodPost, "/api/notifications/read-all", nil))

	var resp map[string]int64
	decodeBody(t, w, &resp)
	if resp["updated"] != 3 {
		t.Errorf("resp = %v", resp)
	}
}

package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/choraleadmin/internal/auth"
	"github.com/hitoshi/choraleadmin/internal/model"
)

func TestAuthErrorStatus(t *testing.T) {
	tests := map[auth.Kind]int{
		auth.KindInvalidInput:       http.StatusBadRequest,
		auth.KindInvalidCredentials: http.StatusUnauthorized,
		auth.KindProfileMissing:     http.StatusForbidden,
		auth.KindAccessDenied:       http.StatusForbidden,
		auth.KindAccountRejected:    http.StatusForbidden,
		auth.KindAccountPending:     http.StatusForbidden,
		auth.KindNetworkFailure:     http.StatusServiceUnavailable,
		auth.KindUnknown:            http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := authErrorStatus(kind); got != want {
			t.Errorf("authErrorStatus(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestHandleServiceError_WrappedAPIError(t *testing.T) {
	w := httptest.NewRecorder()
	handleServiceError(w, fmt.Errorf("wrapped: %w", model.NewUserNotFoundError("u-1")))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if code := errorCode(t, w); code != model.ErrCodeUserNotFound {
		t.Errorf("code = %q", code)
	}
}

func TestHandleServiceError_AuthError(t *testing.T) {
	w := httptest.NewRecorder()
	handleServiceError(w, &auth.Error{Kind: auth.KindNetworkFailure, Message: "Erreur de connexion au serveur, veuillez réessayer"})

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	var body map[string]string
	decodeBody(t, w, &body)
	if body["code"] != model.ErrCodeNetworkFailure {
		t.Errorf("code = %q", body["code"])
	}
	if body["message"] != "Erreur de connexion au serveur, veuillez réessayer" {
		t.Errorf("message = %q", body["message"])
	}
}

func TestHandleServiceError_InternalErrorHidesDetails(t *testing.T) {
	w := httptest.NewRecorder()
	handleServiceError(w, errors.New("pq: password authentication failed for user admin"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "pq:") {
		t.Errorf("internal error details leaked: %s", w.Body.String())
	}
}

func TestDecodeRequest(t *testing.T) {
	v := newValidator()

	tests := []struct {
		name     string
		body     string
		wantOK   bool
		wantText string
	}{
		{"valid", `{"email":"a@b.fr","full_name":"Anne","role":"admin"}`, true, ""},
		{"malformed", `{"email":`, false, "illisible"},
		{"unknown field", `{"email":"a@b.fr","full_name":"Anne","role":"admin","is_root":true}`, false, "illisible"},
		{"validation reports json names", `{"email":"pas-un-email","full_name":"Anne","role":"admin"}`, false, "email (email)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			var dst createUserRequest
			ok := decodeRequest(w, req, v, &dst)
			if ok != tt.wantOK {
				t.Fatalf("decodeRequest() = %v, want %v (body %s)", ok, tt.wantOK, w.Body.String())
			}
			if !ok {
				if w.Code != http.StatusBadRequest {
					t.Errorf("status = %d, want 400", w.Code)
				}
				if !strings.Contains(w.Body.String(), tt.wantText) {
					t.Errorf("body %s should contain %q", w.Body.String(), tt.wantText)
				}
			}
		})
	}
}

package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/choraleadmin/internal/auth"
	"github.com/hitoshi/choraleadmin/internal/middleware"
	"github.com/hitoshi/choraleadmin/internal/model"
)

// defaultRedirect はサインイン後の既定の遷移先。
const defaultRedirect = "/dashboard"

// PermissionResolver はプロフィールの実効権限を返す。
type PermissionResolver interface {
	Effective(ctx context.Context, profile *model.Profile) ([]string, error)
}

// AuthHandler はサインイン・サインアウトとセッション参照のHTTPハンドラー。
type AuthHandler struct {
	sessions    *middleware.Sessions
	permissions PermissionResolver
	validate    *validator.Validate
}

// NewAuthHandler はAuthHandlerを生成する。permissionsはnilでもよい。
func NewAuthHandler(sessions *middleware.Sessions, permissions PermissionResolver) *AuthHandler {
	return &AuthHandler{
		sessions:    sessions,
		permissions: permissions,
		validate:    newValidator(),
	}
}

// loginRequest はサインインリクエストのボディ。
// 空の値はAuthenticatorが入力エラーとして分類するため、ここでは長さのみ検証する。
type loginRequest struct {
	Email    string `json:"email" validate:"max=254"`
	Password string `json:"password" validate:"max=1024"`
	Redirect string `json:"redirect" validate:"max=2048"`
}

// loginResponse はサインイン成功時のレスポンス。
type loginResponse struct {
	Redirect string          `json:"redirect"`
	Session  sessionResponse `json:"session"`
}

// sessionResponse はセッション状態のAPIレスポンス。
type sessionResponse struct {
	State   string       `json:"state"`
	Version uint64       `json:"version"`
	User    *sessionUser `json:"user,omitempty"`
}

type sessionUser struct {
	ID               string   `json:"id"`
	Email            string   `json:"email"`
	FullName         string   `json:"full_name"`
	Role             string   `json:"role"`
	ChoraleID        string   `json:"chorale_id,omitempty"`
	ValidationStatus string   `json:"statut_validation"`
	Permissions      []string `json:"permissions"`
}

// Login は資格情報でサインインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	a, clientID := h.sessions.ForSignIn(r)
	if err := a.SignIn(r.Context(), req.Email, req.Password); err != nil {
		// 認証済みのまま残っていない限り、このブラウザのAuthenticatorは破棄する
		if a.Session().State != auth.Authenticated {
			h.sessions.Discard(clientID)
			h.sessions.Codec().Clear(w)
		}
		handleServiceError(w, err)
		return
	}

	if err := h.sessions.Commit(w, clientID, a); err != nil {
		slog.Error("failed to commit session", slog.String("error", err.Error()))
		a.SignOut(r.Context())
		h.sessions.Discard(clientID)
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Redirect: middleware.SafeRedirectPath(req.Redirect, defaultRedirect),
		Session:  h.toSessionResponse(r.Context(), a.Session()),
	})
}

// Logout はプロバイダーセッションを破棄し、セッションCookieをクリアする。冪等。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if a := h.sessions.Existing(r); a != nil {
		a.SignOut(r.Context())
	}
	if cookie, ok := h.sessions.Codec().Read(r); ok {
		h.sessions.Discard(cookie.ClientID)
	}
	h.sessions.Codec().Clear(w)

	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のセッション状態を返す。未認証でも200を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	_, snap := h.sessions.Resolve(r.Context(), r)

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, h.toSessionResponse(r.Context(), snap))
}

func (h *AuthHandler) toSessionResponse(ctx context.Context, snap auth.Snapshot) sessionResponse {
	resp := sessionResponse{State: snap.State.String(), Version: snap.Version}
	if snap.State != auth.Authenticated || snap.Session == nil {
		return resp
	}
	resp.User = toSessionUser(snap.Session)
	if h.permissions != nil {
		perms, err := h.permissions.Effective(ctx, &snap.Session.Profile)
		if err != nil {
			slog.Warn("failed to resolve permissions",
				slog.String("user_id", snap.Session.Identity.ID),
				slog.String("error", err.Error()),
			)
		}
		if perms != nil {
			resp.User.Permissions = perms
		}
	}
	return resp
}

func toSessionUser(s *auth.Session) *sessionUser {
	return &sessionUser{
		ID:               s.Identity.ID,
		Email:            s.Identity.Email,
		FullName:         s.Profile.FullName,
		Role:             string(s.Profile.Role),
		ChoraleID:        s.Profile.ChoraleID,
		ValidationStatus: string(s.Profile.ValidationStatus),
		Permissions:      []string{},
	}
}

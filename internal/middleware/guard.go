package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/choraleadmin/internal/auth"
	"github.com/hitoshi/choraleadmin/internal/model"
)

// GuardRecorder はルートガードの判定を記録する。
type GuardRecorder interface {
	RecordGuardDecision(state string)
}

// GuardConfig はルートガードの設定。
type GuardConfig struct {
	// LoginPath はサインイン画面のパス。
	LoginPath string
	// Recorder は判定の記録先。nilの場合は記録しない。
	Recorder GuardRecorder
}

// NewRouteGuard は管理者セッションを持たないリクエストから保護対象を守るミドルウェアを返す。
//
//   - Checking: 何も描画せず204を返す
//   - Unauthenticated: サインイン画面へリダイレクトする。APIには401を返す
//   - Authenticated: セッションをコンテキストに注入して後続に渡す
//
// リダイレクトできない場合は空の401を返し、保護対象を描画しない。
func NewRouteGuard(sessions *Sessions, config GuardConfig) func(next http.Handler) http.Handler {
	if config.LoginPath == "" {
		config.LoginPath = "/login"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, snap := sessions.Resolve(r.Context(), r)
			if config.Recorder != nil {
				config.Recorder.RecordGuardDecision(snap.State.String())
			}

			switch snap.State {
			case auth.Authenticated:
				if snap.Session == nil {
					denyEmpty(w)
					return
				}
				next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), snap, a)))
			case auth.Checking:
				w.Header().Set("Cache-Control", "no-store")
				w.WriteHeader(http.StatusNoContent)
			default:
				redirectToLogin(w, r, config.LoginPath)
			}
		})
	}
}

// redirectToLogin は呼び出し元の種類に応じてサインイン画面へ誘導する。
func redirectToLogin(w http.ResponseWriter, r *http.Request, loginPath string) {
	w.Header().Set("Cache-Control", "no-store")

	if wantsJSON(r) {
		WriteAPIError(w, model.NewUnauthenticatedError())
		return
	}

	target := loginPath + "?redirect=" + url.QueryEscape(SafeRedirectPath(r.URL.RequestURI(), "/"))

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if r.Method != http.MethodGet {
		slog.Debug("cannot redirect non-GET request, denying",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		denyEmpty(w)
		return
	}

	http.Redirect(w, r, target, http.StatusSeeOther)
}

// denyEmpty は本文なしの401を返す。
func denyEmpty(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusUnauthorized)
}

// wantsJSON はAPI呼び出しかどうかを判定する。
func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}

// SafeRedirectPath はサインイン後の戻り先として安全な同一オリジンの相対パスを返す。
// 外部URLやプロトコル相対URLの場合はfallbackを返す。
func SafeRedirectPath(raw, fallback string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return fallback
	}
	if strings.ContainsAny(raw, "\\\r\n\t") {
		return fallback
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" {
		return fallback
	}
	return raw
}

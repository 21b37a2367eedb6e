// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/choraleadmin/internal/auth"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	sessionContextKey       = contextKey("session")
	authenticatorContextKey = contextKey("authenticator")
)

// Sessions はセッションCookieとRegistryを結び付け、
// リクエストごとにブラウザのAuthenticatorを解決する。
type Sessions struct {
	registry *auth.Registry
	codec    *CookieCodec
}

// NewSessions はSessionsを生成する。
func NewSessions(registry *auth.Registry, codec *CookieCodec) *Sessions {
	return &Sessions{registry: registry, codec: codec}
}

// Codec はセッションCookieのCodecを返す。
func (s *Sessions) Codec() *CookieCodec {
	return s.codec
}

// Resolve はリクエストのブラウザに対応するAuthenticatorと現在の状態を返す。
// メモリ上にAuthenticatorがなくCookieにトークンがある場合は、生成してセッションを復元する。
// 認証済みの場合はプロバイダーセッションが外部で終了していないか確認する。
// 対応するAuthenticatorがない場合はnilとUnauthenticatedを返す。
func (s *Sessions) Resolve(ctx context.Context, r *http.Request) (*auth.Authenticator, auth.Snapshot) {
	cookie, ok := s.codec.Read(r)
	if !ok {
		return nil, auth.Snapshot{State: auth.Unauthenticated}
	}

	a := s.registry.Get(cookie.ClientID)
	if a == nil {
		if cookie.Token == "" {
			return nil, auth.Snapshot{State: auth.Unauthenticated}
		}
		a, _ = s.registry.Ensure(cookie.ClientID, cookie.Token)
	}

	// Cookieのトークンと一致しないAuthenticatorは使わない
	if tok := a.Token(); tok != "" && tok != cookie.Token {
		return nil, auth.Snapshot{State: auth.Unauthenticated}
	}

	if a.Session().State == auth.Unauthenticated {
		if err := a.Restore(ctx); err != nil {
			slog.Info("session restore failed",
				slog.String("reason", auth.KindOf(err).String()),
			)
		}
		return a, a.Session()
	}
	return a, a.Sync(ctx)
}

// ForSignIn はサインインに使うAuthenticatorとクライアントIDを返す。
// Cookieが無効な場合は新しいクライアントIDを発行する。
func (s *Sessions) ForSignIn(r *http.Request) (*auth.Authenticator, string) {
	cookie, ok := s.codec.Read(r)
	if !ok {
		cookie = SessionCookie{ClientID: NewClientID()}
	}
	a, _ := s.registry.Ensure(cookie.ClientID, cookie.Token)
	return a, cookie.ClientID
}

// Commit はサインイン後のトークンをCookieに書き込む。
func (s *Sessions) Commit(w http.ResponseWriter, clientID string, a *auth.Authenticator) error {
	if err := s.codec.Write(w, SessionCookie{ClientID: clientID, Token: a.Token()}); err != nil {
		return fmt.Errorf("failed to write session cookie: %w", err)
	}
	return nil
}

// Existing はCookieが指すAuthenticatorを返す。メモリ上になくトークンがある場合は生成する。
// サインアウトのように、保持しているプロバイダーセッションを確実に破棄したい場合に使う。
func (s *Sessions) Existing(r *http.Request) *auth.Authenticator {
	cookie, ok := s.codec.Read(r)
	if !ok {
		return nil
	}
	if a := s.registry.Get(cookie.ClientID); a != nil {
		return a
	}
	if cookie.Token == "" {
		return nil
	}
	a, _ := s.registry.Ensure(cookie.ClientID, cookie.Token)
	return a
}

// ContextWithSession はコンテキストに認証済みセッションとAuthenticatorを注入する。
func ContextWithSession(ctx context.Context, snap auth.Snapshot, a *auth.Authenticator) context.Context {
	if id := snap.Identity(); id != nil {
		noteUserID(ctx, id.ID)
	}
	ctx = context.WithValue(ctx, sessionContextKey, snap)
	if a != nil {
		ctx = context.WithValue(ctx, authenticatorContextKey, a)
	}
	return ctx
}

// SessionFromContext はルートガードが注入したセッションを返す。
// ガードを通過していないリクエストではfalseを返す。
func SessionFromContext(ctx context.Context) (*auth.Session, bool) {
	snap, ok := ctx.Value(sessionContextKey).(auth.Snapshot)
	if !ok || snap.State != auth.Authenticated || snap.Session == nil {
		return nil, false
	}
	return snap.Session, true
}

// AuthenticatorFromContext はルートガードが注入したAuthenticatorを返す。
func AuthenticatorFromContext(ctx context.Context) *auth.Authenticator {
	a, _ := ctx.Value(authenticatorContextKey).(*auth.Authenticator)
	return a
}

// UserIDFromContext は認証済みユーザーのIDを返す。
func UserIDFromContext(ctx context.Context) (string, error) {
	session, ok := SessionFromContext(ctx)
	if !ok || session.Identity.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return session.Identity.ID, nil
}

// Discard はクライアントIDのAuthenticatorをRegistryから取り除く。
// 状態を書き込まずに終わったサインインの後始末に使う。
func (s *Sessions) Discard(clientID string) {
	s.registry.Remove(clientID)
}

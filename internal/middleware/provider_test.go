package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hitoshi/choraleadmin/internal/auth"
	"github.com/hitoshi/choraleadmin/internal/identity"
	"github.com/hitoshi/choraleadmin/internal/model"
)

const testCookieSecret = "middleware-test-secret-32-bytes!!"

// stubBackend は複数のブラウザで共有される認証プロバイダーの代役。
type stubBackend struct {
	mu       sync.Mutex
	accounts map[string]*model.Profile // email -> profile
	sessions map[string]string         // token -> user id
	next     int

	// fetchGate が設定されている場合、FetchProfileは開始を通知してから解放を待つ
	fetchStarted chan struct{}
	fetchRelease chan struct{}
}

func newStubBackend() *stubBackend {
	b := &stubBackend{accounts: make(map[string]*model.Profile), sessions: make(map[string]string)}
	b.accounts["admin@x.org"] = &model.Profile{UserID: "u-admin", Email: "admin@x.org", Role: model.RoleAdmin, ValidationStatus: model.StatusValide}
	b.accounts["membre@x.org"] = &model.Profile{UserID: "u-membre", Email: "membre@x.org", Role: model.RoleMembre, ValidationStatus: model.StatusValide}
	return b
}

func (b *stubBackend) endAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = make(map[string]string)
}

func (b *stubBackend) factory() auth.ProviderFactory {
	return func(token string) auth.Provider {
		return &stubProvider{backend: b, token: token}
	}
}

type stubProvider struct {
	backend *stubBackend
	mu      sync.Mutex
	token   string
}

func (p *stubProvider) Authenticate(_ context.Context, email, password string) (*model.Identity, error) {
	b := p.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	prof, ok := b.accounts[email]
	if !ok || password != "validpass" {
		return nil, identity.ErrInvalidCredentials
	}
	b.next++
	tok := fmt.Sprintf("tok-%d", b.next)
	b.sessions[tok] = prof.UserID

	p.mu.Lock()
	p.token = tok
	p.mu.Unlock()
	return &model.Identity{ID: prof.UserID, Email: email}, nil
}

func (p *stubProvider) CurrentIdentity(context.Context) (*model.Identity, error) {
	tok := p.Token()
	b := p.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	userID, ok := b.sessions[tok]
	if !ok {
		return nil, nil
	}
	for email, prof := range b.accounts {
		if prof.UserID == userID {
			return &model.Identity{ID: userID, Email: email}, nil
		}
	}
	return nil, nil
}

func (p *stubProvider) SubscribeToIdentityChanges(func(*model.Identity)) func() {
	return func() {}
}

func (p *stubProvider) InvalidateSession(context.Context) error {
	p.mu.Lock()
	tok := p.token
	p.token = ""
	p.mu.Unlock()

	p.backend.mu.Lock()
	delete(p.backend.sessions, tok)
	p.backend.mu.Unlock()
	return nil
}

func (p *stubProvider) FetchProfile(_ context.Context, userID string) (*model.Profile, error) {
	b := p.backend
	if b.fetchStarted != nil {
		b.fetchStarted <- struct{}{}
		<-b.fetchRelease
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, prof := range b.accounts {
		if prof.UserID == userID {
			cp := *prof
			return &cp, nil
		}
	}
	return nil, identity.ErrProfileNotFound
}

func (p *stubProvider) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

type testEnv struct {
	backend  *stubBackend
	registry *auth.Registry
	codec    *CookieCodec
	sessions *Sessions
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	backend := newStubBackend()
	return newTestEnvWithBackend(backend)
}

func newTestEnvWithBackend(backend *stubBackend) *testEnv {
	registry := auth.NewRegistry(backend.factory(), nil)
	codec := NewCookieCodec(CookieConfig{Secret: testCookieSecret, MaxAge: 3600})
	return &testEnv{
		backend:  backend,
		registry: registry,
		codec:    codec,
		sessions: NewSessions(registry, codec),
	}
}

// signIn はログインハンドラーと同じ手順でサインインし、発行されたCookieを返す。
func (e *testEnv) signIn(t *testing.T, email string) *http.Cookie {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	a, clientID := e.sessions.ForSignIn(req)
	if err := a.SignIn(req.Context(), email, "validpass"); err != nil {
		t.Fatalf("SignIn(%s): %v", email, err)
	}
	w := httptest.NewRecorder()
	if err := e.sessions.Commit(w, clientID, a); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func authenticatedSnapshot(userID string) auth.Snapshot {
	return auth.Snapshot{
		State: auth.Authenticated,
		Session: &auth.Session{
			Identity: model.Identity{ID: userID},
			Profile:  model.Profile{UserID: userID, Role: model.RoleAdmin, ValidationStatus: model.StatusValide},
		},
	}
}

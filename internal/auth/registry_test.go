package auth

import (
	"context"
	"sync"
	"testing"

	"github.com/hitoshi/choraleadmin/internal/model"
)

type closableProvider struct {
	*fakeProvider
	mu     sync.Mutex
	closed bool
}

func (p *closableProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *closableProvider) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func newTestRegistry(t *testing.T) (*Registry, map[string]*closableProvider) {
	t.Helper()
	var mu sync.Mutex
	providers := make(map[string]*closableProvider)
	r := NewRegistry(func(token string) Provider {
		p := newFakeProvider()
		p.addAccount("admin@x.org", "validpass", model.RoleAdmin, model.StatusValide)
		p.addAccount("membre@x.org", "validpass", model.RoleMembre, model.StatusValide)
		cp := &closableProvider{fakeProvider: p}
		mu.Lock()
		providers[token] = cp
		mu.Unlock()
		return cp
	}, nil)
	return r, providers
}

func TestRegistry_EnsureAndGet(t *testing.T) {
	r, _ := newTestRegistry(t)

	if r.Get("c1") != nil {
		t.Fatal("Get on empty registry should return nil")
	}

	a, created := r.Ensure("c1", "")
	if !created || a == nil {
		t.Fatalf("Ensure() = %v, %v, want new authenticator", a, created)
	}
	again, created := r.Ensure("c1", "")
	if created || again != a {
		t.Error("second Ensure should return the same authenticator")
	}
	if r.Get("c1") != a {
		t.Error("Get should return the ensured authenticator")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_SignInAndOut(t *testing.T) {
	r, providers := newTestRegistry(t)
	ctx := context.Background()

	a, _ := r.Ensure("c1", "")
	if err := a.SignIn(ctx, "admin@x.org", "validpass"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if r.CountAuthenticated() != 1 {
		t.Errorf("CountAuthenticated() = %d, want 1", r.CountAuthenticated())
	}

	a.SignOut(ctx)

	if r.Get("c1") != nil {
		t.Error("signed-out entry should be dropped")
	}
	if !providers[""].isClosed() {
		t.Error("provider should be closed when the entry is dropped")
	}
}

func TestRegistry_FailedSignInDropsEntry(t *testing.T) {
	r, _ := newTestRegistry(t)

	a, _ := r.Ensure("c1", "")
	err := a.SignIn(context.Background(), "membre@x.org", "validpass")
	assertKind(t, err, KindAccessDenied)

	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_DropDoesNotRemoveReplacement(t *testing.T) {
	r, _ := newTestRegistry(t)

	old, _ := r.Ensure("c1", "")
	r.Remove("c1")
	replacement, _ := r.Ensure("c1", "")

	// 取り除かれた古いAuthenticatorの書き込みは新しいエントリに影響しない
	old.Store().Set(Unauthenticated, nil)

	if r.Get("c1") != replacement {
		t.Error("replacement entry should survive a stale drop")
	}
}

func TestRegistry_Prune(t *testing.T) {
	r, providers := newTestRegistry(t)
	ctx := context.Background()

	live, _ := r.Ensure("live", "t-live")
	if err := live.SignIn(ctx, "admin@x.org", "validpass"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	expired, _ := r.Ensure("expired", "t-expired")
	if err := expired.SignIn(ctx, "admin@x.org", "validpass"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	p := providers["t-expired"]
	p.mu.Lock()
	p.sessions = make(map[string]string)
	p.mu.Unlock()

	if n := r.Prune(ctx); n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
	if r.Get("expired") != nil {
		t.Error("expired entry should be pruned")
	}
	if r.Get("live") != live {
		t.Error("live entry should be kept")
	}
}

func TestRegistry_RestoreFromToken(t *testing.T) {
	r, providers := newTestRegistry(t)
	ctx := context.Background()

	a, _ := r.Ensure("c1", "persisted")
	p := providers["persisted"]
	p.mu.Lock()
	p.token = "persisted"
	p.sessions["persisted"] = p.accounts["admin@x.org"].identity.ID
	p.mu.Unlock()

	if err := a.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if a.Session().State != Authenticated {
		t.Errorf("State = %v, want %v", a.Session().State, Authenticated)
	}
}

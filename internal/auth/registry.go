package auth

import (
	"context"
	"sync"
)

// ProviderFactory はトークンからブラウザ1つ分のProviderを生成する。
type ProviderFactory func(token string) Provider

type registryEntry struct {
	auth        *Authenticator
	unsubscribe func()
}

// Registry はブラウザ（クライアントID）ごとのAuthenticatorを保持する。
// セッションがUnauthenticatedになったエントリは自動的に取り除かれる。
type Registry struct {
	newProvider ProviderFactory
	recorder    Recorder

	mu      sync.Mutex
	entries map[string]*registryEntry
}

// NewRegistry はRegistryを生成する。
func NewRegistry(newProvider ProviderFactory, recorder Recorder) *Registry {
	return &Registry{
		newProvider: newProvider,
		recorder:    recorder,
		entries:     make(map[string]*registryEntry),
	}
}

// Get はクライアントIDのAuthenticatorを返す。存在しない場合はnil。
func (r *Registry) Get(clientID string) *Authenticator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[clientID]; ok {
		return e.auth
	}
	return nil
}

// Ensure はクライアントIDのAuthenticatorを返す。存在しない場合はtokenを引き継いで生成する。
// createdは新規に生成した場合にtrue。
func (r *Registry) Ensure(clientID, token string) (a *Authenticator, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[clientID]; ok {
		return e.auth, false
	}

	a = NewAuthenticator(r.newProvider(token), NewSessionStore(), r.recorder)
	entry := &registryEntry{auth: a}
	entry.unsubscribe = a.store.Subscribe(func(snap Snapshot) {
		if snap.State == Unauthenticated {
			r.drop(clientID, a)
		}
	})
	r.entries[clientID] = entry
	return a, true
}

// Remove はクライアントIDのエントリを取り除く。セッションは破棄しない。
func (r *Registry) Remove(clientID string) {
	r.mu.Lock()
	e, ok := r.entries[clientID]
	if ok {
		delete(r.entries, clientID)
	}
	r.mu.Unlock()

	if ok {
		closeEntry(e)
	}
}

// Len は保持しているエントリ数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CountAuthenticated はAuthenticated状態のエントリ数を返す。
func (r *Registry) CountAuthenticated() int {
	r.mu.Lock()
	auths := make([]*Authenticator, 0, len(r.entries))
	for _, e := range r.entries {
		auths = append(auths, e.auth)
	}
	r.mu.Unlock()

	n := 0
	for _, a := range auths {
		if a.Session().State == Authenticated {
			n++
		}
	}
	return n
}

// Prune は全エントリのプロバイダーセッションを確認し、
// 期限切れなどで終了したエントリを取り除く。取り除いた件数を返す。
func (r *Registry) Prune(ctx context.Context) int {
	r.mu.Lock()
	auths := make([]*Authenticator, 0, len(r.entries))
	for _, e := range r.entries {
		auths = append(auths, e.auth)
	}
	r.mu.Unlock()

	pruned := 0
	for _, a := range auths {
		if ctx.Err() != nil {
			break
		}
		if a.Session().State == Authenticated && a.Sync(ctx).State == Unauthenticated {
			pruned++
		}
	}
	return pruned
}

// drop はエントリが同じAuthenticatorを指している場合のみ取り除く。
func (r *Registry) drop(clientID string, a *Authenticator) {
	r.mu.Lock()
	e, ok := r.entries[clientID]
	if ok && e.auth == a {
		delete(r.entries, clientID)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		closeEntry(e)
	}
}

func closeEntry(e *registryEntry) {
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	e.auth.Close()
	if c, ok := e.auth.provider.(interface{ Close() }); ok {
		c.Close()
	}
}

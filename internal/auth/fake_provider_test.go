package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/hitoshi/choraleadmin/internal/identity"
	"github.com/hitoshi/choraleadmin/internal/model"
)

type fakeAccount struct {
	password string
	identity model.Identity
	profile  *model.Profile
}

// fakeProvider はメモリ上でProviderを満たすテスト用プロバイダー。
type fakeProvider struct {
	mu        sync.Mutex
	accounts  map[string]*fakeAccount // email -> account
	sessions  map[string]string       // token -> user id
	token     string
	nextToken int
	listeners map[int]func(*model.Identity)
	nextID    int

	authenticateErr error
	fetchErr        error
	lookupErr       error
	invalidateErr   error

	authenticateCalls int
	fetchCalls        int
	invalidateCalls   int
}

var _ Provider = (*fakeProvider)(nil)

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		accounts:  make(map[string]*fakeAccount),
		sessions:  make(map[string]string),
		listeners: make(map[int]func(*model.Identity)),
	}
}

func (p *fakeProvider) addAccount(email, password string, role model.Role, status model.ValidationStatus) *fakeAccount {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("user-%d", len(p.accounts)+1)
	acc := &fakeAccount{
		password: password,
		identity: model.Identity{ID: id, Email: email},
		profile: &model.Profile{
			ID: "profile-" + id, UserID: id, Email: email, FullName: "Test " + email,
			Role: role, ValidationStatus: status,
		},
	}
	p.accounts[email] = acc
	return acc
}

func (p *fakeProvider) setProfile(email string, profile *model.Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[email].profile = profile
}

func (p *fakeProvider) Authenticate(_ context.Context, email, password string) (*model.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authenticateCalls++
	if p.authenticateErr != nil {
		return nil, p.authenticateErr
	}
	acc, ok := p.accounts[email]
	if !ok || acc.password != password {
		return nil, identity.ErrInvalidCredentials
	}
	if p.token != "" {
		delete(p.sessions, p.token)
	}
	p.nextToken++
	p.token = fmt.Sprintf("token-%d", p.nextToken)
	p.sessions[p.token] = acc.identity.ID
	ident := acc.identity
	return &ident, nil
}

func (p *fakeProvider) CurrentIdentity(context.Context) (*model.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lookupErr != nil {
		return nil, p.lookupErr
	}
	userID, ok := p.sessions[p.token]
	if !ok {
		p.token = ""
		return nil, nil
	}
	for _, acc := range p.accounts {
		if acc.identity.ID == userID {
			ident := acc.identity
			return &ident, nil
		}
	}
	return nil, nil
}

func (p *fakeProvider) SubscribeToIdentityChanges(fn func(*model.Identity)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *fakeProvider) InvalidateSession(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidateCalls++
	if p.invalidateErr != nil {
		return p.invalidateErr
	}
	delete(p.sessions, p.token)
	p.token = ""
	return nil
}

func (p *fakeProvider) FetchProfile(_ context.Context, userID string) (*model.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetchCalls++
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	for _, acc := range p.accounts {
		if acc.identity.ID == userID {
			if acc.profile == nil {
				return nil, identity.ErrProfileNotFound
			}
			cp := *acc.profile
			return &cp, nil
		}
	}
	return nil, identity.ErrProfileNotFound
}

func (p *fakeProvider) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// endExternally はプロバイダー側でセッションを終了し、nilを通知する。
func (p *fakeProvider) endExternally() {
	p.mu.Lock()
	delete(p.sessions, p.token)
	p.token = ""
	p.mu.Unlock()
	p.emit(nil)
}

func (p *fakeProvider) emit(ident *model.Identity) {
	p.mu.Lock()
	fns := make([]func(*model.Identity), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ident)
	}
}

func (p *fakeProvider) liveSessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func (p *fakeProvider) counts() (authenticate, fetch, invalidate int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authenticateCalls, p.fetchCalls, p.invalidateCalls
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *countingRecorder) RecordSignIn(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[string]int)
	}
	r.outcomes[outcome]++
}

func (r *countingRecorder) count(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[outcome]
}

package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/choraleadmin/internal/auth"
	"github.com/hitoshi/choraleadmin/internal/chant"
	"github.com/hitoshi/choraleadmin/internal/chorale"
	"github.com/hitoshi/choraleadmin/internal/identity"
	"github.com/hitoshi/choraleadmin/internal/member"
	"github.com/hitoshi/choraleadmin/internal/middleware"
	"github.com/hitoshi/choraleadmin/internal/model"
	"github.com/hitoshi/choraleadmin/internal/notification"
)

const (
	testCookieSecret = "handler-test-secret-32-bytes-long!"
	testPassword     = "validpass"
)

// --- 認証プロバイダーの代役 ---

type fakeBackend struct {
	mu       sync.Mutex
	accounts map[string]*model.Profile // email -> profile
	sessions map[string]string         // token -> user id
	next     int
	down     bool
}

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{accounts: make(map[string]*model.Profile), sessions: make(map[string]string)}
	b.add("super@x.org", "u-super", model.RoleSuperAdmin, model.StatusValide)
	b.add("admin@x.org", "u-admin", model.RoleAdmin, model.StatusValide)
	b.add("membre@x.org", "u-membre", model.RoleMembre, model.StatusValide)
	b.add("attente@x.org", "u-attente", model.RoleAdmin, model.StatusEnAttente)
	return b
}

func (b *fakeBackend) add(email, userID string, role model.Role, status model.ValidationStatus) {
	b.accounts[email] = &model.Profile{
		UserID:           userID,
		Email:            email,
		FullName:         "Nom " + userID,
		Role:             role,
		ValidationStatus: status,
	}
}

func (b *fakeBackend) sessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

func (b *fakeBackend) setRole(userID string, role model.Role) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.accounts {
		if p.UserID == userID {
			p.Role = role
		}
	}
}

type fakeProvider struct {
	backend *fakeBackend
	mu      sync.Mutex
	token   string
}

func (p *fakeProvider) Authenticate(_ context.Context, email, password string) (*model.Identity, error) {
	b := p.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil, fmt.Errorf("dial tcp: connection refused")
	}
	prof, ok := b.accounts[email]
	if !ok || password != testPassword {
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

func (p *fakeProvider) CurrentIdentity(context.Context) (*model.Identity, error) {
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

func (p *fakeProvider) SubscribeToIdentityChanges(func(*model.Identity)) func() {
	return func() {}
}

func (p *fakeProvider) InvalidateSession(context.Context) error {
	p.mu.Lock()
	tok := p.token
	p.token = ""
	p.mu.Unlock()

	p.backend.mu.Lock()
	delete(p.backend.sessions, tok)
	p.backend.mu.Unlock()
	return nil
}

func (p *fakeProvider) FetchProfile(_ context.Context, userID string) (*model.Profile, error) {
	b := p.backend
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

func (p *fakeProvider) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// --- テスト環境 ---

type testEnv struct {
	backend  *fakeBackend
	registry *auth.Registry
	sessions *middleware.Sessions
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	backend := newFakeBackend()
	registry := auth.NewRegistry(func(token string) auth.Provider {
		return &fakeProvider{backend: backend, token: token}
	}, nil)
	codec := middleware.NewCookieCodec(middleware.CookieConfig{Secret: testCookieSecret, MaxAge: 3600})
	return &testEnv{
		backend:  backend,
		registry: registry,
		sessions: middleware.NewSessions(registry, codec),
	}
}

// --- サービスのモック ---

type mockChoraleService struct {
	listFn   func(ctx context.Context, filter model.ChoraleFilter) ([]model.ChoraleWithCounts, error)
	getFn    func(ctx context.Context, id string) (*model.Chorale, error)
	createFn func(ctx context.Context, actorID string, in chorale.Input) (*model.Chorale, error)
	updateFn func(ctx context.Context, actorID, id string, in chorale.Input) (*model.Chorale, error)
	toggleFn func(ctx context.Context, actorID, id string) (*model.Chorale, error)
	deleteFn func(ctx context.Context, actorID, id string) error
}

var _ ChoraleServiceInterface = (*mockChoraleService)(nil)

func (m *mockChoraleService) List(ctx context.Context, filter model.ChoraleFilter) ([]model.ChoraleWithCounts, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockChoraleService) Get(ctx context.Context, id string) (*model.Chorale, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, model.NewChoraleNotFoundError(id)
}

func (m *mockChoraleService) Create(ctx context.Context, actorID string, in chorale.Input) (*model.Chorale, error) {
	if m.createFn != nil {
		return m.createFn(ctx, actorID, in)
	}
	return &model.Chorale{ID: "c-new", Name: in.Name, Status: model.ChoraleActive}, nil
}

func (m *mockChoraleService) Update(ctx context.Context, actorID, id string, in chorale.Input) (*model.Chorale, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, actorID, id, in)
	}
	return &model.Chorale{ID: id, Name: in.Name}, nil
}

func (m *mockChoraleService) ToggleStatus(ctx context.Context, actorID, id string) (*model.Chorale, error) {
	if m.toggleFn != nil {
		return m.toggleFn(ctx, actorID, id)
	}
	return &model.Chorale{ID: id, Status: model.ChoraleInactive}, nil
}

func (m *mockChoraleService) Delete(ctx context.Context, actorID, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, actorID, id)
	}
	return nil
}

type mockChantService struct {
	listFn   func(ctx context.Context, filter model.ChantFilter) (*chant.Listing, error)
	getFn    func(ctx context.Context, id string) (*model.Chant, error)
	updateFn func(ctx context.Context, actorID, id string, in chant.Input) (*model.Chant, error)
	deleteFn func(ctx context.Context, actorID, id string) error
}

var _ ChantServiceInterface = (*mockChantService)(nil)

func (m *mockChantService) List(ctx context.Context, filter model.ChantFilter) (*chant.Listing, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return &chant.Listing{Chants: []*model.Chant{}}, nil
}

func (m *mockChantService) Get(ctx context.Context, id string) (*model.Chant, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, model.NewChantNotFoundError(id)
}

func (m *mockChantService) Update(ctx context.Context, actorID, id string, in chant.Input) (*model.Chant, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, actorID, id, in)
	}
	return &model.Chant{ID: id, Title: in.Title, ChoraleID: in.ChoraleID}, nil
}

func (m *mockChantService) Delete(ctx context.Context, actorID, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, actorID, id)
	}
	return nil
}

type mockRecoveryService struct {
	requestFn func(ctx context.Context, email string) error
	resetFn   func(ctx context.Context, email, code, password string) error
}

var _ RecoveryServiceInterface = (*mockRecoveryService)(nil)

func (m *mockRecoveryService) Request(ctx context.Context, email string) error {
	if m.requestFn != nil {
		return m.requestFn(ctx, email)
	}
	return nil
}

func (m *mockRecoveryService) Reset(ctx context.Context, email, code, password string) error {
	if m.resetFn != nil {
		return m.resetFn(ctx, email, code, password)
	}
	return identity.ErrInvalidCode
}

type mockUserService struct {
	listFn   func(ctx context.Context, filter model.ProfileFilter) ([]*model.Profile, error)
	getFn    func(ctx context.Context, userID string) (*model.Profile, error)
	createFn func(ctx context.Context, actor *model.Profile, in member.CreateInput) (*member.Created, error)
	updateFn func(ctx context.Context, actor *model.Profile, userID string, in member.UpdateInput) (*model.Profile, error)
	deleteFn func(ctx context.Context, actor *model.Profile, userID string) error
}

var _ UserServiceInterface = (*mockUserService)(nil)

func (m *mockUserService) List(ctx context.Context, filter model.ProfileFilter) ([]*model.Profile, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockUserService) Get(ctx context.Context, userID string) (*model.Profile, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID)
	}
	return nil, model.NewUserNotFoundError(userID)
}

func (m *mockUserService) Create(ctx context.Context, actor *model.Profile, in member.CreateInput) (*member.Created, error) {
	if m.createFn != nil {
		return m.createFn(ctx, actor, in)
	}
	return &member.Created{Profile: &model.Profile{UserID: "u-new", Email: in.Email, Role: in.Role}}, nil
}

func (m *mockUserService) Update(ctx context.Context, actor *model.Profile, userID string, in member.UpdateInput) (*model.Profile, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, actor, userID, in)
	}
	return &model.Profile{UserID: userID, FullName: in.FullName, Role: in.Role}, nil
}

func (m *mockUserService) Delete(ctx context.Context, actor *model.Profile, userID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, actor, userID)
	}
	return nil
}

// mockPermissionService はsuper_adminに全権限を、adminにgrantsの権限を与える。
type mockPermissionService struct {
	mu       sync.Mutex
	grants   map[string][]string // userID -> modules
	grantFn  func(ctx context.Context, actor *model.Profile, userID, code string) error
	revokeFn func(ctx context.Context, actor *model.Profile, userID, code string) error
}

var _ PermissionServiceInterface = (*mockPermissionService)(nil)

func newMockPermissionService() *mockPermissionService {
	return &mockPermissionService{grants: make(map[string][]string)}
}

func (m *mockPermissionService) allow(userID string, codes ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[userID] = append(m.grants[userID], codes...)
}

func (m *mockPermissionService) Modules(context.Context) ([]*model.PermissionModule, error) {
	return []*model.PermissionModule{
		{Code: "manage_chorales", Name: "Gérer les chorales", Category: "contenu"},
		{Code: "view_logs", Name: "Consulter les logs", Category: "système"},
	}, nil
}

func (m *mockPermissionService) Matrix(context.Context) ([]*model.UserPermissions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return []*model.UserPermissions{
		{UserID: "u-admin", FullName: "Nom u-admin", Role: model.RoleAdmin, Modules: m.grants["u-admin"]},
	}, nil
}

func (m *mockPermissionService) Effective(_ context.Context, p *model.Profile) ([]string, error) {
	if p.Role == model.RoleSuperAdmin {
		return []string{"manage_chorales", "manage_users", "validate_members", "view_logs"}, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grants[p.UserID], nil
}

func (m *mockPermissionService) Grant(ctx context.Context, actor *model.Profile, userID, code string) error {
	if m.grantFn != nil {
		return m.grantFn(ctx, actor, userID, code)
	}
	if actor.Role != model.RoleSuperAdmin {
		return model.NewForbiddenError("super administrateur requis")
	}
	m.allow(userID, code)
	return nil
}

func (m *mockPermissionService) Revoke(ctx context.Context, actor *model.Profile, userID, code string) error {
	if m.revokeFn != nil {
		return m.revokeFn(ctx, actor, userID, code)
	}
	return nil
}

type mockValidationService struct {
	pendingFn  func(ctx context.Context) ([]*model.Profile, error)
	validateFn func(ctx context.Context, actor *model.Profile, userID, choraleID string) (*model.Profile, error)
	rejectFn   func(ctx context.Context, actor *model.Profile, userID, motive string) (*model.Profile, error)
}

var _ ValidationServiceInterface = (*mockValidationService)(nil)

func (m *mockValidationService) Pending(ctx context.Context) ([]*model.Profile, error) {
	if m.pendingFn != nil {
		return m.pendingFn(ctx)
	}
	return nil, nil
}

func (m *mockValidationService) Validate(ctx context.Context, actor *model.Profile, userID, choraleID string) (*model.Profile, error) {
	if m.validateFn != nil {
		return m.validateFn(ctx, actor, userID, choraleID)
	}
	return &model.Profile{UserID: userID, ChoraleID: choraleID, Role: model.RoleMembre, ValidationStatus: model.StatusValide}, nil
}

func (m *mockValidationService) Reject(ctx context.Context, actor *model.Profile, userID, motive string) (*model.Profile, error) {
	if m.rejectFn != nil {
		return m.rejectFn(ctx, actor, userID, motive)
	}
	return &model.Profile{UserID: userID, ValidationStatus: model.StatusRefuse}, nil
}

type mockAuditService struct {
	listFn func(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error)
}

func (m *mockAuditService) List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, nil
}

type mockStatsService struct {
	dashboardFn func(ctx context.Context) (*model.DashboardStats, error)
}

func (m *mockStatsService) Dashboard(ctx context.Context) (*model.DashboardStats, error) {
	if m.dashboardFn != nil {
		return m.dashboardFn(ctx)
	}
	return &model.DashboardStats{TotalChorales: 3, ActiveChorales: 2, ActivePercent: 66.7}, nil
}

type mockNotificationService struct {
	listFn        func(ctx context.Context, limit int, onlyUnread bool) (*notification.Summary, error)
	markReadFn    func(ctx context.Context, id int64) error
	markAllReadFn func(ctx context.Context) (int64, error)
}

func (m *mockNotificationService) List(ctx context.Context, limit int, onlyUnread bool) (*notification.Summary, error) {
	if m.listFn != nil {
		return m.listFn(ctx, limit, onlyUnread)
	}
	return &notification.Summary{}, nil
}

func (m *mockNotificationService) UnreadCount(context.Context) (int, error) {
	return 4, nil
}

func (m *mockNotificationService) MarkRead(ctx context.Context, id int64) error {
	if m.markReadFn != nil {
		return m.markReadFn(ctx, id)
	}
	return nil
}

func (m *mockNotificationService) MarkAllRead(ctx context.Context) (int64, error) {
	if m.markAllReadFn != nil {
		return m.markAllReadFn(ctx)
	}
	return 0, nil
}

// --- テストヘルパー ---

// withSession はルートガードを通過したのと同じ形でリクエストにセッションを注入する。
func withSession(r *http.Request, role model.Role, userID string) *http.Request {
	snap := auth.Snapshot{
		State: auth.Authenticated,
		Session: &auth.Session{
			Identity: model.Identity{ID: userID, Email: userID + "@x.org"},
			Profile:  model.Profile{UserID: userID, Role: role, ValidationStatus: model.StatusValide},
		},
	}
	return r.WithContext(middleware.ContextWithSession(r.Context(), snap, nil))
}

// withChiURLParams はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// decodeBody はレスポンスボディをJSONとしてデコードするヘルパー。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(dst); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decodeBody(t, w, &body)
	return body["code"]
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

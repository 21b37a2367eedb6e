package identity

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/choraleadmin/internal/mailer"
	"github.com/hitoshi/choraleadmin/internal/model"
	"github.com/hitoshi/choraleadmin/internal/repository"
)

// memStore はリポジトリインターフェースをメモリ上で満たすテスト用ストア。
type memStore struct {
	mu       sync.Mutex
	creds    map[string]*model.Credential // id -> credential
	sessions map[string]*model.ProviderSession
	profiles map[string]*model.Profile // user_id -> profile

	// エラー注入
	findSessionErr error
}

func newMemStore() *memStore {
	return &memStore{
		creds:    make(map[string]*model.Credential),
		sessions: make(map[string]*model.ProviderSession),
		profiles: make(map[string]*model.Profile),
	}
}

type memCreds struct{ s *memStore }
type memSessions struct{ s *memStore }
type memProfiles struct{ s *memStore }

var (
	_ repository.CredentialRepository = memCreds{}
	_ repository.SessionRepository    = memSessions{}
	_ repository.ProfileRepository    = memProfiles{}
)

func (r memCreds) FindByEmail(_ context.Context, email string) (*model.Credential, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.creds {
		if strings.EqualFold(c.Email, strings.TrimSpace(email)) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r memCreds) FindByID(_ context.Context, id string) (*model.Identity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.creds[id]
	if !ok || c.Disabled {
		return nil, nil
	}
	identity := c.Identity
	return &identity, nil
}

func (r memCreds) Create(ctx context.Context, cred *model.Credential) error {
	if existing, _ := r.FindByEmail(ctx, cred.Email); existing != nil {
		return repository.ErrDuplicate
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	cred.Email = strings.ToLower(cred.Email)
	cp := *cred
	r.s.creds[cred.ID] = &cp
	return nil
}

func (r memCreds) CreateWithProfile(ctx context.Context, cred *model.Credential, profile *model.Profile) error {
	if err := r.Create(ctx, cred); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	profile.UserID = cred.ID
	profile.Email = cred.Email
	if profile.ID == "" {
		profile.ID = uuid.New().String()
	}
	cp := *profile
	if cp.ValidationStatus == "" {
		cp.ValidationStatus = model.StatusValide
	}
	r.s.profiles[cred.ID] = &cp
	return nil
}

func (r memCreds) DeleteByID(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.creds[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.creds, id)
	delete(r.s.profiles, id)
	for token, s := range r.s.sessions {
		if s.UserID == id {
			delete(r.s.sessions, token)
		}
	}
	return nil
}

func (r memCreds) UpdatePassword(_ context.Context, id string, passwordHash []byte) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.creds[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.PasswordHash = passwordHash
	return nil
}

func (r memSessions) Create(_ context.Context, session *model.ProviderSession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *session
	r.s.sessions[session.Token] = &cp
	return nil
}

func (r memSessions) FindByToken(_ context.Context, token string) (*model.ProviderSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.findSessionErr != nil {
		return nil, r.s.findSessionErr
	}
	s, ok := r.s.sessions[token]
	if !ok || !s.ExpiresAt.After(time.Now()) {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r memSessions) DeleteByToken(_ context.Context, token string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.sessions, token)
	return nil
}

func (r memSessions) DeleteByUserID(_ context.Context, userID string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var tokens []string
	for token, s := range r.s.sessions {
		if s.UserID == userID {
			tokens = append(tokens, token)
			delete(r.s.sessions, token)
		}
	}
	return tokens, nil
}

func (r memSessions) DeleteExpired(_ context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for token, s := range r.s.sessions {
		if s.ExpiresAt.Before(time.Now()) {
			delete(r.s.sessions, token)
			n++
		}
	}
	return n, nil
}

func (r memSessions) CountActive(_ context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.sessions), nil
}

func (r memProfiles) FindByUserID(_ context.Context, userID string) (*model.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r memProfiles) List(context.Context, model.ProfileFilter) ([]*model.Profile, error) {
	return nil, errors.New("not implemented")
}

func (r memProfiles) ListPending(context.Context) ([]*model.Profile, error) {
	return nil, errors.New("not implemented")
}

func (r memProfiles) Update(_ context.Context, profile *model.Profile, _ bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *profile
	r.s.profiles[profile.UserID] = &cp
	return nil
}

func (r memProfiles) RecordDecision(ctx context.Context, profile *model.Profile, _ *model.ValidationDecision) error {
	return r.Update(ctx, profile, false)
}

// sessionCount は指定ユーザーのプロバイダーセッション数を返す。
func (s *memStore) sessionCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			n++
		}
	}
	return n
}

// memOTPs はOTPRepositoryのテスト用実装。
type memOTPs struct {
	mu    sync.Mutex
	codes []*model.OTPCode
}

var _ repository.OTPRepository = (*memOTPs)(nil)

func (r *memOTPs) Create(_ context.Context, code *model.OTPCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, c := range r.codes {
		if c.UserID == code.UserID && c.UsedAt == nil {
			c.UsedAt = &now
		}
	}
	code.ID = uuid.New().String()
	code.CreatedAt = now
	cp := *code
	r.codes = append(r.codes, &cp)
	return nil
}

func (r *memOTPs) FindActive(_ context.Context, userID string) (*model.OTPCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.codes) - 1; i >= 0; i-- {
		c := r.codes[i]
		if c.UserID == userID && c.UsedAt == nil && c.ExpiresAt.After(time.Now()) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memOTPs) IncrementAttempts(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.codes {
		if c.ID == id {
			c.Attempts++
			return c.Attempts, nil
		}
	}
	return 0, repository.ErrNotFound
}

func (r *memOTPs) MarkUsed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.codes {
		if c.ID == id && c.UsedAt == nil {
			now := time.Now()
			c.UsedAt = &now
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *memOTPs) DeleteExpired(context.Context) (int64, error) {
	return 0, errors.New("not implemented")
}

// expire は全コードの有効期限を過去にする。
func (r *memOTPs) expire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.codes {
		c.ExpiresAt = time.Now().Add(-time.Second)
	}
}

// captureSender は送信されたメールを保持する。
type captureSender struct {
	mu   sync.Mutex
	msgs []mailer.Message
	err  error
}

func (s *captureSender) Send(_ context.Context, msg mailer.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}

// lastCode は最後に送られたメール本文から確認コードを取り出す。
func (s *captureSender) lastCode(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		t.Fatal("no mail was sent")
	}
	m := codePattern.FindString(s.msgs[len(s.msgs)-1].Text)
	if m == "" {
		t.Fatalf("mail text carries no code: %q", s.msgs[len(s.msgs)-1].Text)
	}
	return m
}

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

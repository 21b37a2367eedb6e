package validation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/choraleadmin/internal/mailer"
	"github.com/hitoshi/choraleadmin/internal/model"
	"github.com/hitoshi/choraleadmin/internal/repository"
	"github.com/hitoshi/choraleadmin/internal/security"
)

type memProfiles struct {
	repository.ProfileRepository
	profiles  map[string]*model.Profile
	decisions []*model.ValidationDecision
	pending   []*model.Profile
	recordErr error
}

func (m *memProfiles) FindByUserID(_ context.Context, userID string) (*model.Profile, error) {
	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memProfiles) ListPending(context.Context) ([]*model.Profile, error) {
	return m.pending, nil
}

func (m *memProfiles) RecordDecision(_ context.Context, p *model.Profile, d *model.ValidationDecision) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	cp := *p
	m.profiles[p.UserID] = &cp
	m.decisions = append(m.decisions, d)
	return nil
}

type stubChorales struct {
	repository.ChoraleRepository
}

func (stubChorales) FindByID(_ context.Context, id string) (*model.Chorale, error) {
	if id == "c-1" {
		return &model.Chorale{ID: "c-1", Name: "Chœur de Lyon"}, nil
	}
	return nil, nil
}

type fakeSessions struct {
	invalidated []string
	notified    []string
}

func (f *fakeSessions) InvalidateUser(_ context.Context, userID string) error {
	f.invalidated = append(f.invalidated, userID)
	return nil
}

func (f *fakeSessions) NotifyUpdated(userID string) {
	f.notified = append(f.notified, userID)
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []mailer.Message
	ctxErrs []error
	err     error
	// block がnilでなければ、閉じられるまで送信を止める
	block chan struct{}
}

func (f *fakeSender) Send(ctx context.Context, msg mailer.Message) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return f.err
}

type fakeAudit struct {
	actions []string
}

func (f *fakeAudit) Log(_ context.Context, _, action, _, _ string, _ any) {
	f.actions = append(f.actions, action)
}

var validator = &model.Profile{UserID: "u-admin", Role: model.RoleAdmin, ValidationStatus: model.StatusValide}

type testDeps struct {
	svc      *Service
	profiles *memProfiles
	sessions *fakeSessions
	sender   *fakeSender
	audit    *fakeAudit
}

func newTestDeps() *testDeps {
	profiles := &memProfiles{profiles: map[string]*model.Profile{
		"u-pending": {UserID: "u-pending", Email: "p@x.org", FullName: "Paul", Role: model.RoleUser, ValidationStatus: model.StatusEnAttente},
		"u-valide":  {UserID: "u-valide", Email: "v@x.org", FullName: "Vera", Role: model.RoleMembre, ChoraleID: "c-1", ValidationStatus: model.StatusValide},
		"u-refuse":  {UserID: "u-refuse", Email: "r@x.org", FullName: "René", Role: model.RoleUser, ValidationStatus: model.StatusRefuse},
	}}
	sessions := &fakeSessions{}
	sender := &fakeSender{}
	a := &fakeAudit{}
	return &testDeps{
		svc:      NewService(profiles, stubChorales{}, sessions, sender, security.NewTextSanitizer(), a),
		profiles: profiles,
		sessions: sessions,
		sender:   sender,
		audit:    a,
	}
}

func assertAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want APIError %s", err, code)
	}
	if apiErr.Code != code {
		t.Errorf("code = %s, want %s", apiErr.Code, code)
	}
}

func TestService_Validate_PromotesAndRecords(t *testing.T) {
	d := newTestDeps()

	p, err := d.svc.Validate(context.Background(), validator, "u-pending", "c-1")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if p.ValidationStatus != model.StatusValide || p.Role != model.RoleMembre || p.ChoraleID != "c-1" {
		t.Errorf("profile = %+v", p)
	}
	if len(d.profiles.decisions) != 1 {
		t.Fatalf("decisions = %d, want 1", len(d.profiles.decisions))
	}
	dec := d.profiles.decisions[0]
	if dec.Action != model.StatusValide || dec.ValidatorID != "u-admin" || dec.ChoraleID != "c-1" {
		t.Errorf("decision = %+v", dec)
	}
	if len(d.sessions.notified) != 1 || len(d.sessions.invalidated) != 0 {
		t.Errorf("sessions = %+v", d.sessions)
	}
	d.svc.Wait()
	if len(d.sender.sent) != 1 || d.sender.sent[0].Template != mailer.TemplateMemberValidated || d.sender.sent[0].To != "p@x.org" {
		t.Errorf("sent = %+v", d.sender.sent)
	}
	if len(d.audit.actions) != 1 || d.audit.actions[0] != "validate_member" {
		t.Errorf("audit = %v", d.audit.actions)
	}
}

func TestService_Validate_ReconsidersRejected(t *testing.T) {
	d := newTestDeps()

	if _, err := d.svc.Validate(context.Background(), validator, "u-refuse", "c-1"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if d.profiles.profiles["u-refuse"].ValidationStatus != model.StatusValide {
		t.Error("rejected member should become valide")
	}
}

func TestService_Validate_Errors(t *testing.T) {
	d := newTestDeps()
	ctx := context.Background()

	_, err := d.svc.Validate(ctx, validator, "u-pending", "")
	assertAPIError(t, err, model.ErrCodeInvalidInput)

	_, err = d.svc.Validate(ctx, validator, "u-pending", "c-404")
	assertAPIError(t, err, model.ErrCodeChoraleNotFound)

	_, err = d.svc.Validate(ctx, validator, "u-ghost", "c-1")
	assertAPIError(t, err, model.ErrCodeUserNotFound)

	_, err = d.svc.Validate(ctx, validator, "u-valide", "c-1")
	assertAPIError(t, err, model.ErrCodeAlreadyValidated)

	d.svc.Wait()
	if len(d.profiles.decisions) != 0 || len(d.sender.sent) != 0 {
		t.Error("failed validations must not record or send anything")
	}
}

func TestService_Validate_MailFailureDoesNotFail(t *testing.T) {
	d := newTestDeps()
	d.sender.err = errors.New("smtp down")

	if _, err := d.svc.Validate(context.Background(), validator, "u-pending", "c-1"); err != nil {
		t.Fatalf("Validate should succeed when mail fails: %v", err)
	}
	d.svc.Wait()
	if len(d.sender.sent) != 1 {
		t.Errorf("send attempts = %d, want 1", len(d.sender.sent))
	}
}

func TestService_Validate_DoesNotWaitForMail(t *testing.T) {
	d := newTestDeps()
	d.sender.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := d.svc.Validate(context.Background(), validator, "u-pending", "c-1")
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Validate blocked on the mail API")
	}

	close(d.sender.block)
	d.svc.Wait()
	if len(d.sender.sent) != 1 {
		t.Errorf("sent = %d, want 1", len(d.sender.sent))
	}
}

func TestService_Reject_MailSurvivesRequestCancellation(t *testing.T) {
	d := newTestDeps()
	d.sender.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := d.svc.Reject(ctx, validator, "u-pending", "Motif suffisamment long"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	// クライアントが切断した後に送信が進む
	cancel()
	close(d.sender.block)
	d.svc.Wait()

	if len(d.sender.ctxErrs) != 1 || d.sender.ctxErrs[0] != nil {
		t.Errorf("mail context errors = %v, want [<nil>]", d.sender.ctxErrs)
	}
}

func TestService_MailTimeoutBoundsDetachedSend(t *testing.T) {
	d := newTestDeps()
	d.svc.MailTimeout = time.Nanosecond
	d.sender.block = make(chan struct{})

	if _, err := d.svc.Validate(context.Background(), validator, "u-pending", "c-1"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	close(d.sender.block)
	d.svc.Wait()

	if len(d.sender.ctxErrs) != 1 || !errors.Is(d.sender.ctxErrs[0], context.DeadlineExceeded) {
		t.Errorf("mail context errors = %v, want deadline exceeded", d.sender.ctxErrs)
	}
}

func TestService_Reject_InvalidatesSessions(t *testing.T) {
	d := newTestDeps()

	p, err := d.svc.Reject(context.Background(), validator, "u-pending", "  Dossier <b>incomplet</b> ")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if p.ValidationStatus != model.StatusRefuse {
		t.Errorf("status = %q", p.ValidationStatus)
	}
	dec := d.profiles.decisions[0]
	if dec.Action != model.StatusRefuse || dec.Comment != "Dossier incomplet" {
		t.Errorf("decision = %+v", dec)
	}
	if len(d.sessions.invalidated) != 1 || d.sessions.invalidated[0] != "u-pending" {
		t.Errorf("invalidated = %v", d.sessions.invalidated)
	}
	d.svc.Wait()
	if len(d.sender.sent) != 1 || d.sender.sent[0].Template != mailer.TemplateMemberRejected {
		t.Errorf("sent = %+v", d.sender.sent)
	}
	if len(d.audit.actions) != 1 || d.audit.actions[0] != "reject_member" {
		t.Errorf("audit = %v", d.audit.actions)
	}
}

func TestService_Reject_Errors(t *testing.T) {
	d := newTestDeps()
	ctx := context.Background()

	_, err := d.svc.Reject(ctx, validator, "u-pending", "trop court")
	if err != nil {
		t.Fatalf("10 characters should be accepted: %v", err)
	}

	d = newTestDeps()
	_, err = d.svc.Reject(ctx, validator, "u-pending", "<i>court</i>")
	assertAPIError(t, err, model.ErrCodeInvalidInput)

	_, err = d.svc.Reject(ctx, validator, "u-valide", "Motif suffisamment long")
	assertAPIError(t, err, model.ErrCodeAlreadyValidated)

	_, err = d.svc.Reject(ctx, validator, "u-refuse", "Motif suffisamment long")
	assertAPIError(t, err, model.ErrCodeAlreadyRejected)

	_, err = d.svc.Reject(ctx, validator, "u-ghost", "Motif suffisamment long")
	assertAPIError(t, err, model.ErrCodeUserNotFound)

	if len(d.sessions.invalidated) != 0 {
		t.Errorf("invalidated = %v, want none", d.sessions.invalidated)
	}
}

func TestService_RecordError(t *testing.T) {
	d := newTestDeps()
	d.profiles.recordErr = errors.New("db down")

	_, err := d.svc.Reject(context.Background(), validator, "u-pending", "Motif suffisamment long")
	if !errors.Is(err, d.profiles.recordErr) {
		t.Errorf("error = %v, want wrapped db error", err)
	}
	d.svc.Wait()
	if len(d.sessions.invalidated) != 0 || len(d.sender.sent) != 0 {
		t.Error("nothing should happen after a failed write")
	}
}

func TestService_Pending(t *testing.T) {
	d := newTestDeps()
	d.profiles.pending = []*model.Profile{{UserID: "u-pending"}}

	list, err := d.svc.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("list = %v", list)
	}
}

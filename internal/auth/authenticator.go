package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/choraleadmin/internal/identity"
	"github.com/hitoshi/choraleadmin/internal/model"
)

// notificationTimeout はidentity変更通知の処理に使うタイムアウト。
const notificationTimeout = 10 * time.Second

// Provider は認証プロバイダーの機能。ブラウザ1つにつき1インスタンス。
type Provider interface {
	// Authenticate は資格情報を検証し、プロバイダーセッションを1つ作成する。
	Authenticate(ctx context.Context, email, password string) (*model.Identity, error)
	// CurrentIdentity は保持しているセッションのidentityを返す。セッションがなければnil。
	CurrentIdentity(ctx context.Context) (*model.Identity, error)
	// SubscribeToIdentityChanges はセッションの外部終了（nil）やidentity更新を購読する。
	SubscribeToIdentityChanges(fn func(*model.Identity)) (unsubscribe func())
	// InvalidateSession は保持しているプロバイダーセッションを破棄する。
	InvalidateSession(ctx context.Context) error
	// FetchProfile はidentityのプロフィールを返す。存在しない場合はidentity.ErrProfileNotFound。
	FetchProfile(ctx context.Context, userID string) (*model.Profile, error)
	// Token はCookieに保存するためのセッショントークンを返す。
	Token() string
}

// Recorder はサインイン結果を記録する。
type Recorder interface {
	RecordSignIn(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordSignIn(string) {}

// Authenticator はサインイン・サインアウト・プロフィール再取得を行い、
// 結果をSessionStoreに反映する。
//
// サインインとサインアウトは直列化する。identity変更通知は並行して処理され、
// バージョン比較により古い結果で新しい状態を上書きしない。
type Authenticator struct {
	provider Provider
	store    *SessionStore
	recorder Recorder

	// flowMu はサインイン・サインアウト・復元を直列化する。
	flowMu      sync.Mutex
	unsubscribe func()
}

// NewAuthenticator はAuthenticatorを生成し、プロバイダーの変更通知を購読する。
func NewAuthenticator(provider Provider, store *SessionStore, recorder Recorder) *Authenticator {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	a := &Authenticator{
		provider: provider,
		store:    store,
		recorder: recorder,
	}
	a.unsubscribe = provider.SubscribeToIdentityChanges(a.handleIdentityChange)
	return a
}

// Store はセッションを保持するSessionStoreを返す。
func (a *Authenticator) Store() *SessionStore {
	return a.store
}

// Session は現在のスナップショットを返す。
func (a *Authenticator) Session() Snapshot {
	return a.store.Snapshot()
}

// Token はプロバイダーセッショントークンを返す。
func (a *Authenticator) Token() string {
	return a.provider.Token()
}

// Close はプロバイダーの変更通知の購読を解除する。
func (a *Authenticator) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
}

// SignIn は資格情報でサインインし、ポリシーを満たす場合のみセッションを確立する。
// 失敗時は*Errorを返し、作成したプロバイダーセッションは必ず破棄される。
func (a *Authenticator) SignIn(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		a.recorder.RecordSignIn(KindInvalidInput.String())
		return newError(KindInvalidInput, nil)
	}

	a.flowMu.Lock()
	defer a.flowMu.Unlock()

	version := a.store.Begin()

	ident, err := a.provider.Authenticate(ctx, email, password)
	if err != nil {
		authErr := classifyAuthenticate(err)
		// 以前のセッションを持っていた場合も含め、失敗後にプロバイダーセッションを残さない
		a.invalidate(ctx, "", "sign-in failed")
		a.store.Fail(version)
		a.recorder.RecordSignIn(authErr.Kind.String())
		slog.Info("sign-in rejected",
			slog.String("reason", authErr.Kind.String()),
		)
		return authErr
	}

	err = a.establish(ctx, version, ident)
	if err != nil {
		a.recorder.RecordSignIn(KindOf(err).String())
		slog.Info("sign-in rejected",
			slog.String("user_id", ident.ID),
			slog.String("reason", KindOf(err).String()),
		)
		return err
	}

	a.recorder.RecordSignIn("success")
	slog.Info("user signed in", slog.String("user_id", ident.ID))
	return nil
}

// SignOut はプロバイダーセッションを破棄し、セッションを無条件にクリアする。冪等。
func (a *Authenticator) SignOut(ctx context.Context) {
	a.flowMu.Lock()
	defer a.flowMu.Unlock()

	a.signOutLocked(ctx)
}

func (a *Authenticator) signOutLocked(ctx context.Context) {
	userID := ""
	if id := a.store.Snapshot().Identity(); id != nil {
		userID = id.ID
	}

	a.invalidate(ctx, userID, "sign-out")
	a.store.Set(Unauthenticated, nil)

	if userID != "" {
		slog.Info("user signed out", slog.String("user_id", userID))
	}
}

// RefreshProfile は現在のidentityのプロフィールを再取得してセッションを更新する。
// セッションがなければ何もしない。取得失敗はログに記録し、古いプロフィールを維持する。
// 再取得したプロフィールがポリシーを満たさない場合はセッションを終了する。
func (a *Authenticator) RefreshProfile(ctx context.Context) {
	snap := a.store.Snapshot()
	if snap.State != Authenticated || snap.Session == nil {
		return
	}
	userID := snap.Session.Identity.ID

	profile, err := a.provider.FetchProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrProfileNotFound) {
			slog.Warn("profile disappeared, ending session", slog.String("user_id", userID))
			a.endIfCurrent(ctx, snap.Version, userID)
			return
		}
		slog.Error("failed to refresh profile",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}

	if perr := CheckPolicy(profile); perr != nil {
		slog.Warn("refreshed profile no longer allowed, ending session",
			slog.String("user_id", userID),
			slog.String("reason", perr.Kind.String()),
		)
		a.endIfCurrent(ctx, snap.Version, userID)
		return
	}

	session := &Session{Identity: snap.Session.Identity, Profile: *profile}
	if _, ok := a.store.CompareAndSet(snap.Version, Authenticated, session); !ok {
		slog.Debug("profile refresh superseded by a newer state", slog.String("user_id", userID))
	}
}

// Restore はプロバイダーが既にトークンを保持している場合にセッションを復元する。
// 初回アクセス時に呼び出す。確認中はChecking状態になる。
func (a *Authenticator) Restore(ctx context.Context) error {
	a.flowMu.Lock()
	defer a.flowMu.Unlock()

	if a.store.Snapshot().State != Unauthenticated || a.provider.Token() == "" {
		return nil
	}

	version := a.store.Begin()

	ident, err := a.provider.CurrentIdentity(ctx)
	if err != nil {
		a.store.Fail(version)
		slog.Warn("failed to restore session",
			slog.String("error", err.Error()),
		)
		return newError(KindNetworkFailure, err)
	}
	if ident == nil {
		a.store.Fail(version)
		return nil
	}

	if err := a.establish(ctx, version, ident); err != nil {
		slog.Info("restored session rejected",
			slog.String("user_id", ident.ID),
			slog.String("reason", KindOf(err).String()),
		)
		return err
	}

	slog.Debug("session restored", slog.String("user_id", ident.ID))
	return nil
}

// Sync はプロバイダーセッションが外部で終了していないか確認し、
// 終了していればUnauthenticatedへ遷移する。確認できない場合は現状を維持する。
func (a *Authenticator) Sync(ctx context.Context) Snapshot {
	snap := a.store.Snapshot()
	if snap.State != Authenticated {
		return snap
	}

	ident, err := a.provider.CurrentIdentity(ctx)
	if err != nil {
		slog.Warn("failed to verify provider session",
			slog.String("user_id", snap.Session.Identity.ID),
			slog.String("error", err.Error()),
		)
		return snap
	}
	if ident != nil && ident.ID == snap.Session.Identity.ID {
		return snap
	}

	slog.Info("provider session ended externally", slog.String("user_id", snap.Session.Identity.ID))
	if ident != nil {
		a.invalidate(ctx, snap.Session.Identity.ID, "identity mismatch")
	}
	next, _ := a.store.CompareAndSet(snap.Version, Unauthenticated, nil)
	return next
}

// establish はidentityに対してプロフィール取得とポリシー確認を行い、セッションを確定する。
// 確定しなかった場合はプロバイダーセッションを破棄してからUnauthenticatedを書き込む。
func (a *Authenticator) establish(ctx context.Context, version uint64, ident *model.Identity) (err error) {
	committed := false
	defer func() {
		if committed {
			return
		}
		a.invalidate(ctx, ident.ID, "policy check failed")
		a.store.Fail(version)
	}()

	session, err := a.resolve(ctx, ident)
	if err != nil {
		return err
	}

	// 確認を通過したサインインは常に書き込む
	a.store.Set(Authenticated, session)
	committed = true
	return nil
}

// resolve はプロフィールを取得し、ポリシーを確認してセッションを組み立てる。
func (a *Authenticator) resolve(ctx context.Context, ident *model.Identity) (*Session, error) {
	profile, err := a.provider.FetchProfile(ctx, ident.ID)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrProfileNotFound),
			errors.Is(err, model.ErrUnknownRole),
			errors.Is(err, model.ErrUnknownValidationStatus):
			return nil, newError(KindProfileMissing, err)
		}
		return nil, newError(KindNetworkFailure, err)
	}

	if perr := CheckPolicy(profile); perr != nil {
		return nil, perr
	}
	return &Session{Identity: *ident, Profile: *profile}, nil
}

// handleIdentityChange はプロバイダーからのidentity変更通知を処理する。
// nilはセッション終了として無条件にクリアし、identityは保持中のセッションと同一の場合のみ
// ポリシーを再確認する。
// 再確認の結果はバージョンが変わっていない場合のみ書き込む。
func (a *Authenticator) handleIdentityChange(ident *model.Identity) {
	ctx, cancel := context.WithTimeout(context.Background(), notificationTimeout)
	defer cancel()

	if ident == nil {
		if snap, ok := a.store.Set(Unauthenticated, nil); ok {
			slog.Info("session ended by provider", slog.Uint64("version", snap.Version))
		}
		return
	}

	snap := a.store.Snapshot()
	if snap.State != Authenticated || snap.Session.Identity.ID != ident.ID {
		// 確認中は進行中のフローが結果を確定する。通知だけでセッションは確立しない
		return
	}
	session, err := a.resolve(ctx, ident)
	if err != nil {
		if KindOf(err) == KindNetworkFailure {
			slog.Warn("failed to re-check identity after change",
				slog.String("user_id", ident.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		slog.Info("identity no longer allowed after change",
			slog.String("user_id", ident.ID),
			slog.String("reason", KindOf(err).String()),
		)
		a.endIfCurrent(ctx, snap.Version, ident.ID)
		return
	}

	a.store.CompareAndSet(snap.Version, Authenticated, session)
}

// endIfCurrent はexpected以降に状態が変わっていなければセッションを終了する。
func (a *Authenticator) endIfCurrent(ctx context.Context, expected uint64, userID string) {
	if a.store.Snapshot().Version != expected {
		return
	}
	a.invalidate(ctx, userID, "policy no longer satisfied")
	a.store.CompareAndSet(expected, Unauthenticated, nil)
}

// invalidate はプロバイダーセッションを破棄する。失敗はログに記録するのみ。
func (a *Authenticator) invalidate(ctx context.Context, userID, reason string) {
	if err := a.provider.InvalidateSession(context.WithoutCancel(ctx)); err != nil {
		slog.Error("failed to invalidate provider session",
			slog.String("user_id", userID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}
}

// classifyAuthenticate はプロバイダー認証のエラーを分類する。
func classifyAuthenticate(err error) *Error {
	if errors.Is(err, identity.ErrInvalidCredentials) {
		return newError(KindInvalidCredentials, err)
	}
	return newError(KindNetworkFailure, err)
}

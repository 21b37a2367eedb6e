// Package auth はサインインからセッション保持までの認証フローと、
// ロール・承認状態によるアクセス制御を提供する。
package auth

import (
	"sync"

	"github.com/hitoshi/choraleadmin/internal/model"
)

// State は認証状態を表す。
type State int

const (
	// Unauthenticated はセッションが存在しない状態。
	Unauthenticated State = iota
	// Checking は資格情報またはプロフィールを確認中の状態。
	Checking
	// Authenticated はポリシーを満たすセッションが確立した状態。
	Authenticated
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Checking:
		return "checking"
	case Authenticated:
		return "authenticated"
	}
	return "unknown"
}

// Session は認証済みidentityと解決済みプロフィールの組。メモリ上にのみ存在する。
type Session struct {
	Identity model.Identity
	Profile  model.Profile
}

// Snapshot はSessionStoreのある時点の内容。
type Snapshot struct {
	State   State
	Session *Session
	Version uint64
}

// Identity は認証済みの場合にidentityを返す。
func (s Snapshot) Identity() *model.Identity {
	if s.Session == nil {
		return nil
	}
	return &s.Session.Identity
}

// Profile は認証済みの場合にプロフィールを返す。
func (s Snapshot) Profile() *model.Profile {
	if s.Session == nil {
		return nil
	}
	return &s.Session.Profile
}

// SessionStore はセッションを保持する単一のセル。
// 書き込みのたびにバージョンを単調増加させ、購読者に新しいスナップショットを配信する。
type SessionStore struct {
	mu      sync.Mutex
	state   State
	session *Session
	version uint64

	nextID int
	subs   map[int]func(Snapshot)
}

// NewSessionStore はUnauthenticated状態のSessionStoreを生成する。
func NewSessionStore() *SessionStore {
	return &SessionStore{subs: make(map[int]func(Snapshot))}
}

// Snapshot は現在の内容を返す。
func (s *SessionStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe は書き込みごとにスナップショットを受け取る購読者を登録する。
// コールバックはロック外で呼ばれる。並行書き込み時は到着順が前後するため、Versionで比較すること。
func (s *SessionStore) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Begin はChecking状態に遷移し、新しいバージョンを返す。
func (s *SessionStore) Begin() uint64 {
	snap, _ := s.write(func(Snapshot) bool { return true }, Checking, nil)
	return snap.Version
}

// Set は無条件に状態を書き込む。
// Authenticatedにはポリシーを満たすセッションが必要で、満たさない場合は書き込まない。
func (s *SessionStore) Set(state State, session *Session) (Snapshot, bool) {
	return s.write(func(Snapshot) bool { return true }, state, session)
}

// CompareAndSet は現在のバージョンがexpectedと一致する場合のみ書き込む。
func (s *SessionStore) CompareAndSet(expected uint64, state State, session *Session) (Snapshot, bool) {
	return s.write(func(cur Snapshot) bool { return cur.Version == expected }, state, session)
}

// Fail はexpectedのバージョンで開始した確認の失敗を書き込む。
// その後に別の書き込みでAuthenticatedになっている場合は上書きしない。
func (s *SessionStore) Fail(expected uint64) (Snapshot, bool) {
	return s.write(func(cur Snapshot) bool {
		return cur.Version == expected || cur.State != Authenticated
	}, Unauthenticated, nil)
}

func (s *SessionStore) write(cond func(Snapshot) bool, state State, session *Session) (Snapshot, bool) {
	if state == Authenticated && (session == nil || CheckPolicy(&session.Profile) != nil) {
		return s.Snapshot(), false
	}
	if state != Authenticated {
		session = nil
	}

	s.mu.Lock()
	cur := s.snapshotLocked()
	if !cond(cur) {
		s.mu.Unlock()
		return cur, false
	}
	s.state = state
	s.session = session
	s.version++
	snap := s.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
	return snap, true
}

func (s *SessionStore) snapshotLocked() Snapshot {
	var session *Session
	if s.session != nil {
		cp := *s.session
		session = &cp
	}
	return Snapshot{State: s.state, Session: session, Version: s.version}
}

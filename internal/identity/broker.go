package identity

import "sync"

// EventKind はidentityに関するイベントの種類。
type EventKind int

const (
	// SessionEnded はプロバイダーセッションが外部要因で終了したことを表す。
	// Tokenが空の場合はユーザーの全セッションが対象。
	SessionEnded EventKind = iota + 1
	// IdentityUpdated はidentityまたは紐づくプロフィールが変更されたことを表す。
	IdentityUpdated
)

// Event はBrokerが配信するidentityイベント。
type Event struct {
	Kind   EventKind
	UserID string
	Token  string
}

// Broker はプロセス内でidentityイベントをユーザー単位に配信する。
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(Event)
}

// NewBroker はBrokerを生成する。
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[int]func(Event))}
}

// Subscribe は指定ユーザーのイベントを購読する。返り値の関数で購読を解除する。
func (b *Broker) Subscribe(userID string, fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[int]func(Event))
	}
	b.subs[userID][id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[userID], id)
			if len(b.subs[userID]) == 0 {
				delete(b.subs, userID)
			}
		})
	}
}

// Publish はイベントを購読者に同期的に配信する。
// コールバックはロック外で呼び出すため、コールバック内での購読・解除は安全。
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.subs[ev.UserID]))
	for _, fn := range b.subs[ev.UserID] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Subscribers は指定ユーザーの購読者数を返す。
func (b *Broker) Subscribers(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}

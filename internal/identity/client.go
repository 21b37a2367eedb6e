package identity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/choraleadmin/internal/model"
)

// eventLookupTimeout はイベント受信時のセッション再確認のタイムアウト。
const eventLookupTimeout = 5 * time.Second

// Client はブラウザ1つ分の認証プロバイダー接続。
// 保持するトークンは常に高々1つで、新しい認証に成功すると以前のセッションは破棄される。
type Client struct {
	svc *Service

	mu        sync.Mutex
	token     string
	identity  *model.Identity
	unsub     func()
	nextID    int
	listeners map[int]func(*model.Identity)
}

// NewClient はClientを生成する。tokenが空でない場合は既存セッションを引き継ぐ。
func NewClient(svc *Service, token string) *Client {
	return &Client{
		svc:       svc,
		token:     token,
		listeners: make(map[int]func(*model.Identity)),
	}
}

// Token は現在保持しているプロバイダーセッショントークンを返す。
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Authenticate は資格情報を検証してセッションを発行し、トークンを保持する。
func (c *Client) Authenticate(ctx context.Context, email, password string) (*model.Identity, error) {
	identity, session, err := c.svc.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	previous := c.token
	c.adoptLocked(session.Token, identity)
	c.mu.Unlock()

	if previous != "" && previous != session.Token {
		if err := c.svc.Invalidate(ctx, previous); err != nil {
			slog.Warn("failed to invalidate replaced provider session",
				slog.String("user_id", identity.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return identity, nil
}

// CurrentIdentity は保持しているトークンのidentityを返す。
// セッションが終了している場合はトークンを破棄してnilを返す。
func (c *Client) CurrentIdentity(ctx context.Context) (*model.Identity, error) {
	token := c.Token()
	if token == "" {
		return nil, nil
	}

	identity, err := c.svc.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != token {
		// 問い合わせ中に別のセッションへ切り替わった
		return c.identity, nil
	}
	if identity == nil {
		c.dropLocked()
		return nil, nil
	}
	if c.identity == nil || c.identity.ID != identity.ID {
		c.adoptLocked(token, identity)
	}
	return identity, nil
}

// SubscribeToIdentityChanges はidentityの変化を購読する。
// セッションが外部で終了した場合はnil、identityが更新された場合は新しいidentityで呼ばれる。
// 自身のInvalidateSessionでは通知しない。
func (c *Client) SubscribeToIdentityChanges(fn func(*model.Identity)) (unsubscribe func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// InvalidateSession は保持しているプロバイダーセッションを破棄する。冪等。
func (c *Client) InvalidateSession(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	c.dropLocked()
	c.mu.Unlock()

	return c.svc.Invalidate(ctx, token)
}

// FetchProfile はidentityに紐づくプロフィールを返す。
func (c *Client) FetchProfile(ctx context.Context, userID string) (*model.Profile, error) {
	return c.svc.FetchProfile(ctx, userID)
}

// Close はBrokerの購読とリスナーを解除する。セッションは破棄しない。
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
	c.listeners = make(map[int]func(*model.Identity))
}

// adoptLocked はトークンとidentityを保持し、ユーザーのイベントを購読する。
func (c *Client) adoptLocked(token string, identity *model.Identity) {
	if c.unsub != nil {
		c.unsub()
	}
	c.token = token
	c.identity = identity
	c.unsub = c.svc.broker.Subscribe(identity.ID, c.handleEvent)
}

// dropLocked はトークンを破棄し、イベント購読を解除する。
func (c *Client) dropLocked() {
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
	c.token = ""
	c.identity = nil
}

func (c *Client) handleEvent(ev Event) {
	c.mu.Lock()
	token := c.token
	identity := c.identity
	c.mu.Unlock()

	if token == "" || identity == nil {
		return
	}

	switch ev.Kind {
	case SessionEnded:
		if ev.Token != "" && ev.Token != token {
			return
		}
		// ユーザー単位の終了通知は、通知後に発行された自セッションを誤って落とさないよう再確認する
		ctx, cancel := context.WithTimeout(context.Background(), eventLookupTimeout)
		defer cancel()
		current, err := c.svc.Lookup(ctx, token)
		if err != nil {
			slog.Warn("failed to confirm provider session after end event",
				slog.String("user_id", ev.UserID),
				slog.String("error", err.Error()),
			)
			return
		}
		if current != nil {
			return
		}

		c.mu.Lock()
		if c.token != token {
			c.mu.Unlock()
			return
		}
		c.dropLocked()
		c.mu.Unlock()
		c.notify(nil)

	case IdentityUpdated:
		c.notify(identity)
	}
}

func (c *Client) notify(identity *model.Identity) {
	c.mu.Lock()
	fns := make([]func(*model.Identity), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(identity)
	}
}

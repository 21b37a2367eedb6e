package middleware

import (
	"crypto/sha256"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
)

// sessionCookieName はブラウザを識別するCookieの名前。
const sessionCookieName = "choraleadmin_session"

// SessionCookie はセッションCookieに保存する値。
// ClientIDはブラウザ単位のAuthenticatorを、Tokenはプロバイダーセッションを指す。
type SessionCookie struct {
	ClientID string `json:"cid"`
	Token    string `json:"tok,omitempty"`
}

// CookieConfig はセッションCookieの設定。
type CookieConfig struct {
	Secret string
	MaxAge int
	Secure bool
	Domain string
}

// CookieCodec はセッションCookieを署名・暗号化して読み書きする。
type CookieCodec struct {
	sc     *securecookie.SecureCookie
	config CookieConfig
}

// NewCookieCodec はSESSION_SECRETから署名鍵と暗号鍵を導出してCookieCodecを生成する。
func NewCookieCodec(config CookieConfig) *CookieCodec {
	hashKey := sha256.Sum256([]byte("choraleadmin-cookie-hash:" + config.Secret))
	blockKey := sha256.Sum256([]byte("choraleadmin-cookie-block:" + config.Secret))

	sc := securecookie.New(hashKey[:], blockKey[:])
	sc.SetSerializer(securecookie.JSONEncoder{})
	sc.MaxAge(config.MaxAge)

	return &CookieCodec{sc: sc, config: config}
}

// NewClientID は新しいブラウザ識別子を生成する。
func NewClientID() string {
	return uuid.NewString()
}

// Read はリクエストからセッションCookieを読み取る。
// Cookieがない場合、または署名検証に失敗した場合はfalseを返す。
func (c *CookieCodec) Read(r *http.Request) (SessionCookie, bool) {
	var v SessionCookie

	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return v, false
	}
	if err := c.sc.Decode(sessionCookieName, cookie.Value, &v); err != nil {
		slog.Debug("rejected session cookie", slog.String("error", err.Error()))
		return SessionCookie{}, false
	}
	if v.ClientID == "" {
		return SessionCookie{}, false
	}
	return v, true
}

// Write はセッションCookieを書き込む。
func (c *CookieCodec) Write(w http.ResponseWriter, v SessionCookie) error {
	encoded, err := c.sc.Encode(sessionCookieName, v)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    encoded,
		Path:     "/",
		Domain:   c.config.Domain,
		MaxAge:   c.config.MaxAge,
		HttpOnly: true,
		Secure:   c.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear はセッションCookieを削除する。
func (c *CookieCodec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   c.config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

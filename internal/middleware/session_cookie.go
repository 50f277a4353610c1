package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"
)

// SessionCookieName はセッションIDを運ぶCookieの名前。
const SessionCookieName = "session_id"

// SessionCookieConfig はセッションCookieの設定。
type SessionCookieConfig struct {
	Secret []byte // 署名鍵（SESSION_SECRET）
	MaxAge int    // 有効期間（秒）
	Secure bool   // BASE_URLがhttpsの場合true
	Domain string
}

// SessionCookie はセッションIDにHMAC署名を付与してCookieへ読み書きする。
// Cookieが運ぶのは不透明なIDのみで、ユーザー情報やロールは含めない。
type SessionCookie struct {
	config SessionCookieConfig
}

// NewSessionCookie はSessionCookieを生成する。
func NewSessionCookie(config SessionCookieConfig) *SessionCookie {
	return &SessionCookie{config: config}
}

// Encode はセッションIDを "<id>.<署名>" の形式に変換する。
func (c *SessionCookie) Encode(sessionID string) string {
	return sessionID + "." + c.sign(sessionID)
}

// Decode は署名を検証してセッションIDを取り出す。
// 形式不正または署名不一致の場合はfalseを返す。
func (c *SessionCookie) Decode(value string) (string, bool) {
	i := strings.LastIndexByte(value, '.')
	if i <= 0 || i == len(value)-1 {
		return "", false
	}
	id, sig := value[:i], value[i+1:]
	if !hmac.Equal([]byte(sig), []byte(c.sign(id))) {
		return "", false
	}
	return id, true
}

// Read はリクエストのCookieから検証済みのセッションIDを取り出す。
func (c *SessionCookie) Read(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return c.Decode(cookie.Value)
}

// Set はセッションCookieをレスポンスに設定する。
func (c *SessionCookie) Set(w http.ResponseWriter, sessionID string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    c.Encode(sessionID),
		Path:     "/",
		Domain:   c.config.Domain,
		Expires:  expiresAt,
		MaxAge:   c.config.MaxAge,
		HttpOnly: true,
		Secure:   c.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear はセッションCookieを削除するよう指示する。
func (c *SessionCookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   c.config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c *SessionCookie) sign(id string) string {
	mac := hmac.New(sha256.New, c.config.Secret)
	mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

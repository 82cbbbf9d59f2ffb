package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// SessionCookie はブラウザセッションを識別するCookie名。
	SessionCookie = "ecohome_sid"
	// TokenCookie はセッショントークンを保持するCookie名。
	TokenCookie = "ecohome_token"

	// contextKeySessionID はGinコンテキストにセッションIDを格納するキー。
	contextKeySessionID = "session_id"
)

// CookieOptions はゲートウェイが発行するCookieの属性。
type CookieOptions struct {
	// Secure はHTTPSでのみ送信するかどうか。
	Secure bool
	// MaxAge はCookieの有効期間（秒）。0ならブラウザを閉じるまで。
	MaxAge int
}

// SessionID はブラウザセッションIDを払い出すGinミドルウェアを返す。
// Cookieに有効なUUIDが無ければ新しく発行し、コンテキストに "session_id" を設定する。
func SessionID(opts CookieOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid, err := c.Cookie(SessionCookie)
		if err != nil || uuid.Validate(sid) != nil {
			sid = uuid.NewString()
			SetCookie(c, SessionCookie, sid, opts)
		}
		c.Set(contextKeySessionID, sid)
		c.Next()
	}
}

// GetSessionID はGinコンテキストからセッションIDを取得する。
// SessionIDミドルウェアが事前に適用されている必要がある。
func GetSessionID(c *gin.Context) string {
	sid, _ := c.Get(contextKeySessionID)
	if id, ok := sid.(string); ok {
		return id
	}
	return ""
}

// RequestToken はリクエストからセッショントークンを取り出す。
// Authorizationヘッダーの Bearer トークンを優先し、無ければCookieを使う。
func RequestToken(c *gin.Context) string {
	if token, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); found {
		return strings.TrimSpace(token)
	}
	token, err := c.Cookie(TokenCookie)
	if err != nil {
		return ""
	}
	return token
}

// SetCookie はHttpOnlyかつSameSite=LaxのCookieを設定する。
func SetCookie(c *gin.Context, name, value string, opts CookieOptions) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, opts.MaxAge, "/", "", opts.Secure, true)
}

// ClearCookie はCookieを削除する。
func ClearCookie(c *gin.Context, name string, opts CookieOptions) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, "", -1, "/", "", opts.Secure, true)
}

package identity

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// SessionCookieName はゲストトークンを保持するセッションクッキー名です。
	SessionCookieName = "ff_session"

	sessionKeyGuestToken = "guest_token"
	contextKey           = "identity.resolved"

	userIDHeader   = "X-User-ID"
	userRoleHeader = "X-User-Role"
)

// Middleware はリクエストからオーナーキーを解決して gin コンテキストへ載せます。
// 認証済みユーザーはプロキシが付与する X-User-ID ヘッダーで渡され、
// それ以外はセッションクッキー上のゲストトークンを使います（無ければ発行）。
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID := c.GetHeader(userIDHeader); userID != "" {
			ident, err := NewUser(userID, ParseRole(c.GetHeader(userRoleHeader)))
			if err == nil {
				c.Set(contextKey, ident)
				c.Next()
				return
			}
		}

		session := sessions.Default(c)
		token, _ := session.Get(sessionKeyGuestToken).(string)
		if token == "" {
			token = uuid.NewString()
			session.Set(sessionKeyGuestToken, token)
			_ = session.Save()
		}
		c.Set(contextKey, NewGuest(token))
		c.Next()
	}
}

// FromContext は Middleware が解決した Identity を取り出します。
func FromContext(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return Identity{}, false
	}
	ident, ok := v.(Identity)
	return ident, ok
}

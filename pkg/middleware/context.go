package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/nao1215/carehub/pkg/auth"
)

// Ginコンテキストのキー。
const (
	keyCorrelationID = "correlation_id"
	keyRequestID     = "request_id"
	keyIdentity      = "identity"
)

// GetCorrelationID はGinコンテキストから相関IDを取得する。
func GetCorrelationID(c *gin.Context) string {
	return c.GetString(keyCorrelationID)
}

// GetRequestID はGinコンテキストからリクエストIDを取得する。
func GetRequestID(c *gin.Context) string {
	return c.GetString(keyRequestID)
}

// GetIdentity はGinコンテキストから認証済みのIdentityを取得する。
// 公開ルートで匿名アクセスした場合はnilを返す。
func GetIdentity(c *gin.Context) *auth.Identity {
	v, ok := c.Get(keyIdentity)
	if !ok {
		return nil
	}
	id, _ := v.(*auth.Identity)
	return id
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// Authenticateミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	if id := GetIdentity(c); id != nil {
		return id.UserID
	}
	return ""
}

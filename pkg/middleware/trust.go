package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// 下流サービスに伝播する信頼ヘッダー。
// 内部ネットワーク上ではゲートウェイだけが設定でき、下流サービスは無条件に信頼する。
const (
	HeaderUserID       = "X-User-ID"
	HeaderUserEmail    = "X-User-Email"
	HeaderUserRoles    = "X-User-Roles"
	HeaderUserPerms    = "X-User-Permissions"
	HeaderDepartmentID = "X-Department-ID"
)

// spoofableHeaders はクライアントから受信しても信頼せず削除するヘッダー。
var spoofableHeaders = []string{
	HeaderUserID, HeaderUserEmail, HeaderUserRoles, HeaderUserPerms, HeaderDepartmentID, HeaderRequestID,
}

// StripTrustHeaders はクライアントが直接送ってきた信頼ヘッダーを削除するGinミドルウェアを返す。
func StripTrustHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, h := range spoofableHeaders {
			c.Request.Header.Del(h)
		}
		c.Next()
	}
}

// TrustHeaders は現在のIdentityと相関情報から下流に渡す信頼ヘッダーを組み立てる。
// 匿名アクセスの場合は相関IDとリクエストIDだけを含む。
func TrustHeaders(c *gin.Context) http.Header {
	h := http.Header{}
	if id := GetIdentity(c); id != nil {
		h.Set(HeaderUserID, id.UserID)
		h.Set(HeaderUserEmail, id.Email)
		h.Set(HeaderUserRoles, strings.Join(id.Roles, ","))
		h.Set(HeaderUserPerms, strings.Join(id.Permissions, ","))
		if id.DepartmentID != "" {
			h.Set(HeaderDepartmentID, id.DepartmentID)
		}
	}
	if v := GetCorrelationID(c); v != "" {
		h.Set(HeaderCorrelationID, v)
	}
	if v := GetRequestID(c); v != "" {
		h.Set(HeaderRequestID, v)
	}
	return h
}

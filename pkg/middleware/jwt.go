package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/carehub/pkg/apierror"
	"github.com/nao1215/carehub/pkg/auth"
)

// TokenValidator はBearerトークンを検証する。
type TokenValidator interface {
	Validate(ctx context.Context, token string, public bool) (*auth.Identity, error)
}

// Authenticate はBearerトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストにIdentityを設定する。
// 公開ルートでは検証に失敗しても匿名として後続に進む。
func Authenticate(v TokenValidator, policy auth.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearer(c.GetHeader("Authorization"))
		if err == nil {
			var id *auth.Identity
			id, err = v.Validate(c.Request.Context(), token, policy.Public)
			if err == nil {
				if id != nil {
					c.Set(keyIdentity, id)
				}
				c.Next()
				return
			}
		}

		if policy.Public {
			c.Next()
			return
		}
		apierror.Abort(c, authFailure(err))
	}
}

// reasonMessages は認証失敗の理由ごとのメッセージ。
var reasonMessages = map[string]string{
	auth.ReasonMissingToken:     "認証トークンが必要です",
	auth.ReasonExpired:          "認証トークンの有効期限が切れています",
	auth.ReasonRevoked:          "認証トークンは失効しています",
	auth.ReasonSignatureInvalid: "認証トークンが無効です",
	auth.ReasonMalformed:        "認証トークンの形式が不正です",
}

// authFailure は認証失敗をクライアント向けのエラーに変換する。
// 失効リストを参照できなかった場合は認証失敗ではなく503とする。
func authFailure(err error) *apierror.Error {
	reason := auth.Reason(err)
	if reason == "" {
		return apierror.ServiceUnavailable("認証情報を確認できませんでした").WithCause(err)
	}
	return apierror.Unauthorized(reasonMessages[reason]).
		WithDetails(gin.H{"reason": reason}).
		WithCause(err)
}

// RequireAccess はルートのポリシーに従ってロールとパーミッションを判定するGinミドルウェアを返す。
// Authenticateより後に適用すること。
func RequireAccess(policy auth.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.Authorize(policy, GetIdentity(c)); err != nil {
			apierror.Abort(c, apierror.Forbidden("この操作を行う権限がありません").WithCause(err))
			return
		}
		c.Next()
	}
}

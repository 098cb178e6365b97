package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/carehub/pkg/apierror"
	"github.com/nao1215/carehub/pkg/logging"
	"github.com/nao1215/carehub/pkg/ratelimit"
)

// レート制限のレスポンスヘッダー。
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// RateLimitRule はルートに適用するレート制限。
type RateLimitRule struct {
	// Limit はウィンドウ内の上限件数。0以下の場合は制限しない。
	Limit int
	// Window はスライディングウィンドウの長さ。
	Window time.Duration
	// Scope が空でなければ識別子の前に付け、ルート単位で別々に数える。
	Scope string
}

// RateLimit はスライディングウィンドウ方式のレート制限を行うGinミドルウェアを返す。
// 認証済みならユーザーID、匿名ならクライアントIPを識別子とする。
// 上限を超えた場合は待機させずRATE_LIMITEDで拒否する。
// 判定自体が失敗した場合（Redis障害）は警告を出してリクエストを通す。
func RateLimit(limiter ratelimit.Limiter, rule RateLimitRule) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rule.Limit <= 0 {
			c.Next()
			return
		}

		identifier := "ip:" + c.ClientIP()
		if userID := GetUserID(c); userID != "" {
			identifier = "user:" + userID
		}
		if rule.Scope != "" {
			identifier = rule.Scope + ":" + identifier
		}

		res, err := limiter.Admit(c.Request.Context(), identifier, rule.Limit, rule.Window)
		if err != nil {
			logging.FromContext(c.Request.Context()).Warn("レート制限の判定に失敗したため通過させます",
				zap.String("identifier", identifier),
				zap.Error(err),
			)
			c.Next()
			return
		}

		reset := res.ResetInSeconds()
		c.Header(HeaderRateLimitLimit, strconv.Itoa(res.Limit))
		c.Header(HeaderRateLimitRemaining, strconv.Itoa(res.Remaining))
		c.Header(HeaderRateLimitReset, strconv.Itoa(reset))

		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(reset))
			apierror.Abort(c, apierror.RateLimited("リクエストが多すぎます。しばらくしてから再試行してください").
				WithDetails(gin.H{
					"limit":          res.Limit,
					"remaining":      0,
					"resetInSeconds": reset,
				}))
			return
		}
		c.Next()
	}
}

package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/nao1215/carehub/pkg/auth"
	"github.com/nao1215/carehub/pkg/ratelimit"
)

// Chain はルートごとのパイプラインを 認証 → 認可 → レート制限 → handler の順に組み立てる。
// 前段が受け付けるまで後段は実行されない。
func Chain(v TokenValidator, limiter ratelimit.Limiter, policy auth.Policy, rule RateLimitRule, handler gin.HandlerFunc) []gin.HandlerFunc {
	chain := []gin.HandlerFunc{
		Authenticate(v, policy),
		RequireAccess(policy),
	}
	if limiter != nil && rule.Limit > 0 {
		chain = append(chain, RateLimit(limiter, rule))
	}
	return append(chain, handler)
}

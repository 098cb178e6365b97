package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nao1215/carehub/pkg/logging"
)

// 相関IDとリクエストIDのヘッダー名。
const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderRequestID     = "X-Request-ID"
)

// maxCorrelationIDLength はクライアントから受け付ける相関IDの最大長。
const maxCorrelationIDLength = 128

// Correlation はリクエストごとの相関IDとリクエストIDを払い出すGinミドルウェアを返す。
// 受信した相関IDが空でなければそれを引き継ぎ、なければ新しく生成する。
// リクエストIDは常にゲートウェイが生成する。どちらもレスポンスヘッダーに付与し、
// 以降のログ出力用のロガーをリクエストコンテキストに格納する。
// このステージがリクエストを拒否することはない。
func Correlation(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := ResolveCorrelationID(c.GetHeader(HeaderCorrelationID))
		requestID := uuid.New().String()

		c.Set(keyCorrelationID, correlationID)
		c.Set(keyRequestID, requestID)
		c.Header(HeaderCorrelationID, correlationID)
		c.Header(HeaderRequestID, requestID)

		reqLogger := logger.With(
			zap.String("correlation_id", correlationID),
			zap.String("request_id", requestID),
		)
		c.Request = c.Request.WithContext(logging.WithLogger(c.Request.Context(), reqLogger))

		c.Next()
	}
}

// ResolveCorrelationID は受信した相関IDを検証し、使えなければ新しく生成する。
func ResolveCorrelationID(incoming string) string {
	id := strings.TrimSpace(incoming)
	if id == "" || len(id) > maxCorrelationIDLength {
		return uuid.New().String()
	}
	return id
}

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/carehub/pkg/apierror"
	"github.com/nao1215/carehub/pkg/logging"
)

// ErrorHandler は後続のハンドラが登録したエラーをエンベロープ形式で書き出すGinミドルウェアを返す。
// 500以上のエラーはスタック付きでErrorレベル、それ未満はWarnレベルでログに出力する。
// exposeStackがtrueの場合（本番以外）はスタックトレースをレスポンスのdetailsに含める。
func ErrorHandler(exposeStack bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil {
			return
		}
		e := apierror.From(last.Err)

		logger := logging.FromContext(c.Request.Context())
		fields := []zap.Field{
			zap.String("code", string(e.Code)),
			zap.Int("status", e.Status),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(e),
		}
		if e.Status >= http.StatusInternalServerError {
			if stack := e.Stack(); stack != nil {
				fields = append(fields, zap.ByteString("stack", stack))
			} else {
				fields = append(fields, zap.Stack("stack"))
			}
			logger.Error(e.Message, fields...)
		} else {
			logger.Warn(e.Message, fields...)
		}

		if c.Writer.Written() {
			return
		}
		if exposeStack && e.Status >= http.StatusInternalServerError && e.Stack() != nil && e.Details == nil {
			e = e.WithDetails(gin.H{"stack": string(e.Stack())})
		}
		c.JSON(e.Status, apierror.Failure(e, GetRequestID(c)))
	}
}

// NotFoundHandler は未定義のルートに対してNOT_FOUNDを返すハンドラを返す。
func NotFoundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		apierror.Abort(c, apierror.NotFound("ルートが見つかりません"))
	}
}

package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/carehub/pkg/apierror"
)

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パニックはINTERNAL_ERRORとしてErrorHandlerに引き渡し、スタックトレースはログに出力される。
// ErrorHandlerより内側に適用すること。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				err := apierror.Internal("内部サーバーエラーが発生しました").
					WithCause(fmt.Errorf("panic: %v", r)).
					WithStack(debug.Stack())
				apierror.Abort(c, err)
			}
		}()
		c.Next()
	}
}

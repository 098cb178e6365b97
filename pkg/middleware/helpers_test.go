package middleware

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testEnvelope はテストでレスポンスエンベロープを読むための構造体。
type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
	Meta struct {
		Timestamp string `json:"timestamp"`
		RequestID string `json:"requestId"`
	} `json:"meta"`
}

// newTestRouter は全ルート共通のミドルウェアを適用したテスト用ルーターを生成する。
func newTestRouter(exposeStack bool) *gin.Engine {
	router := gin.New()
	router.Use(Correlation(zap.NewNop()))
	router.Use(ErrorHandler(exposeStack))
	router.Use(Recovery())
	return router
}

// decodeEnvelope はレスポンスボディをエンベロープとしてパースする。
func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) testEnvelope {
	t.Helper()

	var env testEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗: %v (body=%s)", err, w.Body.String())
	}
	return env
}

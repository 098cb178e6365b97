package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nao1215/carehub/pkg/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	// testJWTSecret はテスト用のJWT署名秘密鍵。
	testJWTSecret = "test-secret-key"
	testIssuer    = "carehub-auth"
)

// テストで使う利用者。
var (
	nurse = auth.Subject{
		UserID:       "nurse-1",
		Email:        "nurse@example.com",
		Roles:        []string{"nurse"},
		Permissions:  []string{"patients:read", "appointments:read"},
		DepartmentID: "pediatrics",
	}
	receptionist = auth.Subject{
		UserID:      "reception-1",
		Email:       "reception@example.com",
		Roles:       []string{"receptionist"},
		Permissions: []string{"appointments:read", "appointments:write"},
	}
	admin = auth.Subject{
		UserID:      "admin-1",
		Email:       "admin@example.com",
		Roles:       []string{"admin"},
		Permissions: devPermissions,
	}
	serviceAccount = auth.Subject{
		UserID: "appointment-service",
		Roles:  []string{"service"},
	}
)

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
		Timestamp  string          `json:"timestamp"`
		RequestID  string          `json:"requestId"`
		Pagination json.RawMessage `json:"pagination"`
	} `json:"meta"`
}

// testServer はテスト用のGatewayサーバーと依存先。
type testServer struct {
	*Server
	mr *miniredis.Miniredis
}

// newTestServer はテスト用のGatewayサーバーを生成する。
// backendsに指定しなかった下流サービスには接続できないURLを設定する。
func newTestServer(t *testing.T, backends map[string]http.Handler, opts ...func(*Config)) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	cfg := Config{
		Port:             "0",
		Env:              "test",
		JWTSecret:        testJWTSecret,
		JWTIssuer:        testIssuer,
		ServiceURLs:      map[string]string{},
		ProxyTimeout:     2 * time.Second,
		RateLimitMax:     100,
		RateLimitWindow:  time.Minute,
		RateLimitScope:   ScopeGlobal,
		AuthRateLimitMax: 10,
		WSNamespace:      "/realtime",
		WSChannel:        "carehub:test:broadcast",
		InstanceID:       "gw-test",
	}
	for _, name := range []string{ServiceAuth, ServicePatient, ServiceAppointment, ServiceBilling} {
		h, ok := backends[name]
		if !ok {
			cfg.ServiceURLs[name] = closed.URL
			continue
		}
		backend := httptest.NewServer(h)
		t.Cleanup(backend.Close)
		cfg.ServiceURLs[name] = backend.URL
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := NewServer(cfg, client, zap.NewNop())
	t.Cleanup(func() { _ = s.hub.Close() })
	return &testServer{Server: s, mr: mr}
}

// generateTestJWT はテスト用のアクセストークンを生成する。
func generateTestJWT(t *testing.T, s auth.Subject, opts ...auth.IssuerOption) string {
	t.Helper()

	token, err := auth.NewIssuer(testJWTSecret, testIssuer, opts...).IssueAccess(s)
	if err != nil {
		t.Fatalf("テスト用JWT生成に失敗: %v", err)
	}
	return token
}

// newRequest はテスト用のリクエストを生成する。tokenが空なら認証ヘッダーを付けない。
func newRequest(method, target, token string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// serve はリクエストをゲートウェイで処理してレスポンスを返す。
func (s *testServer) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// do はボディ付きのリクエストをゲートウェイに送る。bodyが空ならボディなし。
func (s *testServer) do(t *testing.T, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := newRequest(method, target, token)
	if body != "" {
		req.Body = io.NopCloser(strings.NewReader(body))
		req.ContentLength = int64(len(body))
		req.Header.Set("Content-Type", "application/json")
	}
	return s.serve(req)
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

// assertError はエラーレスポンスのステータスとコードを検証する。
func assertError(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, wantCode string) testEnvelope {
	t.Helper()

	if w.Code != wantStatus {
		t.Errorf("ステータスコード: got %d, want %d (body=%s)", w.Code, wantStatus, w.Body.String())
	}
	env := decodeEnvelope(t, w)
	if env.Success {
		t.Error("success: got true, want false")
	}
	if env.Error == nil {
		t.Fatalf("error がない: body=%s", w.Body.String())
	}
	if env.Error.Code != wantCode {
		t.Errorf("error.code: got %q, want %q", env.Error.Code, wantCode)
	}
	return env
}

// jsonHandler は固定のJSONを返す下流サービスのハンドラ。
func jsonHandler(status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nao1215/carehub/internal/realtime"
	"github.com/nao1215/carehub/pkg/apierror"
	"github.com/nao1215/carehub/pkg/auth"
	"github.com/nao1215/carehub/pkg/cache"
	"github.com/nao1215/carehub/pkg/event"
	"github.com/nao1215/carehub/pkg/httpclient"
	"github.com/nao1215/carehub/pkg/middleware"
	"github.com/nao1215/carehub/pkg/ratelimit"
)

// shutdownTimeout は停止時に処理中のリクエストを待つ上限時間。
const shutdownTimeout = 15 * time.Second

// Server はAPI GatewayのHTTPサーバー。
type Server struct {
	// cfg はゲートウェイの設定。
	cfg Config
	// router はGinのHTTPルーター。
	router *gin.Engine
	// redis は共有キャッシュのクライアント。
	redis *redis.Client
	// logger はサーバー全体のロガー。
	logger *zap.Logger
	// validator はBearerトークンを検証する。
	validator *auth.Validator
	// issuer は開発用トークンを発行する。
	issuer *auth.Issuer
	// revocations はトークンの失効リスト。
	revocations *cache.RevocationStore
	// limiter はスライディングウィンドウのレート制限。
	limiter ratelimit.Limiter
	// hub はWebSocket接続を管理する。
	hub *realtime.Hub
	// services は下流サービス名ごとのHTTPクライアント。
	services map[string]*httpclient.Client
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(cfg Config, redisClient *redis.Client, logger *zap.Logger) *Server {
	revocations := cache.NewRevocationStore(redisClient)
	validator := auth.NewValidator(cfg.JWTSecret, revocations, auth.WithIssuer(cfg.JWTIssuer))

	clientOpts := []httpclient.Option{httpclient.WithTimeout(cfg.ProxyTimeout)}
	if cfg.ProxyMaxResponseBytes > 0 {
		clientOpts = append(clientOpts, httpclient.WithMaxResponseBytes(cfg.ProxyMaxResponseBytes))
	}
	services := make(map[string]*httpclient.Client, len(cfg.ServiceURLs))
	for name, url := range cfg.ServiceURLs {
		services[name] = httpclient.New(url, clientOpts...)
	}

	var issuerOpts []auth.IssuerOption
	if cfg.AccessTokenTTL > 0 && cfg.RefreshTokenTTL > 0 {
		issuerOpts = append(issuerOpts, auth.WithTTL(cfg.AccessTokenTTL, cfg.RefreshTokenTTL))
	}

	hub := realtime.NewHub(realtime.Config{
		Channel:        cfg.WSChannel,
		InstanceID:     cfg.InstanceID,
		Policies:       roomPolicies(),
		AllowedOrigins: cfg.CORSOrigins,
	}, validator, cache.NewSessionRegistry(redisClient), realtime.NewRedisBus(redisClient, logger), logger)

	router := gin.New()
	router.Use(middleware.Correlation(logger))
	router.Use(middleware.AccessLog())
	router.Use(metricsMiddleware())
	router.Use(middleware.ErrorHandler(!cfg.IsProduction()))
	router.Use(middleware.Recovery())
	router.Use(middleware.StripTrustHeaders())
	router.Use(middleware.CORS(cfg.CORSOrigins))

	s := &Server{
		cfg:         cfg,
		router:      router,
		redis:       redisClient,
		logger:      logger,
		validator:   validator,
		issuer:      auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, issuerOpts...),
		revocations: revocations,
		limiter:     ratelimit.NewRedisLimiter(redisClient),
		hub:         hub,
		services:    services,
	}
	s.setupRoutes()

	return s
}

// Handler はゲートウェイのHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub はWebSocketハブを返す。
func (s *Server) Hub() *realtime.Hub {
	return s.hub
}

// Run はブロードキャストチャンネルを購読してHTTPサーバーを起動する。
// ctxがキャンセルされると接続を閉じてサーバーを停止する。
func (s *Server) Run(ctx context.Context) error {
	if err := s.hub.Start(ctx); err != nil {
		return fmt.Errorf("ハブの開始に失敗: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ゲートウェイを起動しました", zap.String("addr", srv.Addr), zap.String("env", s.cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		_ = s.hub.Close()
		return err
	case <-ctx.Done():
	}

	s.logger.Info("ゲートウェイを停止しています")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// WebSocket接続はShutdownの対象外なので先に閉じる
	if err := s.hub.Close(); err != nil {
		s.logger.Warn("ハブの停止に失敗しました", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("サーバーの停止に失敗: %w", err)
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	s.router.NoRoute(middleware.NotFoundHandler())

	// ヘルスチェックとメトリクス
	s.router.GET("/health", s.handleHealth())
	s.router.GET("/health/live", s.handleLive())
	s.router.GET("/health/ready", s.handleReady())
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// WebSocket（認証はハンドシェイク内で行う）
	s.router.GET(s.cfg.WSNamespace, gin.WrapH(s.hub))

	// 開発用トークン発行
	if !s.cfg.IsProduction() {
		s.router.POST("/auth/dev-token", s.handleDevToken())
	}

	// 下流サービスからのイベント公開
	s.router.POST("/internal/events", middleware.Chain(
		s.validator, s.limiter, publishPolicy,
		s.rateLimitRule(http.MethodPost, "/internal/events", false),
		s.handlePublishEvent(),
	)...)

	for _, r := range routes() {
		handler := s.handleProxy(r.Service)
		if r.RevokesToken {
			handler = s.handleLogout(handler)
		}
		s.router.Handle(r.Method, r.Path, middleware.Chain(
			s.validator, s.limiter, r.Policy,
			s.rateLimitRule(r.Method, r.Path, r.AuthLimit),
			handler,
		)...)
	}
}

// rateLimitRule はルートに適用するレート制限を返す。
// 認証用の上限は通常の上限とは別に数える。
func (s *Server) rateLimitRule(method, path string, authLimit bool) middleware.RateLimitRule {
	rule := middleware.RateLimitRule{Limit: s.cfg.RateLimitMax, Window: s.cfg.RateLimitWindow}
	if authLimit {
		rule.Limit = s.cfg.AuthRateLimitMax
		rule.Scope = "auth"
	}
	if s.cfg.RateLimitScope == ScopeRoute {
		rule.Scope = "route:" + method + ":" + path
	}
	return rule
}

// handleLogout は提示されたアクセストークンを失効させてから次のハンドラに進む。
func (s *Server) handleLogout(next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := middleware.GetIdentity(c)
		if id == nil {
			apierror.Abort(c, apierror.Unauthorized("認証トークンが必要です"))
			return
		}
		if err := s.revocations.Revoke(c.Request.Context(), id.UserID, id.IssuedAt, id.ExpiresAt); err != nil {
			apierror.Abort(c, apierror.ServiceUnavailable("ログアウトを処理できませんでした").WithCause(err))
			return
		}
		next(c)
	}
}

// devTokenRequest は開発用トークン発行のリクエスト。すべて省略できる。
type devTokenRequest struct {
	UserID       string   `json:"userId"`
	Email        string   `json:"email"`
	Roles        []string `json:"roles"`
	Permissions  []string `json:"permissions"`
	DepartmentID string   `json:"departmentId"`
}

// devPermissions は開発用トークンに既定で付けるパーミッション。
var devPermissions = []string{
	"patients:read", "patients:write", "patients:delete",
	"appointments:read", "appointments:write",
	"billing:read", "billing:write",
}

// handleDevToken は開発用のトークンを発行するハンドラを返す。
// 本番環境ではルート自体を登録しない。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req devTokenRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				apierror.Abort(c, apierror.BadRequest("リクエストボディが不正です").WithCause(err))
				return
			}
		}
		subject := auth.Subject{
			UserID:       req.UserID,
			Email:        req.Email,
			Roles:        req.Roles,
			Permissions:  req.Permissions,
			DepartmentID: req.DepartmentID,
		}
		if subject.UserID == "" {
			subject.UserID = "dev-user"
		}
		if subject.Email == "" {
			subject.Email = "dev@localhost"
		}
		if len(subject.Roles) == 0 {
			subject.Roles = []string{"admin"}
		}
		if len(subject.Permissions) == 0 {
			subject.Permissions = devPermissions
		}

		pair, err := s.issuer.IssuePair(subject)
		if err != nil {
			apierror.Abort(c, apierror.Internal("トークンの生成に失敗しました").WithCause(err))
			return
		}
		c.JSON(http.StatusOK, apierror.Success(gin.H{
			"accessToken":  pair.AccessToken,
			"refreshToken": pair.RefreshToken,
			"expiresIn":    pair.ExpiresIn,
			"userId":       subject.UserID,
		}, middleware.GetRequestID(c)))
	}
}

// publishRequest は下流サービスから受け付けるイベント公開のリクエスト。
type publishRequest struct {
	Event   string          `json:"event" binding:"required"`
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

// handlePublishEvent は受け取ったイベントを全インスタンスに配るハンドラを返す。
func (s *Server) handlePublishEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req publishRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Abort(c, apierror.BadRequest("eventは必須です").WithCause(err))
			return
		}
		env, err := event.New(event.Name(req.Event), req.Room, req.Payload)
		if err != nil {
			apierror.Abort(c, apierror.BadRequest("イベントが不正です").WithCause(err))
			return
		}
		env.CorrelationID = middleware.GetCorrelationID(c)

		if err := s.hub.Publish(c.Request.Context(), env); err != nil {
			apierror.Abort(c, apierror.ServiceUnavailable("イベントを公開できませんでした").WithCause(err))
			return
		}
		c.JSON(http.StatusAccepted, apierror.Success(gin.H{"id": env.ID}, middleware.GetRequestID(c)))
	}
}

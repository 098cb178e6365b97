package gateway

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/carehub/pkg/httpclient"
	"github.com/nao1215/carehub/pkg/logging"
)

// 下流サービスの名前。
const (
	ServiceAuth        = "auth"
	ServicePatient     = "patient"
	ServiceAppointment = "appointment"
	ServiceBilling     = "billing"
)

// レート制限の数え方。
const (
	// ScopeGlobal は識別子ごとに全ルートをまとめて数える。
	ScopeGlobal = "global"
	// ScopeRoute はルートと識別子の組ごとに数える。
	ScopeRoute = "route"
)

const defaultJWTSecret = "dev-secret-key"

// Config はゲートウェイの設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// Env は実行環境（production / development）。
	Env string
	// JWTSecret はトークン署名用の秘密鍵。
	JWTSecret string
	// JWTIssuer はトークンの発行者。
	JWTIssuer string
	// AccessTokenTTL と RefreshTokenTTL はゲートウェイが発行するトークンの有効期間。
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// RedisURL は共有キャッシュの接続先。
	RedisURL string
	// ServiceURLs は下流サービス名からベースURLへの対応。
	ServiceURLs map[string]string
	// ProxyTimeout は下流呼び出し1回の上限時間。
	ProxyTimeout time.Duration
	// ProxyMaxResponseBytes は下流レスポンスとして受け付ける最大サイズ。
	ProxyMaxResponseBytes int64
	// RateLimitMax と RateLimitWindow は通常ルートのレート制限。
	RateLimitMax    int
	RateLimitWindow time.Duration
	// RateLimitScope は ScopeGlobal または ScopeRoute。
	RateLimitScope string
	// AuthRateLimitMax はログインなど公開認証ルートの上限。
	AuthRateLimitMax int
	// CORSOrigins はCORSとWebSocketで許可するオリジン。
	CORSOrigins []string
	// WSNamespace はWebSocketのエンドポイントのパス。
	WSNamespace string
	// WSChannel はブロードキャストに使うPub/Subチャンネル。
	WSChannel string
	// InstanceID はこのインスタンスの識別子。
	InstanceID string
}

// IsProduction は本番環境かどうかを返す。
func (c Config) IsProduction() bool {
	return c.Env == logging.EnvProduction
}

// LoadConfig は環境変数から設定を読み込む。
func LoadConfig() (Config, error) {
	cfg := Config{
		Port:      getEnvOr("PORT", "8080"),
		Env:       getEnvOr("APP_ENV", "development"),
		JWTSecret: getEnvOr("JWT_SECRET", defaultJWTSecret),
		JWTIssuer: getEnvOr("JWT_ISSUER", "carehub-auth"),
		RedisURL:  getEnvOr("REDIS_URL", "redis://localhost:6379/0"),
		ServiceURLs: map[string]string{
			ServiceAuth:        getEnvOr("AUTH_SERVICE_URL", "http://localhost:3001"),
			ServicePatient:     getEnvOr("PATIENT_SERVICE_URL", "http://localhost:3002"),
			ServiceAppointment: getEnvOr("APPOINTMENT_SERVICE_URL", "http://localhost:3003"),
			ServiceBilling:     getEnvOr("BILLING_SERVICE_URL", "http://localhost:3004"),
		},
		RateLimitScope: getEnvOr("RATE_LIMIT_SCOPE", ScopeGlobal),
		CORSOrigins:    splitList(getEnvOr("CORS_ORIGINS", "http://localhost:3000")),
		WSNamespace:    getEnvOr("WS_NAMESPACE", "/realtime"),
		WSChannel:      getEnvOr("WS_CHANNEL", "carehub:realtime:broadcast"),
		InstanceID:     getEnvOr("INSTANCE_ID", defaultInstanceID()),
	}

	var err error
	if cfg.AccessTokenTTL, err = getEnvDuration("JWT_ACCESS_TTL", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTokenTTL, err = getEnvDuration("JWT_REFRESH_TTL", 7*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.ProxyTimeout, err = getEnvDuration("PROXY_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	maxBytes, err := getEnvInt("PROXY_MAX_RESPONSE_BYTES", httpclient.DefaultMaxResponseBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.ProxyMaxResponseBytes = int64(maxBytes)
	if cfg.RateLimitMax, err = getEnvInt("RATE_LIMIT_MAX", 100); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitWindow, err = getEnvDuration("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.AuthRateLimitMax, err = getEnvInt("AUTH_RATE_LIMIT_MAX", 10); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.RateLimitScope != ScopeGlobal && c.RateLimitScope != ScopeRoute {
		return fmt.Errorf("RATE_LIMIT_SCOPE は %q または %q を指定してください: %q", ScopeGlobal, ScopeRoute, c.RateLimitScope)
	}
	if c.IsProduction() && c.JWTSecret == defaultJWTSecret {
		return errors.New("本番環境では JWT_SECRET の設定が必須です")
	}
	if c.ProxyTimeout <= 0 {
		return errors.New("PROXY_TIMEOUT は正の値を指定してください")
	}
	if c.ProxyMaxResponseBytes <= 0 {
		return errors.New("PROXY_MAX_RESPONSE_BYTES は正の値を指定してください")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return errors.New("JWT_ACCESS_TTL と JWT_REFRESH_TTL は正の値を指定してください")
	}
	if c.RateLimitMax <= 0 || c.AuthRateLimitMax <= 0 {
		return errors.New("RATE_LIMIT_MAX と AUTH_RATE_LIMIT_MAX は正の値を指定してください")
	}
	if c.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT_WINDOW は正の値を指定してください")
	}
	if !strings.HasPrefix(c.WSNamespace, "/") {
		return fmt.Errorf("WS_NAMESPACE は / で始めてください: %q", c.WSNamespace)
	}
	return nil
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s の値が不正です: %w", key, err)
	}
	return n, nil
}

// getEnvDuration は "30s" のような期間か、秒数の整数を受け付ける。
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s の値が不正です: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func defaultInstanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}

package gateway

import (
	"slices"
	"testing"
	"time"
)

// t.Setenvを使うため並列には実行しない。
func TestLoadConfig(t *testing.T) {
	t.Run("環境変数がなければ既定値を使う", func(t *testing.T) {
		for _, key := range []string{"PORT", "APP_ENV", "JWT_SECRET", "PROXY_TIMEOUT", "RATE_LIMIT_MAX", "RATE_LIMIT_WINDOW", "RATE_LIMIT_SCOPE", "AUTH_RATE_LIMIT_MAX", "WS_NAMESPACE", "JWT_ACCESS_TTL", "JWT_REFRESH_TTL", "PROXY_MAX_RESPONSE_BYTES"} {
			t.Setenv(key, "")
		}

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.Port != "8080" {
			t.Errorf("Port: got %q, want %q", cfg.Port, "8080")
		}
		if cfg.ProxyTimeout != 30*time.Second {
			t.Errorf("ProxyTimeout: got %v, want %v", cfg.ProxyTimeout, 30*time.Second)
		}
		if cfg.RateLimitMax != 100 || cfg.RateLimitWindow != time.Minute || cfg.AuthRateLimitMax != 10 {
			t.Errorf("レート制限: got max=%d window=%v auth=%d", cfg.RateLimitMax, cfg.RateLimitWindow, cfg.AuthRateLimitMax)
		}
		if cfg.AccessTokenTTL != 15*time.Minute || cfg.RefreshTokenTTL != 7*24*time.Hour {
			t.Errorf("TTL: got access=%v refresh=%v", cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
		}
		if cfg.ProxyMaxResponseBytes != 32<<20 {
			t.Errorf("ProxyMaxResponseBytes: got %d, want %d", cfg.ProxyMaxResponseBytes, 32<<20)
		}
		if cfg.RateLimitScope != ScopeGlobal {
			t.Errorf("RateLimitScope: got %q, want %q", cfg.RateLimitScope, ScopeGlobal)
		}
		if len(cfg.ServiceURLs) != 4 {
			t.Errorf("ServiceURLs: got %d, want 4", len(cfg.ServiceURLs))
		}
		if cfg.InstanceID == "" {
			t.Error("InstanceID が空")
		}
	})

	t.Run("環境変数の値を読み込む", func(t *testing.T) {
		t.Setenv("PROXY_TIMEOUT", "5")
		t.Setenv("RATE_LIMIT_WINDOW", "2m")
		t.Setenv("RATE_LIMIT_SCOPE", ScopeRoute)
		t.Setenv("CORS_ORIGINS", "https://app.example.com, https://admin.example.com,")
		t.Setenv("PATIENT_SERVICE_URL", "http://patient:3002")
		t.Setenv("JWT_ACCESS_TTL", "30m")
		t.Setenv("JWT_REFRESH_TTL", "86400")
		t.Setenv("PROXY_MAX_RESPONSE_BYTES", "1048576")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.ProxyTimeout != 5*time.Second {
			t.Errorf("ProxyTimeout: got %v, want %v", cfg.ProxyTimeout, 5*time.Second)
		}
		if cfg.RateLimitWindow != 2*time.Minute {
			t.Errorf("RateLimitWindow: got %v, want %v", cfg.RateLimitWindow, 2*time.Minute)
		}
		if cfg.RateLimitScope != ScopeRoute {
			t.Errorf("RateLimitScope: got %q, want %q", cfg.RateLimitScope, ScopeRoute)
		}
		want := []string{"https://app.example.com", "https://admin.example.com"}
		if !slices.Equal(cfg.CORSOrigins, want) {
			t.Errorf("CORSOrigins: got %v, want %v", cfg.CORSOrigins, want)
		}
		if cfg.AccessTokenTTL != 30*time.Minute || cfg.RefreshTokenTTL != 24*time.Hour {
			t.Errorf("TTL: got access=%v refresh=%v", cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
		}
		if cfg.ProxyMaxResponseBytes != 1<<20 {
			t.Errorf("ProxyMaxResponseBytes: got %d, want %d", cfg.ProxyMaxResponseBytes, 1<<20)
		}
		if cfg.ServiceURLs[ServicePatient] != "http://patient:3002" {
			t.Errorf("patient: got %q", cfg.ServiceURLs[ServicePatient])
		}
	})

	tests := []struct {
		name string
		env  map[string]string
	}{
		{"数値でないRATE_LIMIT_MAX", map[string]string{"RATE_LIMIT_MAX": "many"}},
		{"期間でないPROXY_TIMEOUT", map[string]string{"PROXY_TIMEOUT": "soon"}},
		{"0のPROXY_TIMEOUT", map[string]string{"PROXY_TIMEOUT": "0"}},
		{"0のRATE_LIMIT_WINDOW", map[string]string{"RATE_LIMIT_WINDOW": "0"}},
		{"負のRATE_LIMIT_WINDOW", map[string]string{"RATE_LIMIT_WINDOW": "-1m"}},
		{"0のRATE_LIMIT_MAX", map[string]string{"RATE_LIMIT_MAX": "0"}},
		{"負のAUTH_RATE_LIMIT_MAX", map[string]string{"AUTH_RATE_LIMIT_MAX": "-5"}},
		{"0のJWT_ACCESS_TTL", map[string]string{"JWT_ACCESS_TTL": "0"}},
		{"0のPROXY_MAX_RESPONSE_BYTES", map[string]string{"PROXY_MAX_RESPONSE_BYTES": "0"}},
		{"未知のRATE_LIMIT_SCOPE", map[string]string{"RATE_LIMIT_SCOPE": "tenant"}},
		{"/で始まらないWS_NAMESPACE", map[string]string{"WS_NAMESPACE": "realtime"}},
		{"本番環境で既定のJWT_SECRET", map[string]string{"APP_ENV": "production", "JWT_SECRET": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name+"はエラーになる", func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Error("LoadConfig() error = nil, want error")
			}
		})
	}
}

// Package logging はzapロガーの生成とリクエストコンテキストへの受け渡しを提供する。
package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvProduction は本番環境を表すAPP_ENVの値。
const EnvProduction = "production"

// New は実行環境に応じたロガーを生成する。
// productionではJSON形式、それ以外では開発向けのコンソール形式で出力する。
func New(env string) (*zap.Logger, error) {
	var cfg zap.Config
	if env == EnvProduction {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	// スタックトレースはErrorHandlerが明示的に付与する
	cfg.DisableStacktrace = true

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("ロガーの生成に失敗: %w", err)
	}
	return logger, nil
}

type contextKey struct{}

// WithLogger はロガーをコンテキストに格納する。
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext はコンテキストに格納されたロガーを返す。
// 格納されていない場合はzap.L()を返す。
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return zap.L()
}

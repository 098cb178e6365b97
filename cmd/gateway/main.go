// API Gatewayサービスのエントリポイント。
// 認証・認可、レート制限、下流サービスへのルーティング、WebSocketのリアルタイム配信を担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nao1215/carehub/internal/gateway"
	"github.com/nao1215/carehub/pkg/cache"
	"github.com/nao1215/carehub/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var envFile, port string

	flagSet := pflag.NewFlagSet("gateway", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", ".env", "環境変数を読み込むファイル（存在しなければ無視する）")
	flagSet.StringVar(&port, "port", "", "リッスンポート（PORTより優先する）")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// 既に設定されている環境変数は上書きしない
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s の読み込みに失敗: %w", envFile, err)
	}

	cfg, err := gateway.LoadConfig()
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	if port != "" {
		cfg.Port = port
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		return fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := cache.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()

	server := gateway.NewServer(cfg, redisClient, logger.With(zap.String("instance_id", cfg.InstanceID)))
	if err := server.Run(ctx); err != nil {
		logger.Error("ゲートウェイが異常終了しました", zap.Error(err))
		return err
	}
	logger.Info("ゲートウェイを停止しました")
	return nil
}

package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nao1215/carehub/pkg/event"
)

// Handler はバスから受け取ったエンベロープを処理する。
type Handler func(env *event.Envelope)

// Bus はインスタンス間でエンベロープを配るメッセージバス。
// 配送はベストエフォートで、同一チャンネル内では公開者ごとの順序を保つ。
type Bus interface {
	Publish(ctx context.Context, channel string, env *event.Envelope) error
	Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error)
}

// Subscription はバスの購読。
type Subscription interface {
	// Ping は購読している接続が生きているかを確認する。
	Ping(ctx context.Context) error
	// Close は購読を終了する。
	Close() error
}

// RedisBus はRedis Pub/Subを使ったBus。
type RedisBus struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBus は新しいRedisBusを生成する。
func NewRedisBus(client *redis.Client, logger *zap.Logger) *RedisBus {
	return &RedisBus{client: client, logger: logger}
}

// Publish はエンベロープをチャンネルに公開する。
func (b *RedisBus) Publish(ctx context.Context, channel string, env *event.Envelope) error {
	data, err := event.Encode(env)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("イベントの公開に失敗: %w", err)
	}
	return nil
}

// Subscribe はチャンネルを購読し、受け取ったエンベロープをhに渡す。
// Redisが購読を確認するまで戻らないため、戻った時点以降に公開されたイベントは受け取れる。
func (b *RedisBus) Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error) {
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("チャンネルの購読に失敗: %w", err)
	}

	sub := &redisSubscription{ps: ps, done: make(chan struct{})}
	go sub.loop(h, b.logger.With(zap.String("channel", channel)))
	return sub, nil
}

type redisSubscription struct {
	ps        *redis.PubSub
	done      chan struct{}
	closeOnce sync.Once
}

func (s *redisSubscription) loop(h Handler, logger *zap.Logger) {
	defer close(s.done)
	for msg := range s.ps.Channel() {
		env, err := event.Decode([]byte(msg.Payload))
		if err != nil {
			logger.Warn("不正なエンベロープを破棄しました", zap.Error(err))
			continue
		}
		h(env)
	}
}

func (s *redisSubscription) Ping(ctx context.Context) error {
	return s.ps.Ping(ctx)
}

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.ps.Close()
		<-s.done
	})
	return err
}

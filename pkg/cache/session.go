package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "ws:session:"
	userKeyPrefix    = "ws:user:"
	// sessionTTL は異常終了したインスタンスが残したセッションを掃除するための保険。
	sessionTTL = 24 * time.Hour
)

// Session はWebSocket接続とユーザーの対応。
type Session struct {
	SocketID    string
	UserID      string
	Roles       []string
	InstanceID  string
	ConnectedAt time.Time
}

// SessionRegistry はWebSocketセッションをRedisに登録する。
// 他のインスタンスから「どこかに接続がある」ことを知るための診断用であり、
// 配送の正しさはこの情報に依存しない。
type SessionRegistry struct {
	client redis.Cmdable
}

// NewSessionRegistry は新しいSessionRegistryを生成する。
func NewSessionRegistry(client redis.Cmdable) *SessionRegistry {
	return &SessionRegistry{client: client}
}

// Register はセッションを登録する。
func (r *SessionRegistry) Register(ctx context.Context, s Session) error {
	sessionKey := sessionKeyPrefix + s.SocketID
	userKey := userKeyPrefix + s.UserID
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey, map[string]any{
			"user_id":      s.UserID,
			"roles":        strings.Join(s.Roles, ","),
			"instance_id":  s.InstanceID,
			"connected_at": s.ConnectedAt.UTC().Format(time.RFC3339),
		})
		pipe.Expire(ctx, sessionKey, sessionTTL)
		pipe.SAdd(ctx, userKey, s.SocketID)
		pipe.Expire(ctx, userKey, sessionTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("セッションの登録に失敗: %w", err)
	}
	return nil
}

// Unregister はセッションの登録を解除する。
func (r *SessionRegistry) Unregister(ctx context.Context, socketID, userID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKeyPrefix+socketID)
		pipe.SRem(ctx, userKeyPrefix+userID, socketID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("セッションの登録解除に失敗: %w", err)
	}
	return nil
}

// Lookup はソケットIDに対応するセッションを返す。見つからなければnil。
func (r *SessionRegistry) Lookup(ctx context.Context, socketID string) (*Session, error) {
	fields, err := r.client.HGetAll(ctx, sessionKeyPrefix+socketID).Result()
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	s := &Session{
		SocketID:   socketID,
		UserID:     fields["user_id"],
		InstanceID: fields["instance_id"],
	}
	if roles := fields["roles"]; roles != "" {
		s.Roles = strings.Split(roles, ",")
	}
	if t, err := time.Parse(time.RFC3339, fields["connected_at"]); err == nil {
		s.ConnectedAt = t
	}
	return s, nil
}

// ConnectionCount はユーザーがいずれかのインスタンスに持つ接続数を返す。
func (r *SessionRegistry) ConnectionCount(ctx context.Context, userID string) (int64, error) {
	n, err := r.client.SCard(ctx, userKeyPrefix+userID).Result()
	if err != nil {
		return 0, fmt.Errorf("接続数の取得に失敗: %w", err)
	}
	return n, nil
}

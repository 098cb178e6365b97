package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nao1215/carehub/pkg/auth"
)

// revokedSentinel は失効エントリの値。
const revokedSentinel = "1"

// RevocationStore はRedis上の失効リスト。
// エントリはトークンの残り有効期間だけ保持され、期限切れで自然に消える。
type RevocationStore struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewRevocationStore は新しいRevocationStoreを生成する。
func NewRevocationStore(client redis.Cmdable) *RevocationStore {
	return &RevocationStore{client: client, now: time.Now}
}

// Revoke は (subject, issued-at) のトークンを失効させる。
// expiresAtがすでに過ぎている場合は何もしない。
func (s *RevocationStore) Revoke(ctx context.Context, subject string, issuedAt, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	key := auth.RevocationKey(subject, issuedAt)
	if err := s.client.Set(ctx, key, revokedSentinel, ttl).Err(); err != nil {
		return fmt.Errorf("失効エントリの登録に失敗: %w", err)
	}
	return nil
}

// IsRevoked は (subject, issued-at) のトークンが失効済みかどうかを返す。
func (s *RevocationStore) IsRevoked(ctx context.Context, subject string, issuedAt time.Time) (bool, error) {
	n, err := s.client.Exists(ctx, auth.RevocationKey(subject, issuedAt)).Result()
	if err != nil {
		return false, fmt.Errorf("失効エントリの参照に失敗: %w", err)
	}
	return n > 0, nil
}

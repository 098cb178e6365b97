package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Result はAdmitの判定結果。
type Result struct {
	// Allowed はリクエストを受け付けたかどうか。
	Allowed bool
	// Limit はウィンドウ内の上限件数。
	Limit int
	// Remaining はウィンドウ内で残り受け付け可能な件数。
	Remaining int
	// ResetIn はウィンドウ内の最古のエントリが外れるまでの時間。
	ResetIn time.Duration
}

// ResetInSeconds はResetInを秒単位に切り上げて返す。
func (r Result) ResetInSeconds() int {
	secs := int((r.ResetIn + time.Second - 1) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

// Limiter はレート制限の判定を行う。
type Limiter interface {
	Admit(ctx context.Context, identifier string, limit int, window time.Duration) (Result, error)
}

// slidingWindowScript は判定を原子的に行うLuaスクリプト。
// KEYS[1]: ウィンドウのキー
// ARGV[1]: 現在時刻(ms) ARGV[2]: ウィンドウ長(ms) ARGV[3]: 上限 ARGV[4]: 追加するメンバー
// 戻り値: {許可(1/0), 判定前の件数, リセットまでのms}
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  allowed = 1
end

local reset = window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
  reset = tonumber(oldest[2]) + window - now
end
return {allowed, count, reset}
`)

// RedisLimiter はRedisを使ったスライディングウィンドウ方式のLimiter。
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

// Option はRedisLimiterの設定を変更する。
type Option func(*RedisLimiter)

// WithPrefix はキーの接頭辞を設定する。既定は "ratelimit:"。
func WithPrefix(prefix string) Option {
	return func(l *RedisLimiter) { l.prefix = prefix }
}

// WithClock は現在時刻の取得元を差し替える。
func WithClock(now func() time.Time) Option {
	return func(l *RedisLimiter) { l.now = now }
}

// NewRedisLimiter は新しいRedisLimiterを生成する。
func NewRedisLimiter(client redis.Scripter, opts ...Option) *RedisLimiter {
	l := &RedisLimiter{
		client: client,
		prefix: "ratelimit:",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit はidentifierに対するリクエストを受け付けるかどうかを判定する。
// 上限を超えた場合はAllowed=false、Remaining=0を返す。待機や再試行は行わない。
func (l *RedisLimiter) Admit(ctx context.Context, identifier string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 || window <= 0 {
		return Result{}, fmt.Errorf("不正なレート制限設定: limit=%d, window=%s", limit, window)
	}

	nowMs := l.now().UnixMilli()
	windowMs := window.Milliseconds()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	values, err := slidingWindowScript.Run(ctx, l.client,
		[]string{l.prefix + identifier},
		nowMs, windowMs, limit, member,
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("レート制限の判定に失敗: %w", err)
	}
	if len(values) != 3 {
		return Result{}, fmt.Errorf("レート制限スクリプトの戻り値が不正: %v", values)
	}

	allowed := values[0] == 1
	count := int(values[1])
	remaining := 0
	if allowed {
		remaining = max(0, limit-count-1)
	}
	return Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetIn:   time.Duration(values[2]) * time.Millisecond,
	}, nil
}

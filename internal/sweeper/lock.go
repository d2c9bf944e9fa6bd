package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker は掃除ループの単一インスタンス実行を保証するリースです。
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// RedisLocker はRedisのSETNXによるリース実装です。
// リースには有効期限を付け、取得したまま落ちたインスタンスが
// 掃除を永久に止めないようにします。
type RedisLocker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLocker は RedisLocker を作成します。
func NewRedisLocker(redisURL, key string, ttl time.Duration) (*RedisLocker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisLocker{
		client: redis.NewClient(opt),
		key:    key,
		ttl:    ttl,
	}, nil
}

// Acquire はリースの取得を試みます。他インスタンスが保持中は false を返します。
func (l *RedisLocker) Acquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, "1", l.ttl).Result()
}

// Release はリースを解放します。
func (l *RedisLocker) Release(ctx context.Context) error {
	return l.client.Del(ctx, l.key).Err()
}

// NoopLocker は常にリースを取得できるダミー実装です（単一インスタンス構成用）。
type NoopLocker struct{}

func (NoopLocker) Acquire(_ context.Context) (bool, error) { return true, nil }
func (NoopLocker) Release(_ context.Context) error         { return nil }

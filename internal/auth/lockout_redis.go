package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockoutKeyPrefix = "lockout:"

// RedisLockout はRedisによるLockout実装。
// 複数インスタンス間で失敗回数とロック状態を共有する。
type RedisLockout struct {
	client redis.Cmdable
	policy LockoutPolicy
}

// NewRedisLockout はRedisLockoutを生成する。
func NewRedisLockout(client redis.Cmdable, policy LockoutPolicy) *RedisLockout {
	return &RedisLockout{
		client: client,
		policy: policy,
	}
}

func failuresKey(key string) string {
	return lockoutKeyPrefix + key + ":failures"
}

func lockedKey(key string) string {
	return lockoutKeyPrefix + key + ":locked"
}

// Locked はロックキーの残りTTLを返す。
func (l *RedisLockout) Locked(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := l.client.PTTL(ctx, lockedKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read lockout ttl: %w", err)
	}
	// キーが存在しない場合は負の値が返る
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

// RegisterFailure は失敗回数をINCRし、閾値に達した場合はロックキーを設定する。
// INCR と失効時刻の設定は同じトランザクションで送り、EXPIRE NX で最初の失敗時の窓を保つ。
func (l *RedisLockout) RegisterFailure(ctx context.Context, key string) (time.Duration, error) {
	remaining, err := l.Locked(ctx, key)
	if err != nil {
		return 0, err
	}
	if remaining > 0 {
		return remaining, nil
	}

	var incr *redis.IntCmd
	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, failuresKey(key))
		pipe.ExpireNX(ctx, failuresKey(key), l.policy.Duration)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment lockout failures: %w", err)
	}
	count := incr.Val()

	if count < int64(l.policy.MaxAttempts) {
		return 0, nil
	}

	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, lockedKey(key), "1", l.policy.Duration)
		pipe.Del(ctx, failuresKey(key))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to lock key: %w", err)
	}
	return l.policy.Duration, nil
}

// Reset は失敗回数とロックキーを削除する。
func (l *RedisLockout) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, failuresKey(key), lockedKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to reset lockout: %w", err)
	}
	return nil
}

var _ Lockout = (*RedisLockout)(nil)

package auth

import (
	"context"
	"sync"
	"time"
)

// Lockout は連続した認証失敗によるアクセス制限のインターフェース。
// キーはスコープ付きの識別子（例: "login:<email>", "withdraw:<userID>"）。
type Lockout interface {
	// Locked はキーがロック中であれば残り時間を返す。ロックされていなければ0を返す。
	Locked(ctx context.Context, key string) (time.Duration, error)
	// RegisterFailure は失敗を記録する。閾値に達してロックした場合は残り時間を返す。
	RegisterFailure(ctx context.Context, key string) (time.Duration, error)
	// Reset は失敗回数とロックを解除する。
	Reset(ctx context.Context, key string) error
}

// LockoutPolicy はロックアウトの閾値と期間を表す。
// 失敗回数はDuration以内のものだけを数える。
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// DefaultLockoutPolicy は3回失敗で5分ロックするポリシーを返す。
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		MaxAttempts: 3,
		Duration:    5 * time.Minute,
	}
}

type lockoutEntry struct {
	failures    int
	windowStart time.Time
	lockedUntil time.Time
}

// MemoryLockout はプロセス内マップによるLockout実装。
// 単一インスタンス運用またはREDIS_URL未設定時に使用する。
type MemoryLockout struct {
	policy LockoutPolicy
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*lockoutEntry
}

// NewMemoryLockout はMemoryLockoutを生成する。
func NewMemoryLockout(policy LockoutPolicy) *MemoryLockout {
	return &MemoryLockout{
		policy:  policy,
		now:     time.Now,
		entries: make(map[string]*lockoutEntry),
	}
}

// Locked はキーのロック残り時間を返す。
func (l *MemoryLockout) Locked(_ context.Context, key string) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.remainingLocked(key, l.now()), nil
}

// RegisterFailure は失敗を記録し、閾値到達時にロックする。
func (l *MemoryLockout) RegisterFailure(_ context.Context, key string) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if remaining := l.remainingLocked(key, now); remaining > 0 {
		return remaining, nil
	}

	e, ok := l.entries[key]
	if !ok || now.Sub(e.windowStart) >= l.policy.Duration {
		e = &lockoutEntry{windowStart: now}
		l.entries[key] = e
	}

	e.failures++
	if e.failures >= l.policy.MaxAttempts {
		e.failures = 0
		e.lockedUntil = now.Add(l.policy.Duration)
		return l.policy.Duration, nil
	}
	return 0, nil
}

// Reset はキーのエントリを削除する。
func (l *MemoryLockout) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, key)
	return nil
}

// remainingLocked はロック残り時間を返す。期限切れのロックはエントリごと削除する。
// 呼び出し側でmuを保持していること。
func (l *MemoryLockout) remainingLocked(key string, now time.Time) time.Duration {
	e, ok := l.entries[key]
	if !ok || e.lockedUntil.IsZero() {
		return 0
	}
	if now.Before(e.lockedUntil) {
		return e.lockedUntil.Sub(now)
	}
	delete(l.entries, key)
	return 0
}

var _ Lockout = (*MemoryLockout)(nil)

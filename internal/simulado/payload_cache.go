package simulado

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const payloadKeyPrefix = "simpayload:"

// CachedPayload はレンダリング済みレスポンス本文とLast-Modifiedの組。
type CachedPayload struct {
	Body         []byte
	LastModified time.Time
}

// PayloadCache はレンダリング済みの公開レスポンスを保持するキャッシュ。
// 利用者ごとに異なる progress は対象外。
//
// concurso ごとに世代番号を持ち、InvalidateConcurso で世代を進める。
// Set は生成前に読んだ世代が現在の世代と一致する場合だけ書き込むため、
// 生成中に破棄された古いレスポンスが保存されることはない。
type PayloadCache interface {
	// Get はキャッシュを取得する。存在しない場合はnilを返す。
	Get(ctx context.Context, key string) (*CachedPayload, error)
	// Generation は concurso の現在の世代を返す。
	Generation(ctx context.Context, concursoID string) (int64, error)
	// Set は世代が generation のままであればキャッシュを保存する。
	// 世代が進んでいた場合は何も保存せず false を返す。
	Set(ctx context.Context, key, concursoID string, generation int64, p *CachedPayload, ttl time.Duration) (bool, error)
	// InvalidateConcurso は concurso の世代を進め、属する全てのキャッシュを削除する。
	InvalidateConcurso(ctx context.Context, concursoID string) error
}

// PayloadKey はセクション・concurso・スラッグからキャッシュキーを生成する。
func PayloadKey(section, concursoID, slug string) string {
	key := payloadKeyPrefix + section + ":" + concursoID
	if slug != "" {
		key += ":" + slug
	}
	return key
}

type memoryPayload struct {
	concursoID string
	payload    *CachedPayload
	expiresAt  time.Time
}

// MemoryPayloadCache はプロセス内のPayloadCache実装。
type MemoryPayloadCache struct {
	mu          sync.RWMutex
	entries     map[string]memoryPayload
	generations map[string]int64
	now         func() time.Time
}

// NewMemoryPayloadCache はMemoryPayloadCacheを生成する。
func NewMemoryPayloadCache() *MemoryPayloadCache {
	return &MemoryPayloadCache{
		entries:     make(map[string]memoryPayload),
		generations: make(map[string]int64),
		now:         time.Now,
	}
}

func (c *MemoryPayloadCache) Get(_ context.Context, key string) (*CachedPayload, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(e.expiresAt) {
		return nil, nil
	}
	return e.payload, nil
}

func (c *MemoryPayloadCache) Generation(_ context.Context, concursoID string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generations[concursoID], nil
}

func (c *MemoryPayloadCache) Set(_ context.Context, key, concursoID string, generation int64, p *CachedPayload, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generations[concursoID] != generation {
		return false, nil
	}
	c.entries[key] = memoryPayload{
		concursoID: concursoID,
		payload:    p,
		expiresAt:  c.now().Add(ttl),
	}
	return true, nil
}

func (c *MemoryPayloadCache) InvalidateConcurso(_ context.Context, concursoID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generations[concursoID]++
	now := c.now()
	for key, e := range c.entries {
		if e.concursoID == concursoID || !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	return nil
}

// RedisPayloadCache はRedisによるPayloadCache実装。
// 各エントリは body と last_modified を持つハッシュで、
// concurso ごとのキー集合で一括削除できるようにする。
type RedisPayloadCache struct {
	client redis.Cmdable
}

// NewRedisPayloadCache はRedisPayloadCacheを生成する。
func NewRedisPayloadCache(client redis.Cmdable) *RedisPayloadCache {
	return &RedisPayloadCache{client: client}
}

func concursoIndexKey(concursoID string) string {
	return payloadKeyPrefix + "keys:" + concursoID
}

func generationKey(concursoID string) string {
	return payloadKeyPrefix + "gen:" + concursoID
}

// setIfGenerationScript は世代キーが ARGV[1] と一致する場合だけエントリを書き込む。
// KEYS: エントリ, concurso のキー集合, 世代
// ARGV: 世代, body, last_modified, エントリのTTL(ms), キー集合のTTL(ms)
var setIfGenerationScript = redis.NewScript(`
local gen = redis.call("get", KEYS[3]) or "0"
if gen ~= ARGV[1] then
    return 0
end
redis.call("hset", KEYS[1], "body", ARGV[2], "last_modified", ARGV[3])
redis.call("pexpire", KEYS[1], ARGV[4])
redis.call("sadd", KEYS[2], KEYS[1])
redis.call("pexpire", KEYS[2], ARGV[5])
return 1
`)

func (c *RedisPayloadCache) Get(ctx context.Context, key string) (*CachedPayload, error) {
	fields, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read payload cache: %w", err)
	}
	body, ok := fields["body"]
	if !ok {
		return nil, nil
	}

	p := &CachedPayload{Body: []byte(body)}
	if lm := fields["last_modified"]; lm != "" {
		sec, err := strconv.ParseInt(lm, 10, 64)
		if err == nil && sec > 0 {
			p.LastModified = time.Unix(sec, 0).UTC()
		}
	}
	return p, nil
}

func (c *RedisPayloadCache) Generation(ctx context.Context, concursoID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(concursoID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read payload cache generation: %w", err)
	}
	return gen, nil
}

func (c *RedisPayloadCache) Set(ctx context.Context, key, concursoID string, generation int64, p *CachedPayload, ttl time.Duration) (bool, error) {
	var lm int64
	if !p.LastModified.IsZero() {
		lm = p.LastModified.Unix()
	}

	keys := []string{key, concursoIndexKey(concursoID), generationKey(concursoID)}
	stored, err := setIfGenerationScript.Run(ctx, c.client, keys,
		generation, p.Body, lm, ttl.Milliseconds(), (2 * ttl).Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to write payload cache: %w", err)
	}
	return stored == 1, nil
}

// InvalidateConcurso は世代を進めてからキーを削除する。
func (c *RedisPayloadCache) InvalidateConcurso(ctx context.Context, concursoID string) error {
	if err := c.client.Incr(ctx, generationKey(concursoID)).Err(); err != nil {
		return fmt.Errorf("failed to advance payload cache generation: %w", err)
	}

	idxKey := concursoIndexKey(concursoID)
	keys, err := c.client.SMembers(ctx, idxKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list payload cache keys: %w", err)
	}
	keys = append(keys, idxKey)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate payload cache: %w", err)
	}
	return nil
}

var (
	_ PayloadCache = (*MemoryPayloadCache)(nil)
	_ PayloadCache = (*RedisPayloadCache)(nil)
)

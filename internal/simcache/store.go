package simcache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Item は一括書き込みの1要素。TTLが0以下の場合は期限なしで保存する。
type Item struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// Store はキャッシュの保存先。
type Store interface {
	// Get は値を取得する。存在しない、または期限切れの場合はnilを返す。
	Get(ctx context.Context, key string) ([]byte, error)
	// SetMulti は複数の値をまとめて書き込む。途中の状態は他の読み取りから観測されない。
	SetMulti(ctx context.Context, items ...Item) error
	// Delete は指定キーを削除する。
	Delete(ctx context.Context, keys ...string) error
	// DeletePrefix はプレフィックスに一致するキーをすべて削除する。
	DeletePrefix(ctx context.Context, prefix string) error
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // ゼロ値は期限なし
}

// MemoryStore はプロセス内のStore実装。
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		s.mu.Lock()
		// 読み取り後に書き換えられていなければ削除する
		if cur, ok := s.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *MemoryStore) SetMulti(_ context.Context, items ...Item) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range items {
		e := memoryEntry{value: append([]byte(nil), it.Value...)}
		if it.TTL > 0 {
			e.expiresAt = now.Add(it.TTL)
		}
		s.entries[it.Key] = e
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
		}
	}
	return nil
}

// Len は保持しているエントリ数を返す。期限切れで未削除のものも含む。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

var _ Store = (*MemoryStore)(nil)

package conversation

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryStore 进程内对话历史，超过会话上限时淘汰最久未使用的会话
type MemoryStore struct {
	mu    sync.Mutex
	limit int
	cache *lru.Cache[string, []Message]
}

// NewMemoryStore 创建内存实现
func NewMemoryStore(cfg Config) (*MemoryStore, error) {
	cfg = cfg.withDefaults()
	cache, err := lru.New[string, []Message](cfg.MaxConversations)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{limit: cfg.Limit, cache: cache}, nil
}

func (s *MemoryStore) Append(_ context.Context, key string, msg Message) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, _ := s.cache.Get(key)
	next := make([]Message, 0, len(history)+1)
	next = append(next, history...)
	next = append(next, msg)
	if len(next) > s.limit {
		next = next[len(next)-s.limit:]
	}
	s.cache.Add(key, next)

	out := make([]Message, len(next))
	copy(out, next)
	return out, nil
}

func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(key)
	return nil
}

// Len 当前保存的会话数
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

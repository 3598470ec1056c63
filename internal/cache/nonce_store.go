package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisNonceStore 基于 Redis SETNX 的回调 nonce 防重放存储。
// 首次写入成功视为未见过，键按保留窗口过期。
type RedisNonceStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisNonceStore 创建 Redis nonce 存储
func NewRedisNonceStore(client *redis.Client, prefix string, ttl time.Duration) *RedisNonceStore {
	if prefix == "" {
		prefix = "pay:nonce"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisNonceStore{client: client, prefix: prefix, ttl: ttl}
}

// SeenBefore 记录 nonce 并判断是否已消费过
func (s *RedisNonceStore) SeenBefore(ctx context.Context, nonce string) (bool, error) {
	created, err := s.client.SetNX(ctx, s.prefix+":"+nonce, 1, s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !created, nil
}

// MemoryNonceStore 进程内 nonce 存储，用于未启用 Redis 的部署与测试。
// 保留窗口到期后条目惰性清除。
type MemoryNonceStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryNonceStore 创建进程内 nonce 存储
func NewMemoryNonceStore(ttl time.Duration) *MemoryNonceStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemoryNonceStore{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// SeenBefore 记录 nonce 并判断是否已消费过
func (s *MemoryNonceStore) SeenBefore(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, expireAt := range s.seen {
		if now.After(expireAt) {
			delete(s.seen, key)
		}
	}
	if _, ok := s.seen[nonce]; ok {
		return true, nil
	}
	s.seen[nonce] = now.Add(s.ttl)
	return false, nil
}

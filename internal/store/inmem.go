package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"kidtalk/internal/model"
)

// InMemoryStore 基于内存的存储实现：单进程部署和测试用。
// 注意：重启即丢数据；多实例部署需要换成 RedisStore。
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]entry
	now  func() time.Time
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data: make(map[string]entry),
		now:  time.Now,
	}
}

// NewInMemoryStoreWithClock 测试用：注入时钟以便验证 TTL。
func NewInMemoryStoreWithClock(now func() time.Time) *InMemoryStore {
	s := NewInMemoryStore()
	s.now = now
	return s
}

func (s *InMemoryStore) get(key string) ([]byte, bool) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()
	if !ok || s.now().After(e.expiresAt) {
		// 惰性过期：读到期键时当不存在处理，写路径会覆盖。
		return nil, false
	}
	return e.value, true
}

func (s *InMemoryStore) set(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	s.data[key] = entry{value: value, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
}

func (s *InMemoryStore) ChatStatus(_ context.Context, deviceID string) (model.ChatMode, error) {
	val, ok := s.get(chatStatusKey(deviceID))
	if !ok {
		return "", ErrNotFound
	}
	return model.ChatMode(val), nil
}

func (s *InMemoryStore) SetChatStatus(_ context.Context, deviceID string, mode model.ChatMode, ttl time.Duration) error {
	s.set(chatStatusKey(deviceID), []byte(mode), ttl)
	return nil
}

func (s *InMemoryStore) Session(_ context.Context, deviceID string) (*model.TeachingSession, error) {
	raw, ok := s.get(sessionKey(deviceID))
	if !ok {
		return nil, ErrNotFound
	}
	var sess model.TeachingSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *InMemoryStore) SaveSession(_ context.Context, deviceID string, sess *model.TeachingSession, ttl time.Duration) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	s.set(sessionKey(deviceID), raw, ttl)
	return nil
}

func (s *InMemoryStore) DeleteSession(_ context.Context, deviceID string) error {
	s.mu.Lock()
	delete(s.data, sessionKey(deviceID))
	s.mu.Unlock()
	return nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"kidtalk/internal/model"
)

// RedisStore 基于 redis 的存储实现，多实例部署时共享会话状态。
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore 创建 redis 存储并做一次连通性检查。
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) ChatStatus(ctx context.Context, deviceID string) (model.ChatMode, error) {
	val, err := s.client.Get(ctx, chatStatusKey(deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get chat status: %w", err)
	}
	return model.ChatMode(val), nil
}

func (s *RedisStore) SetChatStatus(ctx context.Context, deviceID string, mode model.ChatMode, ttl time.Duration) error {
	if err := s.client.Set(ctx, chatStatusKey(deviceID), string(mode), ttl).Err(); err != nil {
		return fmt.Errorf("set chat status: %w", err)
	}
	return nil
}

func (s *RedisStore) Session(ctx context.Context, deviceID string) (*model.TeachingSession, error) {
	raw, err := s.client.Get(ctx, sessionKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess model.TeachingSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) SaveSession(ctx context.Context, deviceID string, sess *model.TeachingSession, ttl time.Duration) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(deviceID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, deviceID string) error {
	if err := s.client.Del(ctx, sessionKey(deviceID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Close 关闭底层连接池。
func (s *RedisStore) Close() error {
	return s.client.Close()
}

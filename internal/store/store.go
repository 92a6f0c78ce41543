// Package store 提供按设备维度的会话存储：聊天模式标记与教学会话快照，
// 两个命名空间都带 TTL。快照对存储层是不透明的 JSON。
package store

import (
	"context"
	"errors"
	"time"

	"kidtalk/internal/model"
)

var ErrNotFound = errors.New("store: key not found")

// 键格式沿用管理端约定，便于运维直接在 redis 里排查。
const (
	chatStatusPrefix = "setting:chat_status:"
	sessionPrefix    = "session:teaching_"
)

// Store 设备级键值存储。单键操作原子，同一设备保证读己之写；
// 跨设备顺序无要求。
type Store interface {
	// ChatStatus 返回设备聊天模式；从未设置或已过期时返回 ErrNotFound。
	ChatStatus(ctx context.Context, deviceID string) (model.ChatMode, error)
	// SetChatStatus 写入聊天模式并重置 TTL（滚动过期）。
	SetChatStatus(ctx context.Context, deviceID string, mode model.ChatMode, ttl time.Duration) error

	// Session 返回教学会话快照；不存在时返回 ErrNotFound。
	Session(ctx context.Context, deviceID string) (*model.TeachingSession, error)
	// SaveSession 序列化快照并写入，带 TTL。
	SaveSession(ctx context.Context, deviceID string, s *model.TeachingSession, ttl time.Duration) error
	// DeleteSession 删除快照；键不存在不算错误。
	DeleteSession(ctx context.Context, deviceID string) error
}

func chatStatusKey(deviceID string) string { return chatStatusPrefix + deviceID }
func sessionKey(deviceID string) string    { return sessionPrefix + deviceID }

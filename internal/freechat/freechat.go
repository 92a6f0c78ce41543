// Package freechat 自由聊天模式的回复来源。
// 引擎之外的协作方：教学会话核心只依赖 Responder 接口。
package freechat

import (
	"context"
	"math/rand"
	"sync"

	"kidtalk/internal/model"
)

// Responder 自由聊天回复接口。
type Responder interface {
	Reply(ctx context.Context, userText, childName string) (string, error)
}

// 内置语料：没配 LLM 时的兜底回复。
var cannedReplies = []string{
	"哈哈，{childName}说得真有意思！",
	"是嘛？再给我讲讲吧！",
	"{childName}真会聊天，我喜欢和你说话！",
	"嗯嗯，我在听呢，然后呢？",
	"哇，这个我也想知道！",
}

// Canned 随机语料回复器。
type Canned struct {
	mu   sync.Mutex
	rand *rand.Rand
}

func NewCanned(seed int64) *Canned {
	return &Canned{rand: rand.New(rand.NewSource(seed))}
}

func (c *Canned) Reply(_ context.Context, _ string, childName string) (string, error) {
	c.mu.Lock()
	text := cannedReplies[c.rand.Intn(len(cannedReplies))]
	c.mu.Unlock()
	return model.ReplaceChildName(text, childName), nil
}

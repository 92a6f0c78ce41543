// Package router 把设备上行文本分成三类：切教学模式、切自由模式、
// 普通内容，并分发给教学引擎或自由聊天回复器。
package router

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"kidtalk/internal/engine"
	"kidtalk/internal/freechat"
	"kidtalk/internal/model"
	"kidtalk/internal/store"
)

// Kind 一句上行文本的分类结果。
type Kind int

const (
	KindContent Kind = iota
	KindTeachingSwitch
	KindFreeSwitch
)

// 模式切换关键词，大小写不敏感的子串匹配。
// 先查退出类：「结束教学」「停止学习」里包含教学类关键词，顺序不能反。
var (
	teachingKeywords = []string{
		"教学模式", "开始教学", "学习模式", "开始学习", "我要学习", "我想学习",
		"教我学习", "学习一下", "学习时间", "开始上课", "上课", "教我", "学习", "教学",
	}
	freeKeywords = []string{
		"自由模式", "自由聊天", "聊天模式", "结束教学", "停止学习", "不想学了",
		"不学了", "休息一下", "玩一会", "玩一下", "随便聊", "聊聊天", "聊天", "休息",
	}
)

// Classify 对一句文本做模式分类。
func Classify(text string) Kind {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, kw := range freeKeywords {
		if strings.Contains(t, kw) {
			return KindFreeSwitch
		}
	}
	for _, kw := range teachingKeywords {
		if strings.Contains(t, kw) {
			return KindTeachingSwitch
		}
	}
	return KindContent
}

// 模式切换的确认话术。
const freeSwitchAck = "好的，{childName}！现在进入自由聊天模式，我们随便聊聊吧！"

// Router 上行文本分发器。
type Router struct {
	store  store.Store
	engine *engine.Engine
	free   freechat.Responder
	actors *engine.Actors
	ttl    time.Duration
}

func New(st store.Store, eng *engine.Engine, free freechat.Responder, actors *engine.Actors, ttl time.Duration) *Router {
	return &Router{store: st, engine: eng, free: free, actors: actors, ttl: ttl}
}

// Dispatch 把一句话语投递到设备 actor 串行处理。
func (r *Router) Dispatch(deviceID, childName, text string) bool {
	return r.actors.Submit(deviceID, func() {
		r.Route(context.Background(), deviceID, childName, text)
	})
}

// Route 在设备 actor 内处理一句话语。
func (r *Router) Route(ctx context.Context, deviceID, childName, text string) {
	switch Classify(text) {
	case KindTeachingSwitch:
		r.enterTeaching(ctx, deviceID, childName)
	case KindFreeSwitch:
		r.enterFree(ctx, deviceID, childName)
	default:
		r.routeContent(ctx, deviceID, childName, text)
	}
}

// enterTeaching 切入教学模式并直接开课：首步骤播报是切换后的唯一话音。
func (r *Router) enterTeaching(ctx context.Context, deviceID, childName string) {
	if err := r.store.SetChatStatus(ctx, deviceID, model.ModeTeaching, r.ttl); err != nil {
		log.Printf("[Router] 写聊天模式失败 device=%s: %v", deviceID, err)
		return
	}
	if err := r.engine.Start(ctx, deviceID, childName); err != nil {
		// 开课失败时引擎已播报道歉，这里只需把模式退回去。
		log.Printf("[Router] 开始教学失败 device=%s: %v", deviceID, err)
		r.store.SetChatStatus(ctx, deviceID, model.ModeFree, r.ttl)
	}
}

// enterFree 切回自由模式：取消定时器、删快照、播报确认。幂等。
func (r *Router) enterFree(ctx context.Context, deviceID, childName string) {
	if err := r.engine.Stop(ctx, deviceID); err != nil {
		log.Printf("[Router] 退出教学失败 device=%s: %v", deviceID, err)
	}
	if err := r.store.SetChatStatus(ctx, deviceID, model.ModeFree, r.ttl); err != nil {
		log.Printf("[Router] 写聊天模式失败 device=%s: %v", deviceID, err)
	}
	r.say(ctx, deviceID, model.ReplaceChildName(freeSwitchAck, childName))
}

func (r *Router) routeContent(ctx context.Context, deviceID, childName, text string) {
	mode, err := r.store.ChatStatus(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		mode = model.ModeFree
	} else if err != nil {
		log.Printf("[Router] 读聊天模式失败 device=%s: %v", deviceID, err)
		mode = model.ModeFree
	}
	// 每次路由都重写模式键，滚动续期。
	if err := r.store.SetChatStatus(ctx, deviceID, mode, r.ttl); err != nil {
		log.Printf("[Router] 续期聊天模式失败 device=%s: %v", deviceID, err)
	}

	if mode == model.ModeTeaching {
		if err := r.engine.HandleUtterance(ctx, deviceID, text, childName); err != nil {
			// 快照损坏时引擎已清场并回自由模式，这里保持静默。
			log.Printf("[Router] 教学处理失败 device=%s: %v", deviceID, err)
		}
		return
	}

	reply, err := r.free.Reply(ctx, text, childName)
	if err != nil {
		log.Printf("[Router] 自由聊天回复失败 device=%s: %v", deviceID, err)
		return
	}
	r.say(ctx, deviceID, reply)
}

func (r *Router) say(ctx context.Context, deviceID, text string) {
	u, err := r.engine.Queue(deviceID).OpenUtterance(ctx)
	if err != nil {
		log.Printf("[Router] 播报失败 device=%s: %v", deviceID, err)
		return
	}
	u.Say(ctx, text, 0)
	if err := u.Close(ctx); err != nil {
		log.Printf("[Router] 播报失败 device=%s: %v", deviceID, err)
	}
}

// Package ttsq 实现设备级的 TTS 播报队列。
// 生产者按 FIRST/MIDDLE/LAST 成组写入信封，消费者按 FIFO 播放；
// 用户抢话时置打断标记，消费者丢弃当前组剩余信封。
package ttsq

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Phase 信封在一组播报中的位置。
type Phase string

const (
	PhaseFirst  Phase = "FIRST"
	PhaseMiddle Phase = "MIDDLE"
	PhaseLast   Phase = "LAST"
)

// ContentKind 信封载荷类型。
type ContentKind string

const (
	KindText   ContentKind = "TEXT"
	KindFile   ContentKind = "FILE"
	KindAction ContentKind = "ACTION"
)

// WaitPrefix 停顿指令前缀，__WAIT__3 表示播报前同步等待 3 秒。
const WaitPrefix = "__WAIT__"

// Envelope 队列中的一条播报指令，字段名即下行协议。
type Envelope struct {
	SentenceID  string      `json:"sentence_id"`
	Phase       Phase       `json:"phase"`
	ContentKind ContentKind `json:"content_kind"`
	Content     string      `json:"content,omitempty"`
	File        string      `json:"file,omitempty"`
	SpeechRate  float64     `json:"speech_rate,omitempty"`
}

// IsWait 判断是否为停顿指令并解析等待时长。
func (e Envelope) IsWait() (time.Duration, bool) {
	if e.ContentKind != KindText || !strings.HasPrefix(e.Content, WaitPrefix) {
		return 0, false
	}
	secs, err := strconv.ParseFloat(strings.TrimPrefix(e.Content, WaitPrefix), 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

var ErrClosed = errors.New("ttsq: queue closed")

// 容量按单个教学步骤的信封上限留足余量，生产者正常情况下不阻塞。
const queueCapacity = 64

// Queue 单生产者单消费者的有界队列。
type Queue struct {
	ch      chan Envelope
	aborted atomic.Bool
	closed  atomic.Bool
	done    chan struct{}
}

func New() *Queue {
	return &Queue{
		ch:   make(chan Envelope, queueCapacity),
		done: make(chan struct{}),
	}
}

// Enqueue 入队，队列满时阻塞直到消费者腾出空间或 ctx 取消。
func (q *Queue) Enqueue(ctx context.Context, env Envelope) error {
	if q.closed.Load() {
		return ErrClosed
	}
	select {
	case q.ch <- env:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue 出队，队列空时阻塞。队列关闭且排空后返回 ErrClosed。
func (q *Queue) Dequeue(ctx context.Context) (Envelope, error) {
	select {
	case env := <-q.ch:
		return env, nil
	default:
	}
	select {
	case env := <-q.ch:
		return env, nil
	case <-q.done:
		// 关闭后仍需把已入队的信封放完。
		select {
		case env := <-q.ch:
			return env, nil
		default:
			return Envelope{}, ErrClosed
		}
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// Abort 置打断标记。消费者在信封间观察到该标记时丢弃当前组剩余内容。
func (q *Queue) Abort() { q.aborted.Store(true) }

// TakeAbort 读取并清除打断标记。
func (q *Queue) TakeAbort() bool { return q.aborted.Swap(false) }

// Close 关闭队列。已入队的信封仍会被消费。
func (q *Queue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.done)
	}
}

// Utterance 一组播报的写入端：FIRST 开组，LAST 收尾，中间是内容信封。
type Utterance struct {
	q  *Queue
	id string
}

// OpenUtterance 生成句 id 并写入 FIRST 信封。
func (q *Queue) OpenUtterance(ctx context.Context) (*Utterance, error) {
	u := &Utterance{q: q, id: uuid.NewString()}
	if err := q.Enqueue(ctx, Envelope{SentenceID: u.id, Phase: PhaseFirst, ContentKind: KindText}); err != nil {
		return nil, err
	}
	return u, nil
}

// SentenceID 当前组的句 id。
func (u *Utterance) SentenceID() string { return u.id }

// Say 写入一条文本内容。speechRate 为 0 表示使用默认语速。
func (u *Utterance) Say(ctx context.Context, text string, speechRate float64) error {
	return u.q.Enqueue(ctx, Envelope{
		SentenceID:  u.id,
		Phase:       PhaseMiddle,
		ContentKind: KindText,
		Content:     text,
		SpeechRate:  speechRate,
	})
}

// SayFile 写入一条音频文件内容。
func (u *Utterance) SayFile(ctx context.Context, file string) error {
	return u.q.Enqueue(ctx, Envelope{
		SentenceID:  u.id,
		Phase:       PhaseMiddle,
		ContentKind: KindFile,
		File:        file,
	})
}

// Action 写入一条动作指令。
func (u *Utterance) Action(ctx context.Context, action string) error {
	return u.q.Enqueue(ctx, Envelope{
		SentenceID:  u.id,
		Phase:       PhaseMiddle,
		ContentKind: KindAction,
		Content:     action,
	})
}

// Wait 写入停顿指令，消费者播放到此处会同步等待。
func (u *Utterance) Wait(ctx context.Context, seconds float64) error {
	if seconds <= 0 {
		return nil
	}
	return u.q.Enqueue(ctx, Envelope{
		SentenceID:  u.id,
		Phase:       PhaseMiddle,
		ContentKind: KindText,
		Content:     WaitPrefix + strconv.FormatFloat(seconds, 'f', -1, 64),
	})
}

// Close 写入 LAST 信封收尾。返回后这组播报已完整入队。
func (u *Utterance) Close(ctx context.Context) error {
	return u.q.Enqueue(ctx, Envelope{SentenceID: u.id, Phase: PhaseLast, ContentKind: KindText})
}

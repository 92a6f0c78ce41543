package ttsq

import (
	"context"
	"log"
	"time"
)

// Sink 播报出口，由传输层实现（通常是 websocket 下发）。
type Sink func(Envelope) error

// Drainer 队列消费者：FIFO 取信封交给 Sink，处理停顿指令与打断丢弃。
type Drainer struct {
	queue *Queue
	sink  Sink
	// sleep 可注入，测试中替换以免真实等待。
	sleep func(ctx context.Context, d time.Duration)
}

func NewDrainer(queue *Queue, sink Sink) *Drainer {
	return &Drainer{
		queue: queue,
		sink:  sink,
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
			}
		},
	}
}

// Run 消费直到队列关闭或 ctx 取消。打断只作用于正在播的那一组：
// 观察到标记后丢弃信封直到该组的 LAST，下一组照常播放；
// 空闲期间积累的打断标记在新组开始时作废。
func (d *Drainer) Run(ctx context.Context) {
	playing := ""    // 正在播的组
	discarding := "" // 被打断后丢弃中的组
	for {
		env, err := d.queue.Dequeue(ctx)
		if err != nil {
			return
		}

		if discarding != "" {
			if env.SentenceID == discarding && env.Phase == PhaseLast {
				discarding = ""
			}
			continue
		}

		if env.Phase == PhaseFirst {
			d.queue.TakeAbort()
			playing = env.SentenceID
		} else if playing != "" && d.queue.TakeAbort() {
			playing = ""
			if env.Phase != PhaseLast {
				discarding = env.SentenceID
			}
			continue
		}

		if wait, ok := env.IsWait(); ok {
			d.sleep(ctx, wait)
			continue
		}
		if err := d.sink(env); err != nil {
			log.Printf("[TTSQueue] 播报失败 sentence=%s phase=%s: %v", env.SentenceID, env.Phase, err)
		}
		if env.Phase == PhaseLast {
			playing = ""
		}
	}
}

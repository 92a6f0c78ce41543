package engine

import (
	"sync"
	"time"
)

// TimerPhase 渐进式等待提示的三个阶段。
type TimerPhase string

const (
	TimerWarning TimerPhase = "warning" // 0.7 × timeout：轻提醒
	TimerFinal   TimerPhase = "final"   // 0.9 × timeout：最后提醒
	TimerTimeout TimerPhase = "timeout" // 1.0 × timeout：按无匹配回答处理
)

// TimerEvent 定时器到点事件，携带触发时的步骤索引用于过滤陈旧事件。
type TimerEvent struct {
	DeviceID  string
	StepIndex int
	Phase     TimerPhase
}

// TimeoutController 管理每台设备的等待提示定时器。
// 一台设备同一时刻至多一组（warning/final/timeout）定时器；
// 重新布防会先取消旧的一组。time.AfterFunc 走单调时钟，
// 系统时间调整不会触发误报。
type TimeoutController struct {
	mu   sync.Mutex
	sets map[string]*timerSet

	warningRatio float64
	finalRatio   float64
	// unit 秒的换算单位，测试中注入毫秒以免真实等待。
	unit time.Duration

	fire func(TimerEvent)
}

type timerSet struct {
	gen       uint64
	stepIndex int
	timers    []*time.Timer
}

// NewTimeoutController 创建控制器。fire 在定时器协程里被调用，
// 调用方负责把事件转投到设备 actor。
func NewTimeoutController(warningRatio, finalRatio float64, fire func(TimerEvent)) *TimeoutController {
	return &TimeoutController{
		sets:         make(map[string]*timerSet),
		warningRatio: warningRatio,
		finalRatio:   finalRatio,
		unit:         time.Second,
		fire:         fire,
	}
}

// Arm 为设备当前步骤布防一组定时器，先取消已有的一组。
// timeoutSeconds ≤ 0 表示该步骤不做等待提示。
func (c *TimeoutController) Arm(deviceID string, stepIndex, timeoutSeconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelLocked(deviceID)
	if timeoutSeconds <= 0 {
		return
	}

	set := &timerSet{stepIndex: stepIndex}
	if prev, ok := c.sets[deviceID]; ok {
		set.gen = prev.gen + 1
	}
	c.sets[deviceID] = set

	total := time.Duration(timeoutSeconds) * c.unit
	schedule := func(phase TimerPhase, after time.Duration) {
		gen := set.gen
		set.timers = append(set.timers, time.AfterFunc(after, func() {
			c.dispatch(deviceID, gen, TimerEvent{
				DeviceID:  deviceID,
				StepIndex: stepIndex,
				Phase:     phase,
			})
		}))
	}
	schedule(TimerWarning, time.Duration(float64(total)*c.warningRatio))
	schedule(TimerFinal, time.Duration(float64(total)*c.finalRatio))
	schedule(TimerTimeout, total)
}

// dispatch 过滤已被取消的代次后转发事件。
func (c *TimeoutController) dispatch(deviceID string, gen uint64, ev TimerEvent) {
	c.mu.Lock()
	set, ok := c.sets[deviceID]
	alive := ok && set.gen == gen
	c.mu.Unlock()
	if alive {
		c.fire(ev)
	}
}

// CancelAll 取消设备的整组定时器（收到用户话语或步骤切换时调用）。
func (c *TimeoutController) CancelAll(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked(deviceID)
}

func (c *TimeoutController) cancelLocked(deviceID string) {
	set, ok := c.sets[deviceID]
	if !ok {
		return
	}
	for _, t := range set.timers {
		t.Stop()
	}
	// 保留条目以延续代次，防止已起跑的回调误发。
	set.timers = nil
	set.gen++
}

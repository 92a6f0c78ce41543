// Package engine 实现设备级的教学会话状态机：
// 消费用户话语与定时器事件，产出播报信封与会话生命周期变化。
// 所有会话变更都在设备 actor 内串行执行。
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kidtalk/internal/config"
	"kidtalk/internal/evaluator"
	"kidtalk/internal/model"
	"kidtalk/internal/store"
	"kidtalk/internal/ttsq"
)

// ErrSessionCorrupt 快照解码失败或索引越界。快照已被删除，设备回到自由模式。
var ErrSessionCorrupt = errors.New("engine: corrupt session snapshot")

// 固定话术。
const (
	apologyText    = "抱歉，课程还没有准备好，我们先自由聊天吧。"
	warningText    = "{childName}，你还在听吗？"
	finalText      = "快告诉我你的答案吧！"
	timeoutText    = "时间到了，让我们继续吧。"
	retryTailText  = "让我们再试一次！"
	completionText = "太棒了，{childName}！你完成了学习，得了 %d 分！现在我们可以自由聊天了。"
)

// ScenarioSource 场景数据来源，由管理端客户端实现。
type ScenarioSource interface {
	DefaultTeachingScenario(ctx context.Context, agentID string) (*model.Scenario, error)
	ScenarioSteps(ctx context.Context, scenarioID string) ([]model.Step, error)
	StepMessages(ctx context.Context, stepID string) ([]model.StepMessage, error)
}

// Engine 教学会话引擎。方法必须在对应设备的 actor 内调用，
// 引擎自身不再加会话级锁。
type Engine struct {
	scenarios ScenarioSource
	store     store.Store
	actors    *Actors
	cfg       config.TeachingConfig
	timeouts  *TimeoutController

	mu     sync.Mutex
	queues map[string]*ttsq.Queue
	names  map[string]string

	now func() time.Time
}

func New(scenarios ScenarioSource, st store.Store, actors *Actors, cfg config.TeachingConfig) *Engine {
	e := &Engine{
		scenarios: scenarios,
		store:     st,
		actors:    actors,
		cfg:       cfg,
		queues:    make(map[string]*ttsq.Queue),
		names:     make(map[string]string),
		now:       time.Now,
	}
	// 定时器回调转投设备 actor，与用户话语共用一条串行队列。
	e.timeouts = NewTimeoutController(cfg.WarningRatio, cfg.FinalRatio, func(ev TimerEvent) {
		e.actors.Submit(ev.DeviceID, func() {
			e.handleTimer(context.Background(), ev)
		})
	})
	return e
}

// Queue 返回设备的播报队列，不存在时创建。
func (e *Engine) Queue(deviceID string) *ttsq.Queue {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.queues[deviceID]
	if !ok {
		q = ttsq.New()
		e.queues[deviceID] = q
	}
	return q
}

// ReleaseDevice 设备断连时的清理：取消定时器并关闭播报队列。
func (e *Engine) ReleaseDevice(deviceID string) {
	e.timeouts.CancelAll(deviceID)
	e.mu.Lock()
	q, ok := e.queues[deviceID]
	delete(e.queues, deviceID)
	delete(e.names, deviceID)
	e.mu.Unlock()
	if ok {
		q.Close()
	}
}

// Session 返回设备当前的会话快照（状态查询接口用）。
func (e *Engine) Session(ctx context.Context, deviceID string) (*model.TeachingSession, error) {
	return e.store.Session(ctx, deviceID)
}

// Start 开始一次教学会话：拉取默认场景与步骤，播报第一个步骤。
// 任一环节失败都播报道歉并保证不留下半成品快照。
func (e *Engine) Start(ctx context.Context, deviceID, childName string) error {
	e.setChildName(deviceID, childName)

	scenario, err := e.scenarios.DefaultTeachingScenario(ctx, e.cfg.AgentID)
	if err != nil {
		e.sayOneShot(ctx, deviceID, apologyText)
		return fmt.Errorf("fetch default scenario: %w", err)
	}
	steps, err := e.scenarios.ScenarioSteps(ctx, scenario.ScenarioID)
	if err != nil {
		e.sayOneShot(ctx, deviceID, apologyText)
		return fmt.Errorf("fetch steps for %s: %w", scenario.ScenarioID, err)
	}
	if len(steps) == 0 {
		e.sayOneShot(ctx, deviceID, apologyText)
		return fmt.Errorf("scenario %s has no steps", scenario.ScenarioID)
	}

	maxReplies := scenario.MaxUserReplies
	if maxReplies <= 0 {
		maxReplies = e.cfg.DefaultMaxUserReplies
	}
	sess := &model.TeachingSession{
		SessionID:      uuid.NewString(),
		ScenarioID:     scenario.ScenarioID,
		ScenarioName:   scenario.Name,
		Steps:          steps,
		MaxUserReplies: maxReplies,
	}
	log.Printf("[Engine] 开始教学 device=%s scenario=%s steps=%d", deviceID, scenario.ScenarioID, len(steps))
	return e.presentStep(ctx, deviceID, childName, sess, nil)
}

// HandleUtterance 处理教学模式下的一句用户话语。
// 没有会话快照时视为首次进入，直接开始教学。
func (e *Engine) HandleUtterance(ctx context.Context, deviceID, userText, childName string) error {
	e.setChildName(deviceID, childName)

	sess, err := e.store.Session(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return e.Start(ctx, deviceID, childName)
	}
	if err != nil {
		return e.dropCorrupt(ctx, deviceID, err)
	}
	step := sess.CurrentStep()
	if sess.Completed || step == nil {
		return e.dropCorrupt(ctx, deviceID, fmt.Errorf("step index %d out of range", sess.CurrentStepIndex))
	}

	e.timeouts.CancelAll(deviceID)
	sess.WaitingForResponse = false
	sess.WaitStartTime = nil

	res := evaluator.Evaluate(step, userText, childName)
	ev := model.Evaluation{
		StepIndex: sess.CurrentStepIndex,
		Score:     res.Score,
		MatchType: res.MatchType,
		UserText:  userText,
	}
	return e.resolve(ctx, deviceID, childName, sess, step, ev, res.Passed, res.Feedback)
}

// Stop 退出教学模式：取消定时器、打断在播内容、删除快照。可重复调用。
func (e *Engine) Stop(ctx context.Context, deviceID string) error {
	e.timeouts.CancelAll(deviceID)
	e.Queue(deviceID).Abort()
	return e.store.DeleteSession(ctx, deviceID)
}

// resolve 评估落账后的公共路径：记回复数、查回复上限、走导航器。
func (e *Engine) resolve(ctx context.Context, deviceID, childName string, sess *model.TeachingSession, step *model.Step, ev model.Evaluation, passed bool, feedback string) error {
	sess.Evaluations = append(sess.Evaluations, ev)
	sess.TotalUserReplies++

	// 回复上限只在离开第一个步骤后生效，保证开场至少能完整问一轮。
	if sess.TotalUserReplies >= sess.MaxUserReplies && sess.CurrentStepIndex > 0 {
		return e.complete(ctx, deviceID, childName, sess, model.ReasonReplyLimit)
	}

	nav := Navigate(sess, step, ev.MatchType, passed)
	switch nav.Outcome {
	case NavRetry:
		sess.CurrentStepRetryCount++
		parts := composeParts(step, feedback, childName, retryTailText)
		return e.emitAndWait(ctx, deviceID, sess, step, parts)
	case NavComplete:
		if nav.Reason == model.ReasonLeafMaxAttempts {
			sess.CurrentStepRetryCount++
		}
		return e.complete(ctx, deviceID, childName, sess, nav.Reason)
	default: // NavTransition
		sess.CurrentStepIndex = nav.NextIndex
		sess.CurrentStepRetryCount = 0
		leading := composeParts(step, feedback, childName, "")
		return e.presentStep(ctx, deviceID, childName, sess, leading)
	}
}

// presentStep 播报当前步骤：可选的前置反馈 + 步骤消息（或单条 ai_message），
// LAST 入队后才记录等待起点并布防定时器。
func (e *Engine) presentStep(ctx context.Context, deviceID, childName string, sess *model.TeachingSession, leading []string) error {
	step := sess.CurrentStep()
	u, err := e.Queue(deviceID).OpenUtterance(ctx)
	if err != nil {
		return err
	}
	for _, part := range leading {
		u.Say(ctx, part, 0)
	}

	msgs, err := e.scenarios.StepMessages(ctx, step.StepID)
	if err != nil {
		// 步骤消息拉取失败不致命，退回单条 ai_message。
		log.Printf("[Engine] 拉取步骤消息失败 device=%s step=%s: %v", deviceID, step.StepID, err)
		msgs = nil
	}
	if len(msgs) > 0 {
		for _, m := range msgs {
			switch strings.ToUpper(m.Type) {
			case "FILE":
				u.SayFile(ctx, m.Content)
			case "ACTION":
				u.Action(ctx, m.Content)
			default:
				u.Say(ctx, model.ReplaceChildName(m.Content, childName), m.SpeechRate)
			}
			if m.WaitSeconds > 0 {
				u.Wait(ctx, float64(m.WaitSeconds))
			}
		}
	} else if step.AIMessage != "" {
		u.Say(ctx, model.ReplaceChildName(step.AIMessage, childName), 0)
	}

	return e.finishUtterance(ctx, deviceID, sess, step, u)
}

// emitAndWait 播报若干反馈句（不重播步骤内容），然后重新进入等待。
func (e *Engine) emitAndWait(ctx context.Context, deviceID string, sess *model.TeachingSession, step *model.Step, parts []string) error {
	u, err := e.Queue(deviceID).OpenUtterance(ctx)
	if err != nil {
		return err
	}
	for _, part := range parts {
		u.Say(ctx, part, 0)
	}
	return e.finishUtterance(ctx, deviceID, sess, step, u)
}

func (e *Engine) finishUtterance(ctx context.Context, deviceID string, sess *model.TeachingSession, step *model.Step, u *ttsq.Utterance) error {
	if err := u.Close(ctx); err != nil {
		return err
	}
	// LAST 已入队，从这里开始等用户回答。
	now := e.now()
	sess.WaitingForResponse = true
	sess.WaitStartTime = &now
	sess.WarningSent = false
	if err := e.store.SaveSession(ctx, deviceID, sess, e.cfg.SessionTTL); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	// 默认值已在数据拉取时填好；这里 ≤ 0 表示该步骤关闭等待提示。
	e.timeouts.Arm(deviceID, sess.CurrentStepIndex, step.TimeoutSeconds)
	return nil
}

// complete 终止会话：结算平均分、播报结束语、删快照、回自由模式。
func (e *Engine) complete(ctx context.Context, deviceID, childName string, sess *model.TeachingSession, reason model.CompletionReason) error {
	e.timeouts.CancelAll(deviceID)

	sess.Completed = true
	sess.CompletionReason = reason
	sess.WaitingForResponse = false
	sess.WaitStartTime = nil
	score := meanScore(sess.Evaluations)
	sess.FinalScore = &score

	text := fmt.Sprintf(completionText, score)
	e.sayOneShot(ctx, deviceID, model.ReplaceChildName(text, childName))

	if err := e.store.DeleteSession(ctx, deviceID); err != nil {
		log.Printf("[Engine] 删除快照失败 device=%s: %v", deviceID, err)
	}
	if err := e.store.SetChatStatus(ctx, deviceID, model.ModeFree, e.cfg.SessionTTL); err != nil {
		log.Printf("[Engine] 切回自由模式失败 device=%s: %v", deviceID, err)
	}
	log.Printf("[Engine] 会话结束 device=%s reason=%s replies=%d final=%d",
		deviceID, reason, sess.TotalUserReplies, score)
	return nil
}

// handleTimer 处理等待提示事件。陈旧事件（步骤已切换、会话已结束）直接丢弃。
func (e *Engine) handleTimer(ctx context.Context, ev TimerEvent) {
	sess, err := e.store.Session(ctx, ev.DeviceID)
	if err != nil {
		return
	}
	if sess.Completed || !sess.WaitingForResponse || sess.CurrentStepIndex != ev.StepIndex {
		return
	}
	childName := e.childName(ev.DeviceID)

	switch ev.Phase {
	case TimerWarning:
		sess.WarningSent = true
		e.sayOneShot(ctx, ev.DeviceID, model.ReplaceChildName(warningText, childName))
		if err := e.store.SaveSession(ctx, ev.DeviceID, sess, e.cfg.SessionTTL); err != nil {
			log.Printf("[Engine] 保存提醒状态失败 device=%s: %v", ev.DeviceID, err)
		}
	case TimerFinal:
		e.sayOneShot(ctx, ev.DeviceID, finalText)
	case TimerTimeout:
		e.timeouts.CancelAll(ev.DeviceID)
		sess.WaitingForResponse = false
		sess.WaitStartTime = nil
		step := sess.CurrentStep()
		// 超时按一次无匹配回答处理，同样计入回复数与评估记录。
		synthetic := model.Evaluation{
			StepIndex: sess.CurrentStepIndex,
			Score:     evaluator.ScoreNone,
			MatchType: model.MatchNone,
		}
		if err := e.resolve(ctx, ev.DeviceID, childName, sess, step, synthetic, false, timeoutText); err != nil {
			log.Printf("[Engine] 超时处理失败 device=%s: %v", ev.DeviceID, err)
		}
	}
}

// dropCorrupt 丢弃损坏的快照并让设备静默回到自由模式。
func (e *Engine) dropCorrupt(ctx context.Context, deviceID string, cause error) error {
	log.Printf("[Engine] 快照损坏，丢弃并回自由模式 device=%s: %v", deviceID, cause)
	e.timeouts.CancelAll(deviceID)
	if err := e.store.DeleteSession(ctx, deviceID); err != nil {
		log.Printf("[Engine] 删除损坏快照失败 device=%s: %v", deviceID, err)
	}
	if err := e.store.SetChatStatus(ctx, deviceID, model.ModeFree, e.cfg.SessionTTL); err != nil {
		log.Printf("[Engine] 切回自由模式失败 device=%s: %v", deviceID, err)
	}
	return ErrSessionCorrupt
}

// sayOneShot 播报单句（完整的 FIRST/MIDDLE/LAST 一组），失败只记日志。
func (e *Engine) sayOneShot(ctx context.Context, deviceID, text string) {
	u, err := e.Queue(deviceID).OpenUtterance(ctx)
	if err != nil {
		log.Printf("[Engine] 播报失败 device=%s: %v", deviceID, err)
		return
	}
	u.Say(ctx, text, 0)
	if err := u.Close(ctx); err != nil {
		log.Printf("[Engine] 播报失败 device=%s: %v", deviceID, err)
	}
}

func (e *Engine) setChildName(deviceID, childName string) {
	if childName == "" {
		return
	}
	e.mu.Lock()
	e.names[deviceID] = childName
	e.mu.Unlock()
}

func (e *Engine) childName(deviceID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.names[deviceID]
}

// composeParts 按「鼓励语 + 反馈 + 结尾」组装反馈句，
// 鼓励语与反馈相同时（评估器已用鼓励语覆盖）不重复。
func composeParts(step *model.Step, feedback, childName, tail string) []string {
	var parts []string
	if step.EncouragementMessage != "" {
		if enc := model.ReplaceChildName(step.EncouragementMessage, childName); enc != feedback {
			parts = append(parts, enc)
		}
	}
	if feedback != "" {
		parts = append(parts, feedback)
	}
	if tail != "" {
		parts = append(parts, tail)
	}
	return parts
}

// meanScore 所有评估分的四舍五入平均值。
func meanScore(evs []model.Evaluation) int {
	if len(evs) == 0 {
		return 0
	}
	sum := 0
	for _, ev := range evs {
		sum += ev.Score
	}
	return int(math.Round(float64(sum) / float64(len(evs))))
}

package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"kidtalk/internal/config"
	"kidtalk/internal/engine"
	"kidtalk/internal/model"
	"kidtalk/internal/store"
	"kidtalk/internal/ttsq"
)

type fakeSource struct {
	scenario *model.Scenario
	steps    []model.Step
}

func (f *fakeSource) DefaultTeachingScenario(context.Context, string) (*model.Scenario, error) {
	if f.scenario == nil {
		return nil, errors.New("no teaching scenario available")
	}
	return f.scenario, nil
}

func (f *fakeSource) ScenarioSteps(context.Context, string) ([]model.Step, error) {
	return f.steps, nil
}

func (f *fakeSource) StepMessages(context.Context, string) ([]model.StepMessage, error) {
	return nil, nil
}

type fakeFree struct{ replies []string }

func (f *fakeFree) Reply(_ context.Context, text, _ string) (string, error) {
	f.replies = append(f.replies, text)
	return "自由回复：" + text, nil
}

func newTestRouter(src engine.ScenarioSource) (*Router, *engine.Engine, *store.InMemoryStore, *fakeFree) {
	st := store.NewInMemoryStore()
	actors := engine.NewActors()
	eng := engine.New(src, st, actors, config.TeachingConfig{
		DefaultMaxUserReplies: 3,
		DefaultTimeoutSeconds: 20,
		WarningRatio:          0.7,
		FinalRatio:            0.9,
		SessionTTL:            30 * time.Minute,
	})
	free := &fakeFree{}
	return New(st, eng, free, actors, 30*time.Minute), eng, st, free
}

func drainTexts(q *ttsq.Queue) []string {
	var out []string
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		env, err := q.Dequeue(ctx)
		cancel()
		if err != nil {
			return out
		}
		if env.Phase == ttsq.PhaseMiddle && env.ContentKind == ttsq.KindText {
			out = append(out, env.Content)
		}
	}
}

// TestClassify 关键词分类：退出类优先，避免「结束教学」误判成教学。
func TestClassify(t *testing.T) {
	cases := []struct {
		text string
		want Kind
	}{
		{"教学模式", KindTeachingSwitch},
		{"我要学习", KindTeachingSwitch},
		{"妈妈说该上课了", KindTeachingSwitch},
		{"结束教学", KindFreeSwitch},
		{"停止学习", KindFreeSwitch},
		{"不学了不学了", KindFreeSwitch},
		{"我们随便聊吧", KindFreeSwitch},
		{"苹果是红色的", KindContent},
		{"", KindContent},
	}
	for _, tc := range cases {
		if got := Classify(tc.text); got != tc.want {
			t.Fatalf("Classify(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

// TestTeachingSwitchStartsSession 教学切换：写模式键并直接开课，
// 首步骤播报是唯一的话音。
func TestTeachingSwitchStartsSession(t *testing.T) {
	r, eng, st, _ := newTestRouter(&fakeSource{
		scenario: &model.Scenario{ScenarioID: "X", MaxUserReplies: 3},
		steps:    []model.Step{{StepID: "s1", AIMessage: "第一课开始", TimeoutSeconds: -1}},
	})
	ctx := context.Background()

	r.Route(ctx, "dev-1", "乐乐", "教学模式")

	mode, err := st.ChatStatus(ctx, "dev-1")
	if err != nil || mode != model.ModeTeaching {
		t.Fatalf("expected teaching_mode, got %v %v", mode, err)
	}
	if _, err := st.Session(ctx, "dev-1"); err != nil {
		t.Fatalf("expected a session snapshot, got %v", err)
	}
	texts := drainTexts(eng.Queue("dev-1"))
	if len(texts) != 1 || texts[0] != "第一课开始" {
		t.Fatalf("step utterance should be the only speech, got %v", texts)
	}
}

// TestTeachingSwitchWithoutScenario 开课失败：道歉并退回自由模式。
func TestTeachingSwitchWithoutScenario(t *testing.T) {
	r, eng, st, _ := newTestRouter(&fakeSource{})
	ctx := context.Background()

	r.Route(ctx, "dev-1", "", "我要学习")

	mode, _ := st.ChatStatus(ctx, "dev-1")
	if mode != model.ModeFree {
		t.Fatalf("failed start must fall back to free_mode, got %v", mode)
	}
	texts := drainTexts(eng.Queue("dev-1"))
	if len(texts) != 1 || !strings.Contains(texts[0], "抱歉") {
		t.Fatalf("expected an apology, got %v", texts)
	}
}

// TestFreeSwitchIdempotent 自由切换：删快照、发确认；重复切换无副作用。
func TestFreeSwitchIdempotent(t *testing.T) {
	r, eng, st, free := newTestRouter(&fakeSource{
		scenario: &model.Scenario{ScenarioID: "X", MaxUserReplies: 3},
		steps: []model.Step{{StepID: "s1", ExpectedKeywords: []string{"红色"},
			MaxAttempts: 3, TimeoutSeconds: -1}},
	})
	ctx := context.Background()

	r.Route(ctx, "dev-1", "乐乐", "开始学习")
	r.Route(ctx, "dev-1", "乐乐", "不学了")

	if _, err := st.Session(ctx, "dev-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("snapshot must be removed on free switch, got %v", err)
	}
	mode, _ := st.ChatStatus(ctx, "dev-1")
	if mode != model.ModeFree {
		t.Fatalf("expected free_mode, got %v", mode)
	}

	// 再切一次也不报错，不复活快照。
	r.Route(ctx, "dev-1", "乐乐", "不学了")
	if _, err := st.Session(ctx, "dev-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("free switch must stay idempotent, got %v", err)
	}

	// 后续内容走自由聊天，绝不触发教学推进。
	drainTexts(eng.Queue("dev-1"))
	r.Route(ctx, "dev-1", "乐乐", "红色")
	if _, err := st.Session(ctx, "dev-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("free-mode content must not create a teaching session")
	}
	if len(free.replies) != 1 || free.replies[0] != "红色" {
		t.Fatalf("content should go to free chat, got %v", free.replies)
	}
	texts := drainTexts(eng.Queue("dev-1"))
	if len(texts) != 1 || texts[0] != "自由回复：红色" {
		t.Fatalf("free reply not spoken: %v", texts)
	}
}

// TestContentRoutedToTeaching 教学模式下的内容交给引擎评分推进。
func TestContentRoutedToTeaching(t *testing.T) {
	r, _, st, free := newTestRouter(&fakeSource{
		scenario: &model.Scenario{ScenarioID: "X", MaxUserReplies: 5},
		steps: []model.Step{
			{StepID: "s1", ExpectedPhrases: []string{"你好"}, PerfectNextStepID: "s2",
				TimeoutSeconds: -1},
			{StepID: "s2", MaxAttempts: 3, TimeoutSeconds: -1},
		},
	})
	ctx := context.Background()

	r.Route(ctx, "dev-1", "", "教学模式")
	r.Route(ctx, "dev-1", "", "你好老师")

	sess, err := st.Session(ctx, "dev-1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess.CurrentStepIndex != 1 || sess.TotalUserReplies != 1 {
		t.Fatalf("teaching content not scored: %+v", sess)
	}
	if len(free.replies) != 0 {
		t.Fatalf("teaching content leaked to free chat: %v", free.replies)
	}
}

// TestRollingTTLOnContent 每次路由内容都滚动续期模式键。
func TestRollingTTLOnContent(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	st := store.NewInMemoryStoreWithClock(func() time.Time { return now })
	actors := engine.NewActors()
	eng := engine.New(&fakeSource{}, st, actors, config.TeachingConfig{
		DefaultMaxUserReplies: 3, WarningRatio: 0.7, FinalRatio: 0.9,
		SessionTTL: 30 * time.Minute,
	})
	r := New(st, eng, &fakeFree{}, actors, 30*time.Minute)
	ctx := context.Background()

	st.SetChatStatus(ctx, "dev-1", model.ModeFree, 30*time.Minute)
	now = now.Add(25 * time.Minute)
	r.Route(ctx, "dev-1", "", "随便说点")
	now = now.Add(25 * time.Minute)

	// 距上次路由只过了 25 分钟，续期后键应仍然有效。
	if _, err := st.ChatStatus(ctx, "dev-1"); err != nil {
		t.Fatalf("mode key should have been renewed: %v", err)
	}
}

// TestDispatchSerializesPerDevice 异步分发经 actor 串行处理。
func TestDispatchSerializesPerDevice(t *testing.T) {
	r, _, st, _ := newTestRouter(&fakeSource{
		scenario: &model.Scenario{ScenarioID: "X", MaxUserReplies: 10},
		steps: []model.Step{
			{StepID: "s1", ExpectedPhrases: []string{"你好"}, PerfectNextStepID: "s2",
				TimeoutSeconds: -1},
			{StepID: "s2", MaxAttempts: 5, TimeoutSeconds: -1},
		},
	})

	if !r.Dispatch("dev-1", "", "教学模式") {
		t.Fatalf("Dispatch rejected")
	}
	if !r.Dispatch("dev-1", "", "你好") {
		t.Fatalf("Dispatch rejected")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := st.Session(context.Background(), "dev-1")
		if err == nil && sess.CurrentStepIndex == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("dispatched utterances not processed in order")
}

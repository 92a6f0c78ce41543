package evaluator

import (
	"strings"
	"testing"

	"kidtalk/internal/model"
)

// TestPhraseBeatsKeyword 短语与关键词同时命中时按短语记满分。
func TestPhraseBeatsKeyword(t *testing.T) {
	step := &model.Step{
		ExpectedPhrases:  []string{"我喜欢苹果"},
		ExpectedKeywords: []string{"苹果"},
	}

	r := Evaluate(step, "我喜欢苹果！", "")
	if r.Score != ScorePerfect || r.MatchType != model.MatchPerfect {
		t.Fatalf("expected perfect match, got score=%d type=%s", r.Score, r.MatchType)
	}
	if !r.Passed {
		t.Fatalf("perfect match must pass")
	}
}

// TestKeywordPartial 只命中关键词记部分分且及格。
func TestKeywordPartial(t *testing.T) {
	step := &model.Step{
		ExpectedPhrases:  []string{"我喜欢苹果"},
		ExpectedKeywords: []string{"苹果", "香蕉"},
	}

	r := Evaluate(step, "这是一个苹果", "")
	if r.Score != ScorePartial || r.MatchType != model.MatchPartial {
		t.Fatalf("expected partial match, got score=%d type=%s", r.Score, r.MatchType)
	}
	if !r.Passed {
		t.Fatalf("partial match must pass the 60 threshold")
	}
}

// TestNoMatch 两类都未命中时零分并给鼓励语。
func TestNoMatch(t *testing.T) {
	step := &model.Step{ExpectedKeywords: []string{"苹果"}}

	r := Evaluate(step, "我不知道", "")
	if r.Score != ScoreNone || r.MatchType != model.MatchNone || r.Passed {
		t.Fatalf("expected failing no_match, got %+v", r)
	}
	found := false
	for _, msg := range retryPool {
		if r.Feedback == msg {
			found = true
		}
	}
	if !found {
		t.Fatalf("no_match feedback should come from the retry pool, got %q", r.Feedback)
	}
}

// TestPinyinTolerance 语音识别输出拼音时仍能与汉字候选匹配。
func TestPinyinTolerance(t *testing.T) {
	step := &model.Step{ExpectedKeywords: []string{"苹果"}}

	r := Evaluate(step, "ping guo", "")
	if r.MatchType != model.MatchPartial {
		t.Fatalf("pinyin input should match hanzi keyword, got %s", r.MatchType)
	}

	// 反向：汉字输入匹配拼音候选。
	step = &model.Step{ExpectedKeywords: []string{"ping guo"}}
	r = Evaluate(step, "我说苹果", "")
	if r.MatchType != model.MatchPartial {
		t.Fatalf("hanzi input should match pinyin keyword, got %s", r.MatchType)
	}
}

// TestCaseAndSpaceInsensitive 大小写与空白不影响字面匹配。
func TestCaseAndSpaceInsensitive(t *testing.T) {
	step := &model.Step{ExpectedKeywords: []string{"Apple"}}

	r := Evaluate(step, "  aPPle  pie ", "")
	if r.MatchType != model.MatchPartial {
		t.Fatalf("expected case/space-insensitive hit, got %s", r.MatchType)
	}
}

// TestDegenerateStepAutoPasses 没配任何期望词的步骤任何回答都算部分通过。
func TestDegenerateStepAutoPasses(t *testing.T) {
	step := &model.Step{}

	r := Evaluate(step, "随便说点什么", "")
	if r.Score != ScorePartial || r.MatchType != model.MatchPartial || !r.Passed {
		t.Fatalf("empty expectations should auto-pass, got %+v", r)
	}
}

// TestEncouragementOverride 步骤自定义鼓励语在及格档覆盖语料池并替换占位符。
func TestEncouragementOverride(t *testing.T) {
	step := &model.Step{
		ExpectedKeywords:     []string{"苹果"},
		EncouragementMessage: "{childName}真棒！",
	}

	r := Evaluate(step, "苹果", "乐乐")
	if r.Feedback != "乐乐真棒！" {
		t.Fatalf("expected override feedback, got %q", r.Feedback)
	}

	// 不及格时不覆盖，仍走鼓励语料池。
	r = Evaluate(step, "香蕉", "乐乐")
	if strings.Contains(r.Feedback, "乐乐") {
		t.Fatalf("failing answer must not use the override, got %q", r.Feedback)
	}
}

// TestDeterministic 同一步骤同一文本重放必须得到完全一致的结果。
func TestDeterministic(t *testing.T) {
	step := &model.Step{ExpectedKeywords: []string{"苹果"}}

	a := Evaluate(step, "嗯这个嘛", "")
	b := Evaluate(step, "嗯这个嘛", "")
	if a != b {
		t.Fatalf("evaluation not deterministic: %+v vs %+v", a, b)
	}
}

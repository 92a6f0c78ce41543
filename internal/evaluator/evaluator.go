// Package evaluator 对用户的口头回答打分。
// 匹配是字面与拼音双表示的子串判断：短语命中记满分，
// 关键词命中记部分分，否则零分。
package evaluator

import (
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/mozillazg/go-pinyin"

	"kidtalk/internal/model"
)

const (
	ScorePerfect = 100
	ScorePartial = 70
	ScoreNone    = 0
	// PassThreshold 及格线。
	PassThreshold = 60
)

// Result 一次评估的产出。
type Result struct {
	Score     int
	MatchType model.MatchType
	Feedback  string
	Passed    bool
}

// 反馈语料池，沿用设备端既有文案。
var (
	praisePool = []string{
		"太棒了！你说得很好！",
		"真聪明！回答得非常好！",
		"哇！你真是太厉害了！",
		"完美！你学得很快！",
	}
	goodPool = []string{
		"很好！回答得很棒！",
		"不错！你说得对！",
		"真棒！继续加油！",
	}
	retryPool = []string{
		"没关系，我们再试一次！",
		"加油，你可以的！",
		"别着急，慢慢来~",
		"再想想看，我相信你！",
	}
)

var pinyinArgs = pinyin.NewArgs()

// Evaluate 评估用户回答。相同的步骤与文本总是产出相同结果，
// 反馈文案的选取也是输入的确定函数。
func Evaluate(step *model.Step, userText, childName string) Result {
	// 步骤没配任何期望词时视为自动通过（部分匹配档）。
	if len(step.ExpectedPhrases) == 0 && len(step.ExpectedKeywords) == 0 {
		return buildResult(step, ScorePartial, model.MatchPartial, userText, childName)
	}

	literal, phonetic := normalize(userText)

	for _, phrase := range step.ExpectedPhrases {
		if contains(literal, phonetic, phrase) {
			return buildResult(step, ScorePerfect, model.MatchPerfect, userText, childName)
		}
	}
	for _, keyword := range step.ExpectedKeywords {
		if contains(literal, phonetic, keyword) {
			return buildResult(step, ScorePartial, model.MatchPartial, userText, childName)
		}
	}
	return buildResult(step, ScoreNone, model.MatchNone, userText, childName)
}

func buildResult(step *model.Step, score int, mt model.MatchType, userText, childName string) Result {
	return Result{
		Score:     score,
		MatchType: mt,
		Feedback:  feedback(step, score, userText, childName),
		Passed:    score >= PassThreshold,
	}
}

func feedback(step *model.Step, score int, userText, childName string) string {
	// 表扬档（及格以上）优先用步骤自定义的鼓励语。
	if score >= PassThreshold && step.EncouragementMessage != "" {
		return model.ReplaceChildName(step.EncouragementMessage, childName)
	}

	switch {
	case score >= ScorePerfect:
		return pickDeterministic(praisePool, userText)
	case score >= PassThreshold:
		return pickDeterministic(goodPool, userText)
	default:
		return pickDeterministic(retryPool, userText)
	}
}

// pickDeterministic 以用户文本为种子在语料池中取一条，
// 保证同一输入重放得到同一反馈。
func pickDeterministic(pool []string, seed string) string {
	h := fnv.New32a()
	h.Write([]byte(seed))
	return pool[int(h.Sum32())%len(pool)]
}

// contains 判断候选词在字面或拼音任一表示下是否为用户文本的子串。
func contains(literal, phonetic, candidate string) bool {
	candLit, candPhon := normalize(candidate)
	if candLit == "" {
		return false
	}
	if strings.Contains(literal, candLit) {
		return true
	}
	return candPhon != "" && strings.Contains(phonetic, candPhon)
}

// normalize 产出两种表示：
//   - literal：去空白、ASCII 小写后的原文；
//   - phonetic：逐字转拼音（无声调、小写），音节以空格连接，
//     拉丁片段原样保留为音节，使得拼音转写的语音输入可与汉字候选互相匹配。
func normalize(text string) (literal, phonetic string) {
	var lit strings.Builder
	var tokens []string
	var latin strings.Builder

	flushLatin := func() {
		if latin.Len() > 0 {
			tokens = append(tokens, latin.String())
			latin.Reset()
		}
	}

	for _, r := range text {
		if unicode.IsSpace(r) {
			flushLatin()
			continue
		}
		lower := unicode.ToLower(r)
		lit.WriteRune(lower)

		if unicode.Is(unicode.Han, r) {
			flushLatin()
			if syls := pinyin.LazyPinyin(string(r), pinyinArgs); len(syls) > 0 {
				tokens = append(tokens, syls[0])
			}
			continue
		}
		if unicode.IsLetter(lower) || unicode.IsDigit(lower) {
			latin.WriteRune(lower)
			continue
		}
		// 标点切断拉丁音节，不进入任何表示。
		flushLatin()
	}
	flushLatin()

	return lit.String(), strings.Join(tokens, " ")
}

package model

import "time"

// ChatMode 每台设备在任一时刻只处于一种聊天模式。
type ChatMode string

const (
	// ModeFree 自由聊天模式（默认）。
	ModeFree ChatMode = "free_mode"
	// ModeTeaching 教学模式，存在教学会话快照。
	ModeTeaching ChatMode = "teaching_mode"
)

// MatchType 一次回答评估的匹配档位。
type MatchType string

const (
	MatchPerfect MatchType = "perfect_match" // 100 分
	MatchPartial MatchType = "partial_match" // 70 分
	MatchNone    MatchType = "no_match"      // 0 分
)

// CompletionReason 教学会话终止原因（完整枚举）。
type CompletionReason string

const (
	ReasonLeafMaxAttempts    CompletionReason = "leaf_step_max_attempts_exceeded"
	ReasonReplyLimit         CompletionReason = "reply_limit_exceeded"
	ReasonNoBranchConfig     CompletionReason = "no_branch_config"
	ReasonBranchStepNotFound CompletionReason = "branch_step_not_found"
	ReasonAllStepsDone       CompletionReason = "all_steps_done"
)

// Scenario 教学场景。会话开始时取一次，会话期间不可变。
type Scenario struct {
	ScenarioID        string `json:"scenario_id"`
	Name              string `json:"name"`
	IsActive          bool   `json:"is_active"`
	IsDefaultTeaching bool   `json:"is_default_teaching"`
	AgentID           string `json:"agent_id"`
	// MaxUserReplies 本场景允许的用户总回复数，0 表示用默认值。
	MaxUserReplies int `json:"max_user_replies"`
}

// Step 场景中的一个教学步骤。
type Step struct {
	StepID           string   `json:"step_id"`
	Order            int      `json:"order"`
	AIMessage        string   `json:"ai_message,omitempty"`
	ExpectedKeywords []string `json:"expected_keywords"`
	ExpectedPhrases  []string `json:"expected_phrases"`
	// MaxAttempts 叶子步骤的重试上限；0 时回退到会话的 MaxUserReplies。
	MaxAttempts    int `json:"max_attempts"`
	TimeoutSeconds int `json:"timeout_seconds"`
	// EncouragementMessage 覆盖表扬语料池的自定义鼓励语，支持 {childName} 占位符。
	EncouragementMessage string `json:"encouragement_message,omitempty"`

	// 三路分支目标。三者全空时该步骤为叶子步骤。
	PerfectNextStepID string `json:"perfect_next_step_id,omitempty"`
	PartialNextStepID string `json:"partial_next_step_id,omitempty"`
	NoMatchNextStepID string `json:"no_match_next_step_id,omitempty"`
}

// IsLeaf 叶子步骤：没有任何分支目标，用于原地练到通过。
func (s *Step) IsLeaf() bool {
	return s.PerfectNextStepID == "" && s.PartialNextStepID == "" && s.NoMatchNextStepID == ""
}

// BranchFor 返回匹配档位对应的分支目标 id（可能为空）。
func (s *Step) BranchFor(mt MatchType) string {
	switch mt {
	case MatchPerfect:
		return s.PerfectNextStepID
	case MatchPartial:
		return s.PartialNextStepID
	default:
		return s.NoMatchNextStepID
	}
}

// StepMessage 步骤的播报消息。存在时替代步骤的单条 AIMessage。
type StepMessage struct {
	Content string `json:"content"`
	// SpeechRate 语速倍率，合法范围 [0.2, 3.0]，0 表示默认语速。
	SpeechRate  float64 `json:"speech_rate,omitempty"`
	WaitSeconds int     `json:"wait_seconds,omitempty"`
	Type        string  `json:"type,omitempty"`
}

// Evaluation 一次用户回答的评估记录。
type Evaluation struct {
	StepIndex int       `json:"step_index"`
	Score     int       `json:"score"`
	MatchType MatchType `json:"match_type"`
	UserText  string    `json:"user_text"`
}

// TeachingSession 单台设备的教学会话快照。
// 只由该设备的会话 actor 修改，经 Session Store 持久化。
type TeachingSession struct {
	SessionID    string `json:"session_id"`
	ScenarioID   string `json:"scenario_id"`
	ScenarioName string `json:"scenario_name"`

	Steps                 []Step `json:"steps"`
	CurrentStepIndex      int    `json:"current_step_index"`
	CurrentStepRetryCount int    `json:"current_step_retry_count"`

	TotalUserReplies int  `json:"total_user_replies"`
	MaxUserReplies   int  `json:"max_user_replies"`
	WarningSent      bool `json:"warning_sent"`

	WaitingForResponse bool `json:"waiting_for_response"`
	// WaitStartTime 只有当前步骤的 LAST 信封已入 TTS 队列后才会被设置。
	WaitStartTime *time.Time `json:"wait_start_time,omitempty"`

	Evaluations []Evaluation `json:"evaluations"`

	Completed        bool             `json:"completed"`
	CompletionReason CompletionReason `json:"completion_reason,omitempty"`
	FinalScore       *int             `json:"final_score,omitempty"`
}

// CurrentStep 返回当前步骤；索引越界时返回 nil（等于步骤数时会话已结束）。
func (s *TeachingSession) CurrentStep() *Step {
	if s.CurrentStepIndex < 0 || s.CurrentStepIndex >= len(s.Steps) {
		return nil
	}
	return &s.Steps[s.CurrentStepIndex]
}

// StepIndexByID 按 step_id 在会话步骤表中查找索引，找不到返回 -1。
func (s *TeachingSession) StepIndexByID(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.Steps {
		if s.Steps[i].StepID == id {
			return i
		}
	}
	return -1
}

// MaxAttemptsEffective 步骤的有效重试上限：MaxAttempts > 0 时用它，
// 否则回退到会话级 MaxUserReplies。
func (s *TeachingSession) MaxAttemptsEffective(step *Step) int {
	if step.MaxAttempts > 0 {
		return step.MaxAttempts
	}
	return s.MaxUserReplies
}

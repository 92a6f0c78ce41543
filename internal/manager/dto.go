package manager

import "kidtalk/internal/model"

// 管理端返回 camelCase 字段，布尔值按 0/1 存。DTO 只在本包内流转，
// 对外一律转换成 model 里的规范结构。

type scenarioDTO struct {
	ScenarioID        string `json:"scenarioId"`
	ScenarioName      string `json:"scenarioName"`
	IsActive          int    `json:"isActive"`
	IsDefaultTeaching int    `json:"isDefaultTeaching"`
	AgentID           string `json:"agentId"`
	MaxUserReplies    int    `json:"maxUserReplies"`
}

func (d scenarioDTO) toModel() model.Scenario {
	return model.Scenario{
		ScenarioID:        d.ScenarioID,
		Name:              d.ScenarioName,
		IsActive:          d.IsActive != 0,
		IsDefaultTeaching: d.IsDefaultTeaching != 0,
		AgentID:           d.AgentID,
		MaxUserReplies:    d.MaxUserReplies,
	}
}

type stepDTO struct {
	StepID               string `json:"stepId"`
	StepOrder            int    `json:"stepOrder"`
	AIMessage            string `json:"aiMessage"`
	ExpectedKeywords     string `json:"expectedKeywords"`
	ExpectedPhrases      string `json:"expectedPhrases"`
	MaxAttempts          int    `json:"maxAttempts"`
	// TimeoutSeconds 指针以区分「未配置」（取默认 20 秒）与
	// 显式 ≤ 0（该步骤关闭等待提示）。
	TimeoutSeconds       *int   `json:"timeoutSeconds"`
	EncouragementMessage string `json:"encouragementMessage"`
	PerfectNextStepID    string `json:"perfectNextStepId"`
	PartialNextStepID    string `json:"partialNextStepId"`
	NoMatchNextStepID    string `json:"noMatchNextStepId"`
}

func (d stepDTO) toModel(defaultTimeout int) model.Step {
	timeout := defaultTimeout
	if d.TimeoutSeconds != nil {
		timeout = *d.TimeoutSeconds
	}
	return model.Step{
		StepID:               d.StepID,
		Order:                d.StepOrder,
		AIMessage:            d.AIMessage,
		ExpectedKeywords:     model.ParseWordList(d.ExpectedKeywords),
		ExpectedPhrases:      model.ParseWordList(d.ExpectedPhrases),
		MaxAttempts:          d.MaxAttempts,
		TimeoutSeconds:       timeout,
		EncouragementMessage: d.EncouragementMessage,
		PerfectNextStepID:    d.PerfectNextStepID,
		PartialNextStepID:    d.PartialNextStepID,
		NoMatchNextStepID:    d.NoMatchNextStepID,
	}
}

type stepMessageDTO struct {
	MessageContent  string  `json:"messageContent"`
	SpeechRate      float64 `json:"speechRate"`
	WaitTimeSeconds int     `json:"waitTimeSeconds"`
	MessageType     string  `json:"messageType"`
}

func (d stepMessageDTO) toModel() model.StepMessage {
	rate := d.SpeechRate
	// 语速合法范围 [0.2, 3.0]，越界按边界截断，0 保留为默认语速。
	if rate != 0 {
		if rate < 0.2 {
			rate = 0.2
		}
		if rate > 3.0 {
			rate = 3.0
		}
	}
	wait := d.WaitTimeSeconds
	if wait < 0 {
		wait = 0
	}
	return model.StepMessage{
		Content:     d.MessageContent,
		SpeechRate:  rate,
		WaitSeconds: wait,
		Type:        d.MessageType,
	}
}

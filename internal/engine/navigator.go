package engine

import "kidtalk/internal/model"

// NavOutcome 一次评估后导航器给出的去向。
type NavOutcome int

const (
	// NavRetry 叶子步骤未通过且未达重试上限，原地再试。
	NavRetry NavOutcome = iota
	// NavTransition 切换到 NextIndex 指向的步骤。
	NavTransition
	// NavComplete 会话终止，Reason 给出终止原因。
	NavComplete
)

// NavResult 导航结果。导航器不修改会话，由引擎按结果落状态。
type NavResult struct {
	Outcome   NavOutcome
	NextIndex int
	Reason    model.CompletionReason
}

// Navigate 根据当前步骤与匹配档位决定去向。
//
// 叶子步骤：通过即全部完成；未通过则计一次重试，
// 达到有效上限时以 leaf_step_max_attempts_exceeded 终止。
// 非叶子步骤：按匹配档位取分支目标——能解析则切换并清零重试；
// 配了但解析不到则顺延到下一序号，越界时以 branch_step_not_found 终止；
// 该档位没配分支则以 no_branch_config 终止。
func Navigate(sess *model.TeachingSession, step *model.Step, mt model.MatchType, passed bool) NavResult {
	if step.IsLeaf() {
		if passed {
			return NavResult{Outcome: NavComplete, Reason: model.ReasonAllStepsDone}
		}
		if sess.CurrentStepRetryCount+1 >= sess.MaxAttemptsEffective(step) {
			return NavResult{Outcome: NavComplete, Reason: model.ReasonLeafMaxAttempts}
		}
		return NavResult{Outcome: NavRetry}
	}

	branchID := step.BranchFor(mt)
	if branchID == "" {
		return NavResult{Outcome: NavComplete, Reason: model.ReasonNoBranchConfig}
	}
	if idx := sess.StepIndexByID(branchID); idx >= 0 {
		return NavResult{Outcome: NavTransition, NextIndex: idx}
	}
	// 分支目标失效：顺延处理，越过末尾则终止。
	next := sess.CurrentStepIndex + 1
	if next >= len(sess.Steps) {
		return NavResult{Outcome: NavComplete, Reason: model.ReasonBranchStepNotFound}
	}
	return NavResult{Outcome: NavTransition, NextIndex: next}
}

package evaluator

import (
	"fmt"

	"dentiq-goals/internal/calculator"
	"dentiq-goals/internal/models"
)

// EvaluateAchievement 达成规则
// 完成进度到达 100% 时产生一条 achievement/info 报警；未达成返回 nil
func EvaluateAchievement(goal *models.Goal, progress *calculator.ProgressResult) *models.Alert {
	if progress.ProgressPct < 100 {
		return nil
	}

	message := fmt.Sprintf("goal %q achieved: current value %.2f reached target %.2f",
		goal.Name, progress.CurrentValue, goal.TargetValue)
	return newAlert(goal, models.AlertAchievement, models.SeverityInfo, message,
		floatPtr(goal.TargetValue), progress.CurrentValue)
}

package evaluator

import (
	"fmt"

	"dentiq-goals/internal/calculator"
	"dentiq-goals/internal/models"
)

// EvaluateRisk 风险规则
// 只有高风险产生报警（risk/critical）；中低风险仅体现在风险等级上，不报警
func EvaluateRisk(goal *models.Goal, progress *calculator.ProgressResult, probability float64, level models.RiskLevel, th Thresholds) *models.Alert {
	if level != models.RiskHigh {
		return nil
	}

	message := fmt.Sprintf("goal %q at %s risk: achievement probability %.0f%% (progress %.1f%%, time elapsed %.1f%%)",
		goal.Name, level, probability*100, progress.ProgressPct, progress.TimeProgressPct)

	return newAlert(goal, models.AlertRisk, models.SeverityCritical, message,
		floatPtr(th.HighProbabilityCutoff), probability)
}

package evaluator

import (
	"fmt"
	"math"

	"dentiq-goals/internal/calculator"
	"dentiq-goals/internal/models"
)

// EvaluateVariance 偏差规则
// 实际和期望进度的相对偏差超过阈值时报警（双向：落后和超前都偏离计划）。
// |variance| >= critical 产生 critical，>= warning 产生 warning，否则 nil
func EvaluateVariance(goal *models.Goal, progress *calculator.ProgressResult, th Thresholds) *models.Alert {
	deviation := math.Abs(progress.VariancePct)

	var severity models.AlertSeverity
	var threshold float64
	switch {
	case deviation >= th.VarianceCritical:
		severity = models.SeverityCritical
		threshold = th.VarianceCritical
	case deviation >= th.VarianceWarning:
		severity = models.SeverityWarning
		threshold = th.VarianceWarning
	default:
		return nil
	}

	direction := "behind"
	if progress.VariancePct > 0 {
		direction = "ahead of"
	}
	message := fmt.Sprintf("goal %q is %.1f%% %s schedule (actual %.2f vs expected %.2f)",
		goal.Name, deviation, direction, progress.CurrentValue, progress.ExpectedProgress)

	return newAlert(goal, models.AlertVariance, severity, message,
		floatPtr(threshold), progress.VariancePct)
}

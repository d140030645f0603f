package evaluator

import (
	"fmt"
	"time"

	"dentiq-goals/internal/calculator"
	"dentiq-goals/internal/models"
)

// MilestoneFindings 里程碑规则的评估结果
// Achieved/Delayed 为需要落库的状态变更，由调用方执行
type MilestoneFindings struct {
	Alerts   []*models.Alert
	Achieved []*models.Milestone
	Delayed  []*models.Milestone
}

// EvaluateMilestones 里程碑规则
// 当前值到达里程碑目标即判定达成；逾期未达成的 pending 里程碑
// 产生 milestone/warning 报警并标记为 delayed
func EvaluateMilestones(goal *models.Goal, milestones []*models.Milestone, progress *calculator.ProgressResult, asOf time.Time) *MilestoneFindings {
	findings := &MilestoneFindings{}

	for _, m := range milestones {
		if m.Status != models.MilestonePending && m.Status != models.MilestoneDelayed {
			continue
		}

		if progress.CurrentValue >= m.TargetValue {
			findings.Achieved = append(findings.Achieved, m)
			continue
		}

		if m.Status == models.MilestonePending && m.Overdue(asOf) {
			overdueDays := calculator.WholeDaysBetween(m.TargetDate, asOf)
			message := fmt.Sprintf("milestone %q of goal %q is %d day(s) overdue (current %.2f, milestone target %.2f)",
				m.Name, goal.Name, overdueDays, progress.CurrentValue, m.TargetValue)
			findings.Alerts = append(findings.Alerts, newAlert(goal, models.AlertMilestone,
				models.SeverityWarning, message, floatPtr(m.TargetValue), progress.CurrentValue))
			findings.Delayed = append(findings.Delayed, m)
		}
	}

	return findings
}

package evaluator

// ============================================================
// 报警评估器：对单个目标执行全部规则并落库
// 规则本身是纯函数，评估器负责取数、去重和状态变更
// ============================================================

import (
	"context"
	"errors"
	"time"

	"dentiq-goals/internal/calculator"
	"dentiq-goals/internal/forecaster"
	"dentiq-goals/internal/models"
	"dentiq-goals/internal/repository"

	"go.uber.org/zap"
)

// Evaluator 报警评估器
type Evaluator struct {
	alerts     *repository.AlertsRepository
	milestones *repository.MilestonesRepository
	calc       *calculator.Calculator
	forecaster *forecaster.Forecaster
	thresholds Thresholds
	logger     *zap.Logger
}

// NewEvaluator 创建报警评估器
func NewEvaluator(
	alerts *repository.AlertsRepository,
	milestones *repository.MilestonesRepository,
	calc *calculator.Calculator,
	fc *forecaster.Forecaster,
	thresholds Thresholds,
	logger *zap.Logger,
) *Evaluator {
	return &Evaluator{
		alerts:     alerts,
		milestones: milestones,
		calc:       calc,
		forecaster: fc,
		thresholds: thresholds,
		logger:     logger,
	}
}

// EvaluateGoal 评估单个目标，返回本次新建的报警
// 同一 (goal, type, severity) 存在未确认报警时不重复插入；
// 没有任何快照的目标静默跳过
func (e *Evaluator) EvaluateGoal(ctx context.Context, goal *models.Goal, asOf time.Time) ([]*models.Alert, error) {
	progress, err := e.calc.ProgressForGoal(ctx, goal, asOf)
	if err != nil {
		if errors.Is(err, models.ErrNoData) || models.IsValidation(err) {
			e.logger.Debug("Skipping goal without usable progress",
				zap.String("goal_id", goal.GoalID),
				zap.Error(err))
			return nil, nil
		}
		return nil, err
	}

	forecast, err := e.forecaster.ForecastForGoal(ctx, goal, asOf)
	if err != nil {
		return nil, err
	}

	probability := AchievementProbability(progress, forecast)
	riskLevel := AssessRisk(probability, progress, goal.Priority, e.thresholds)

	var candidates []*models.Alert
	if alert := EvaluateAchievement(goal, progress); alert != nil {
		candidates = append(candidates, alert)
	}
	if alert := EvaluateVariance(goal, progress, e.thresholds); alert != nil {
		candidates = append(candidates, alert)
	}
	if alert := EvaluateRisk(goal, progress, probability, riskLevel, e.thresholds); alert != nil {
		candidates = append(candidates, alert)
	}

	milestones, err := e.milestones.ListMilestones(ctx, goal.GoalID)
	if err != nil {
		return nil, err
	}
	findings := EvaluateMilestones(goal, milestones, progress, asOf)
	candidates = append(candidates, findings.Alerts...)

	for _, m := range findings.Achieved {
		if err := e.milestones.MarkAchieved(ctx, m.MilestoneID, progress.CurrentValue, asOf); err != nil {
			return nil, err
		}
	}
	for _, m := range findings.Delayed {
		if err := e.milestones.MarkDelayed(ctx, m.MilestoneID); err != nil {
			return nil, err
		}
	}

	var created []*models.Alert
	for _, candidate := range candidates {
		exists, err := e.alerts.HasUnacknowledgedAlert(ctx, goal.TenantID, goal.GoalID, candidate.AlertType, candidate.Severity)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}

		// 存在性检查和插入之间有并发窗口，靠部分唯一索引兜底
		inserted, err := e.alerts.CreateAlert(ctx, goal.TenantID, candidate)
		if err != nil {
			return nil, err
		}
		if !inserted {
			continue
		}

		e.logger.Info("Goal alert created",
			zap.String("goal_id", goal.GoalID),
			zap.String("alert_type", string(candidate.AlertType)),
			zap.String("severity", string(candidate.Severity)))
		created = append(created, candidate)
	}

	return created, nil
}

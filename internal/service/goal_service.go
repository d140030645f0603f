package service

// ============================================================
// 目标生命周期服务：创建、快照录入、状态迁移、里程碑、依赖
// 写路径的业务校验在这里完成，SQL 细节在 repository 层
// ============================================================

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dentiq-goals/internal/cache"
	"dentiq-goals/internal/calculator"
	"dentiq-goals/internal/ingest"
	"dentiq-goals/internal/models"
	"dentiq-goals/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GoalService 目标生命周期服务
type GoalService struct {
	goals         *repository.GoalsRepository
	snapshots     *repository.SnapshotsRepository
	alerts        *repository.AlertsRepository
	milestones    *repository.MilestonesRepository
	templates     *repository.TemplatesRepository
	dependencies  *repository.DependenciesRepository
	progressCache *cache.ProgressCache // 可为 nil（未配置缓存时）
	logger        *zap.Logger
}

// NewGoalService 创建目标服务
func NewGoalService(
	goals *repository.GoalsRepository,
	snapshots *repository.SnapshotsRepository,
	alerts *repository.AlertsRepository,
	milestones *repository.MilestonesRepository,
	templates *repository.TemplatesRepository,
	dependencies *repository.DependenciesRepository,
	progressCache *cache.ProgressCache,
	logger *zap.Logger,
) *GoalService {
	return &GoalService{
		goals:         goals,
		snapshots:     snapshots,
		alerts:        alerts,
		milestones:    milestones,
		templates:     templates,
		dependencies:  dependencies,
		progressCache: progressCache,
		logger:        logger,
	}
}

// CreateGoal 创建目标
// goal_id 为空时自动生成；状态和优先级带默认值，其余校验在仓库层
func (s *GoalService) CreateGoal(ctx context.Context, tenantID string, goal *models.Goal) (*models.Goal, error) {
	if goal == nil {
		return nil, fmt.Errorf("goal is required")
	}

	if goal.GoalID == "" {
		goal.GoalID = uuid.New().String()
	}
	goal.TenantID = tenantID
	if goal.Status == "" {
		goal.Status = models.StatusActive
	}
	if goal.Priority == "" {
		goal.Priority = models.PriorityMedium
	}
	now := time.Now().UTC()
	if goal.CreatedAt.IsZero() {
		goal.CreatedAt = now
	}
	goal.UpdatedAt = now

	if err := s.goals.CreateGoal(ctx, tenantID, goal); err != nil {
		return nil, err
	}

	s.logger.Info("Goal created",
		zap.String("tenant_id", tenantID),
		zap.String("goal_id", goal.GoalID),
		zap.String("scope", string(goal.Scope)),
	)

	return goal, nil
}

// TemplateGoalSpec 从模板创建目标时的实例化参数
// 未指定的字段继承模板默认值
type TemplateGoalSpec struct {
	Name           string     // 为空时用模板名
	Scope          models.GoalScope
	TargetEntityID *string
	TargetValue    float64 // 为 0 时用模板基准值
	StartDate      time.Time
	EndDate        time.Time
	Priority       models.Priority // 为空时 medium
}

// CreateGoalFromTemplate 从模板实例化目标
func (s *GoalService) CreateGoalFromTemplate(ctx context.Context, tenantID, templateID string, spec TemplateGoalSpec) (*models.Goal, error) {
	tpl, err := s.templates.GetTemplate(ctx, tenantID, templateID)
	if err != nil {
		return nil, err
	}

	name := spec.Name
	if name == "" {
		name = tpl.Name
	}
	targetValue := spec.TargetValue
	if targetValue == 0 {
		targetValue = tpl.BenchmarkValue
	}

	goal := &models.Goal{
		TemplateID:     &tpl.TemplateID,
		Name:           name,
		Scope:          spec.Scope,
		TargetEntityID: spec.TargetEntityID,
		TargetValue:    targetValue,
		TargetType:     tpl.DefaultTargetType,
		Frequency:      tpl.DefaultFrequency,
		StartDate:      spec.StartDate,
		EndDate:        spec.EndDate,
		Priority:       spec.Priority,
	}

	return s.CreateGoal(ctx, tenantID, goal)
}

// RecordSnapshot 录入进度快照
// 校验：目标存在且未终结、日期落在目标窗口内、置信度在 [0,1]
// 同一天重复录入按 upsert 覆盖；成功后使当天的进度缓存失效
func (s *GoalService) RecordSnapshot(ctx context.Context, tenantID, goalID string, date time.Time, actualValue float64, dataSource string, confidence float64) (*models.ProgressSnapshot, error) {
	goal, err := s.goals.GetGoal(ctx, tenantID, goalID)
	if err != nil {
		return nil, err
	}

	if goal.Status == models.StatusCompleted || goal.Status == models.StatusCancelled {
		return nil, models.NewValidationError("status", goal.Status, "cannot record snapshots for a completed or cancelled goal")
	}

	day := calculator.NormalizeDate(date)
	if day.Before(calculator.NormalizeDate(goal.StartDate)) || day.After(calculator.NormalizeDate(goal.EndDate)) {
		return nil, models.NewValidationError("measurement_date", date, "measurement_date must fall within the goal window")
	}
	if confidence < 0 || confidence > 1 {
		return nil, models.NewValidationError("confidence", confidence, "confidence must be between 0 and 1")
	}

	snap, err := s.snapshots.UpsertSnapshot(ctx, goal, day, actualValue, dataSource, confidence)
	if err != nil {
		return nil, err
	}

	if s.progressCache != nil {
		if err := s.progressCache.Invalidate(ctx, tenantID, goalID, day); err != nil {
			// 缓存失效失败不影响写入结果，TTL 会兜底
			s.logger.Warn("Failed to invalidate progress cache",
				zap.String("goal_id", goalID),
				zap.Error(err))
		}
	}

	return snap, nil
}

// RecordMeasurements 批量应用从宿主系统拉取的测量值
// 单条失败（目标不存在、日期越界等）跳过并告警日志，不中断整批；
// 返回成功应用的条数
func (s *GoalService) RecordMeasurements(ctx context.Context, tenantID string, measurements []ingest.Measurement) (int, error) {
	applied := 0
	for _, m := range measurements {
		day, err := time.Parse("2006-01-02", m.MeasurementDate)
		if err != nil {
			s.logger.Warn("Skipping measurement with invalid date",
				zap.String("goal_id", m.GoalID),
				zap.String("measurement_date", m.MeasurementDate))
			continue
		}

		_, err = s.RecordSnapshot(ctx, tenantID, m.GoalID, day, m.Value, m.Source, m.Confidence)
		if err != nil {
			if models.IsNotFound(err) || models.IsValidation(err) {
				s.logger.Warn("Skipping unapplicable measurement",
					zap.String("goal_id", m.GoalID),
					zap.Error(err))
				continue
			}
			return applied, err
		}
		applied++
	}

	return applied, nil
}

// TransitionStatus 目标状态迁移
func (s *GoalService) TransitionStatus(ctx context.Context, tenantID, goalID string, newStatus models.GoalStatus) error {
	return s.goals.TransitionStatus(ctx, tenantID, goalID, newStatus)
}

// AcknowledgeAlert 确认报警
// 确认后同一 (goal, type, severity) 的报警条件再次满足时可以重新触发
func (s *GoalService) AcknowledgeAlert(ctx context.Context, tenantID, alertID, acknowledgerID string, notes *string) error {
	return s.alerts.AcknowledgeAlert(ctx, tenantID, alertID, acknowledgerID, notes)
}

// AddMilestone 为目标添加里程碑
func (s *GoalService) AddMilestone(ctx context.Context, tenantID, goalID string, milestone *models.Milestone) error {
	goal, err := s.goals.GetGoal(ctx, tenantID, goalID)
	if err != nil {
		return err
	}

	if milestone.MilestoneID == "" {
		milestone.MilestoneID = uuid.New().String()
	}
	milestone.GoalID = goal.GoalID

	return s.milestones.CreateMilestone(ctx, goal, milestone)
}

// AddDependency 添加目标依赖边（父目标由子目标加权构成）
func (s *GoalService) AddDependency(ctx context.Context, tenantID, parentGoalID, childGoalID string, weight float64) error {
	return s.dependencies.AddDependency(ctx, tenantID, parentGoalID, childGoalID, weight)
}

// RemoveDependency 删除目标依赖边
func (s *GoalService) RemoveDependency(ctx context.Context, parentGoalID, childGoalID string) error {
	return s.dependencies.RemoveDependency(ctx, parentGoalID, childGoalID)
}

// ErrNoTenant 服务启动时未指定租户
var ErrNoTenant = errors.New("tenant_id is required")

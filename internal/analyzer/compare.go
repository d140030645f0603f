package analyzer

// ============================================================
// 横向对比分析：同一租户内多个实体（诊所/医生/科室）的目标
// 达成表现排名
// ============================================================

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"dentiq-goals/internal/calculator"
	"dentiq-goals/internal/models"
	"dentiq-goals/internal/repository"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
)

// 绩效评分权重：达成率占 70%，偏差控制占 30%
const (
	achievementWeight = 0.7
	varianceWeight    = 0.3
)

// RankedEntity 排名结果
type RankedEntity struct {
	EntityID         string           `json:"entity_id"`
	Scope            models.GoalScope `json:"scope"`
	GoalCount        int              `json:"goal_count"`
	GoalsWithData    int              `json:"goals_with_data"`
	GoalsAchieved    int              `json:"goals_achieved"`
	AchievementRate  float64          `json:"achievement_rate"` // 0..1
	AverageVariance  float64          `json:"average_variance"` // 偏差绝对值均值（%）
	PerformanceScore float64          `json:"performance_score"`
	Rank             int              `json:"rank"`
	Percentile       float64          `json:"percentile"`
}

// Analyzer 横向对比分析器
type Analyzer struct {
	goals     *repository.GoalsRepository
	snapshots *repository.SnapshotsRepository
	logger    *zap.Logger
}

// NewAnalyzer 创建对比分析器
func NewAnalyzer(
	goals *repository.GoalsRepository,
	snapshots *repository.SnapshotsRepository,
	logger *zap.Logger,
) *Analyzer {
	return &Analyzer{
		goals:     goals,
		snapshots: snapshots,
		logger:    logger,
	}
}

// PerformanceScore 绩效评分
// 达成率贡献 0–70 分，偏差控制贡献 0–30 分（偏差超过 100% 记 0）
func PerformanceScore(achievementRate, averageVariance float64) float64 {
	varianceComponent := 100 - averageVariance
	if varianceComponent < 0 {
		varianceComponent = 0
	}
	return achievementWeight*achievementRate*100 + varianceWeight*varianceComponent
}

// RankEntities 按绩效评分降序排名并计算百分位
// 入参切片就地排序；评分相同时按 entity_id 排序保证结果稳定
func RankEntities(entities []*RankedEntity) {
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].PerformanceScore != entities[j].PerformanceScore {
			return entities[i].PerformanceScore > entities[j].PerformanceScore
		}
		return entities[i].EntityID < entities[j].EntityID
	})

	n := len(entities)
	for i, e := range entities {
		e.Rank = i + 1
		e.Percentile = float64(n-e.Rank+1) / float64(n) * 100
	}
}

// CompareEntities 对比时间段内多个实体的目标表现
// entityIDs 为空时对比该 scope 下所有有目标的实体；
// 时间段内没有目标的实体不参与排名
func (a *Analyzer) CompareEntities(ctx context.Context, tenantID string, scope models.GoalScope, entityIDs []string, periodStart, periodEnd time.Time) ([]*RankedEntity, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if !models.ValidScope(scope) {
		return nil, models.NewValidationError("scope", scope, "unknown goal scope")
	}
	if periodEnd.Before(periodStart) {
		return nil, models.NewValidationError("period_end", periodEnd, "period_end must not precede period_start")
	}

	if len(entityIDs) == 0 {
		ids, err := a.goals.ListEntityIDs(ctx, tenantID, scope, periodStart, periodEnd)
		if err != nil {
			return nil, err
		}
		entityIDs = ids
	}

	entities := make([]*RankedEntity, 0, len(entityIDs))
	for _, entityID := range entityIDs {
		entity, err := a.analyzeEntity(ctx, tenantID, scope, entityID, periodStart, periodEnd)
		if err != nil {
			return nil, err
		}
		if entity == nil {
			// 时间段内无目标
			continue
		}
		entities = append(entities, entity)
	}

	RankEntities(entities)

	a.logger.Debug("Entities compared",
		zap.String("tenant_id", tenantID),
		zap.String("scope", string(scope)),
		zap.Int("ranked", len(entities)),
	)

	return entities, nil
}

// analyzeEntity 统计单个实体在时间段内的目标表现
func (a *Analyzer) analyzeEntity(ctx context.Context, tenantID string, scope models.GoalScope, entityID string, periodStart, periodEnd time.Time) (*RankedEntity, error) {
	goals, err := a.goals.ListGoalsByEntity(ctx, tenantID, scope, entityID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	if len(goals) == 0 {
		return nil, nil
	}

	entity := &RankedEntity{
		EntityID:  entityID,
		Scope:     scope,
		GoalCount: len(goals),
	}

	variances := []float64{}
	for _, goal := range goals {
		// 已标记 completed 的目标按达成计，不依赖快照数据
		achieved := goal.Status == models.StatusCompleted

		snap, err := a.snapshots.GetLatestSnapshot(ctx, goal.GoalID, periodEnd)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			// 无数据的目标计入总数，未 completed 时按未达成处理
			if achieved {
				entity.GoalsAchieved++
			}
			continue
		}

		entity.GoalsWithData++

		progress, err := calculator.ComputeProgress(goal, snap, periodEnd)
		if err != nil {
			if models.IsValidation(err) {
				if achieved {
					entity.GoalsAchieved++
				}
				continue
			}
			return nil, err
		}

		if achieved || progress.ProgressPct >= 100 {
			entity.GoalsAchieved++
		}
		variances = append(variances, math.Abs(progress.VariancePct))
	}

	entity.AchievementRate = float64(entity.GoalsAchieved) / float64(entity.GoalCount)
	if len(variances) > 0 {
		mean, err := stats.Mean(variances)
		if err != nil {
			return nil, fmt.Errorf("failed to compute mean variance: %w", err)
		}
		entity.AverageVariance = mean
	}
	entity.PerformanceScore = PerformanceScore(entity.AchievementRate, entity.AverageVariance)

	return entity, nil
}

package calculator

import (
	"context"
	"fmt"
	"time"

	"dentiq-goals/internal/models"
	"dentiq-goals/internal/repository"

	"go.uber.org/zap"
)

// ProgressResult 进度计算结果
type ProgressResult struct {
	GoalID           string    `json:"goal_id"`
	AsOfDate         time.Time `json:"as_of_date"`
	CurrentValue     float64   `json:"current_value"`
	TargetValue      float64   `json:"target_value"`
	ProgressPct      float64   `json:"progress_pct"`
	TimeProgressPct  float64   `json:"time_progress_pct"`
	ExpectedProgress float64   `json:"expected_progress"`
	Variance         float64   `json:"variance"`
	VariancePct      float64   `json:"variance_pct"`
	ElapsedDays      int       `json:"elapsed_days"`
	TotalDays        int       `json:"total_days"`
	RemainingDays    int       `json:"remaining_days"`
	SnapshotDate     time.Time `json:"snapshot_date"`
	DataSource       string    `json:"data_source"`
	Confidence       float64   `json:"confidence"`
}

// Calculator 进度计算器
// 纯读取计算，无副作用；所有数值语义在 ComputeProgress 中实现
type Calculator struct {
	goals     *repository.GoalsRepository
	snapshots *repository.SnapshotsRepository
	logger    *zap.Logger
}

// NewCalculator 创建进度计算器
func NewCalculator(
	goals *repository.GoalsRepository,
	snapshots *repository.SnapshotsRepository,
	logger *zap.Logger,
) *Calculator {
	return &Calculator{
		goals:     goals,
		snapshots: snapshots,
		logger:    logger,
	}
}

// NormalizeDate 归一化为 UTC 零点（日期粒度计算）
func NormalizeDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// WholeDaysBetween 整天数差（b - a）
func WholeDaysBetween(a, b time.Time) int {
	return int(NormalizeDate(b).Sub(NormalizeDate(a)).Hours() / 24)
}

// TotalDays 目标窗口总天数（首尾均计入）
func TotalDays(goal *models.Goal) int {
	return WholeDaysBetween(goal.StartDate, goal.EndDate) + 1
}

// ElapsedDays 已经过天数
// asOf 到达或超过 end_date 时视为周期完全走完（end 当天测量频率已关账），
// 保证 asOf == end_date 时 time_progress_pct == 100
func ElapsedDays(goal *models.Goal, asOf time.Time) int {
	total := TotalDays(goal)
	if !NormalizeDate(asOf).Before(NormalizeDate(goal.EndDate)) {
		return total
	}
	elapsed := WholeDaysBetween(goal.StartDate, asOf)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// ComputeProgress 纯函数形式的进度计算
// snap 为 asOf 当天或之前最近的快照，由调用方提供；不允许为 nil
func ComputeProgress(goal *models.Goal, snap *models.ProgressSnapshot, asOf time.Time) (*ProgressResult, error) {
	if goal == nil {
		return nil, fmt.Errorf("goal is required")
	}
	if snap == nil {
		return nil, fmt.Errorf("snapshot is required")
	}
	if NormalizeDate(asOf).Before(NormalizeDate(goal.StartDate)) {
		return nil, models.NewValidationError("as_of_date", asOf, "as_of_date must not precede goal start_date")
	}

	total := TotalDays(goal)
	elapsed := ElapsedDays(goal, asOf)

	timePct := float64(elapsed) / float64(total) * 100
	if timePct < 0 {
		timePct = 0
	}
	if timePct > 100 {
		timePct = 100
	}

	current := snap.ActualValue

	// 目标值为 0 的除零保护：有进度记 100，否则记 0（不对外抛错）
	var progressPct float64
	if goal.TargetValue == 0 {
		if current >= 0 {
			progressPct = 100
		}
	} else {
		progressPct = current / goal.TargetValue * 100
	}

	expected := timePct / 100 * goal.TargetValue
	variance := current - expected
	var variancePct float64
	if expected != 0 {
		variancePct = variance / expected * 100
	}

	return &ProgressResult{
		GoalID:           goal.GoalID,
		AsOfDate:         NormalizeDate(asOf),
		CurrentValue:     current,
		TargetValue:      goal.TargetValue,
		ProgressPct:      progressPct,
		TimeProgressPct:  timePct,
		ExpectedProgress: expected,
		Variance:         variance,
		VariancePct:      variancePct,
		ElapsedDays:      elapsed,
		TotalDays:        total,
		RemainingDays:    total - elapsed,
		SnapshotDate:     NormalizeDate(snap.MeasurementDate),
		DataSource:       snap.DataSource,
		Confidence:       snap.Confidence,
	}, nil
}

// Progress 计算目标在 asOf 时点的进度
// 没有任何 asOf 之前的快照时返回 models.ErrNoData（不静默按零处理）
func (c *Calculator) Progress(ctx context.Context, tenantID, goalID string, asOf time.Time) (*ProgressResult, error) {
	goal, err := c.goals.GetGoal(ctx, tenantID, goalID)
	if err != nil {
		return nil, err
	}

	snap, err := c.snapshots.GetLatestSnapshot(ctx, goalID, asOf)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("goal %s as of %s: %w", goalID, NormalizeDate(asOf).Format("2006-01-02"), models.ErrNoData)
	}

	return ComputeProgress(goal, snap, asOf)
}

// ProgressForGoal 已持有 goal 时的进度计算（批量评估路径避免重复查询）
func (c *Calculator) ProgressForGoal(ctx context.Context, goal *models.Goal, asOf time.Time) (*ProgressResult, error) {
	if goal == nil {
		return nil, fmt.Errorf("goal is required")
	}

	snap, err := c.snapshots.GetLatestSnapshot(ctx, goal.GoalID, asOf)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("goal %s as of %s: %w", goal.GoalID, NormalizeDate(asOf).Format("2006-01-02"), models.ErrNoData)
	}

	return ComputeProgress(goal, snap, asOf)
}

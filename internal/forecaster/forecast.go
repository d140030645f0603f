package forecaster

import (
	"context"
	"fmt"
	"math"
	"time"

	"dentiq-goals/internal/calculator"
	"dentiq-goals/internal/models"
	"dentiq-goals/internal/repository"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
)

// ForecastMethod 预测方法
type ForecastMethod string

const (
	MethodLinear     ForecastMethod = "linear"
	MethodRegression ForecastMethod = "regression"
)

// minRegressionSnapshots 回归法所需的最少历史快照数，不足则退回线性外推
const minRegressionSnapshots = 3

// ForecastResult 轨迹预测结果
type ForecastResult struct {
	GoalID         string         `json:"goal_id"`
	AsOfDate       time.Time      `json:"as_of_date"`
	ProjectedValue float64        `json:"projected_value"`
	LowerBound     float64        `json:"lower_bound"`
	UpperBound     float64        `json:"upper_bound"`
	Method         ForecastMethod `json:"method"`
	RSquared       *float64       `json:"r_squared,omitempty"` // 仅回归法输出，诊断用
	SnapshotCount  int            `json:"snapshot_count"`
}

// Forecaster 轨迹预测器
type Forecaster struct {
	goals     *repository.GoalsRepository
	snapshots *repository.SnapshotsRepository
	logger    *zap.Logger
}

// NewForecaster 创建轨迹预测器
func NewForecaster(
	goals *repository.GoalsRepository,
	snapshots *repository.SnapshotsRepository,
	logger *zap.Logger,
) *Forecaster {
	return &Forecaster{
		goals:     goals,
		snapshots: snapshots,
		logger:    logger,
	}
}

// ComputeForecast 纯函数形式的预测
// snaps 为 asOf 之前（含当天）的快照历史，按测量日期升序
func ComputeForecast(goal *models.Goal, snaps []*models.ProgressSnapshot, asOf time.Time) (*ForecastResult, error) {
	if goal == nil {
		return nil, fmt.Errorf("goal is required")
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("goal %s: %w", goal.GoalID, models.ErrNoData)
	}

	current := snaps[len(snaps)-1].ActualValue
	total := calculator.TotalDays(goal)
	elapsed := calculator.ElapsedDays(goal, asOf)
	remaining := total - elapsed

	result := &ForecastResult{
		GoalID:        goal.GoalID,
		AsOfDate:      calculator.NormalizeDate(asOf),
		SnapshotCount: len(snaps),
	}

	// 目标已过期：不再外推，返回最近已知值和零宽度区间
	if remaining <= 0 {
		result.ProjectedValue = current
		result.LowerBound = current
		result.UpperBound = current
		result.Method = MethodLinear
		return result, nil
	}

	if len(snaps) < minRegressionSnapshots {
		return linearForecast(result, current, elapsed, remaining), nil
	}

	return regressionForecast(result, goal, snaps, remaining)
}

// linearForecast 线性外推（稀疏历史）
// 固定 [0.8x, 1.2x] 的保守区间，非统计推导
func linearForecast(result *ForecastResult, current float64, elapsed, remaining int) *ForecastResult {
	projection := current
	if elapsed > 0 {
		dailyRate := current / float64(elapsed)
		projection = current + dailyRate*float64(remaining)
	}
	if projection < 0 {
		projection = 0
	}

	result.ProjectedValue = projection
	result.LowerBound = projection * 0.8
	result.UpperBound = projection * 1.2
	result.Method = MethodLinear
	return result
}

// regressionForecast 最小二乘回归外推（丰富历史）
// 区间 = 投影 ± 1.96 × 平均绝对残差：正态假设下的近似 95% 带，
// 不是严格的预测区间
func regressionForecast(result *ForecastResult, goal *models.Goal, snaps []*models.ProgressSnapshot, remaining int) (*ForecastResult, error) {
	n := len(snaps)

	series := make(stats.Series, n)
	values := make([]float64, n)
	for i, snap := range snaps {
		series[i] = stats.Coordinate{X: float64(i), Y: snap.ActualValue}
		values[i] = snap.ActualValue
	}

	fitted, err := stats.LinearRegression(series)
	if err != nil {
		return nil, fmt.Errorf("failed to fit regression: %w", err)
	}

	// 由拟合序列还原斜率和截距（X 为 0..n-1，间隔恒为 1）
	slope := (fitted[n-1].Y - fitted[0].Y) / (fitted[n-1].X - fitted[0].X)
	intercept := fitted[0].Y - slope*fitted[0].X

	remainingPeriods := float64(remaining) / float64(goal.Frequency.PeriodDays())
	projection := slope*(float64(n)+remainingPeriods) + intercept
	if projection < 0 {
		projection = 0
	}

	// 残差统计
	residuals := make([]float64, n)
	absResiduals := make([]float64, n)
	for i := range snaps {
		residuals[i] = values[i] - fitted[i].Y
		absResiduals[i] = math.Abs(residuals[i])
	}

	meanAbsResidual, err := stats.Mean(absResiduals)
	if err != nil {
		return nil, fmt.Errorf("failed to compute mean residual: %w", err)
	}

	lower := projection - 1.96*meanAbsResidual
	if lower < 0 {
		lower = 0
	}
	upper := projection + 1.96*meanAbsResidual

	rSquared := computeRSquared(values, residuals)

	result.ProjectedValue = projection
	result.LowerBound = lower
	result.UpperBound = upper
	result.Method = MethodRegression
	result.RSquared = &rSquared
	return result, nil
}

// computeRSquared R² = 1 - SSres/SStot；SStot 为 0（序列恒定）时定义为 1
func computeRSquared(values, residuals []float64) float64 {
	mean, err := stats.Mean(values)
	if err != nil {
		return 0
	}

	var ssTot, ssRes float64
	for i, v := range values {
		ssTot += (v - mean) * (v - mean)
		ssRes += residuals[i] * residuals[i]
	}
	if ssTot == 0 {
		return 1
	}
	return 1 - ssRes/ssTot
}

// Forecast 预测目标的期末值
func (f *Forecaster) Forecast(ctx context.Context, tenantID, goalID string, asOf time.Time) (*ForecastResult, error) {
	goal, err := f.goals.GetGoal(ctx, tenantID, goalID)
	if err != nil {
		return nil, err
	}
	return f.ForecastForGoal(ctx, goal, asOf)
}

// ForecastForGoal 已持有 goal 时的预测（批量评估路径）
func (f *Forecaster) ForecastForGoal(ctx context.Context, goal *models.Goal, asOf time.Time) (*ForecastResult, error) {
	if goal == nil {
		return nil, fmt.Errorf("goal is required")
	}

	snaps, err := f.snapshots.ListSnapshots(ctx, goal.GoalID, asOf)
	if err != nil {
		return nil, err
	}

	return ComputeForecast(goal, snaps, asOf)
}

package evaluator

import (
	"dentiq-goals/internal/calculator"
	"dentiq-goals/internal/forecaster"
	"dentiq-goals/internal/models"
)

// Thresholds 报警评估阈值
type Thresholds struct {
	VarianceWarning         float64 // 偏差告警阈值（%绝对值）
	VarianceCritical        float64 // 偏差严重告警阈值（%绝对值）
	HighProbabilityCutoff   float64 // 高风险概率界限
	MediumProbabilityCutoff float64 // 中风险概率界限
}

// DefaultThresholds 默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		VarianceWarning:         15,
		VarianceCritical:        30,
		HighProbabilityCutoff:   0.4,
		MediumProbabilityCutoff: 0.6,
	}
}

// AchievementProbability 达成概率估计
// 用预测区间中目标值以上部分的占比作为概率；进度已达 100% 时恒为 1。
// 这是一个启发式估计，满足单调性：投影越高概率越高
func AchievementProbability(progress *calculator.ProgressResult, forecast *forecaster.ForecastResult) float64 {
	if progress.ProgressPct >= 100 {
		return 1.0
	}

	target := progress.TargetValue
	width := forecast.UpperBound - forecast.LowerBound

	// 零宽度区间：点估计直接和目标比
	if width <= 0 {
		if forecast.ProjectedValue >= target {
			return 1.0
		}
		return 0.0
	}

	prob := (forecast.UpperBound - target) / width
	if prob < 0 {
		return 0.0
	}
	if prob > 1 {
		return 1.0
	}
	return prob
}

// AssessRisk 风险等级判定
// gap 为时间进度和完成进度的差距（百分点），落后越多风险越高
func AssessRisk(probability float64, progress *calculator.ProgressResult, priority models.Priority, th Thresholds) models.RiskLevel {
	gap := progress.TimeProgressPct - progress.ProgressPct

	highPriority := priority == models.PriorityHigh || priority == models.PriorityCritical
	if (probability < th.HighProbabilityCutoff && highPriority) || gap >= th.VarianceCritical {
		return models.RiskHigh
	}
	if probability < th.MediumProbabilityCutoff || gap >= th.VarianceWarning {
		return models.RiskMedium
	}
	return models.RiskLow
}

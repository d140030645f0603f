package models

import (
	"time"
)

// ProgressSnapshot 进度快照（对应 goal_snapshots 表）
// 同一 (goal_id, measurement_date) 只保留一条记录，重复写入覆盖
// variance 字段为派生值，由仓库层在写入时计算，不允许外部直接设置
type ProgressSnapshot struct {
	SnapshotID      string    `json:"snapshot_id" db:"snapshot_id"`
	GoalID          string    `json:"goal_id" db:"goal_id"`
	MeasurementDate time.Time `json:"measurement_date" db:"measurement_date"`
	ActualValue     float64   `json:"actual_value" db:"actual_value"`
	TargetValue     float64   `json:"target_value" db:"target_value"`
	VarianceAmount  float64   `json:"variance_amount" db:"variance_amount"`
	VariancePct     float64   `json:"variance_pct" db:"variance_pct"`
	DataSource      string    `json:"data_source" db:"data_source"`
	Confidence      float64   `json:"confidence" db:"confidence"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// ComputeVariance 计算快照的派生 variance 字段
// target 为 0 时 variance_pct 定义为 0，避免除零
func ComputeVariance(actual, target float64) (amount, pct float64) {
	amount = actual - target
	if target != 0 {
		pct = amount / target * 100
	}
	return amount, pct
}

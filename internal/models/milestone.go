package models

import (
	"time"
)

// MilestoneStatus 里程碑状态
type MilestoneStatus string

const (
	MilestonePending  MilestoneStatus = "pending"
	MilestoneAchieved MilestoneStatus = "achieved"
	MilestoneMissed   MilestoneStatus = "missed"
	MilestoneDelayed  MilestoneStatus = "delayed"
)

// Milestone 里程碑（对应 goal_milestones 表）
// 不变式：target_date 必须落在所属目标的 [start_date, end_date] 区间内；
// status 为 achieved 当且仅当 achieved_date 非空
type Milestone struct {
	MilestoneID   string          `json:"milestone_id" db:"milestone_id"`
	GoalID        string          `json:"goal_id" db:"goal_id"`
	Name          string          `json:"name" db:"name"`
	TargetDate    time.Time       `json:"target_date" db:"target_date"`
	TargetValue   float64         `json:"target_value" db:"target_value"`
	AchievedValue *float64        `json:"achieved_value,omitempty" db:"achieved_value"`
	AchievedDate  *time.Time      `json:"achieved_date,omitempty" db:"achieved_date"`
	Status        MilestoneStatus `json:"status" db:"status"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Overdue 判断里程碑在 asOf 时点是否已逾期（目标日期已过且尚未达成）
func (m *Milestone) Overdue(asOf time.Time) bool {
	return m.AchievedDate == nil && m.TargetDate.Before(asOf)
}

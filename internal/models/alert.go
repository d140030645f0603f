package models

import (
	"time"
)

// AlertType 报警类型
type AlertType string

const (
	AlertAchievement AlertType = "achievement"
	AlertVariance    AlertType = "variance"
	AlertMilestone   AlertType = "milestone"
	AlertRisk        AlertType = "risk"
)

// AlertSeverity 报警级别
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// RiskLevel 风险等级
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Alert 目标报警（对应 goal_alerts 表）
// 不变式：同一目标同一 (alert_type, severity) 的未确认报警不允许重复，
// 由部分唯一索引 ux_goal_alerts_unacked 兜底
// 报警只允许通过确认操作修改，审计需要，不允许删除
type Alert struct {
	AlertID         string        `json:"alert_id" db:"alert_id"`
	GoalID          string        `json:"goal_id" db:"goal_id"`
	TenantID        string        `json:"tenant_id" db:"tenant_id"`
	AlertType       AlertType     `json:"alert_type" db:"alert_type"`
	Severity        AlertSeverity `json:"severity" db:"severity"`
	Message         string        `json:"message" db:"message"`
	ThresholdValue  *float64      `json:"threshold_value,omitempty" db:"threshold_value"`
	ActualValue     float64       `json:"actual_value" db:"actual_value"`
	TriggeredAt     time.Time     `json:"triggered_at" db:"triggered_at"`
	AcknowledgedAt  *time.Time    `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	AcknowledgedBy  *string       `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	ResolutionNotes *string       `json:"resolution_notes,omitempty" db:"resolution_notes"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// Acknowledged 判断报警是否已确认
func (a *Alert) Acknowledged() bool {
	return a.AcknowledgedAt != nil
}

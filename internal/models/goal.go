package models

import (
	"time"
)

// GoalScope 目标作用域
type GoalScope string

const (
	ScopeClinic     GoalScope = "clinic"
	ScopeProvider   GoalScope = "provider"
	ScopeDepartment GoalScope = "department"
)

// GoalStatus 目标状态
type GoalStatus string

const (
	StatusActive    GoalStatus = "active"
	StatusPaused    GoalStatus = "paused"
	StatusCompleted GoalStatus = "completed"
	StatusCancelled GoalStatus = "cancelled"
)

// TargetType 目标值类型
type TargetType string

const (
	TargetAbsolute   TargetType = "absolute"
	TargetPercentage TargetType = "percentage"
	TargetRatio      TargetType = "ratio"
)

// Frequency 测量频率
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// PeriodDays 测量频率对应的周期天数（daily/weekly/monthly → 1/7/30）
func (f Frequency) PeriodDays() int {
	switch f {
	case FrequencyWeekly:
		return 7
	case FrequencyMonthly:
		return 30
	default:
		return 1
	}
}

// Priority 目标优先级
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Goal 目标（对应 goals 表）
type Goal struct {
	GoalID         string     `json:"goal_id" db:"goal_id"`
	TenantID       string     `json:"tenant_id" db:"tenant_id"`
	TemplateID     *string    `json:"template_id,omitempty" db:"template_id"`
	Name           string     `json:"name" db:"name"`
	Description    string     `json:"description" db:"description"`
	Scope          GoalScope  `json:"scope" db:"scope"`
	TargetEntityID *string    `json:"target_entity_id,omitempty" db:"target_entity_id"`
	TargetValue    float64    `json:"target_value" db:"target_value"`
	TargetType     TargetType `json:"target_type" db:"target_type"`
	Frequency      Frequency  `json:"frequency" db:"frequency"`
	StartDate      time.Time  `json:"start_date" db:"start_date"`
	EndDate        time.Time  `json:"end_date" db:"end_date"`
	Status         GoalStatus `json:"status" db:"status"`
	Priority       Priority   `json:"priority" db:"priority"`
	CreatedBy      *string    `json:"created_by,omitempty" db:"created_by"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// allowedTransitions 目标状态机
// active → paused/completed/cancelled
// paused → active/cancelled
// completed/cancelled 为终态
var allowedTransitions = map[GoalStatus][]GoalStatus{
	StatusActive: {StatusPaused, StatusCompleted, StatusCancelled},
	StatusPaused: {StatusActive, StatusCancelled},
}

// CanTransition 判断状态迁移是否合法
func CanTransition(from, to GoalStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// GoalTemplate 目标模板（对应 goal_templates 表）
// tenant_id 为空表示全局模板
type GoalTemplate struct {
	TemplateID        string     `json:"template_id" db:"template_id"`
	TenantID          *string    `json:"tenant_id,omitempty" db:"tenant_id"`
	Name              string     `json:"name" db:"name"`
	Category          string     `json:"category" db:"category"`
	DefaultTargetType TargetType `json:"default_target_type" db:"default_target_type"`
	BenchmarkValue    float64    `json:"benchmark_value" db:"benchmark_value"`
	DefaultFrequency  Frequency  `json:"default_frequency" db:"default_frequency"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// GoalDependency 目标依赖边（对应 goal_dependencies 表）
// 父子目标构成有向无环图，权重用于父目标的加权汇总
type GoalDependency struct {
	ParentGoalID string    `json:"parent_goal_id" db:"parent_goal_id"`
	ChildGoalID  string    `json:"child_goal_id" db:"child_goal_id"`
	Weight       float64   `json:"weight" db:"weight"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ValidScope 判断作用域取值是否合法
func ValidScope(s GoalScope) bool {
	return s == ScopeClinic || s == ScopeProvider || s == ScopeDepartment
}

// ValidTargetType 判断目标值类型是否合法
func ValidTargetType(t TargetType) bool {
	return t == TargetAbsolute || t == TargetPercentage || t == TargetRatio
}

// ValidFrequency 判断测量频率是否合法
func ValidFrequency(f Frequency) bool {
	return f == FrequencyDaily || f == FrequencyWeekly || f == FrequencyMonthly
}

// ValidPriority 判断优先级是否合法
func ValidPriority(p Priority) bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh || p == PriorityCritical
}

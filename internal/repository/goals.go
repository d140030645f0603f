package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"dentiq-goals/internal/models"

	"go.uber.org/zap"
)

// GoalsRepository 目标仓库
// 写边界：日期窗口、目标值、状态机等不变式在这里强制执行
type GoalsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewGoalsRepository 创建目标仓库
func NewGoalsRepository(db *sql.DB, logger *zap.Logger) *GoalsRepository {
	return &GoalsRepository{
		db:     db,
		logger: logger,
	}
}

const goalColumns = `
		goal_id,
		tenant_id,
		template_id,
		name,
		description,
		scope,
		target_entity_id,
		target_value,
		target_type,
		frequency,
		start_date,
		end_date,
		status,
		priority,
		created_by,
		created_at,
		updated_at`

// scanGoal 扫描单行目标记录（处理可空字段）
func scanGoal(row interface {
	Scan(dest ...interface{}) error
}) (*models.Goal, error) {
	var goal models.Goal
	var templateID, targetEntityID, createdBy sql.NullString
	var description sql.NullString

	err := row.Scan(
		&goal.GoalID,
		&goal.TenantID,
		&templateID,
		&goal.Name,
		&description,
		&goal.Scope,
		&targetEntityID,
		&goal.TargetValue,
		&goal.TargetType,
		&goal.Frequency,
		&goal.StartDate,
		&goal.EndDate,
		&goal.Status,
		&goal.Priority,
		&createdBy,
		&goal.CreatedAt,
		&goal.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if templateID.Valid {
		goal.TemplateID = &templateID.String
	}
	if targetEntityID.Valid {
		goal.TargetEntityID = &targetEntityID.String
	}
	if createdBy.Valid {
		goal.CreatedBy = &createdBy.String
	}
	if description.Valid {
		goal.Description = description.String
	}

	return &goal, nil
}

// validateGoal 校验目标定义（创建和更新共用）
func validateGoal(goal *models.Goal) error {
	if goal.Name == "" {
		return models.NewValidationError("name", goal.Name, "name is required")
	}
	if !models.ValidScope(goal.Scope) {
		return models.NewValidationError("scope", goal.Scope, "scope must be clinic, provider or department")
	}
	if !models.ValidTargetType(goal.TargetType) {
		return models.NewValidationError("target_type", goal.TargetType, "target_type must be absolute, percentage or ratio")
	}
	if !models.ValidFrequency(goal.Frequency) {
		return models.NewValidationError("frequency", goal.Frequency, "frequency must be daily, weekly or monthly")
	}
	if !models.ValidPriority(goal.Priority) {
		return models.NewValidationError("priority", goal.Priority, "priority must be low, medium, high or critical")
	}
	if goal.StartDate.IsZero() || goal.EndDate.IsZero() {
		return models.NewValidationError("start_date", goal.StartDate, "start_date and end_date are required")
	}
	if goal.EndDate.Before(goal.StartDate) {
		return models.NewValidationError("end_date", goal.EndDate, "end_date must not precede start_date")
	}
	// absolute/ratio 类型目标值必须为正
	if (goal.TargetType == models.TargetAbsolute || goal.TargetType == models.TargetRatio) && goal.TargetValue <= 0 {
		return models.NewValidationError("target_value", goal.TargetValue, "target_value must be positive for absolute/ratio goals")
	}
	// provider/department 作用域必须指定目标实体
	if goal.Scope != models.ScopeClinic && (goal.TargetEntityID == nil || *goal.TargetEntityID == "") {
		return models.NewValidationError("target_entity_id", nil, "target_entity_id is required for provider/department scope")
	}
	return nil
}

// CreateGoal 创建目标（需验证 tenant_id）
func (r *GoalsRepository) CreateGoal(ctx context.Context, tenantID string, goal *models.Goal) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if goal == nil {
		return fmt.Errorf("goal is required")
	}
	if goal.TenantID != tenantID {
		return fmt.Errorf("goal.tenant_id must match tenant_id parameter")
	}
	if err := validateGoal(goal); err != nil {
		return err
	}

	query := `
		INSERT INTO goals (
			goal_id,
			tenant_id,
			template_id,
			name,
			description,
			scope,
			target_entity_id,
			target_value,
			target_type,
			frequency,
			start_date,
			end_date,
			status,
			priority,
			created_by,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		goal.GoalID,
		goal.TenantID,
		goal.TemplateID,
		goal.Name,
		goal.Description,
		goal.Scope,
		goal.TargetEntityID,
		goal.TargetValue,
		goal.TargetType,
		goal.Frequency,
		goal.StartDate,
		goal.EndDate,
		goal.Status,
		goal.Priority,
		goal.CreatedBy,
		goal.CreatedAt,
		goal.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create goal: %w", err)
	}

	return nil
}

// GetGoal 根据 goal_id 获取目标（需验证 tenant_id）
func (r *GoalsRepository) GetGoal(ctx context.Context, tenantID, goalID string) (*models.Goal, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if goalID == "" {
		return nil, fmt.Errorf("goal_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM goals
		WHERE goal_id = $1
		  AND tenant_id = $2
	`, goalColumns)

	goal, err := scanGoal(r.db.QueryRowContext(ctx, query, goalID, tenantID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.NewNotFoundError("goal", goalID)
		}
		return nil, fmt.Errorf("failed to get goal: %w", err)
	}

	return goal, nil
}

// ListActiveGoals 获取租户所有活跃目标（批量评估入口）
func (r *GoalsRepository) ListActiveGoals(ctx context.Context, tenantID string) ([]*models.Goal, error) {
	if tenantID == "" {
		return []*models.Goal{}, nil
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM goals
		WHERE tenant_id = $1
		  AND status = $2
		ORDER BY created_at
	`, goalColumns)

	return r.queryGoals(ctx, query, tenantID, models.StatusActive)
}

// ListGoalsByEntity 获取某实体在指定时间段内的目标（用于对比分析）
// 时间段判定：目标窗口与 [periodStart, periodEnd] 有交集
func (r *GoalsRepository) ListGoalsByEntity(ctx context.Context, tenantID string, scope models.GoalScope, entityID string, periodStart, periodEnd time.Time) ([]*models.Goal, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if entityID == "" {
		return nil, fmt.Errorf("entity_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM goals
		WHERE tenant_id = $1
		  AND scope = $2
		  AND target_entity_id = $3
		  AND start_date <= $4
		  AND end_date >= $5
		ORDER BY start_date
	`, goalColumns)

	return r.queryGoals(ctx, query, tenantID, scope, entityID, periodEnd, periodStart)
}

// ListEntityIDs 获取指定作用域下、时间段内有目标的实体ID列表
func (r *GoalsRepository) ListEntityIDs(ctx context.Context, tenantID string, scope models.GoalScope, periodStart, periodEnd time.Time) ([]string, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT DISTINCT target_entity_id
		FROM goals
		WHERE tenant_id = $1
		  AND scope = $2
		  AND target_entity_id IS NOT NULL
		  AND start_date <= $3
		  AND end_date >= $4
		ORDER BY target_entity_id
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, scope, periodEnd, periodStart)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity ids: %w", err)
	}
	defer rows.Close()

	entityIDs := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entity id: %w", err)
		}
		entityIDs = append(entityIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entity ids: %w", err)
	}

	return entityIDs, nil
}

// UpdateGoal 更新目标（需验证 tenant_id，支持部分更新）
// 只允许管理性编辑：名称、描述、目标值、日期、优先级
func (r *GoalsRepository) UpdateGoal(ctx context.Context, tenantID, goalID string, updates map[string]interface{}) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if goalID == "" {
		return fmt.Errorf("goal_id is required")
	}
	if len(updates) == 0 {
		return fmt.Errorf("updates cannot be empty")
	}

	// 允许更新的字段（状态走 TransitionStatus，不允许在这里改）
	allowedFields := map[string]bool{
		"name":         true,
		"description":  true,
		"target_value": true,
		"start_date":   true,
		"end_date":     true,
		"priority":     true,
	}

	setParts := []string{}
	args := []interface{}{}
	argN := 1

	for field, value := range updates {
		if !allowedFields[field] {
			return fmt.Errorf("field '%s' is not allowed to update", field)
		}
		setParts = append(setParts, fmt.Sprintf("%s = $%d", field, argN))
		args = append(args, value)
		argN++
	}

	setParts = append(setParts, "updated_at = CURRENT_TIMESTAMP")

	args = append(args, goalID, tenantID)
	query := fmt.Sprintf(`
		UPDATE goals
		SET %s
		WHERE goal_id = $%d AND tenant_id = $%d
	`, strings.Join(setParts, ", "), argN, argN+1)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update goal: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.NewNotFoundError("goal", goalID)
	}

	return nil
}

// TransitionStatus 目标状态迁移（强制执行状态机）
// 使用乐观更新（WHERE status = 当前状态）防止并发迁移互相覆盖
func (r *GoalsRepository) TransitionStatus(ctx context.Context, tenantID, goalID string, newStatus models.GoalStatus) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if goalID == "" {
		return fmt.Errorf("goal_id is required")
	}

	goal, err := r.GetGoal(ctx, tenantID, goalID)
	if err != nil {
		return err
	}

	if !models.CanTransition(goal.Status, newStatus) {
		return &models.InvalidTransitionError{GoalID: goalID, From: goal.Status, To: newStatus}
	}

	query := `
		UPDATE goals
		SET status = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE goal_id = $2
		  AND tenant_id = $3
		  AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query, newStatus, goalID, tenantID, goal.Status)
	if err != nil {
		return fmt.Errorf("failed to transition goal status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// 并发迁移已抢先修改状态
		return fmt.Errorf("goal status changed concurrently: goal_id=%s", goalID)
	}

	return nil
}

// DeleteGoal 删除目标
// 存在进度快照的目标不允许物理删除（只能 soft-cancel），保证历史报表完整性
func (r *GoalsRepository) DeleteGoal(ctx context.Context, tenantID, goalID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if goalID == "" {
		return fmt.Errorf("goal_id is required")
	}

	var snapshotCount int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM goal_snapshots WHERE goal_id = $1`,
		goalID,
	).Scan(&snapshotCount)
	if err != nil {
		return fmt.Errorf("failed to count goal snapshots: %w", err)
	}
	if snapshotCount > 0 {
		return models.NewValidationError("goal_id", goalID, "goals with progress snapshots cannot be deleted, cancel instead")
	}

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM goals WHERE goal_id = $1 AND tenant_id = $2`,
		goalID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete goal: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.NewNotFoundError("goal", goalID)
	}

	return nil
}

// queryGoals 执行多行目标查询
func (r *GoalsRepository) queryGoals(ctx context.Context, query string, args ...interface{}) ([]*models.Goal, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query goals: %w", err)
	}
	defer rows.Close()

	goals := []*models.Goal{}
	for rows.Next() {
		goal, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan goal: %w", err)
		}
		goals = append(goals, goal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate goals: %w", err)
	}

	return goals, nil
}

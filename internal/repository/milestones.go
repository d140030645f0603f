package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dentiq-goals/internal/models"

	"go.uber.org/zap"
)

// MilestonesRepository 里程碑仓库
type MilestonesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMilestonesRepository 创建里程碑仓库
func NewMilestonesRepository(db *sql.DB, logger *zap.Logger) *MilestonesRepository {
	return &MilestonesRepository{
		db:     db,
		logger: logger,
	}
}

const milestoneColumns = `
		milestone_id,
		goal_id,
		name,
		target_date,
		target_value,
		achieved_value,
		achieved_date,
		status,
		created_at,
		updated_at`

// scanMilestone 扫描单行里程碑记录（处理可空字段）
func scanMilestone(row interface {
	Scan(dest ...interface{}) error
}) (*models.Milestone, error) {
	var m models.Milestone
	var achievedValue sql.NullFloat64
	var achievedDate sql.NullTime

	err := row.Scan(
		&m.MilestoneID,
		&m.GoalID,
		&m.Name,
		&m.TargetDate,
		&m.TargetValue,
		&achievedValue,
		&achievedDate,
		&m.Status,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if achievedValue.Valid {
		m.AchievedValue = &achievedValue.Float64
	}
	if achievedDate.Valid {
		m.AchievedDate = &achievedDate.Time
	}

	return &m, nil
}

// CreateMilestone 创建里程碑
// 不变式：target_date 必须落在所属目标的 [start_date, end_date] 内
func (r *MilestonesRepository) CreateMilestone(ctx context.Context, goal *models.Goal, milestone *models.Milestone) error {
	if goal == nil {
		return fmt.Errorf("goal is required")
	}
	if milestone == nil {
		return fmt.Errorf("milestone is required")
	}
	if milestone.GoalID != goal.GoalID {
		return fmt.Errorf("milestone.goal_id must match goal")
	}
	if milestone.Name == "" {
		return models.NewValidationError("name", milestone.Name, "name is required")
	}
	if milestone.TargetDate.Before(goal.StartDate) || milestone.TargetDate.After(goal.EndDate) {
		return models.NewValidationError("target_date", milestone.TargetDate, "target_date must fall within the goal window")
	}

	query := `
		INSERT INTO goal_milestones (
			milestone_id,
			goal_id,
			name,
			target_date,
			target_value,
			status,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		milestone.MilestoneID,
		milestone.GoalID,
		milestone.Name,
		milestone.TargetDate,
		milestone.TargetValue,
		models.MilestonePending,
	)
	if err != nil {
		return fmt.Errorf("failed to create milestone: %w", err)
	}

	return nil
}

// ListMilestones 获取目标的所有里程碑，按目标日期升序
func (r *MilestonesRepository) ListMilestones(ctx context.Context, goalID string) ([]*models.Milestone, error) {
	if goalID == "" {
		return nil, fmt.Errorf("goal_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM goal_milestones
		WHERE goal_id = $1
		ORDER BY target_date
	`, milestoneColumns)

	rows, err := r.db.QueryContext(ctx, query, goalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query milestones: %w", err)
	}
	defer rows.Close()

	milestones := []*models.Milestone{}
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan milestone: %w", err)
		}
		milestones = append(milestones, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate milestones: %w", err)
	}

	return milestones, nil
}

// MarkAchieved 标记里程碑为已达成（status=achieved 当且仅当 achieved_date 非空）
func (r *MilestonesRepository) MarkAchieved(ctx context.Context, milestoneID string, achievedValue float64, achievedDate time.Time) error {
	if milestoneID == "" {
		return fmt.Errorf("milestone_id is required")
	}

	query := `
		UPDATE goal_milestones
		SET status = $1,
		    achieved_value = $2,
		    achieved_date = $3,
		    updated_at = CURRENT_TIMESTAMP
		WHERE milestone_id = $4
		  AND achieved_date IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, models.MilestoneAchieved, achievedValue, achievedDate, milestoneID)
	if err != nil {
		return fmt.Errorf("failed to mark milestone achieved: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// 已经达成过，不重复标记
		return nil
	}

	r.logger.Info("Milestone achieved",
		zap.String("milestone_id", milestoneID),
		zap.Float64("achieved_value", achievedValue),
	)

	return nil
}

// MarkDelayed 标记逾期的待达成里程碑为 delayed
func (r *MilestonesRepository) MarkDelayed(ctx context.Context, milestoneID string) error {
	if milestoneID == "" {
		return fmt.Errorf("milestone_id is required")
	}

	query := `
		UPDATE goal_milestones
		SET status = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE milestone_id = $2
		  AND status = $3
	`

	_, err := r.db.ExecContext(ctx, query, models.MilestoneDelayed, milestoneID, models.MilestonePending)
	if err != nil {
		return fmt.Errorf("failed to mark milestone delayed: %w", err)
	}

	return nil
}

// MarkMissed 目标结束后仍未达成的里程碑标记为 missed
func (r *MilestonesRepository) MarkMissed(ctx context.Context, milestoneID string) error {
	if milestoneID == "" {
		return fmt.Errorf("milestone_id is required")
	}

	query := `
		UPDATE goal_milestones
		SET status = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE milestone_id = $2
		  AND achieved_date IS NULL
	`

	_, err := r.db.ExecContext(ctx, query, models.MilestoneMissed, milestoneID)
	if err != nil {
		return fmt.Errorf("failed to mark milestone missed: %w", err)
	}

	return nil
}

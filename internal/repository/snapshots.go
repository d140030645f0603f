package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dentiq-goals/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SnapshotsRepository 进度快照仓库
// 同一 (goal_id, measurement_date) 只保留一条记录：
// 重复写入通过 ON CONFLICT upsert 覆盖，唯一约束保证并发写不会产生重复行
type SnapshotsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSnapshotsRepository 创建进度快照仓库
func NewSnapshotsRepository(db *sql.DB, logger *zap.Logger) *SnapshotsRepository {
	return &SnapshotsRepository{
		db:     db,
		logger: logger,
	}
}

const snapshotColumns = `
		snapshot_id,
		goal_id,
		measurement_date,
		actual_value,
		target_value,
		variance_amount,
		variance_pct,
		data_source,
		confidence,
		created_at,
		updated_at`

// scanSnapshot 扫描单行快照记录
func scanSnapshot(row interface {
	Scan(dest ...interface{}) error
}) (*models.ProgressSnapshot, error) {
	var snap models.ProgressSnapshot
	err := row.Scan(
		&snap.SnapshotID,
		&snap.GoalID,
		&snap.MeasurementDate,
		&snap.ActualValue,
		&snap.TargetValue,
		&snap.VarianceAmount,
		&snap.VariancePct,
		&snap.DataSource,
		&snap.Confidence,
		&snap.CreatedAt,
		&snap.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// UpsertSnapshot 写入进度快照（按 goal_id + measurement_date upsert）
// variance 字段在这里派生计算，外部传入的值被忽略
// goal 必须已存在且 date 落在 [goal.start_date, goal.end_date] 内（由 GoalService 校验）
func (r *SnapshotsRepository) UpsertSnapshot(ctx context.Context, goal *models.Goal, date time.Time, actualValue float64, dataSource string, confidence float64) (*models.ProgressSnapshot, error) {
	if goal == nil {
		return nil, fmt.Errorf("goal is required")
	}
	if dataSource == "" {
		return nil, fmt.Errorf("data_source is required")
	}

	varianceAmount, variancePct := models.ComputeVariance(actualValue, goal.TargetValue)

	query := fmt.Sprintf(`
		INSERT INTO goal_snapshots (
			snapshot_id,
			goal_id,
			measurement_date,
			actual_value,
			target_value,
			variance_amount,
			variance_pct,
			data_source,
			confidence,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP
		)
		ON CONFLICT (goal_id, measurement_date) DO UPDATE SET
			actual_value = EXCLUDED.actual_value,
			target_value = EXCLUDED.target_value,
			variance_amount = EXCLUDED.variance_amount,
			variance_pct = EXCLUDED.variance_pct,
			data_source = EXCLUDED.data_source,
			confidence = EXCLUDED.confidence,
			updated_at = CURRENT_TIMESTAMP
		RETURNING %s
	`, snapshotColumns)

	snap, err := scanSnapshot(r.db.QueryRowContext(ctx, query,
		uuid.New().String(),
		goal.GoalID,
		date,
		actualValue,
		goal.TargetValue,
		varianceAmount,
		variancePct,
		dataSource,
		confidence,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert snapshot: %w", err)
	}

	r.logger.Debug("Snapshot upserted",
		zap.String("goal_id", goal.GoalID),
		zap.Time("measurement_date", date),
		zap.Float64("actual_value", actualValue),
	)

	return snap, nil
}

// GetLatestSnapshot 获取 asOf 当天或之前最近的一条快照
// 没有符合条件的快照时返回 (nil, nil)，由调用方决定如何处理
func (r *SnapshotsRepository) GetLatestSnapshot(ctx context.Context, goalID string, asOf time.Time) (*models.ProgressSnapshot, error) {
	if goalID == "" {
		return nil, fmt.Errorf("goal_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM goal_snapshots
		WHERE goal_id = $1
		  AND measurement_date <= $2
		ORDER BY measurement_date DESC
		LIMIT 1
	`, snapshotColumns)

	snap, err := scanSnapshot(r.db.QueryRowContext(ctx, query, goalID, asOf))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	return snap, nil
}

// ListSnapshots 获取 asOf 之前（含当天）的快照历史，按测量日期升序
// 预测器的回归输入
func (r *SnapshotsRepository) ListSnapshots(ctx context.Context, goalID string, asOf time.Time) ([]*models.ProgressSnapshot, error) {
	if goalID == "" {
		return nil, fmt.Errorf("goal_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM goal_snapshots
		WHERE goal_id = $1
		  AND measurement_date <= $2
		ORDER BY measurement_date
	`, snapshotColumns)

	rows, err := r.db.QueryContext(ctx, query, goalID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []*models.ProgressSnapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}

	return snapshots, nil
}

// CountSnapshots 统计目标的快照数量
func (r *SnapshotsRepository) CountSnapshots(ctx context.Context, goalID string) (int, error) {
	if goalID == "" {
		return 0, fmt.Errorf("goal_id is required")
	}

	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM goal_snapshots WHERE goal_id = $1`,
		goalID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}

	return count, nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"dentiq-goals/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// AlertsRepository 目标报警仓库
// 去重规则：同一目标同一 (alert_type, severity) 的未确认报警只允许一条，
// 检查-插入竞态由部分唯一索引 ux_goal_alerts_unacked 兜底，
// 约束冲突按幂等 no-op 处理（另一个进程已插入等效报警）
type AlertsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertsRepository 创建报警仓库
func NewAlertsRepository(db *sql.DB, logger *zap.Logger) *AlertsRepository {
	return &AlertsRepository{
		db:     db,
		logger: logger,
	}
}

// AlertFilters 报警过滤条件
type AlertFilters struct {
	GoalID       *string
	AlertType    *models.AlertType
	Severity     *models.AlertSeverity
	Acknowledged *bool // true=只看已确认，false=只看未确认
	StartTime    *time.Time
	EndTime      *time.Time
}

const alertColumns = `
		alert_id,
		goal_id,
		tenant_id,
		alert_type,
		severity,
		message,
		threshold_value,
		actual_value,
		triggered_at,
		acknowledged_at,
		acknowledged_by,
		resolution_notes,
		created_at,
		updated_at`

// scanAlert 扫描单行报警记录（处理可空字段）
func scanAlert(row interface {
	Scan(dest ...interface{}) error
}) (*models.Alert, error) {
	var alert models.Alert
	var thresholdValue sql.NullFloat64
	var acknowledgedAt sql.NullTime
	var acknowledgedBy, resolutionNotes sql.NullString

	err := row.Scan(
		&alert.AlertID,
		&alert.GoalID,
		&alert.TenantID,
		&alert.AlertType,
		&alert.Severity,
		&alert.Message,
		&thresholdValue,
		&alert.ActualValue,
		&alert.TriggeredAt,
		&acknowledgedAt,
		&acknowledgedBy,
		&resolutionNotes,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if thresholdValue.Valid {
		alert.ThresholdValue = &thresholdValue.Float64
	}
	if acknowledgedAt.Valid {
		alert.AcknowledgedAt = &acknowledgedAt.Time
	}
	if acknowledgedBy.Valid {
		alert.AcknowledgedBy = &acknowledgedBy.String
	}
	if resolutionNotes.Valid {
		alert.ResolutionNotes = &resolutionNotes.String
	}

	return &alert, nil
}

// CreateAlert 插入报警（去重插入）
// 返回值 inserted=false 表示已存在同 (goal, type, severity) 的未确认报警，本次为 no-op
func (r *AlertsRepository) CreateAlert(ctx context.Context, tenantID string, alert *models.Alert) (bool, error) {
	if tenantID == "" {
		return false, fmt.Errorf("tenant_id is required")
	}
	if alert == nil {
		return false, fmt.Errorf("alert is required")
	}
	if alert.TenantID != tenantID {
		return false, fmt.Errorf("alert.tenant_id must match tenant_id parameter")
	}
	if alert.GoalID == "" {
		return false, fmt.Errorf("goal_id is required")
	}

	query := `
		INSERT INTO goal_alerts (
			alert_id,
			goal_id,
			tenant_id,
			alert_type,
			severity,
			message,
			threshold_value,
			actual_value,
			triggered_at,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP
		)
		ON CONFLICT (goal_id, alert_type, severity) WHERE acknowledged_at IS NULL DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		alert.AlertID,
		alert.GoalID,
		alert.TenantID,
		alert.AlertType,
		alert.Severity,
		alert.Message,
		alert.ThresholdValue,
		alert.ActualValue,
		alert.TriggeredAt,
	)
	if err != nil {
		// 唯一约束冲突 → 幂等 no-op（并发评估已插入等效报警）
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return false, nil
		}
		return false, fmt.Errorf("failed to create alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// HasUnacknowledgedAlert 检查是否已有同 (goal, type, severity) 的未确认报警
func (r *AlertsRepository) HasUnacknowledgedAlert(ctx context.Context, tenantID, goalID string, alertType models.AlertType, severity models.AlertSeverity) (bool, error) {
	if tenantID == "" {
		return false, fmt.Errorf("tenant_id is required")
	}
	if goalID == "" {
		return false, fmt.Errorf("goal_id is required")
	}

	query := `
		SELECT EXISTS (
			SELECT 1
			FROM goal_alerts
			WHERE tenant_id = $1
			  AND goal_id = $2
			  AND alert_type = $3
			  AND severity = $4
			  AND acknowledged_at IS NULL
		)
	`

	var exists bool
	err := r.db.QueryRowContext(ctx, query, tenantID, goalID, alertType, severity).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check unacknowledged alert: %w", err)
	}

	return exists, nil
}

// GetAlert 根据 alert_id 获取报警（需验证 tenant_id）
func (r *AlertsRepository) GetAlert(ctx context.Context, tenantID, alertID string) (*models.Alert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM goal_alerts
		WHERE alert_id = $1
		  AND tenant_id = $2
	`, alertColumns)

	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, alertID, tenantID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.NewNotFoundError("alert", alertID)
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	return alert, nil
}

// ListAlerts 查询报警列表（支持多条件过滤）
func (r *AlertsRepository) ListAlerts(ctx context.Context, tenantID string, filters AlertFilters) ([]*models.Alert, error) {
	if tenantID == "" {
		return []*models.Alert{}, nil
	}

	where := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}
	argN := 2

	if filters.GoalID != nil {
		where = append(where, fmt.Sprintf("goal_id = $%d", argN))
		args = append(args, *filters.GoalID)
		argN++
	}
	if filters.AlertType != nil {
		where = append(where, fmt.Sprintf("alert_type = $%d", argN))
		args = append(args, *filters.AlertType)
		argN++
	}
	if filters.Severity != nil {
		where = append(where, fmt.Sprintf("severity = $%d", argN))
		args = append(args, *filters.Severity)
		argN++
	}
	if filters.Acknowledged != nil {
		if *filters.Acknowledged {
			where = append(where, "acknowledged_at IS NOT NULL")
		} else {
			where = append(where, "acknowledged_at IS NULL")
		}
	}
	if filters.StartTime != nil {
		where = append(where, fmt.Sprintf("triggered_at >= $%d", argN))
		args = append(args, *filters.StartTime)
		argN++
	}
	if filters.EndTime != nil {
		where = append(where, fmt.Sprintf("triggered_at <= $%d", argN))
		args = append(args, *filters.EndTime)
		argN++
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM goal_alerts
		WHERE %s
		ORDER BY triggered_at DESC
	`, alertColumns, strings.Join(where, " AND "))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*models.Alert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	return alerts, nil
}

// AcknowledgeAlert 确认报警（设置 acknowledged_at / acknowledged_by）
// 只能确认未确认的报警；resolution_notes 可选
func (r *AlertsRepository) AcknowledgeAlert(ctx context.Context, tenantID, alertID, acknowledgerID string, notes *string) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if alertID == "" {
		return fmt.Errorf("alert_id is required")
	}
	if acknowledgerID == "" {
		return fmt.Errorf("acknowledger_id is required")
	}

	query := `
		UPDATE goal_alerts
		SET acknowledged_at = CURRENT_TIMESTAMP,
		    acknowledged_by = $1,
		    resolution_notes = COALESCE($2, resolution_notes),
		    updated_at = CURRENT_TIMESTAMP
		WHERE alert_id = $3
		  AND tenant_id = $4
		  AND acknowledged_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, acknowledgerID, notes, alertID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alert not found or already acknowledged: alert_id=%s", alertID)
	}

	r.logger.Info("Alert acknowledged",
		zap.String("tenant_id", tenantID),
		zap.String("alert_id", alertID),
		zap.String("acknowledged_by", acknowledgerID),
	)

	return nil
}

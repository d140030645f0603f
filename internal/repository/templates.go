package repository

import (
	"context"
	"database/sql"
	"fmt"

	"dentiq-goals/internal/models"

	"go.uber.org/zap"
)

// TemplatesRepository 目标模板仓库
// 模板可以是租户私有（tenant_id 非空）或全局（tenant_id 为空）
type TemplatesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTemplatesRepository 创建目标模板仓库
func NewTemplatesRepository(db *sql.DB, logger *zap.Logger) *TemplatesRepository {
	return &TemplatesRepository{
		db:     db,
		logger: logger,
	}
}

const templateColumns = `
		template_id,
		tenant_id,
		name,
		category,
		default_target_type,
		benchmark_value,
		default_frequency,
		created_at`

// scanTemplate 扫描单行模板记录
func scanTemplate(row interface {
	Scan(dest ...interface{}) error
}) (*models.GoalTemplate, error) {
	var tpl models.GoalTemplate
	var tenantID sql.NullString

	err := row.Scan(
		&tpl.TemplateID,
		&tenantID,
		&tpl.Name,
		&tpl.Category,
		&tpl.DefaultTargetType,
		&tpl.BenchmarkValue,
		&tpl.DefaultFrequency,
		&tpl.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if tenantID.Valid {
		tpl.TenantID = &tenantID.String
	}

	return &tpl, nil
}

// CreateTemplate 创建目标模板
func (r *TemplatesRepository) CreateTemplate(ctx context.Context, tpl *models.GoalTemplate) error {
	if tpl == nil {
		return fmt.Errorf("template is required")
	}
	if tpl.Name == "" {
		return models.NewValidationError("name", tpl.Name, "name is required")
	}
	if !models.ValidTargetType(tpl.DefaultTargetType) {
		return models.NewValidationError("default_target_type", tpl.DefaultTargetType, "default_target_type must be absolute, percentage or ratio")
	}
	if !models.ValidFrequency(tpl.DefaultFrequency) {
		return models.NewValidationError("default_frequency", tpl.DefaultFrequency, "default_frequency must be daily, weekly or monthly")
	}

	query := `
		INSERT INTO goal_templates (
			template_id,
			tenant_id,
			name,
			category,
			default_target_type,
			benchmark_value,
			default_frequency,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		tpl.TemplateID,
		tpl.TenantID,
		tpl.Name,
		tpl.Category,
		tpl.DefaultTargetType,
		tpl.BenchmarkValue,
		tpl.DefaultFrequency,
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}

	return nil
}

// GetTemplate 获取模板（租户私有模板 + 全局模板）
func (r *TemplatesRepository) GetTemplate(ctx context.Context, tenantID, templateID string) (*models.GoalTemplate, error) {
	if templateID == "" {
		return nil, fmt.Errorf("template_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM goal_templates
		WHERE template_id = $1
		  AND (tenant_id = $2 OR tenant_id IS NULL)
	`, templateColumns)

	tpl, err := scanTemplate(r.db.QueryRowContext(ctx, query, templateID, tenantID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.NewNotFoundError("template", templateID)
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	return tpl, nil
}

// ListTemplates 获取租户可见的模板列表（私有 + 全局）
func (r *TemplatesRepository) ListTemplates(ctx context.Context, tenantID string) ([]*models.GoalTemplate, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM goal_templates
		WHERE tenant_id = $1 OR tenant_id IS NULL
		ORDER BY category, name
	`, templateColumns)

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	templates := []*models.GoalTemplate{}
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate templates: %w", err)
	}

	return templates, nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"dentiq-goals/internal/models"

	"go.uber.org/zap"
)

// DependenciesRepository 目标依赖仓库
// 父子目标构成有向无环图；环检测在插入边时执行，不延迟到读取时
type DependenciesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDependenciesRepository 创建目标依赖仓库
func NewDependenciesRepository(db *sql.DB, logger *zap.Logger) *DependenciesRepository {
	return &DependenciesRepository{
		db:     db,
		logger: logger,
	}
}

// AddDependency 插入依赖边 parent → child
// 插入前加载既有边集做 DFS 环检测；自环和成环均返回 ValidationError
func (r *DependenciesRepository) AddDependency(ctx context.Context, tenantID, parentGoalID, childGoalID string, weight float64) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if parentGoalID == "" || childGoalID == "" {
		return fmt.Errorf("parent_goal_id and child_goal_id are required")
	}
	if parentGoalID == childGoalID {
		return models.NewValidationError("child_goal_id", childGoalID, "a goal cannot depend on itself")
	}
	if weight <= 0 {
		return models.NewValidationError("weight", weight, "weight must be positive")
	}

	edges, err := r.loadEdges(ctx, tenantID)
	if err != nil {
		return err
	}

	// 新边 parent→child 成环当且仅当 child 已能到达 parent
	if reachable(edges, childGoalID, parentGoalID) {
		return models.NewValidationError("parent_goal_id", parentGoalID, "dependency would create a cycle")
	}

	query := `
		INSERT INTO goal_dependencies (
			parent_goal_id,
			child_goal_id,
			weight,
			created_at
		) VALUES (
			$1, $2, $3, CURRENT_TIMESTAMP
		)
		ON CONFLICT (parent_goal_id, child_goal_id) DO UPDATE SET
			weight = EXCLUDED.weight
	`

	_, err = r.db.ExecContext(ctx, query, parentGoalID, childGoalID, weight)
	if err != nil {
		return fmt.Errorf("failed to add dependency: %w", err)
	}

	r.logger.Info("Goal dependency added",
		zap.String("parent_goal_id", parentGoalID),
		zap.String("child_goal_id", childGoalID),
		zap.Float64("weight", weight),
	)

	return nil
}

// RemoveDependency 删除依赖边
func (r *DependenciesRepository) RemoveDependency(ctx context.Context, parentGoalID, childGoalID string) error {
	if parentGoalID == "" || childGoalID == "" {
		return fmt.Errorf("parent_goal_id and child_goal_id are required")
	}

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM goal_dependencies WHERE parent_goal_id = $1 AND child_goal_id = $2`,
		parentGoalID, childGoalID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove dependency: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.NewNotFoundError("dependency", parentGoalID+"->"+childGoalID)
	}

	return nil
}

// ListChildren 获取目标的直接子依赖（带权重）
func (r *DependenciesRepository) ListChildren(ctx context.Context, parentGoalID string) ([]*models.GoalDependency, error) {
	if parentGoalID == "" {
		return nil, fmt.Errorf("parent_goal_id is required")
	}

	query := `
		SELECT parent_goal_id, child_goal_id, weight, created_at
		FROM goal_dependencies
		WHERE parent_goal_id = $1
		ORDER BY child_goal_id
	`

	rows, err := r.db.QueryContext(ctx, query, parentGoalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	deps := []*models.GoalDependency{}
	for rows.Next() {
		var dep models.GoalDependency
		if err := rows.Scan(&dep.ParentGoalID, &dep.ChildGoalID, &dep.Weight, &dep.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, &dep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dependencies: %w", err)
	}

	return deps, nil
}

// loadEdges 加载租户目标的全部依赖边（邻接表）
func (r *DependenciesRepository) loadEdges(ctx context.Context, tenantID string) (map[string][]string, error) {
	query := `
		SELECT d.parent_goal_id, d.child_goal_id
		FROM goal_dependencies d
		JOIN goals g ON d.parent_goal_id = g.goal_id
		WHERE g.tenant_id = $1
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load dependency edges: %w", err)
	}
	defer rows.Close()

	edges := map[string][]string{}
	for rows.Next() {
		var parent, child string
		if err := rows.Scan(&parent, &child); err != nil {
			return nil, fmt.Errorf("failed to scan dependency edge: %w", err)
		}
		edges[parent] = append(edges[parent], child)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dependency edges: %w", err)
	}

	return edges, nil
}

// reachable DFS 判断 from 是否可达 to
func reachable(edges map[string][]string, from, to string) bool {
	if from == to {
		return true
	}

	visited := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == to {
			return true
		}
		if visited[node] {
			continue
		}
		visited[node] = true
		stack = append(stack, edges[node]...)
	}

	return false
}

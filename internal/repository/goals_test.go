package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dentiq-goals/internal/models"
)

func setupMockGoalsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *GoalsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewGoalsRepository(db, logger)

	return db, mock, repo
}

func validGoal(tenantID string) *models.Goal {
	now := time.Now()
	return &models.Goal{
		GoalID:      uuid.New().String(),
		TenantID:    tenantID,
		Name:        "Monthly Production",
		Description: "Monthly production target",
		Scope:       models.ScopeClinic,
		TargetValue: 100000,
		TargetType:  models.TargetAbsolute,
		Frequency:   models.FrequencyDaily,
		StartDate:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		Status:      models.StatusActive,
		Priority:    models.PriorityHigh,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func goalRowColumns() []string {
	return []string{
		"goal_id", "tenant_id", "template_id", "name", "description",
		"scope", "target_entity_id", "target_value", "target_type", "frequency",
		"start_date", "end_date", "status", "priority", "created_by",
		"created_at", "updated_at",
	}
}

func addGoalRow(rows *sqlmock.Rows, goal *models.Goal) *sqlmock.Rows {
	return rows.AddRow(
		goal.GoalID, goal.TenantID, goal.TemplateID, goal.Name, goal.Description,
		goal.Scope, goal.TargetEntityID, goal.TargetValue, goal.TargetType, goal.Frequency,
		goal.StartDate, goal.EndDate, goal.Status, goal.Priority, goal.CreatedBy,
		goal.CreatedAt, goal.UpdatedAt,
	)
}

// ============================================
// 基础 CRUD 操作测试
// ============================================

func TestCreateGoal_Success(t *testing.T) {
	db, mock, repo := setupMockGoalsDB(t)
	defer db.Close()

	ctx := context.Background()
	tenantID := uuid.New().String()
	goal := validGoal(tenantID)

	mock.ExpectExec(`INSERT INTO goals`).
		WithArgs(
			goal.GoalID, tenantID, nil, goal.Name, goal.Description,
			goal.Scope, nil, goal.TargetValue, goal.TargetType, goal.Frequency,
			goal.StartDate, goal.EndDate, goal.Status, goal.Priority, nil,
			goal.CreatedAt, goal.UpdatedAt,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.CreateGoal(ctx, tenantID, goal)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateGoal_InvalidTenantID(t *testing.T) {
	db, mock, repo := setupMockGoalsDB(t)
	defer db.Close()

	ctx := context.Background()
	goal := validGoal(uuid.New().String())

	err := repo.CreateGoal(ctx, "", goal)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "tenant_id is required")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateGoal_EndBeforeStart(t *testing.T) {
	db, mock, repo := setupMockGoalsDB(t)
	defer db.Close()

	ctx := context.Background()
	tenantID := uuid.New().String()
	goal := validGoal(tenantID)
	goal.StartDate = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	goal.EndDate = time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	err := repo.CreateGoal(ctx, tenantID, goal)

	assert.Error(t, err)
	assert.True(t, models.IsValidation(err))
	assert.Contains(t, err.Error(), "end_date must not precede start_date")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateGoal_ProviderScopeRequiresEntity(t *testing.T) {
	db, mock, repo := setupMockGoalsDB(t)
	defer db.Close()

	ctx := context.Background()
	tenantID := uuid.New().String()
	goal := validGoal(tenantID)
	goal.Scope = models.ScopeProvider
	goal.TargetEntityID = nil

	err := repo.CreateGoal(ctx, tenantID, goal)

	assert.Error(t, err)
	assert.True(t, models.IsValidation(err))
	assert.Contains(t, err.Error(), "target_entity_id is required")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateGoal_NonPositiveAbsoluteTarget(t *testing.T) {
	db, mock, repo := setupMockGoalsDB(t)
	defer db.Close()

	ctx := context.Background()
	tenantID := uuid.New().String()
	goal := validGoal(tenantID)
	goal.TargetValue = 0

	err := repo.CreateGoal(ctx, tenantID, goal)

	assert.Error(t, err)
	assert.True(t, models.IsValidation(err))
	assert.Contains(t, err.Error(), "target_value must be positive")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetGoal_Success(t *testing.T) {
	db, mock, repo := setupMockGoalsDB(t)
	defer db.Close()

	ctx := context.Background()
	tenantID := uuid.New().String()
	goal := validGoal(tenantID)

	rows := addGoalRow(sqlmock.NewRows(goalRowColumns()), goal)

	mock.ExpectQuery(`SELECT`).
		WithArgs(goal.GoalID, tenantID).
		WillReturnRows(rows)

	got, err := repo.GetGoal(ctx, tenantID, goal.GoalID)

	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Equal(t, goal.GoalID, got.GoalID)
	assert.Equal(t, tenantID, got.TenantID)
	assert.Equal(t, "Monthly Production", got.Name)
	assert.Equal(t, models.ScopeClinic, got.Scope)
	assert.Equal(t, models.StatusActive, got.Status)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetGoal_NotFound(t *testing.T) {
	db, mock, repo := setupMockGoalsDB(t)
	defer db.Close()

	ctx := context.Background()
	tenantID := uuid.New().String()
	goalID := uuid.New().String()

	mock.ExpectQuery(`SELECT`).
		WithArgs(goalID, tenantID).
		WillReturnError(sql.ErrNoRows)

	goal, err := repo.GetGoal(ctx, tenantID, goalID)

	assert.Error(t, err)
	assert.Nil(t, goal)
	assert.True(t, models.IsNotFound(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// 查询操作测试
// ============================================

func TestListActiveGoals_Success(t *testing.T) {
	db, mock, repo := setupMockGoalsDB(t)
	defer db.Close()

	ctx := context.Background()
	tenantID := uuid.New().String()
	goal1 := validGoal(tenantID)
	goal2 := validGoal(tenantID)
	goal2.Name = "Hygiene Reappointment Rate"

	rows := sqlmock.NewRows(goalRowColumns())
	rows = addGoalRow(rows, goal1)
	rows = addGoalRow(rows, goal2)

	mock.ExpectQuery(`SELECT`).
		WithArgs(tenantID, models.StatusActive).
		WillReturnRows(rows)

	goals, err := repo.ListActiveGoals(ctx, tenantID)

	require.NoError(t, err)
	assert.Len(t, goals, 2)
	assert.Equal(t, goal1.GoalID, goals[0].GoalID)
	assert.Equal(t, goal2.GoalID, goals[1].GoalID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveGoals_EmptyTenant(t *testing.T) {
	db, mock, repo := setupMockGoalsDB(t)
	defer db.Close()

	ctx := context.Background()

	goals, err := repo.ListActiveGoals(ctx, "")

	require.NoError(t, err)
	assert.Empty(t, goals)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListGoalsByEntity_Success(t *testing.T) {
	db, mock, repo := setupMockGoalsDB(t)
	defer db.Close()

	ctx := context.Background()
	tenantID := uuid.New().String()
	entityID := uuid.New().String()
	goal := validGoal(tenantID)
	goal.Scope = models.ScopeProvider
	goal.TargetEntityID = &entityID

	periodStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	rows := addGoalRow(sqlmock.NewRows(goalRowColumns()), goal)

	// 窗口交集判定：start_date <= periodEnd AND end_date >= periodStart
	mock.ExpectQuery(`SELECT`).
		WithArgs(tenantID, models.ScopeProvider, entityID, periodEnd, periodStart).
		WillReturnRows(rows)

	goals, err := repo.ListGoalsByEntity(ctx, tenantID, models.ScopeProvider, entityID, periodStart, periodEnd)

	require.NoError(t, err)
	assert.Len(t, goals, 1)
	assert.Equal(t, entityID, *goals[0].TargetEntityID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListEntityIDs_Success(t *testing.T) {
	db, mock, repo := setupMockGoalsDB(t)
	defer db.Close()

	ctx := context.Background()
	tenantID := uuid.New().String()
	periodStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"target_entity_id"}).
		AddRow("prov-a").
		AddRow("prov-b")

	mock.ExpectQuery(`SELECT DISTINCT`).
		WithArgs(tenantID, models.ScopeProvider, periodEnd, periodStart).
		WillReturnRows(rows)

	entityIDs, err := repo.ListEntityIDs(ctx, tenantID, models.ScopeProvider, periodStart, periodEnd)

	require.NoError(t, err)
	assert.Equal(t, []string{"prov-a", "prov-b"}, entityIDs)

	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// 更新与状态机测试
// ============================================

func TestUpdateGoal_Success(t *testing.T) {
	db, mock, repo := setupMockGoalsDB(t)
	defer db.Close()

	ctx := context.Background()
	tenantID := uuid.New().String()
	goalID := uuid.New().String()

	updates := map[string]interface{}{
		"target_value": 120000.0,
	}

	mock.ExpectExec(`UPDATE goals`).
		WithArgs(120000.0, goalID, tenantID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateGoal(ctx, tenantID, goalID, updates)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateGoal_DisallowedField(t *testing.T) {
	db, mock, repo := setupMockGoalsDB(t)
	defer db.Close()

	ctx := context.Background()
	tenantID := uuid.New().String()
	goalID := uuid.New().String()

	updates := map[string]interface{}{
		"status": "completed",
	}

	err := repo.UpdateGoal(ctx, tenantID, goalID, updates)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed to update")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateGoal_NotFound(t *testing.T) {
	db, mock, repo := setupMockGoalsDB(t)
	defer db.Close()

	ctx := context.Background()
	tenantID := uuid.New().String()
	goalID := uuid.New().String()

	updates := map[string]interface{}{
		"priority": "critical",
	}

	mock.ExpectExec(`UPDATE goals`).
		WithArgs("critical", goalID, tenantID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateGoal(ctx, tenantID, goalID, updates)

	assert.Error(t, err)
	assert.True(t, models.IsNotFound(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatus_Success(t *testing.T) {
	db, mock, repo := setupMockGoalsDB(t)
	defer db.Close()

	ctx := context.Background()
	tenantID := uuid.New().String()
	goal := validGoal(tenantID)

	rows := addGoalRow(sqlmock.NewRows(goalRowColumns()), goal)
	mock.ExpectQuery(`SELECT`).
		WithArgs(goal.GoalID, tenantID).
		WillReturnRows(rows)

	mock.ExpectExec(`UPDATE goals`).
		WithArgs(models.StatusPaused, goal.GoalID, tenantID, models.StatusActive).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.TransitionStatus(ctx, tenantID, goal.GoalID, models.StatusPaused)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatus_InvalidTransition(t *testing.T) {
	db, mock, repo := setupMockGoalsDB(t)
	defer db.Close()

	ctx := context.Background()
	tenantID := uuid.New().String()
	goal := validGoal(tenantID)
	goal.Status = models.StatusCompleted

	rows := addGoalRow(sqlmock.NewRows(goalRowColumns()), goal)
	mock.ExpectQuery(`SELECT`).
		WithArgs(goal.GoalID, tenantID).
		WillReturnRows(rows)

	err := repo.TransitionStatus(ctx, tenantID, goal.GoalID, models.StatusActive)

	assert.Error(t, err)
	var transitionErr *models.InvalidTransitionError
	assert.ErrorAs(t, err, &transitionErr)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatus_ConcurrentChange(t *testing.T) {
	db, mock, repo := setupMockGoalsDB(t)
	defer db.Close()

	ctx := context.Background()
	tenantID := uuid.New().String()
	goal := validGoal(tenantID)

	rows := addGoalRow(sqlmock.NewRows(goalRowColumns()), goal)
	mock.ExpectQuery(`SELECT`).
		WithArgs(goal.GoalID, tenantID).
		WillReturnRows(rows)

	// 另一个进程已抢先迁移，乐观更新命中 0 行
	mock.ExpectExec(`UPDATE goals`).
		WithArgs(models.StatusPaused, goal.GoalID, tenantID, models.StatusActive).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.TransitionStatus(ctx, tenantID, goal.GoalID, models.StatusPaused)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "changed concurrently")

	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// 删除测试
// ============================================

func TestDeleteGoal_Success(t *testing.T) {
	db, mock, repo := setupMockGoalsDB(t)
	defer db.Close()

	ctx := context.Background()
	tenantID := uuid.New().String()
	goalID := uuid.New().String()

	countRows := sqlmock.NewRows([]string{"count"}).AddRow(0)
	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs(goalID).
		WillReturnRows(countRows)

	mock.ExpectExec(`DELETE FROM goals`).
		WithArgs(goalID, tenantID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.DeleteGoal(ctx, tenantID, goalID)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteGoal_WithSnapshotsRejected(t *testing.T) {
	db, mock, repo := setupMockGoalsDB(t)
	defer db.Close()

	ctx := context.Background()
	tenantID := uuid.New().String()
	goalID := uuid.New().String()

	countRows := sqlmock.NewRows([]string{"count"}).AddRow(14)
	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs(goalID).
		WillReturnRows(countRows)

	err := repo.DeleteGoal(ctx, tenantID, goalID)

	assert.Error(t, err)
	assert.True(t, models.IsValidation(err))
	assert.Contains(t, err.Error(), "cancel instead")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteGoal_NotFound(t *testing.T) {
	db, mock, repo := setupMockGoalsDB(t)
	defer db.Close()

	ctx := context.Background()
	tenantID := uuid.New().String()
	goalID := uuid.New().String()

	countRows := sqlmock.NewRows([]string{"count"}).AddRow(0)
	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs(goalID).
		WillReturnRows(countRows)

	mock.ExpectExec(`DELETE FROM goals`).
		WithArgs(goalID, tenantID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteGoal(ctx, tenantID, goalID)

	assert.Error(t, err)
	assert.True(t, models.IsNotFound(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

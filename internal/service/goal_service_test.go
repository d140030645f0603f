package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"dentiq-goals/internal/cache"
	"dentiq-goals/internal/ingest"
	"dentiq-goals/internal/models"
	"dentiq-goals/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// fakeKVStore 仅用于单元测试（内存 KV，忽略 TTL）
type fakeKVStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeKVStore() *fakeKVStore {
	return &fakeKVStore{data: make(map[string]string)}
}

func (f *fakeKVStore) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	val, ok := f.data[key]
	if !ok {
		return "", cache.ErrCacheMiss
	}
	return val, nil
}

func (f *fakeKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeKVStore) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func setupService(t *testing.T) (*GoalService, sqlmock.Sqlmock, *fakeKVStore) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zap.NewNop()
	kv := newFakeKVStore()
	progressCache := cache.NewProgressCache(kv, "goal-progress:", time.Minute, logger)

	svc := NewGoalService(
		repository.NewGoalsRepository(db, logger),
		repository.NewSnapshotsRepository(db, logger),
		repository.NewAlertsRepository(db, logger),
		repository.NewMilestonesRepository(db, logger),
		repository.NewTemplatesRepository(db, logger),
		repository.NewDependenciesRepository(db, logger),
		progressCache,
		logger,
	)
	return svc, mock, kv
}

func goalRow(tenantID, goalID string, status models.GoalStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"goal_id", "tenant_id", "template_id", "name", "description", "scope",
		"target_entity_id", "target_value", "target_type", "frequency",
		"start_date", "end_date", "status", "priority", "created_by", "created_at", "updated_at",
	}).AddRow(goalID, tenantID, nil, "January production", nil, models.ScopeClinic,
		nil, 100000.0, models.TargetAbsolute, models.FrequencyDaily,
		date(2025, time.January, 1), date(2025, time.January, 31),
		status, models.PriorityHigh, nil, now, now)
}

func snapshotReturningRow(goalID string, day time.Time, actual float64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"snapshot_id", "goal_id", "measurement_date", "actual_value", "target_value",
		"variance_amount", "variance_pct", "data_source", "confidence", "created_at", "updated_at",
	}).AddRow("snap-001", goalID, day, actual, 100000.0, 0.0, 0.0, "manual", 1.0, now, now)
}

func TestCreateGoal_Defaults(t *testing.T) {
	svc, mock, _ := setupService(t)

	mock.ExpectExec("INSERT INTO goals").
		WillReturnResult(sqlmock.NewResult(0, 1))

	goal, err := svc.CreateGoal(context.Background(), "tenant-001", &models.Goal{
		Name:        "January production",
		Scope:       models.ScopeClinic,
		TargetValue: 100000,
		TargetType:  models.TargetAbsolute,
		Frequency:   models.FrequencyDaily,
		StartDate:   date(2025, time.January, 1),
		EndDate:     date(2025, time.January, 31),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, goal.GoalID)
	assert.Equal(t, "tenant-001", goal.TenantID)
	assert.Equal(t, models.StatusActive, goal.Status)
	assert.Equal(t, models.PriorityMedium, goal.Priority)
	assert.False(t, goal.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateGoal_ValidationFailsBeforeInsert(t *testing.T) {
	svc, mock, _ := setupService(t)

	// end_date 在 start_date 之前：不应触发任何 SQL
	_, err := svc.CreateGoal(context.Background(), "tenant-001", &models.Goal{
		Name:        "bad window",
		Scope:       models.ScopeClinic,
		TargetValue: 100000,
		TargetType:  models.TargetAbsolute,
		Frequency:   models.FrequencyDaily,
		StartDate:   date(2025, time.January, 31),
		EndDate:     date(2025, time.January, 1),
	})
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateGoalFromTemplate(t *testing.T) {
	svc, mock, _ := setupService(t)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM goal_templates").
		WithArgs("tpl-001", "tenant-001").
		WillReturnRows(sqlmock.NewRows([]string{
			"template_id", "tenant_id", "name", "category", "default_target_type",
			"benchmark_value", "default_frequency", "created_at",
		}).AddRow("tpl-001", nil, "Monthly hygiene production", "production",
			models.TargetAbsolute, 80000.0, models.FrequencyMonthly, now))
	mock.ExpectExec("INSERT INTO goals").
		WillReturnResult(sqlmock.NewResult(0, 1))

	goal, err := svc.CreateGoalFromTemplate(context.Background(), "tenant-001", "tpl-001", TemplateGoalSpec{
		Scope:     models.ScopeClinic,
		StartDate: date(2025, time.January, 1),
		EndDate:   date(2025, time.January, 31),
	})
	require.NoError(t, err)

	// 未覆盖的字段继承模板
	assert.Equal(t, "Monthly hygiene production", goal.Name)
	assert.InDelta(t, 80000.0, goal.TargetValue, 0.001)
	assert.Equal(t, models.FrequencyMonthly, goal.Frequency)
	assert.Equal(t, models.TargetAbsolute, goal.TargetType)
	require.NotNil(t, goal.TemplateID)
	assert.Equal(t, "tpl-001", *goal.TemplateID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSnapshot_Success(t *testing.T) {
	svc, mock, kv := setupService(t)
	day := date(2025, time.January, 15)

	// 预置一条当天的进度缓存，写入快照后应被删除
	require.NoError(t, kv.Set(context.Background(),
		"goal-progress:tenant-001:goal-001:2025-01-15", "{}", 0))

	mock.ExpectQuery("SELECT (.+) FROM goals").
		WithArgs("goal-001", "tenant-001").
		WillReturnRows(goalRow("tenant-001", "goal-001", models.StatusActive))
	mock.ExpectQuery("INSERT INTO goal_snapshots").
		WillReturnRows(snapshotReturningRow("goal-001", day, 40000))

	snap, err := svc.RecordSnapshot(context.Background(), "tenant-001", "goal-001",
		day, 40000, "manual", 1.0)
	require.NoError(t, err)

	assert.Equal(t, "goal-001", snap.GoalID)
	_, err = kv.Get(context.Background(), "goal-progress:tenant-001:goal-001:2025-01-15")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSnapshot_DateOutsideWindow(t *testing.T) {
	svc, mock, _ := setupService(t)

	mock.ExpectQuery("SELECT (.+) FROM goals").
		WithArgs("goal-001", "tenant-001").
		WillReturnRows(goalRow("tenant-001", "goal-001", models.StatusActive))

	_, err := svc.RecordSnapshot(context.Background(), "tenant-001", "goal-001",
		date(2025, time.February, 1), 40000, "manual", 1.0)
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSnapshot_ConfidenceOutOfRange(t *testing.T) {
	svc, mock, _ := setupService(t)

	mock.ExpectQuery("SELECT (.+) FROM goals").
		WithArgs("goal-001", "tenant-001").
		WillReturnRows(goalRow("tenant-001", "goal-001", models.StatusActive))

	_, err := svc.RecordSnapshot(context.Background(), "tenant-001", "goal-001",
		date(2025, time.January, 15), 40000, "manual", 1.5)
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
}

func TestRecordSnapshot_TerminalGoalRejected(t *testing.T) {
	svc, mock, _ := setupService(t)

	mock.ExpectQuery("SELECT (.+) FROM goals").
		WithArgs("goal-001", "tenant-001").
		WillReturnRows(goalRow("tenant-001", "goal-001", models.StatusCancelled))

	_, err := svc.RecordSnapshot(context.Background(), "tenant-001", "goal-001",
		date(2025, time.January, 15), 40000, "manual", 1.0)
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
}

func TestRecordMeasurements_SkipsUnapplicable(t *testing.T) {
	svc, mock, _ := setupService(t)
	day := date(2025, time.January, 15)

	// 第一条：目标不存在 → 跳过
	mock.ExpectQuery("SELECT (.+) FROM goals").
		WithArgs("goal-missing", "tenant-001").
		WillReturnRows(sqlmock.NewRows([]string{
			"goal_id", "tenant_id", "template_id", "name", "description", "scope",
			"target_entity_id", "target_value", "target_type", "frequency",
			"start_date", "end_date", "status", "priority", "created_by", "created_at", "updated_at",
		}))
	// 第二条：正常应用
	mock.ExpectQuery("SELECT (.+) FROM goals").
		WithArgs("goal-001", "tenant-001").
		WillReturnRows(goalRow("tenant-001", "goal-001", models.StatusActive))
	mock.ExpectQuery("INSERT INTO goal_snapshots").
		WillReturnRows(snapshotReturningRow("goal-001", day, 40000))

	applied, err := svc.RecordMeasurements(context.Background(), "tenant-001", []ingest.Measurement{
		{GoalID: "goal-missing", MeasurementDate: "2025-01-15", Value: 100, Source: "pms", Confidence: 1},
		{GoalID: "goal-001", MeasurementDate: "2025-01-15", Value: 40000, Source: "pms", Confidence: 1},
		{GoalID: "goal-002", MeasurementDate: "not-a-date", Value: 1, Source: "pms", Confidence: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
}

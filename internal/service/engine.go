package service

// ============================================================
// 目标跟踪引擎（整合各层）
// 对外暴露进度、预测、报警评估（单目标与批量）、横向对比读操作；
// Start 启动定时评估轮询
// ============================================================

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"dentiq-goals/internal/analyzer"
	"dentiq-goals/internal/cache"
	"dentiq-goals/internal/calculator"
	"dentiq-goals/internal/config"
	"dentiq-goals/internal/database"
	"dentiq-goals/internal/evaluator"
	"dentiq-goals/internal/forecaster"
	"dentiq-goals/internal/ingest"
	"dentiq-goals/internal/models"
	"dentiq-goals/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Engine 目标跟踪引擎
type Engine struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
	tenantID    string

	// 各层组件
	goalsRepo      *repository.GoalsRepository
	snapshotsRepo  *repository.SnapshotsRepository
	alertsRepo     *repository.AlertsRepository
	milestonesRepo *repository.MilestonesRepository
	templatesRepo  *repository.TemplatesRepository
	depsRepo       *repository.DependenciesRepository
	calc           *calculator.Calculator
	forecaster     *forecaster.Forecaster
	evaluator      *evaluator.Evaluator
	analyzer       *analyzer.Analyzer
	progressCache  *cache.ProgressCache
	metricsClient  *ingest.MetricsClient
	goalService    *GoalService
}

// NewEngine 创建目标跟踪引擎
func NewEngine(cfg *config.Config, logger *zap.Logger, tenantID string) (*Engine, error) {
	if tenantID == "" {
		return nil, ErrNoTenant
	}

	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, err
	}

	// 2. 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. Repository 层
	goalsRepo := repository.NewGoalsRepository(db, logger)
	snapshotsRepo := repository.NewSnapshotsRepository(db, logger)
	alertsRepo := repository.NewAlertsRepository(db, logger)
	milestonesRepo := repository.NewMilestonesRepository(db, logger)
	templatesRepo := repository.NewTemplatesRepository(db, logger)
	depsRepo := repository.NewDependenciesRepository(db, logger)

	// 4. 计算层
	calc := calculator.NewCalculator(goalsRepo, snapshotsRepo, logger)
	fc := forecaster.NewForecaster(goalsRepo, snapshotsRepo, logger)

	// 5. 缓存
	progressCache := cache.NewProgressCache(
		cache.NewRedisKVStore(redisClient),
		cfg.Goals.Cache.ProgressKeyPrefix,
		time.Duration(cfg.Goals.Cache.ProgressTTL)*time.Second,
		logger,
	)

	// 6. 评估和分析层
	thresholds := evaluator.Thresholds{
		VarianceWarning:         cfg.Goals.Thresholds.VarianceWarning,
		VarianceCritical:        cfg.Goals.Thresholds.VarianceCritical,
		HighProbabilityCutoff:   cfg.Goals.Thresholds.HighProbabilityCutoff,
		MediumProbabilityCutoff: cfg.Goals.Thresholds.MediumProbabilityCutoff,
	}
	eval := evaluator.NewEvaluator(alertsRepo, milestonesRepo, calc, fc, thresholds, logger)
	anlz := analyzer.NewAnalyzer(goalsRepo, snapshotsRepo, logger)

	// 7. 指标拉取客户端（可选）
	var metricsClient *ingest.MetricsClient
	if cfg.Ingest.Enabled {
		metricsClient = ingest.NewMetricsClient(
			cfg.Ingest.BaseURL,
			cfg.Ingest.APIToken,
			time.Duration(cfg.Ingest.TimeoutSec)*time.Second,
			logger,
		)
	}

	goalService := NewGoalService(goalsRepo, snapshotsRepo, alertsRepo, milestonesRepo,
		templatesRepo, depsRepo, progressCache, logger)

	return &Engine{
		config:         cfg,
		db:             db,
		redisClient:    redisClient,
		logger:         logger,
		tenantID:       tenantID,
		goalsRepo:      goalsRepo,
		snapshotsRepo:  snapshotsRepo,
		alertsRepo:     alertsRepo,
		milestonesRepo: milestonesRepo,
		templatesRepo:  templatesRepo,
		depsRepo:       depsRepo,
		calc:           calc,
		forecaster:     fc,
		evaluator:      eval,
		analyzer:       anlz,
		progressCache:  progressCache,
		metricsClient:  metricsClient,
		goalService:    goalService,
	}, nil
}

// Goals 目标生命周期服务（写操作入口）
func (e *Engine) Goals() *GoalService {
	return e.goalService
}

// GetProgress 查询目标进度（带缓存）
func (e *Engine) GetProgress(ctx context.Context, goalID string, asOf time.Time) (*calculator.ProgressResult, error) {
	if e.progressCache != nil {
		result, err := e.progressCache.Get(ctx, e.tenantID, goalID, asOf)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			e.logger.Warn("Progress cache read failed",
				zap.String("goal_id", goalID),
				zap.Error(err))
		}
	}

	result, err := e.calc.Progress(ctx, e.tenantID, goalID, asOf)
	if err != nil {
		return nil, err
	}

	if e.progressCache != nil {
		if err := e.progressCache.Put(ctx, e.tenantID, result); err != nil {
			e.logger.Warn("Progress cache write failed",
				zap.String("goal_id", goalID),
				zap.Error(err))
		}
	}

	return result, nil
}

// GetForecast 查询目标期末预测
func (e *Engine) GetForecast(ctx context.Context, goalID string, asOf time.Time) (*forecaster.ForecastResult, error) {
	return e.forecaster.Forecast(ctx, e.tenantID, goalID, asOf)
}

// EvaluateAlerts 评估租户的所有 active 目标，返回本次新建的报警
// 并发评估，单个目标出错记录日志后继续
func (e *Engine) EvaluateAlerts(ctx context.Context, asOf time.Time) ([]*models.Alert, error) {
	goals, err := e.goalsRepo.ListActiveGoals(ctx, e.tenantID)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("Evaluating goals",
		zap.Int("goal_count", len(goals)),
	)

	batchSize := e.config.Goals.Evaluation.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	var mu sync.Mutex
	var created []*models.Alert
	sem := make(chan struct{}, batchSize)
	var wg sync.WaitGroup

	for _, goal := range goals {
		select {
		case <-ctx.Done():
			wg.Wait()
			return created, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(goal *models.Goal) {
			defer wg.Done()
			defer func() { <-sem }()

			alerts, err := e.evaluator.EvaluateGoal(ctx, goal, asOf)
			if err != nil {
				e.logger.Error("Failed to evaluate goal",
					zap.String("goal_id", goal.GoalID),
					zap.Error(err))
				return
			}
			if len(alerts) > 0 {
				mu.Lock()
				created = append(created, alerts...)
				mu.Unlock()
			}
		}(goal)
	}

	wg.Wait()
	return created, nil
}

// EvaluateGoalAlerts 评估单个目标，返回本次新建的报警
// 宿主系统对单个目标按需触发评估的入口；批量轮询走 EvaluateAlerts
func (e *Engine) EvaluateGoalAlerts(ctx context.Context, goalID string, asOf time.Time) ([]*models.Alert, error) {
	goal, err := e.goalsRepo.GetGoal(ctx, e.tenantID, goalID)
	if err != nil {
		return nil, err
	}
	return e.evaluator.EvaluateGoal(ctx, goal, asOf)
}

// CompareEntities 横向对比
func (e *Engine) CompareEntities(ctx context.Context, scope models.GoalScope, entityIDs []string, periodStart, periodEnd time.Time) ([]*analyzer.RankedEntity, error) {
	return e.analyzer.CompareEntities(ctx, e.tenantID, scope, entityIDs, periodStart, periodEnd)
}

// ExportRanking 生成排名报表 Excel
func (e *Engine) ExportRanking(ctx context.Context, scope models.GoalScope, periodStart, periodEnd time.Time) ([]byte, error) {
	ranked, err := e.CompareEntities(ctx, scope, nil, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	return analyzer.GenerateRankingExport(ranked, periodStart, periodEnd)
}

// Start 启动定时评估轮询（阻塞直到 ctx 取消）
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Starting goal tracking engine",
		zap.String("tenant_id", e.tenantID),
		zap.Int("poll_interval", e.config.Goals.PollInterval),
	)

	ticker := time.NewTicker(time.Duration(e.config.Goals.PollInterval) * time.Second)
	defer ticker.Stop()

	// 立即执行一次
	if err := e.runEvaluationPass(ctx); err != nil {
		e.logger.Error("Failed to run evaluation pass on startup",
			zap.Error(err),
		)
	}

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Goal tracking engine stopped")
			return nil
		case <-ticker.C:
			if err := e.runEvaluationPass(ctx); err != nil {
				e.logger.Error("Failed to run evaluation pass",
					zap.Error(err),
				)
				// 继续执行，不中断
			}
		}
	}
}

// runEvaluationPass 单轮评估：先拉取当天测量值（如启用），再评估全部目标
func (e *Engine) runEvaluationPass(ctx context.Context) error {
	now := time.Now().UTC()

	if e.metricsClient != nil {
		measurements, err := e.metricsClient.FetchMeasurements(ctx, e.tenantID, now)
		if err != nil {
			e.logger.Error("Failed to fetch measurements",
				zap.Error(err))
			// 拉取失败不阻塞评估，用已有快照继续
		} else {
			applied, err := e.goalService.RecordMeasurements(ctx, e.tenantID, measurements)
			if err != nil {
				return fmt.Errorf("failed to record measurements: %w", err)
			}
			e.logger.Info("Measurements applied",
				zap.Int("applied", applied),
				zap.Int("fetched", len(measurements)),
			)
		}
	}

	alerts, err := e.EvaluateAlerts(ctx, now)
	if err != nil {
		return err
	}

	if len(alerts) > 0 {
		e.logger.Info("Evaluation pass completed",
			zap.Int("new_alerts", len(alerts)),
		)
	}

	return nil
}

// Stop 停止引擎并释放连接
func (e *Engine) Stop() error {
	e.logger.Info("Stopping goal tracking engine")

	if err := database.Close(e.db); err != nil {
		e.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}

	if err := e.redisClient.Close(); err != nil {
		e.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}

	return nil
}

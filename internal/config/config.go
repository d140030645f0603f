package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config 目标跟踪引擎配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig

	// 目标引擎特定配置
	Goals struct {
		// 进度缓存配置
		Cache struct {
			ProgressKeyPrefix string // 进度缓存键前缀，如 "goal-progress:"
			ProgressTTL       int    // 进度缓存 TTL（秒），默认 60秒
		}

		// 轮询配置（批量报警评估）
		PollInterval int // 轮询间隔（秒），默认 300秒

		// 评估配置
		Evaluation struct {
			BatchSize int // 并发评估目标数量，默认 10
		}

		// 报警阈值配置
		Thresholds struct {
			VarianceWarning         float64 // 偏差告警阈值（%），默认 ±15
			VarianceCritical        float64 // 偏差严重告警阈值（%），默认 ±30
			HighProbabilityCutoff   float64 // 达成概率低于该值且优先级为 high/critical 时判定高风险，默认 0.4
			MediumProbabilityCutoff float64 // 达成概率低于该值时判定中风险，默认 0.6
		}
	}

	// 指标拉取配置（宿主系统的指标 API）
	Ingest struct {
		Enabled    bool
		BaseURL    string
		APIToken   string
		TimeoutSec int
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（带默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "dentiq")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "10"), 10)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	// 目标引擎配置
	cfg.Goals.Cache.ProgressKeyPrefix = getEnv("CACHE_PROGRESS_PREFIX", "goal-progress:")
	cfg.Goals.Cache.ProgressTTL = parseInt(getEnv("CACHE_PROGRESS_TTL", "60"), 60)

	cfg.Goals.PollInterval = parseInt(getEnv("GOALS_POLL_INTERVAL", "300"), 300)
	cfg.Goals.Evaluation.BatchSize = parseInt(getEnv("GOALS_EVAL_BATCH_SIZE", "10"), 10)

	cfg.Goals.Thresholds.VarianceWarning = parseFloat(getEnv("ALERT_VARIANCE_WARNING", "15"), 15)
	cfg.Goals.Thresholds.VarianceCritical = parseFloat(getEnv("ALERT_VARIANCE_CRITICAL", "30"), 30)
	cfg.Goals.Thresholds.HighProbabilityCutoff = parseFloat(getEnv("ALERT_HIGH_PROB_CUTOFF", "0.4"), 0.4)
	cfg.Goals.Thresholds.MediumProbabilityCutoff = parseFloat(getEnv("ALERT_MEDIUM_PROB_CUTOFF", "0.6"), 0.6)

	// 指标拉取配置
	cfg.Ingest.Enabled = getEnv("INGEST_ENABLED", "false") == "true"
	cfg.Ingest.BaseURL = getEnv("INGEST_BASE_URL", "")
	cfg.Ingest.APIToken = getEnv("INGEST_API_TOKEN", "")
	cfg.Ingest.TimeoutSec = parseInt(getEnv("INGEST_TIMEOUT_SEC", "30"), 30)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	// 阈值合法性检查
	if cfg.Goals.Thresholds.VarianceWarning <= 0 || cfg.Goals.Thresholds.VarianceCritical <= cfg.Goals.Thresholds.VarianceWarning {
		return nil, fmt.Errorf("invalid variance thresholds: warning=%v critical=%v",
			cfg.Goals.Thresholds.VarianceWarning, cfg.Goals.Thresholds.VarianceCritical)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(value string, defaultValue int) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func parseFloat(value string, defaultValue float64) float64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证默认值
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "postgres", cfg.Database.User)
	assert.Equal(t, "postgres", cfg.Database.Password)
	assert.Equal(t, "dentiq", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "", cfg.Redis.Password)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, "goal-progress:", cfg.Goals.Cache.ProgressKeyPrefix)
	assert.Equal(t, 60, cfg.Goals.Cache.ProgressTTL)
	assert.Equal(t, 300, cfg.Goals.PollInterval)
	assert.Equal(t, 10, cfg.Goals.Evaluation.BatchSize)

	assert.Equal(t, 15.0, cfg.Goals.Thresholds.VarianceWarning)
	assert.Equal(t, 30.0, cfg.Goals.Thresholds.VarianceCritical)
	assert.Equal(t, 0.4, cfg.Goals.Thresholds.HighProbabilityCutoff)
	assert.Equal(t, 0.6, cfg.Goals.Thresholds.MediumProbabilityCutoff)

	assert.False(t, cfg.Ingest.Enabled)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	// 设置环境变量
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("DB_USER", "test-user")
	os.Setenv("DB_PASSWORD", "test-password")
	os.Setenv("DB_NAME", "test-db")
	os.Setenv("REDIS_ADDR", "test-redis:6380")
	os.Setenv("ALERT_VARIANCE_WARNING", "10")
	os.Setenv("ALERT_VARIANCE_CRITICAL", "25")
	os.Setenv("GOALS_POLL_INTERVAL", "60")
	os.Setenv("INGEST_ENABLED", "true")
	os.Setenv("INGEST_BASE_URL", "http://metrics.local")
	os.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证环境变量覆盖
	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, "test-user", cfg.Database.User)
	assert.Equal(t, "test-password", cfg.Database.Password)
	assert.Equal(t, "test-db", cfg.Database.Database)

	assert.Equal(t, "test-redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 10.0, cfg.Goals.Thresholds.VarianceWarning)
	assert.Equal(t, 25.0, cfg.Goals.Thresholds.VarianceCritical)
	assert.Equal(t, 60, cfg.Goals.PollInterval)

	assert.True(t, cfg.Ingest.Enabled)
	assert.Equal(t, "http://metrics.local", cfg.Ingest.BaseURL)

	assert.Equal(t, "debug", cfg.Log.Level)

	// 清理环境变量
	os.Clearenv()
}

func TestLoad_InvalidThresholds(t *testing.T) {
	os.Clearenv()

	// critical 必须大于 warning
	os.Setenv("ALERT_VARIANCE_WARNING", "30")
	os.Setenv("ALERT_VARIANCE_CRITICAL", "15")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)

	os.Clearenv()
}

func TestGetDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db-host",
		Port:     5433,
		User:     "u",
		Password: "p",
		Database: "d",
		SSLMode:  "disable",
	}

	assert.Equal(t, "host=db-host port=5433 user=u password=p dbname=d sslmode=disable", cfg.GetDSN())
}

func TestGetEnv(t *testing.T) {
	// 测试默认值
	os.Clearenv()
	value := getEnv("TEST_KEY", "default-value")
	assert.Equal(t, "default-value", value)

	// 测试环境变量存在
	os.Setenv("TEST_KEY", "env-value")
	value = getEnv("TEST_KEY", "default-value")
	assert.Equal(t, "env-value", value)

	// 清理
	os.Unsetenv("TEST_KEY")
}

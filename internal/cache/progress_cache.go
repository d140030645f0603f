package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dentiq-goals/internal/calculator"

	"go.uber.org/zap"
)

// ProgressCache 进度结果缓存
// 键按租户隔离：{prefix}{tenant_id}:{goal_id}:{yyyy-mm-dd}
// 缓存对象由调用方显式持有并传入，不做进程级单例
type ProgressCache struct {
	kv     KVStore
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewProgressCache 创建进度缓存
func NewProgressCache(kv KVStore, prefix string, ttl time.Duration, logger *zap.Logger) *ProgressCache {
	return &ProgressCache{
		kv:     kv,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *ProgressCache) key(tenantID, goalID string, asOf time.Time) string {
	return fmt.Sprintf("%s%s:%s:%s", c.prefix, tenantID, goalID, asOf.Format("2006-01-02"))
}

// Get 读取缓存的进度结果；未命中返回 ErrCacheMiss
func (c *ProgressCache) Get(ctx context.Context, tenantID, goalID string, asOf time.Time) (*calculator.ProgressResult, error) {
	raw, err := c.kv.Get(ctx, c.key(tenantID, goalID, asOf))
	if err != nil {
		return nil, err
	}

	var result calculator.ProgressResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		// 损坏的缓存按未命中处理，调用方会重算覆盖
		c.logger.Warn("Discarding corrupt progress cache entry",
			zap.String("goal_id", goalID),
			zap.Error(err))
		return nil, ErrCacheMiss
	}

	return &result, nil
}

// Put 写入进度结果
func (c *ProgressCache) Put(ctx context.Context, tenantID string, result *calculator.ProgressResult) error {
	if result == nil {
		return errors.New("result is required")
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal progress result: %w", err)
	}

	return c.kv.Set(ctx, c.key(tenantID, result.GoalID, result.AsOfDate), string(raw), c.ttl)
}

// Invalidate 删除某目标某天的缓存（快照重写后调用）
// 只删当天键：更晚 as-of 日期的缓存可能仍基于被覆盖的快照，
// 这部分旧值靠短 TTL 自然过期
func (c *ProgressCache) Invalidate(ctx context.Context, tenantID, goalID string, asOf time.Time) error {
	return c.kv.Del(ctx, c.key(tenantID, goalID, asOf))
}

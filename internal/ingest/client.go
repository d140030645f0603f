package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Measurement 宿主系统回传的一条指标测量
type Measurement struct {
	GoalID          string  `json:"goal_id"`
	MeasurementDate string  `json:"measurement_date"` // yyyy-mm-dd
	Value           float64 `json:"value"`
	Source          string  `json:"source"`
	Confidence      float64 `json:"confidence"`
}

// measurementsResponse 指标 API 响应信封
type measurementsResponse struct {
	Status int             `json:"status"`
	Msg    string          `json:"msg"`
	Data   json.RawMessage `json:"data"`
}

// MetricsClient 宿主系统指标 API 客户端
// 拉取模式：目标引擎定期向宿主系统要当天的测量值，不接收推送
type MetricsClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewMetricsClient 创建指标客户端
func NewMetricsClient(baseURL, apiToken string, timeout time.Duration, logger *zap.Logger) *MetricsClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetAuthToken(apiToken)

	return &MetricsClient{
		httpClient: client,
		logger:     logger,
	}
}

// FetchMeasurements 拉取某租户某天的全部测量值
func (c *MetricsClient) FetchMeasurements(ctx context.Context, tenantID string, date time.Time) ([]Measurement, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	day := date.Format("2006-01-02")
	c.logger.Info("Fetching measurements from metrics API",
		zap.String("tenant_id", tenantID),
		zap.String("date", day),
	)

	var response measurementsResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("tenant_id", tenantID).
		SetQueryParam("date", day).
		SetResult(&response).
		Get("/metrics/goal-measurements")

	if err != nil {
		c.logger.Error("Metrics API call failed",
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to call metrics API: %w", err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("metrics API error: http %d", resp.StatusCode())
	}

	if response.Status != 0 {
		c.logger.Error("Metrics API returned error",
			zap.Int("status", response.Status),
			zap.String("msg", response.Msg),
		)
		return nil, fmt.Errorf("metrics API error: %s (status: %d)", response.Msg, response.Status)
	}

	var measurements []Measurement
	if err := json.Unmarshal(response.Data, &measurements); err != nil {
		return nil, fmt.Errorf("failed to unmarshal measurements: %w", err)
	}

	c.logger.Info("Measurements fetched",
		zap.String("tenant_id", tenantID),
		zap.Int("count", len(measurements)),
	)

	return measurements, nil
}

package evaluator

import (
	"time"

	"dentiq-goals/internal/models"

	"github.com/google/uuid"
)

// newAlert 构造报警记录（未入库）
func newAlert(goal *models.Goal, alertType models.AlertType, severity models.AlertSeverity, message string, threshold *float64, actual float64) *models.Alert {
	now := time.Now().UTC()
	return &models.Alert{
		AlertID:        uuid.New().String(),
		GoalID:         goal.GoalID,
		TenantID:       goal.TenantID,
		AlertType:      alertType,
		Severity:       severity,
		Message:        message,
		ThresholdValue: threshold,
		ActualValue:    actual,
		TriggeredAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func floatPtr(v float64) *float64 {
	return &v
}

package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/matwana-io/matwana-engine/pkg/models"
)

// Notifier dispatches data source failure alerts. The engine decides WHEN
// to alert (consecutive-failure threshold with a one hour cooldown); the
// notifier decides HOW.
type Notifier interface {
	NotifyFailure(ctx context.Context, ds *models.DataSource) error
}

// logNotifier writes alerts to the structured log. Stands in until an
// email/webhook channel is wired up.
type logNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a logging notifier.
func NewLogNotifier(logger *zap.Logger) Notifier {
	return &logNotifier{logger: logger}
}

func (n *logNotifier) NotifyFailure(_ context.Context, ds *models.DataSource) error {
	n.logger.Warn("data source failure alert",
		zap.String("data_source_id", ds.ID.String()),
		zap.String("name", ds.Name),
		zap.String("health_status", string(ds.HealthStatus)),
		zap.Int("consecutive_failures", ds.ConsecutiveFailures),
		zap.String("last_error", ds.LastErrorMessage))
	return nil
}

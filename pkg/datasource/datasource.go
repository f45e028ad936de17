package datasource

import (
	"context"

	"github.com/opscart/k8s-workload-scaler/pkg/models"
)

// MetricsSource returns the current samples of a metric. A metric that does
// not exist yields an empty snapshot, not an error.
type MetricsSource interface {
	Query(ctx context.Context, metricName string, selector map[string]string) (models.MetricSnapshot, error)
	IsAvailable(ctx context.Context) bool
	Name() string
}

// AlertSource lists every active alert
type AlertSource interface {
	ListAlerts(ctx context.Context) ([]models.Alert, error)
}

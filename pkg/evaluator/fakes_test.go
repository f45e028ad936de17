package evaluator

import (
	"context"
	"time"

	"github.com/opscart/k8s-workload-scaler/pkg/models"
)

// fakeMetricsSource returns its snapshots in order, one per Query
type fakeMetricsSource struct {
	snapshots []models.MetricSnapshot
	errs      []error
	calls     int
	metrics   []string
	selectors []map[string]string
}

func (f *fakeMetricsSource) Query(_ context.Context, metricName string, selector map[string]string) (models.MetricSnapshot, error) {
	i := f.calls
	f.calls++
	f.metrics = append(f.metrics, metricName)
	f.selectors = append(f.selectors, selector)

	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.snapshots) {
		return f.snapshots[i], nil
	}
	return nil, nil
}

func (f *fakeMetricsSource) IsAvailable(context.Context) bool { return true }

func (f *fakeMetricsSource) Name() string { return "fake" }

type fakeAlertSource struct {
	alerts []models.Alert
	err    error
}

func (f *fakeAlertSource) ListAlerts(context.Context) ([]models.Alert, error) {
	return f.alerts, f.err
}

// immediately fires without waiting and remembers the requested duration
func immediately(waited *time.Duration) func(time.Duration) <-chan time.Time {
	return func(d time.Duration) <-chan time.Time {
		*waited = d
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
}

func samples(values ...float64) models.MetricSnapshot {
	s := make(models.MetricSnapshot, 0, len(values))
	for _, v := range values {
		s = append(s, models.MetricSample{Labels: map[string]string{"pod": "p"}, Value: v})
	}
	return s
}

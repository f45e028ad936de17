package datasource

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/opscart/k8s-workload-scaler/pkg/analyzer"
	"github.com/opscart/k8s-workload-scaler/pkg/models"
)

// PrometheusSource reads instant vectors and alerts from the Prometheus HTTP API
type PrometheusSource struct {
	client v1.API
	url    string
	logger logr.Logger
}

var (
	_ MetricsSource = (*PrometheusSource)(nil)
	_ AlertSource   = (*PrometheusSource)(nil)
)

func NewPrometheusSource(url string, logger logr.Logger) (*PrometheusSource, error) {
	client, err := api.NewClient(api.Config{
		Address: url,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &PrometheusSource{
		client: v1.NewAPI(client),
		url:    url,
		logger: logger,
	}, nil
}

// Query runs metricName{selector} as an instant query. Decode failures,
// including non-numeric sample values, are reported as ErrMetricsUnavailable.
func (p *PrometheusSource) Query(ctx context.Context, metricName string, selector map[string]string) (models.MetricSnapshot, error) {
	query := BuildQuery(metricName, selector)
	p.logger.V(1).Info("Querying Prometheus", "url", p.url, "query", query)

	result, warnings, err := p.client.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: query %s failed: %w", analyzer.ErrMetricsUnavailable, query, err)
	}

	if len(warnings) > 0 {
		p.logger.Info("Prometheus returned warnings", "query", query, "warnings", warnings)
	}

	vector, ok := result.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("%w: query %s returned %s, expected vector", analyzer.ErrMetricsUnavailable, query, result.Type())
	}

	snapshot := make(models.MetricSnapshot, 0, len(vector))
	for _, sample := range vector {
		labels := make(map[string]string, len(sample.Metric))
		for name, value := range sample.Metric {
			labels[string(name)] = string(value)
		}
		snapshot = append(snapshot, models.MetricSample{
			Labels: labels,
			Value:  float64(sample.Value),
		})
	}

	return snapshot, nil
}

// ListAlerts returns the active alerts known to Prometheus
func (p *PrometheusSource) ListAlerts(ctx context.Context) ([]models.Alert, error) {
	p.logger.V(1).Info("Listing Prometheus alerts", "url", p.url)

	result, err := p.client.Alerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}

	alerts := make([]models.Alert, 0, len(result.Alerts))
	for _, a := range result.Alerts {
		labels := make(map[string]string, len(a.Labels))
		for name, value := range a.Labels {
			labels[string(name)] = string(value)
		}
		alerts = append(alerts, models.Alert{
			Name:   labels[string(model.AlertNameLabel)],
			State:  string(a.State),
			Labels: labels,
			Value:  a.Value,
		})
	}

	return alerts, nil
}

func (p *PrometheusSource) IsAvailable(ctx context.Context) bool {
	_, _, err := p.client.Query(ctx, "up", time.Now())
	return err == nil
}

func (p *PrometheusSource) Name() string {
	return "Prometheus"
}

// BuildQuery renders metricName{k="v",...} with labels in sorted order
func BuildQuery(metricName string, selector map[string]string) string {
	if len(selector) == 0 {
		return metricName
	}

	names := make([]string, 0, len(selector))
	for name := range selector {
		names = append(names, name)
	}
	sort.Strings(names)

	matchers := make([]string, 0, len(names))
	for _, name := range names {
		matchers = append(matchers, fmt.Sprintf("%s=%s", name, strconv.Quote(selector[name])))
	}

	return fmt.Sprintf("%s{%s}", metricName, strings.Join(matchers, ","))
}

package datasource

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	metricsv "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/opscart/k8s-workload-scaler/pkg/models"
)

const (
	// MetricCPU is pod CPU usage in millicores
	MetricCPU = "cpu"
	// MetricMemory is pod memory working set in bytes
	MetricMemory = "memory"
)

// MetricsServerSource reads pod usage from the metrics.k8s.io API. Each pod
// becomes one sample carrying the pod's labels plus a "pod" label.
type MetricsServerSource struct {
	client    metricsv.Interface
	namespace string
	logger    logr.Logger
}

var _ MetricsSource = (*MetricsServerSource)(nil)

func NewMetricsServerSource(client metricsv.Interface, namespace string, logger logr.Logger) *MetricsServerSource {
	return &MetricsServerSource{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// Query sums container usage per pod for the pods matching selector
func (m *MetricsServerSource) Query(ctx context.Context, metricName string, selector map[string]string) (models.MetricSnapshot, error) {
	var resourceName corev1.ResourceName
	switch metricName {
	case MetricCPU:
		resourceName = corev1.ResourceCPU
	case MetricMemory:
		resourceName = corev1.ResourceMemory
	default:
		return nil, fmt.Errorf("unsupported metrics-server metric %q (supported: %s, %s)", metricName, MetricCPU, MetricMemory)
	}

	labelSelector := labels.SelectorFromSet(selector).String()
	m.logger.V(1).Info("Listing pod metrics", "namespace", m.namespace, "selector", labelSelector, "metric", metricName)

	podMetrics, err := m.client.MetricsV1beta1().PodMetricses(m.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labelSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get pod metrics: %w", err)
	}

	snapshot := make(models.MetricSnapshot, 0, len(podMetrics.Items))
	for _, pm := range podMetrics.Items {
		var total int64
		for _, container := range pm.Containers {
			usage := container.Usage[resourceName]
			if resourceName == corev1.ResourceCPU {
				total += usage.MilliValue()
			} else {
				total += usage.Value()
			}
		}

		sampleLabels := make(map[string]string, len(pm.Labels)+1)
		for k, v := range pm.Labels {
			sampleLabels[k] = v
		}
		sampleLabels["pod"] = pm.Name

		snapshot = append(snapshot, models.MetricSample{
			Labels: sampleLabels,
			Value:  float64(total),
		})
	}

	return snapshot, nil
}

func (m *MetricsServerSource) IsAvailable(ctx context.Context) bool {
	_, err := m.client.MetricsV1beta1().PodMetricses(m.namespace).List(ctx, metav1.ListOptions{Limit: 1})
	return err == nil
}

func (m *MetricsServerSource) Name() string {
	return "metrics-server"
}

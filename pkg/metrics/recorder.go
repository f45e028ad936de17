// Package metrics exposes control loop telemetry as Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opscart/k8s-workload-scaler/pkg/models"
)

const namespace = "workload_scaler"

// Cycle results
const (
	CycleSucceeded = "success"
	CycleFailed    = "error"
	CyclePanicked  = "panic"
)

// Recorder holds the loop's collectors. A nil *Recorder records nothing.
type Recorder struct {
	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	decisions      *prometheus.CounterVec
	scaleEvents    *prometheus.CounterVec
	currentReplica *prometheus.GaugeVec
}

// NewRecorder registers the collectors with reg
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Control loop cycles by result.",
		}, []string{"result"}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one control loop cycle, including the rate interval wait.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Scaling decisions by direction.",
		}, []string{"direction"}),
		scaleEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scale_events_total",
			Help:      "Scale attempts by cluster and status.",
		}, []string{"cluster", "status", "dry_run"}),
		currentReplica: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "replicas",
			Help:      "Replica count reported after the last successful scale.",
		}, []string{"cluster", "namespace", "workload"}),
	}
}

func (r *Recorder) ObserveCycle(result string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.cycles.WithLabelValues(result).Inc()
	r.cycleDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveDecision(direction models.Direction) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(string(direction)).Inc()
}

// ObserveScale counts the attempt and, on success, updates the replica gauge
func (r *Recorder) ObserveScale(event models.ScaleEvent) {
	if r == nil {
		return
	}
	dryRun := "false"
	if event.DryRun {
		dryRun = "true"
	}
	r.scaleEvents.WithLabelValues(event.Cluster, string(event.Status), dryRun).Inc()
	if event.Status == models.ScaleSucceeded && !event.DryRun {
		r.currentReplica.WithLabelValues(event.Cluster, event.Namespace, event.Name).Set(float64(event.NewReplicas))
	}
}

// Serve exposes gatherer on addr at /metrics until ctx is done
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger logr.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error(err, "Metrics server shutdown failed")
		}
	}()

	logger.Info("Serving metrics", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

package main

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/opscart/k8s-workload-scaler/pkg/analyzer"
	"github.com/opscart/k8s-workload-scaler/pkg/config"
	"github.com/opscart/k8s-workload-scaler/pkg/controller"
	"github.com/opscart/k8s-workload-scaler/pkg/datasource"
	"github.com/opscart/k8s-workload-scaler/pkg/evaluator"
	"github.com/opscart/k8s-workload-scaler/pkg/executor"
	"github.com/opscart/k8s-workload-scaler/pkg/loop"
	"github.com/opscart/k8s-workload-scaler/pkg/metrics"
	"github.com/opscart/k8s-workload-scaler/pkg/storage"
	"github.com/opscart/k8s-workload-scaler/pkg/workload"
)

// app is the wired control loop plus the resources it owns
type app struct {
	cfg      *config.Config
	loop     *loop.ControlLoop
	registry *prometheus.Registry
	store    storage.Store
	logger   logr.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger logr.Logger) (*app, error) {
	target, err := cfg.Target()
	if err != nil {
		return nil, err
	}

	builder := workload.NewClientBuilder(cfg.Kubeconfig, logger)
	defaultClients, err := builder.Build("")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cluster: %w", err)
	}

	clusters := workload.NewClusterSet(workload.NewKubeClient(defaultClients.Kubernetes, logger)).WithLogger(logger)
	for _, name := range cfg.ClusterNames() {
		kubeContext := cfg.Clusters[name]
		clients, err := builder.Build(kubeContext)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to cluster %s (context %s): %w", name, kubeContext, err)
		}
		clusters.Add(name, workload.NewKubeClient(clients.Kubernetes, logger.WithValues("cluster", name)))
	}

	eval, err := newEvaluator(ctx, cfg, defaultClients, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(a.registry)

	opts := []executor.Option{
		executor.WithRecorder(recorder),
		executor.WithDryRun(cfg.DryRun),
	}
	if cfg.StorageEnabled {
		store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.store = store
		opts = append(opts, executor.WithStore(store))
	}

	resolver, err := controller.NewReplicaBoundController(target, clusters, cfg.StrictBounds, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	exec := executor.NewScaleExecutor(target, clusters, logger, opts...)

	a.loop, err = loop.NewControlLoop(target, cfg.Interval, eval, resolver, exec, recorder, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// newEvaluator picks the evaluator and data source for the management type
func newEvaluator(ctx context.Context, cfg *config.Config, clients *workload.Clientsets, logger logr.Logger) (loop.Evaluator, error) {
	var source datasource.MetricsSource

	switch cfg.ManagementType {
	case config.PrometheusAlertAPI:
		prom, err := datasource.NewPrometheusSource(cfg.PrometheusURL, logger)
		if err != nil {
			return nil, err
		}
		probe(ctx, prom, logger)
		return evaluator.NewAlertEvaluator(cfg.AlertConfig(), prom, logger)

	case config.PrometheusMetricAPI:
		prom, err := datasource.NewPrometheusSource(cfg.PrometheusURL, logger)
		if err != nil {
			return nil, err
		}
		source = prom

	case config.MetricsServerAPI:
		source = datasource.NewMetricsServerSource(clients.Metrics, cfg.Namespace, logger)

	default:
		return nil, fmt.Errorf("unsupported management type %q", cfg.ManagementType)
	}

	probe(ctx, source, logger)
	calculator := analyzer.NewRateCalculator(cfg.PartitionLabel, logger)
	return evaluator.NewRateEvaluator(cfg.RateConfig(), source, calculator, logger)
}

// probe only warns; the loop retries every cycle anyway
func probe(ctx context.Context, source datasource.MetricsSource, logger logr.Logger) {
	if source.IsAvailable(ctx) {
		logger.Info("Metrics source available", "source", source.Name())
		return
	}
	logger.Error(nil, "Metrics source not reachable, cycles will fail until it is",
		"source", source.Name(), "reachable", false)
}

// Run serves metrics when configured and runs the loop until ctx is done
func (a *app) Run(ctx context.Context) error {
	if a.cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, a.cfg.MetricsAddr, a.registry, a.logger); err != nil {
				a.logger.Error(err, "Metrics server failed")
			}
		}()
	}
	return a.loop.Run(ctx)
}

func (a *app) Close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error(err, "Failed to close storage")
	}
}

// Package executor applies resolved replica targets to the cluster.
package executor

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/opscart/k8s-workload-scaler/pkg/metrics"
	"github.com/opscart/k8s-workload-scaler/pkg/models"
	"github.com/opscart/k8s-workload-scaler/pkg/storage"
	"github.com/opscart/k8s-workload-scaler/pkg/workload"
)

// ScaleExecutor patches the scale subresource of one workload target. A
// failed patch is returned to the caller and never retried here.
type ScaleExecutor struct {
	target   models.WorkloadTarget
	clusters *workload.ClusterSet
	store    storage.Store
	recorder *metrics.Recorder
	dryRun   bool
	logger   logr.Logger

	now func() time.Time
}

// Option configures a ScaleExecutor
type Option func(*ScaleExecutor)

// WithStore records every attempt to store
func WithStore(store storage.Store) Option {
	return func(e *ScaleExecutor) { e.store = store }
}

// WithRecorder counts every attempt on recorder
func WithRecorder(recorder *metrics.Recorder) Option {
	return func(e *ScaleExecutor) { e.recorder = recorder }
}

// WithDryRun logs the transition instead of patching
func WithDryRun(dryRun bool) Option {
	return func(e *ScaleExecutor) { e.dryRun = dryRun }
}

func NewScaleExecutor(target models.WorkloadTarget, clusters *workload.ClusterSet, logger logr.Logger, opts ...Option) *ScaleExecutor {
	e := &ScaleExecutor{
		target:   target,
		clusters: clusters,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute applies resolution for decision. Aborted resolutions are a no-op.
func (e *ScaleExecutor) Execute(ctx context.Context, decision models.ScalingDecision, resolution models.ReplicaResolution) (models.ScaleOutcome, error) {
	if resolution.Aborted {
		return models.ScaleOutcome{OldReplicas: resolution.Current, NewReplicas: resolution.Current}, nil
	}

	log := e.logger.WithValues("workload", e.target.Name, "namespace", e.target.Namespace,
		"kind", e.target.Kind, "cluster", decision.PartitionKey)

	event := &models.ScaleEvent{
		Cluster:     decision.PartitionKey,
		Kind:        e.target.Kind,
		Namespace:   e.target.Namespace,
		Name:        e.target.Name,
		Direction:   decision.Direction,
		OldReplicas: resolution.Current,
		NewReplicas: resolution.Target,
		DryRun:      e.dryRun,
		CreatedAt:   e.now(),
	}

	outcome, err := e.apply(ctx, decision.PartitionKey, resolution)
	if err != nil {
		event.Status = models.ScaleFailed
		event.ErrorMessage = err.Error()
		log.Error(err, "Scale failed", "from", resolution.Current, "to", resolution.Target)
	} else {
		event.Status = models.ScaleSucceeded
		event.OldReplicas = outcome.OldReplicas
		event.NewReplicas = outcome.NewReplicas
		if e.dryRun {
			log.Info("[DRY RUN] Would scale workload", "from", outcome.OldReplicas, "to", outcome.NewReplicas)
		} else {
			log.Info("Scaled workload", "from", outcome.OldReplicas, "to", outcome.NewReplicas,
				"direction", decision.Direction)
		}
	}

	e.record(ctx, log, event)
	return outcome, err
}

func (e *ScaleExecutor) apply(ctx context.Context, cluster string, resolution models.ReplicaResolution) (models.ScaleOutcome, error) {
	if e.dryRun {
		return models.ScaleOutcome{OldReplicas: resolution.Current, NewReplicas: resolution.Target}, nil
	}

	client, err := e.clusters.For(cluster)
	if err != nil {
		return models.ScaleOutcome{}, err
	}
	return client.PatchReplicas(ctx, e.target, resolution.Target)
}

// record never fails the scale itself; audit problems are only logged
func (e *ScaleExecutor) record(ctx context.Context, log logr.Logger, event *models.ScaleEvent) {
	e.recorder.ObserveScale(*event)

	if e.store == nil {
		return
	}
	if err := e.store.SaveScaleEvent(ctx, event); err != nil {
		log.Error(err, "Failed to record scale event")
	}
}

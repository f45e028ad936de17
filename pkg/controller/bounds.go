// Package controller turns a scale direction into a concrete replica target
// within the configured floor and ceiling.
package controller

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/opscart/k8s-workload-scaler/pkg/models"
	"github.com/opscart/k8s-workload-scaler/pkg/workload"
)

// ReplicaBoundController resolves decisions for one workload target
type ReplicaBoundController struct {
	target       models.WorkloadTarget
	clusters     *workload.ClusterSet
	strictBounds bool
	logger       logr.Logger
}

// NewReplicaBoundController validates target. With strictBounds set, a
// proposed count that overshoots the range is clamped instead of applied.
func NewReplicaBoundController(target models.WorkloadTarget, clusters *workload.ClusterSet, strictBounds bool, logger logr.Logger) (*ReplicaBoundController, error) {
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workload target: %w", err)
	}
	return &ReplicaBoundController{
		target:       target,
		clusters:     clusters,
		strictBounds: strictBounds,
		logger:       logger,
	}, nil
}

// Resolve reads the current replica count on the decision's cluster and
// computes the target. A None decision aborts without touching the cluster.
func (c *ReplicaBoundController) Resolve(ctx context.Context, decision models.ScalingDecision) (models.ReplicaResolution, error) {
	if decision.Direction == models.NoScale {
		return models.Aborted(0, "no scaling requested"), nil
	}

	client, err := c.clusters.For(decision.PartitionKey)
	if err != nil {
		return models.ReplicaResolution{}, err
	}

	current, err := client.ReadReplicas(ctx, c.target)
	if err != nil {
		return models.ReplicaResolution{}, err
	}

	resolution := ResolveTarget(c.target, decision.Direction, current, c.strictBounds)
	if resolution.Aborted {
		c.logger.Info("Scaling aborted", "workload", c.target.Name, "namespace", c.target.Namespace,
			"cluster", decision.PartitionKey, "current", current, "reason", resolution.Reason)
	} else {
		c.logger.Info("Resolved replica target", "workload", c.target.Name, "namespace", c.target.Namespace,
			"cluster", decision.PartitionKey, "current", current, "target", resolution.Target)
	}
	return resolution, nil
}

// ResolveTarget applies the bounds rules to current:
//   - at the floor or ceiling, a proposal outside (min, max) aborts
//   - above max clamps to max, below min clamps to min
//   - otherwise the proposal stands, clamped only when strict is set
func ResolveTarget(target models.WorkloadTarget, direction models.Direction, current int32, strict bool) models.ReplicaResolution {
	var proposed int32
	switch direction {
	case models.ScaleOut:
		proposed = current + target.ScalingRange
	case models.ScaleIn:
		proposed = current - target.ScalingRange
	default:
		return models.Aborted(current, "no scaling requested")
	}

	minReplicas, maxReplicas := target.MinReplicas, target.MaxReplicas
	atBound := current == maxReplicas || current == minReplicas
	if atBound && !(minReplicas < proposed && proposed < maxReplicas) {
		return models.Aborted(current, fmt.Sprintf(
			"already at bound (current=%d, min=%d, max=%d), proposed %d is outside the range",
			current, minReplicas, maxReplicas, proposed))
	}

	resolved := proposed
	switch {
	case current > maxReplicas:
		resolved = maxReplicas
	case current < minReplicas:
		resolved = minReplicas
	case strict:
		resolved = clamp(proposed, minReplicas, maxReplicas)
	}

	return models.ReplicaResolution{
		Current: current,
		Target:  resolved,
	}
}

func clamp(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

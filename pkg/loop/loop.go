// Package loop drives evaluation and scaling of one workload target on a
// fixed interval.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/opscart/k8s-workload-scaler/pkg/metrics"
	"github.com/opscart/k8s-workload-scaler/pkg/models"
)

// State is the phase the loop is in
type State string

const (
	StateIdle       State = "Idle"
	StateEvaluating State = "Evaluating"
	StateScaling    State = "Scaling"
)

// Evaluator produces the decisions of one cycle
type Evaluator interface {
	Evaluate(ctx context.Context) ([]models.ScalingDecision, error)
	Name() string
}

// Resolver turns a decision into a replica target
type Resolver interface {
	Resolve(ctx context.Context, decision models.ScalingDecision) (models.ReplicaResolution, error)
}

// Executor applies a replica target
type Executor interface {
	Execute(ctx context.Context, decision models.ScalingDecision, resolution models.ReplicaResolution) (models.ScaleOutcome, error)
}

// ControlLoop runs one cycle per interval until its context is cancelled
type ControlLoop struct {
	target    models.WorkloadTarget
	interval  time.Duration
	evaluator Evaluator
	resolver  Resolver
	executor  Executor
	recorder  *metrics.Recorder
	logger    logr.Logger

	mu    sync.RWMutex
	state State

	// after is swapped in tests
	after func(time.Duration) <-chan time.Time
}

func NewControlLoop(target models.WorkloadTarget, interval time.Duration, evaluator Evaluator, resolver Resolver,
	executor Executor, recorder *metrics.Recorder, logger logr.Logger) (*ControlLoop, error) {
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workload target: %w", err)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", interval)
	}

	return &ControlLoop{
		target:    target,
		interval:  interval,
		evaluator: evaluator,
		resolver:  resolver,
		executor:  executor,
		recorder:  recorder,
		logger:    logger.WithValues("workload", target.Name, "namespace", target.Namespace, "kind", target.Kind),
		state:     StateIdle,
		after:     time.After,
	}, nil
}

// State returns the current phase
func (l *ControlLoop) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *ControlLoop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Run executes cycles until ctx is done. Cycle failures are logged and the
// next cycle runs after interval as usual.
func (l *ControlLoop) Run(ctx context.Context) error {
	l.logger.Info("Starting control loop", "interval", l.interval, "evaluator", l.evaluator.Name())

	for {
		if err := l.RunOnce(ctx); err != nil && ctx.Err() == nil {
			l.logger.Error(err, "Cycle failed")
		}

		select {
		case <-ctx.Done():
			l.logger.Info("Control loop stopped")
			return nil
		case <-l.after(l.interval):
		}
	}
}

// RunOnce executes a single cycle. Panics inside the cycle are returned as
// errors and the loop is always left Idle.
func (l *ControlLoop) RunOnce(ctx context.Context) (err error) {
	start := time.Now()
	log := l.logger.WithValues("cycle", uuid.New().String())

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in cycle: %v", r)
			l.recorder.ObserveCycle(metrics.CyclePanicked, time.Since(start))
		} else if err != nil {
			l.recorder.ObserveCycle(metrics.CycleFailed, time.Since(start))
		} else {
			l.recorder.ObserveCycle(metrics.CycleSucceeded, time.Since(start))
		}
		l.setState(StateIdle)
	}()

	l.setState(StateEvaluating)
	log.V(1).Info("Evaluating")

	decisions, err := l.evaluator.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}
	if len(decisions) == 0 {
		log.Info("No decision this cycle")
		return nil
	}

	var errs []error
	for _, decision := range decisions {
		l.recorder.ObserveDecision(decision.Direction)
		if decision.Direction == models.NoScale {
			log.Info("No scaling needed", "cluster", decision.PartitionKey,
				"observed", decision.Observed, "reason", decision.Reason)
			continue
		}
		if err := l.scale(ctx, log, decision); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// scale resolves and executes one partition's decision
func (l *ControlLoop) scale(ctx context.Context, log logr.Logger, decision models.ScalingDecision) error {
	log = log.WithValues("cluster", decision.PartitionKey, "direction", decision.Direction)

	resolution, err := l.resolver.Resolve(ctx, decision)
	if err != nil {
		return fmt.Errorf("resolve %s on cluster %q: %w", l.target, decision.PartitionKey, err)
	}
	if resolution.Aborted {
		log.Info("Scaling skipped", "current", resolution.Current, "reason", resolution.Reason)
		return nil
	}

	l.setState(StateScaling)
	defer l.setState(StateEvaluating)

	outcome, err := l.executor.Execute(ctx, decision, resolution)
	if err != nil {
		return fmt.Errorf("scale %s on cluster %q to %d: %w", l.target, decision.PartitionKey, resolution.Target, err)
	}

	log.Info("Cycle scaled workload", "oldReplicas", outcome.OldReplicas, "newReplicas", outcome.NewReplicas,
		"reason", decision.Reason)
	return nil
}

package evaluator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-logr/logr"

	"github.com/opscart/k8s-workload-scaler/pkg/analyzer"
	"github.com/opscart/k8s-workload-scaler/pkg/datasource"
	"github.com/opscart/k8s-workload-scaler/pkg/models"
)

// RateConfig configures threshold evaluation of a metric's rate of change
type RateConfig struct {
	MetricName        string
	LabelSelector     map[string]string
	RateInterval      time.Duration
	ScaleOutThreshold float64
	ScaleInThreshold  float64
}

// Validate checks the threshold ordering and sampling interval
func (c RateConfig) Validate() error {
	if c.MetricName == "" {
		return fmt.Errorf("metric name must be set")
	}
	if c.RateInterval < time.Second {
		return fmt.Errorf("rate interval must be at least 1s, got %v", c.RateInterval)
	}
	if c.ScaleInThreshold >= c.ScaleOutThreshold {
		return fmt.Errorf("scale-in threshold (%v) must be less than scale-out threshold (%v)",
			c.ScaleInThreshold, c.ScaleOutThreshold)
	}
	return nil
}

// RateEvaluator samples a metric twice, RateInterval apart, and compares the
// per-partition rate against the thresholds
type RateEvaluator struct {
	config     RateConfig
	source     datasource.MetricsSource
	calculator *analyzer.RateCalculator
	logger     logr.Logger

	// after is swapped in tests
	after func(time.Duration) <-chan time.Time
}

var _ Evaluator = (*RateEvaluator)(nil)

func NewRateEvaluator(config RateConfig, source datasource.MetricsSource, calculator *analyzer.RateCalculator, logger logr.Logger) (*RateEvaluator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &RateEvaluator{
		config:     config,
		source:     source,
		calculator: calculator,
		logger:     logger,
		after:      time.After,
	}, nil
}

func (e *RateEvaluator) Name() string {
	return "rate"
}

// Evaluate reads the first snapshot, waits RateInterval, reads the last one.
// Both the wait and the reads return early when ctx is cancelled.
func (e *RateEvaluator) Evaluate(ctx context.Context) ([]models.ScalingDecision, error) {
	first, err := e.sample(ctx, "first")
	if err != nil {
		return nil, err
	}

	e.logger.V(1).Info("Waiting before second sample", "rateInterval", e.config.RateInterval)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.after(e.config.RateInterval):
	}

	last, err := e.sample(ctx, "last")
	if err != nil {
		return nil, err
	}

	rates, err := e.calculator.Calculate(first, last, e.config.RateInterval)
	if err != nil {
		return nil, err
	}

	decisions := make([]models.ScalingDecision, 0, len(rates))
	for _, rate := range rates {
		decision := e.decide(rate)
		e.logger.Info("Rate evaluated", "partition", rate.PartitionKey, "rate", rate.Value,
			"direction", decision.Direction, "reason", decision.Reason)
		decisions = append(decisions, decision)
	}
	return decisions, nil
}

func (e *RateEvaluator) sample(ctx context.Context, which string) (models.MetricSnapshot, error) {
	snapshot, err := e.source.Query(ctx, e.config.MetricName, e.config.LabelSelector)
	if err != nil {
		return nil, fmt.Errorf("%s sample of %s from %s: %w", which, e.config.MetricName, e.source.Name(), err)
	}
	if len(snapshot) == 0 {
		e.logger.Info("Metric not found", "metric", e.config.MetricName,
			"selector", e.config.LabelSelector, "source", e.source.Name())
	}
	return snapshot, nil
}

func (e *RateEvaluator) decide(rate models.RateRecord) models.ScalingDecision {
	observed := strconv.FormatFloat(rate.Value, 'g', -1, 64)
	decision := models.ScalingDecision{
		Direction:    models.NoScale,
		PartitionKey: rate.PartitionKey,
		Observed:     observed,
		Reason:       "rate within thresholds",
	}

	switch {
	case rate.Value > e.config.ScaleOutThreshold:
		decision.Direction = models.ScaleOut
		decision.Reason = fmt.Sprintf("rate %s > %v", observed, e.config.ScaleOutThreshold)
	case rate.Value < e.config.ScaleInThreshold:
		decision.Direction = models.ScaleIn
		decision.Reason = fmt.Sprintf("rate %s < %v", observed, e.config.ScaleInThreshold)
	}
	return decision
}

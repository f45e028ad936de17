package evaluator

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/opscart/k8s-workload-scaler/pkg/datasource"
	"github.com/opscart/k8s-workload-scaler/pkg/models"
)

const (
	// ScalingLabel carries the direction of a scaling alert ("out" or "in")
	ScalingLabel = "scaling"

	alertStateFiring = "firing"
)

// ErrAlertLabelMismatch means a firing alert's scaling label is missing or
// disagrees with the alert name it matched
var ErrAlertLabelMismatch = errors.New("alert scaling label mismatch")

// AlertConfig names the two alerts that drive scaling
type AlertConfig struct {
	ScaleOutAlertName string
	ScaleInAlertName  string
	PartitionLabel    string
}

func (c AlertConfig) Validate() error {
	if c.ScaleOutAlertName == "" || c.ScaleInAlertName == "" {
		return fmt.Errorf("scale-out and scale-in alert names must both be set")
	}
	if c.ScaleOutAlertName == c.ScaleInAlertName {
		return fmt.Errorf("scale-out and scale-in alert names must differ, both are %q", c.ScaleOutAlertName)
	}
	return nil
}

// AlertEvaluator derives the scale direction from a pair of alerts
type AlertEvaluator struct {
	config AlertConfig
	source datasource.AlertSource
	logger logr.Logger
}

var _ Evaluator = (*AlertEvaluator)(nil)

func NewAlertEvaluator(config AlertConfig, source datasource.AlertSource, logger logr.Logger) (*AlertEvaluator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &AlertEvaluator{
		config: config,
		source: source,
		logger: logger,
	}, nil
}

func (e *AlertEvaluator) Name() string {
	return "alert"
}

// Evaluate looks at the first alert named after either scaling alert. No
// match yields no decision.
func (e *AlertEvaluator) Evaluate(ctx context.Context) ([]models.ScalingDecision, error) {
	alerts, err := e.source.ListAlerts(ctx)
	if err != nil {
		return nil, err
	}

	alert, ok := e.find(alerts)
	if !ok {
		e.logger.Info("Scaling alert not found", "scaleOutAlert", e.config.ScaleOutAlertName,
			"scaleInAlert", e.config.ScaleInAlertName, "activeAlerts", len(alerts))
		return nil, nil
	}

	decision := models.ScalingDecision{
		Direction: models.NoScale,
		Observed:  alert.Value,
	}
	if e.config.PartitionLabel != "" {
		decision.PartitionKey = alert.Labels[e.config.PartitionLabel]
	}

	if alert.State != alertStateFiring {
		decision.Reason = fmt.Sprintf("alert %s is %s", alert.Name, alert.State)
		e.logger.Info("Scaling alert not firing", "alert", alert.Name, "state", alert.State, "value", alert.Value)
		return []models.ScalingDecision{decision}, nil
	}

	direction, err := e.direction(alert)
	if err != nil {
		return nil, err
	}

	decision.Direction = direction
	decision.Reason = fmt.Sprintf("alert %s is firing", alert.Name)
	e.logger.Info("Scaling alert firing", "alert", alert.Name, "direction", direction,
		"partition", decision.PartitionKey, "value", alert.Value)

	return []models.ScalingDecision{decision}, nil
}

func (e *AlertEvaluator) find(alerts []models.Alert) (models.Alert, bool) {
	for _, alert := range alerts {
		if alert.Name == e.config.ScaleOutAlertName || alert.Name == e.config.ScaleInAlertName {
			return alert, true
		}
	}
	return models.Alert{}, false
}

// direction reads the scaling label and checks it against the matched name
func (e *AlertEvaluator) direction(alert models.Alert) (models.Direction, error) {
	label, ok := alert.Labels[ScalingLabel]
	if !ok {
		return "", fmt.Errorf("%w: alert %s has no %q label", ErrAlertLabelMismatch, alert.Name, ScalingLabel)
	}

	var expected string
	var direction models.Direction
	if alert.Name == e.config.ScaleOutAlertName {
		expected, direction = "out", models.ScaleOut
	} else {
		expected, direction = "in", models.ScaleIn
	}

	if label != expected {
		return "", fmt.Errorf("%w: alert %s has %s=%q, expected %q",
			ErrAlertLabelMismatch, alert.Name, ScalingLabel, label, expected)
	}
	return direction, nil
}

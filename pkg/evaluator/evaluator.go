// Package evaluator turns metric trends or alert states into scaling decisions.
package evaluator

import (
	"context"

	"github.com/opscart/k8s-workload-scaler/pkg/models"
)

// Evaluator produces the scaling decisions of one cycle. An empty result
// means there is nothing to act on.
type Evaluator interface {
	Evaluate(ctx context.Context) ([]models.ScalingDecision, error)
	Name() string
}

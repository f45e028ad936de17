package storage

import (
	"context"
	"errors"

	"github.com/opscart/k8s-workload-scaler/pkg/models"
)

// ErrStorageDisabled is returned when history is requested without a database
var ErrStorageDisabled = errors.New("storage is disabled")

// Store defines the interface for the scale audit log
type Store interface {
	SaveScaleEvent(ctx context.Context, event *models.ScaleEvent) error
	ListScaleEvents(ctx context.Context, filter EventFilter) ([]*models.ScaleEvent, error)

	Ping(ctx context.Context) error
	Close() error
}

// EventFilter narrows ListScaleEvents. Zero fields match everything.
type EventFilter struct {
	Namespace string
	Name      string
	Cluster   string
	Limit     int
}

package models

import "time"

// ScaleStatus is the result of a scale attempt
type ScaleStatus string

const (
	ScaleSucceeded ScaleStatus = "SUCCESS"
	ScaleFailed    ScaleStatus = "FAILED"
)

// ScaleEvent is an audit record of one scale attempt
type ScaleEvent struct {
	ID           string
	Cluster      string
	Kind         WorkloadKind
	Namespace    string
	Name         string
	Direction    Direction
	OldReplicas  int32
	NewReplicas  int32
	Status       ScaleStatus
	ErrorMessage string
	DryRun       bool
	CreatedAt    time.Time
}

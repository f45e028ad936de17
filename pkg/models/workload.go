package models

import (
	"fmt"
	"strings"
)

// WorkloadKind is one of the replicated resource kinds the scaler can drive
type WorkloadKind string

const (
	KindDeployment            WorkloadKind = "Deployment"
	KindStatefulSet           WorkloadKind = "StatefulSet"
	KindReplicaSet            WorkloadKind = "ReplicaSet"
	KindReplicationController WorkloadKind = "ReplicationController"
)

// SupportedKinds lists every kind accepted by ParseWorkloadKind
var SupportedKinds = []WorkloadKind{
	KindDeployment,
	KindStatefulSet,
	KindReplicaSet,
	KindReplicationController,
}

// ParseWorkloadKind matches a kind case-insensitively
func ParseWorkloadKind(s string) (WorkloadKind, error) {
	for _, kind := range SupportedKinds {
		if strings.EqualFold(s, string(kind)) {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unsupported workload kind %q (supported: %v)", s, SupportedKinds)
}

// WorkloadTarget is the workload a control loop scales. It never changes
// after the loop is built.
type WorkloadTarget struct {
	Kind         WorkloadKind
	Name         string
	Namespace    string
	ScalingRange int32
	MaxReplicas  int32
	MinReplicas  int32
}

// Validate checks the target invariants
func (t WorkloadTarget) Validate() error {
	if _, err := ParseWorkloadKind(string(t.Kind)); err != nil {
		return err
	}
	if t.Name == "" {
		return fmt.Errorf("workload name must be set")
	}
	if t.Namespace == "" {
		return fmt.Errorf("workload namespace must be set")
	}
	if t.ScalingRange < 1 {
		return fmt.Errorf("scaling range must be >= 1, got %d", t.ScalingRange)
	}
	if t.MinReplicas >= t.MaxReplicas {
		return fmt.Errorf("min replicas (%d) must be less than max replicas (%d)", t.MinReplicas, t.MaxReplicas)
	}
	return nil
}

func (t WorkloadTarget) String() string {
	return fmt.Sprintf("%s %s/%s", t.Kind, t.Namespace, t.Name)
}

// MetricSample is one series value read from a metrics source
type MetricSample struct {
	Labels map[string]string
	Value  float64
}

// MetricSnapshot is every sample returned by one metrics read
type MetricSnapshot []MetricSample

// RateRecord is the rate of change of one partition, in units per second.
// PartitionKey is empty when the snapshot was not partitioned.
type RateRecord struct {
	PartitionKey string
	Value        float64
}

// Alert is an active alert as reported by the alert source
type Alert struct {
	Name   string
	State  string
	Labels map[string]string
	Value  string
}

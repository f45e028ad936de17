package models

// Direction is the outcome of threshold evaluation
type Direction string

const (
	ScaleOut Direction = "SCALE_OUT"
	ScaleIn  Direction = "SCALE_IN"
	NoScale  Direction = "NONE"
)

// ScalingDecision is produced by an evaluator for one partition
type ScalingDecision struct {
	Direction    Direction
	PartitionKey string

	// Diagnostics
	Observed string
	Reason   string
}

// ReplicaResolution is the concrete replica target for a decision, or an
// abort when no scale call should be issued.
type ReplicaResolution struct {
	Current int32
	Target  int32
	Aborted bool
	Reason  string
}

// Aborted builds a no-op resolution
func Aborted(current int32, reason string) ReplicaResolution {
	return ReplicaResolution{Current: current, Aborted: true, Reason: reason}
}

// ScaleOutcome is the replica transition reported by the cluster
type ScaleOutcome struct {
	OldReplicas int32
	NewReplicas int32
}

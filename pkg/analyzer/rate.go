package analyzer

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/go-logr/logr"

	"github.com/opscart/k8s-workload-scaler/pkg/models"
)

var (
	// ErrMetricsUnavailable means a snapshot was empty or held a non-numeric value
	ErrMetricsUnavailable = errors.New("metrics unavailable")

	// ErrPartitionSetMismatch means the two snapshots did not cover the same partitions
	ErrPartitionSetMismatch = errors.New("partition set mismatch")
)

// RateCalculator turns two snapshots taken some time apart into per-partition
// rates of change
type RateCalculator struct {
	partitionLabel string
	logger         logr.Logger
}

// NewRateCalculator creates a calculator that partitions samples by
// partitionLabel. An empty label disables partitioning.
func NewRateCalculator(partitionLabel string, logger logr.Logger) *RateCalculator {
	return &RateCalculator{
		partitionLabel: partitionLabel,
		logger:         logger,
	}
}

// Calculate returns one RateRecord per partition, sorted by partition key.
// Partitions whose sample counts differ between snapshots are skipped.
func (c *RateCalculator) Calculate(first, last models.MetricSnapshot, elapsed time.Duration) ([]models.RateRecord, error) {
	if elapsed <= 0 {
		return nil, fmt.Errorf("elapsed time must be positive, got %v", elapsed)
	}
	if len(first) == 0 || len(last) == 0 {
		return nil, fmt.Errorf("%w: empty snapshot (first=%d, last=%d samples)", ErrMetricsUnavailable, len(first), len(last))
	}

	firstGroups, err := c.group(first)
	if err != nil {
		return nil, err
	}
	lastGroups, err := c.group(last)
	if err != nil {
		return nil, err
	}

	// Unpartitioned snapshots collapse to the single "" key on both sides.
	partitioned := c.hasPartitionLabel(first) || c.hasPartitionLabel(last)
	if partitioned && !sameKeys(firstGroups, lastGroups) {
		return nil, fmt.Errorf("%w: first=%v last=%v", ErrPartitionSetMismatch, sortedKeys(firstGroups), sortedKeys(lastGroups))
	}

	seconds := elapsed.Seconds()
	var records []models.RateRecord

	for _, key := range sortedKeys(firstGroups) {
		firstValues := firstGroups[key]
		lastValues := lastGroups[key]

		if len(firstValues) != len(lastValues) {
			c.logger.Info("Skipping partition, sample count changed between snapshots",
				"partition", key, "countFirst", len(firstValues), "countLast", len(lastValues))
			continue
		}

		avgFirst := calculateAverage(firstValues)
		avgLast := calculateAverage(lastValues)
		rate := (avgLast - avgFirst) / seconds

		c.logger.V(1).Info("Calculated rate", "partition", key,
			"avgFirst", avgFirst, "avgLast", avgLast, "elapsed", elapsed, "rate", rate)

		records = append(records, models.RateRecord{
			PartitionKey: key,
			Value:        rate,
		})
	}

	return records, nil
}

func (c *RateCalculator) hasPartitionLabel(snapshot models.MetricSnapshot) bool {
	if c.partitionLabel == "" {
		return false
	}
	for _, sample := range snapshot {
		if _, ok := sample.Labels[c.partitionLabel]; ok {
			return true
		}
	}
	return false
}

// group buckets sample values by partition label value. Samples without the
// label land under "".
func (c *RateCalculator) group(snapshot models.MetricSnapshot) (map[string][]float64, error) {
	groups := make(map[string][]float64)
	for _, sample := range snapshot {
		if math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) {
			return nil, fmt.Errorf("%w: non-numeric sample value %v (labels %v)", ErrMetricsUnavailable, sample.Value, sample.Labels)
		}
		key := ""
		if c.partitionLabel != "" {
			key = sample.Labels[c.partitionLabel]
		}
		groups[key] = append(groups[key], sample.Value)
	}
	return groups, nil
}

func sameKeys(a, b map[string][]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for key := range a {
		if _, ok := b[key]; !ok {
			return false
		}
	}
	return true
}

func sortedKeys(groups map[string][]float64) []string {
	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// calculateAverage computes the mean of values
func calculateAverage(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

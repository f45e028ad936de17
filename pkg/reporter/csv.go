package reporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// GenerateCSV creates a CSV report
func GenerateCSV(report *Report, writer io.Writer) error {
	w := csv.NewWriter(writer)

	header := []string{
		"Time",
		"Cluster",
		"Kind",
		"Namespace",
		"Workload",
		"Direction",
		"Old Replicas",
		"New Replicas",
		"Status",
		"Dry Run",
		"Error",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, event := range report.Events {
		row := []string{
			event.CreatedAt.UTC().Format(time.RFC3339),
			clusterName(event.Cluster),
			string(event.Kind),
			event.Namespace,
			event.Name,
			string(event.Direction),
			strconv.Itoa(int(event.OldReplicas)),
			strconv.Itoa(int(event.NewReplicas)),
			string(event.Status),
			strconv.FormatBool(event.DryRun),
			event.ErrorMessage,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

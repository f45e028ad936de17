package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/opscart/k8s-workload-scaler/pkg/models"
)

// ReportFormat represents the output format
type ReportFormat string

const (
	FormatText ReportFormat = "text"
	FormatJSON ReportFormat = "json"
	FormatCSV  ReportFormat = "csv"
	FormatHTML ReportFormat = "html"
)

// ParseFormat accepts text, json, csv or html
func ParseFormat(s string) (ReportFormat, error) {
	switch f := ReportFormat(s); f {
	case FormatText, FormatJSON, FormatCSV, FormatHTML:
		return f, nil
	}
	return "", fmt.Errorf("unsupported output format %q (use text, json, csv or html)", s)
}

// Report is the scale history of one workload
type Report struct {
	Namespace    string                   `json:"namespace"`
	Name         string                   `json:"name"`
	GeneratedAt  time.Time                `json:"generatedAt"`
	Events       []*models.ScaleEvent     `json:"events"`
	Succeeded    int                      `json:"succeeded"`
	Failed       int                      `json:"failed"`
	DryRuns      int                      `json:"dryRuns"`
	ClusterStats map[string]*ClusterStats `json:"clusters"`
}

// ClusterStats holds statistics per cluster
type ClusterStats struct {
	Cluster   string `json:"cluster"`
	ScaleOuts int    `json:"scaleOuts"`
	ScaleIns  int    `json:"scaleIns"`
	Failures  int    `json:"failures"`
}

// Reporter renders scale history reports
type Reporter struct {
	format ReportFormat
	now    func() time.Time
}

// New creates a new reporter
func New(format ReportFormat) *Reporter {
	return &Reporter{
		format: format,
		now:    time.Now,
	}
}

// Generate builds a report from events
func (r *Reporter) Generate(events []*models.ScaleEvent, namespace, name string) *Report {
	report := &Report{
		Namespace:    namespace,
		Name:         name,
		GeneratedAt:  r.now(),
		Events:       events,
		ClusterStats: make(map[string]*ClusterStats),
	}

	r.calculateStats(report)
	return report
}

// calculateStats computes all statistics for the report
func (r *Reporter) calculateStats(report *Report) {
	for _, event := range report.Events {
		cluster := event.Cluster
		if cluster == "" {
			cluster = "default"
		}
		if _, exists := report.ClusterStats[cluster]; !exists {
			report.ClusterStats[cluster] = &ClusterStats{Cluster: cluster}
		}
		stat := report.ClusterStats[cluster]

		if event.DryRun {
			report.DryRuns++
		}

		if event.Status == models.ScaleFailed {
			report.Failed++
			stat.Failures++
			continue
		}
		report.Succeeded++

		switch event.Direction {
		case models.ScaleOut:
			stat.ScaleOuts++
		case models.ScaleIn:
			stat.ScaleIns++
		}
	}
}

// Clusters returns the per-cluster statistics sorted by cluster name
func (r *Report) Clusters() []*ClusterStats {
	stats := make([]*ClusterStats, 0, len(r.ClusterStats))
	for _, stat := range r.ClusterStats {
		stats = append(stats, stat)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Cluster < stats[j].Cluster })
	return stats
}

// Write renders report in the reporter's format
func (r *Reporter) Write(report *Report, w io.Writer) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case FormatCSV:
		return GenerateCSV(report, w)
	case FormatHTML:
		return GenerateHTML(report, w)
	default:
		return GenerateText(report, w)
	}
}

package reporter

import (
	"fmt"
	"io"
	"text/tabwriter"
)

const timeLayout = "2006-01-02 15:04:05"

// GenerateText writes a human readable history table
func GenerateText(report *Report, writer io.Writer) error {
	if len(report.Events) == 0 {
		_, err := fmt.Fprintf(writer, "No scale events found for %s/%s\n", report.Namespace, report.Name)
		return err
	}

	fmt.Fprintf(writer, "Scale history for %s/%s:\n\n", report.Namespace, report.Name)

	tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tCLUSTER\tDIRECTION\tREPLICAS\tSTATUS\tERROR")
	for _, event := range report.Events {
		status := string(event.Status)
		if event.DryRun {
			status += " (dry run)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d -> %d\t%s\t%s\n",
			event.CreatedAt.Format(timeLayout), clusterName(event.Cluster), event.Direction,
			event.OldReplicas, event.NewReplicas, status, event.ErrorMessage)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(writer, "\n%d succeeded, %d failed, %d dry runs\n",
		report.Succeeded, report.Failed, report.DryRuns)
	return err
}

func clusterName(cluster string) string {
	if cluster == "" {
		return "default"
	}
	return cluster
}

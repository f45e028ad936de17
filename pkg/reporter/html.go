package reporter

import (
	"fmt"
	"html/template"
	"io"
	"time"
)

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Scale history: {{.Namespace}}/{{.Name}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 2rem; color: #1f2937; }
        table { border-collapse: collapse; width: 100%; margin-bottom: 2rem; }
        th, td { border-bottom: 1px solid #e5e7eb; padding: 0.5rem; text-align: left; }
        th { background: #f3f4f6; }
        .FAILED { color: #b91c1c; }
        .SUCCESS { color: #047857; }
    </style>
</head>
<body>
    <h1>Scale history: {{.Namespace}}/{{.Name}}</h1>
    <p>Generated {{formatTime .GeneratedAt}}. {{.Succeeded}} succeeded, {{.Failed}} failed, {{.DryRuns}} dry runs.</p>

    <h2>Clusters</h2>
    <table>
        <tr><th>Cluster</th><th>Scale outs</th><th>Scale ins</th><th>Failures</th></tr>
        {{range .Clusters}}
        <tr><td>{{.Cluster}}</td><td>{{.ScaleOuts}}</td><td>{{.ScaleIns}}</td><td>{{.Failures}}</td></tr>
        {{end}}
    </table>

    <h2>Events</h2>
    <table>
        <tr><th>Time</th><th>Cluster</th><th>Direction</th><th>Replicas</th><th>Status</th><th>Error</th></tr>
        {{range .Events}}
        <tr>
            <td>{{formatTime .CreatedAt}}</td>
            <td>{{cluster .Cluster}}</td>
            <td>{{.Direction}}</td>
            <td>{{.OldReplicas}} &rarr; {{.NewReplicas}}</td>
            <td class="{{.Status}}">{{.Status}}{{if .DryRun}} (dry run){{end}}</td>
            <td>{{.ErrorMessage}}</td>
        </tr>
        {{end}}
    </table>
</body>
</html>
`

// GenerateHTML creates an HTML report
func GenerateHTML(report *Report, writer io.Writer) error {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatTime": func(t time.Time) string { return t.Format(timeLayout) },
		"cluster":    clusterName,
	}).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	if err := tmpl.Execute(writer, report); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	return nil
}

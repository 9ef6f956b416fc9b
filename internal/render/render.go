// Package render turns event batches into notification payloads: a
// plain-text body, a rich HTML table with per-event links, and a Teams
// message card. The HTML renderer reports which event ids it included
// so delivery can attribute them.
package render

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"eventwatch/internal/event"
)

// Context carries run-level values shared by all payloads of one run.
type Context struct {
	RunTime    time.Time
	TypeLabel  string // e.g. "Permits"
	TypeName   string
	StatusName string

	LookbackDays int
	Frequency    string // humanized schedule, e.g. "1h"

	CompanyName   string
	EventsBaseURL string
}

// Subject builds the notification subject line.
func Subject(count int, typeLabel string) string {
	label := strings.TrimSpace(typeLabel)
	if label == "" {
		label = "Unknown"
	}
	return fmt.Sprintf("Alerts | %d %s Event%s Found", count, titleWords(label), plural(count))
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// PlainText renders the text/plain alternative body.
func PlainText(events []event.Event, rc Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Alerts | %s\n\n", rc.RunTime.Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Found %d event(s) matching criteria.\n", len(events))

	if len(events) == 0 {
		fmt.Fprintf(&b, "\nNo results found.\n\n---\nAutomated report from %s.\n", rc.CompanyName)
		return b.String()
	}

	b.WriteString("\nEvents:\n")
	for i, e := range events {
		fmt.Fprintf(&b, "\n%d.", i+1)
		if rc.EventsBaseURL != "" {
			fmt.Fprintf(&b, "\n   Link: %s/%d", strings.TrimRight(rc.EventsBaseURL, "/"), e.ID)
		}
		fmt.Fprintf(&b, "\n   Name: %s", e.Name)
		fmt.Fprintf(&b, "\n   Created: %s", e.CreatedAt.Format("2006-01-02 15:04:05"))
		for _, col := range e.Extra {
			fmt.Fprintf(&b, "\n   %s: %s", titleColumn(col.Name), col.Value)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\n---\nThis is an automated message from %s.\n", rc.CompanyName)
	return b.String()
}

type htmlRow struct {
	Index   int
	Name    string
	Link    template.URL
	Created string
	Extra   []string
}

type htmlData struct {
	Ctx       Context
	RunTime   string
	Generated string
	Count     int
	Headers   []string
	Rows      []htmlRow
	Empty     bool
}

// HTML renders the rich body and returns the ids of the events that
// made it into the document. Only id-bearing rows count as included,
// so the returned slice is what delivery may mark as sent.
func HTML(events []event.Event, rc Context) ([]int64, string, error) {
	data := htmlData{
		Ctx:       rc,
		RunTime:   rc.RunTime.Format("Monday, 02 January 2006 15:04 MST"),
		Generated: rc.RunTime.Format("Monday, January 02, 2006 at 15:04 MST"),
		Count:     len(events),
		Empty:     len(events) == 0,
	}

	var included []int64
	if len(events) > 0 {
		data.Headers = []string{"#", "Name", "Created"}
		for _, col := range events[0].Extra {
			data.Headers = append(data.Headers, titleColumn(col.Name))
		}
		base := strings.TrimRight(rc.EventsBaseURL, "/")
		for i, e := range events {
			row := htmlRow{
				Index:   i + 1,
				Name:    e.Name,
				Created: e.CreatedAt.Format("2006-01-02 15:04:05"),
			}
			if base != "" {
				row.Link = template.URL(fmt.Sprintf("%s/%d", base, e.ID))
			}
			for _, col := range e.Extra {
				row.Extra = append(row.Extra, col.Value)
			}
			data.Rows = append(data.Rows, row)
			included = append(included, e.ID)
		}
	}

	var b strings.Builder
	if err := htmlTmpl.Execute(&b, data); err != nil {
		return nil, "", fmt.Errorf("render html: %w", err)
	}
	return included, b.String(), nil
}

func titleColumn(name string) string {
	return titleWords(strings.ReplaceAll(name, "_", " "))
}

// titleWords uppercases the first letter of each space-separated word.
func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

var htmlTmpl = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<style>
    body { font-family: -apple-system, "Segoe UI", Roboto, Arial, sans-serif; background-color: #f9fafc; color: #333; line-height: 1.6; margin: 0; padding: 0; }
    .container { max-width: 900px; margin: 30px auto; background: #ffffff; border-radius: 12px; padding: 20px 40px; }
    .header { background-color: #0B4877; color: white; padding: 15px 25px; border-radius: 12px 12px 0 0; }
    .header h1 { margin: 0; font-size: 22px; font-weight: 600; }
    .header p { margin: 0; font-size: 14px; color: #d7e7f5; }
    .metadata { background-color: #f5f5f5; padding: 12px; border-radius: 5px; margin: 20px 0; font-size: 14px; }
    .count-badge { display: inline-block; background-color: #2EA9DE; color: white; padding: 4px 10px; border-radius: 12px; font-size: 14px; font-weight: 600; }
    table { width: 100%; border-collapse: collapse; margin: 20px 0; font-size: 14px; }
    th { background-color: #0B4877; color: white; text-align: left; padding: 10px; }
    td { padding: 8px 10px; border-bottom: 1px solid #e0e6ed; }
    tr:nth-child(even) { background-color: #f5f8fb; }
    a { color: #2EA9DE; text-decoration: none; }
    .footer { font-size: 12px; color: #888; text-align: center; padding: 10px; border-top: 1px solid #eee; margin-top: 20px; }
</style>
</head>
<body>
<div class="container">
    <div class="header">
        <h1>{{.Ctx.TypeLabel}} Alerts</h1>
        <p>{{.RunTime}}</p>
    </div>
{{- if .Empty}}
    <p style="margin-top:25px; font-size:15px;"><strong>No events found for the current query.</strong></p>
{{- else}}
    <div class="metadata">
        <strong>Report Generated:</strong> {{.Generated}}<br>
        <strong>Query Criteria:</strong> Type: {{.Ctx.TypeName}}, Status: {{.Ctx.StatusName}}, Lookback: {{.Ctx.LookbackDays}} day(s)<br>
        <strong>Frequency:</strong> {{.Ctx.Frequency}}<br>
        <strong>Results Found:</strong> <span class="count-badge">{{.Count}}</span>
    </div>
    <table>
        <thead><tr>{{range .Headers}}<th>{{.}}</th>{{end}}</tr></thead>
        <tbody>
{{- range .Rows}}
        <tr>
            <td>{{.Index}}</td>
            <td><strong>{{if .Link}}<a href="{{.Link}}" target="_blank">{{.Name}}</a>{{else}}{{.Name}}{{end}}</strong></td>
            <td>{{.Created}}</td>
            {{- range .Extra}}<td>{{.}}</td>{{end}}
        </tr>
{{- end}}
        </tbody>
    </table>
{{- end}}
    <div class="footer">This is an automated report generated by {{.Ctx.CompanyName}}.</div>
</div>
</body>
</html>
`))

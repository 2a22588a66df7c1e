package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}
	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(reportTemplateHTML))
}

// TemplateData holds data for issue report rendering.
type TemplateData struct {
	ID              string
	Title           string
	Description     string
	Category        string
	Location        string
	City            string
	State           string
	Priority        string
	Status          string
	ReporterName    string
	UpvoteCount     int
	CreatedAt       time.Time
	Assignees       []TemplateAssignee
	Resolved        bool
	ResolutionNotes string
	ResolvedByName  string
	ResolvedAt      time.Time
	GeneratedAt     time.Time
}

// TemplateAssignee is one assigned administrator line.
type TemplateAssignee struct {
	Name       string
	Note       string
	AssignedAt time.Time
}

// RenderReportHTML renders the issue report template with the provided data.
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .badge { display: inline-block; padding: 0.15rem 0.6rem; border-radius: 3px; font-size: 0.85em; background: #eee; }
    .badge.resolved { background: #d7f0d7; }
    .badge.assigned { background: #fdeeca; }
    table { border-collapse: collapse; width: 100%; margin: 1rem 0; }
    td, th { border: 1px solid #ddd; padding: 0.4rem 0.7rem; text-align: left; font-size: 0.95em; }
    .section { margin-top: 2rem; }
    .resolution { background: #f5faf5; padding: 1rem; border-left: 3px solid #3a7; }
    .footer { margin-top: 3rem; color: #999; font-size: 0.8em; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">
    Report {{.ID}} | {{.City}}, {{.State}} | Filed by {{.ReporterName}} on {{formatDate .CreatedAt "Jan 2, 2006"}}
    <span class="badge {{lower .Status}}">{{.Status}}</span>
  </div>

  <table>
    <tr><th>Category</th><td>{{if .Category}}{{.Category}}{{else}}&mdash;{{end}}</td></tr>
    <tr><th>Location</th><td>{{.Location}}</td></tr>
    <tr><th>Priority</th><td>{{.Priority}}</td></tr>
    <tr><th>Upvotes</th><td>{{.UpvoteCount}}</td></tr>
  </table>

  <div class="section">
    <h2>Description</h2>
    <p>{{.Description}}</p>
  </div>

  {{if .Assignees}}
  <div class="section">
    <h2>Assigned Administrators</h2>
    <table>
      <tr><th>Name</th><th>Note</th><th>Assigned</th></tr>
      {{range .Assignees}}
      <tr><td>{{.Name}}</td><td>{{if .Note}}{{.Note}}{{else}}&mdash;{{end}}</td><td>{{formatDate .AssignedAt "Jan 2, 2006"}}</td></tr>
      {{end}}
    </table>
  </div>
  {{end}}

  {{if .Resolved}}
  <div class="section resolution">
    <h2>Resolution</h2>
    <p>{{.ResolutionNotes}}</p>
    <p>Resolved by {{.ResolvedByName}} on {{formatDate .ResolvedAt "Jan 2, 2006"}}</p>
  </div>
  {{end}}

  <div class="footer">Generated {{formatDate .GeneratedAt "Jan 2, 2006 15:04 MST"}}</div>
</body>
</html>`

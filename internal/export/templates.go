package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var inventoryTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}
	inventoryTemplate = template.Must(template.New("inventory").Funcs(funcMap).Parse(inventoryHTML))
}

// TemplateData holds data for the inventory sheet template.
type TemplateData struct {
	BoxName     string
	Location    string
	InfoText    string
	GeneratedAt time.Time
	Books       []TemplateBook
}

// TemplateBook is one catalog row on the sheet.
type TemplateBook struct {
	Title     string
	Authors   string
	Publisher string
	Year      int
	ISBN      string
}

// RenderInventoryHTML renders the inventory sheet template.
func RenderInventoryHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := inventoryTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const inventoryHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.BoxName}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { width: 100%; border-collapse: collapse; }
    th, td { text-align: left; padding: 0.4rem 0.6rem; border-bottom: 1px solid #ddd; }
    th { background: #f5f5f5; }
    .empty { color: #666; font-style: italic; margin-top: 2rem; }
  </style>
</head>
<body>
  <h1>{{.BoxName}}</h1>
  <div class="meta">
    {{if .Location}}{{.Location}} | {{end}}{{formatDate .GeneratedAt "Jan 2, 2006"}}
    {{if .InfoText}}<br>{{.InfoText}}{{end}}
  </div>
  {{if .Books}}
  <table>
    <tr><th>Title</th><th>Authors</th><th>Publisher</th><th>Year</th><th>ISBN</th></tr>
    {{range .Books}}
    <tr>
      <td>{{.Title}}</td>
      <td>{{.Authors}}</td>
      <td>{{.Publisher}}</td>
      <td>{{if .Year}}{{.Year}}{{end}}</td>
      <td>{{.ISBN}}</td>
    </tr>
    {{end}}
  </table>
  {{else}}
  <p class="empty">This book box is currently empty.</p>
  {{end}}
</body>
</html>`

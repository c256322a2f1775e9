package export

import (
	"bytes"
	"html/template"
	"time"
)

var documentTemplate = template.Must(template.New("document").Parse(documentTemplateHTML))

// TemplateData holds data for document template rendering
type TemplateData struct {
	Title          string
	WorkspaceTitle string
	Author         string
	UpdatedAt      time.Time
	ContentHTML    template.HTML
}

// RenderDocumentHTML renders a full standalone page around the converted
// body fragment.
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const documentTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1.doc-title { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    blockquote { border-left: 3px solid #ccc; margin-left: 0; padding-left: 1rem; color: #555; }
    pre { background: #f5f5f5; padding: 1rem; overflow-x: auto; }
    img { max-width: 100%; }
  </style>
</head>
<body>
  <h1 class="doc-title">{{.Title}}</h1>
  <div class="meta">{{.WorkspaceTitle}}{{if .Author}} | {{.Author}}{{end}}{{if not .UpdatedAt.IsZero}} | {{.UpdatedAt.Format "Jan 2, 2006"}}{{end}}</div>
  <div>{{.ContentHTML}}</div>
</body>
</html>`

package export

import (
	"strings"
	"testing"
	"time"
)

const richDelta = `{"ops":[
	{"insert":"Launch Plan"},{"attributes":{"header":1},"insert":"\n"},
	{"insert":"An "},
	{"attributes":{"bold":true},"insert":"important"},
	{"insert":" document with a "},
	{"attributes":{"link":"https://example.com"},"insert":"link"},
	{"insert":".\n"},
	{"insert":"first"},{"attributes":{"list":"bullet"},"insert":"\n"},
	{"insert":"second"},{"attributes":{"list":"bullet"},"insert":"\n"},
	{"insert":"step one"},{"attributes":{"list":"ordered"},"insert":"\n"},
	{"insert":"step two"},{"attributes":{"list":"ordered"},"insert":"\n"},
	{"insert":"Wise words"},{"attributes":{"blockquote":true},"insert":"\n"},
	{"insert":"const x = 1;"},{"attributes":{"code-block":true},"insert":"\n"},
	{"insert":"const y = 2;"},{"attributes":{"code-block":true},"insert":"\n"}
]}`

func TestDeltaToHTML(t *testing.T) {
	html, err := DeltaToHTML(richDelta)
	if err != nil {
		t.Fatalf("DeltaToHTML() error = %v", err)
	}

	for _, want := range []string{
		"<h1>Launch Plan</h1>",
		"<strong>important</strong>",
		`<a href="https://example.com">link</a>`,
		"<ul>\n<li>first</li>\n<li>second</li>\n</ul>",
		"<ol>\n<li>step one</li>\n<li>step two</li>\n</ol>",
		"<blockquote>Wise words</blockquote>",
		"<pre><code>const x = 1;\nconst y = 2;\n</code></pre>",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q:\n%s", want, html)
		}
	}
}

func TestDeltaToHTMLEscapesUserText(t *testing.T) {
	html, err := DeltaToHTML(`{"ops":[{"insert":"<script>alert(1)</script>\n"}]}`)
	if err != nil {
		t.Fatalf("DeltaToHTML() error = %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Fatalf("unescaped user text in output: %s", html)
	}
	if !strings.Contains(html, "&lt;script&gt;") {
		t.Fatalf("expected escaped text, got: %s", html)
	}
}

func TestDeltaToHTMLRendersImages(t *testing.T) {
	html, err := DeltaToHTML(`{"ops":[{"insert":{"image":"https://cdn.example/pic.png"}},{"insert":"\n"}]}`)
	if err != nil {
		t.Fatalf("DeltaToHTML() error = %v", err)
	}
	if !strings.Contains(html, `<img src="https://cdn.example/pic.png">`) {
		t.Fatalf("image not rendered: %s", html)
	}
}

func TestDeltaToHTMLRejectsMalformedJSON(t *testing.T) {
	if _, err := DeltaToHTML(`{"ops":[`); err == nil {
		t.Fatal("expected error for malformed delta")
	}
}

func TestDeltaToHTMLEmptyBody(t *testing.T) {
	html, err := DeltaToHTML("")
	if err != nil {
		t.Fatalf("DeltaToHTML() error = %v", err)
	}
	if html != "" {
		t.Fatalf("empty body should render nothing, got %q", html)
	}
}

func TestDeltaToText(t *testing.T) {
	text := DeltaToText(richDelta)
	for _, want := range []string{"Launch Plan", "An important document with a link.", "first", "step two", "const y = 2;"} {
		if !strings.Contains(text, want) {
			t.Errorf("text missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "<") {
		t.Errorf("plain text should carry no markup: %s", text)
	}
	if DeltaToText(`{"ops":[`) != "" {
		t.Error("malformed delta should flatten to empty text")
	}
}

func TestDeltaToMarkdown(t *testing.T) {
	markdown, err := DeltaToMarkdown(richDelta)
	if err != nil {
		t.Fatalf("DeltaToMarkdown() error = %v", err)
	}

	for _, want := range []string{
		"# Launch Plan",
		"**important**",
		"[link](https://example.com)",
		"- first\n- second",
		"1. step one\n2. step two",
		"> Wise words",
		"```\nconst x = 1;\nconst y = 2;\n```",
	} {
		if !strings.Contains(markdown, want) {
			t.Errorf("Markdown missing %q:\n%s", want, markdown)
		}
	}
}

func TestExportHTMLWrapsDocumentChrome(t *testing.T) {
	svc := NewService()
	result, err := svc.Export(Document{
		Title:          "Launch Plan",
		WorkspaceTitle: "Acme",
		Author:         "avery@inkwell.dev",
		UpdatedAt:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Data:           richDelta,
	}, FormatHTML)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	page := string(result.Data)
	if !strings.Contains(page, "<title>Launch Plan</title>") {
		t.Error("page missing title")
	}
	if !strings.Contains(page, "Acme") {
		t.Error("page missing workspace name")
	}
	if result.Filename != "Launch-Plan.html" {
		t.Errorf("Filename = %q", result.Filename)
	}
	if !strings.HasPrefix(result.MimeType, "text/html") {
		t.Errorf("MimeType = %q", result.MimeType)
	}
}

func TestExportMarkdownFilenameAndHeader(t *testing.T) {
	svc := NewService()
	result, err := svc.Export(Document{Title: "Launch Plan", Data: richDelta}, FormatMarkdown)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Filename != "Launch-Plan.md" {
		t.Errorf("Filename = %q", result.Filename)
	}
	if !strings.HasPrefix(string(result.Data), "# Launch Plan\n") {
		t.Errorf("markdown export should lead with the title:\n%s", result.Data)
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	svc := NewService()
	if _, err := svc.Export(Document{Title: "x", Data: richDelta}, Format("odt")); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "Launch Plan", want: "Launch-Plan"},
		{in: "notes/2024: Q1?", want: "notes2024-Q1"},
		{in: "", want: "document"},
		{in: "///", want: "document"},
	}
	for _, tc := range cases {
		if got := sanitizeFilename(tc.in); got != tc.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

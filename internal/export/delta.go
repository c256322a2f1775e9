package export

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// The editor stores bodies as delta JSON: a flat list of insert operations
// where inline attributes ride on text runs and block attributes ride on
// the newline that terminates the line.

type deltaOp struct {
	Insert     interface{}            `json:"insert"`
	Attributes map[string]interface{} `json:"attributes"`
}

type delta struct {
	Ops []deltaOp `json:"ops"`
}

// segment is one inline run of a line: either text with marks or an
// embedded image.
type segment struct {
	Text  string
	Image string
	Attrs map[string]interface{}
}

// line is one block-level line with its block attributes.
type line struct {
	Segments []segment
	Attrs    map[string]interface{}
}

// parseDelta splits the op stream into lines.
func parseDelta(data string) ([]line, error) {
	if strings.TrimSpace(data) == "" {
		return nil, nil
	}

	var doc delta
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	var lines []line
	var current []segment
	for _, op := range doc.Ops {
		switch insert := op.Insert.(type) {
		case string:
			parts := strings.Split(insert, "\n")
			for i, part := range parts {
				if part != "" {
					current = append(current, segment{Text: part, Attrs: op.Attributes})
				}
				if i < len(parts)-1 {
					lines = append(lines, line{Segments: current, Attrs: op.Attributes})
					current = nil
				}
			}
		case map[string]interface{}:
			if src, ok := insert["image"].(string); ok {
				current = append(current, segment{Image: src, Attrs: op.Attributes})
			}
		}
	}
	if len(current) > 0 {
		lines = append(lines, line{Segments: current})
	}
	return lines, nil
}

// DeltaToText flattens a delta JSON body to plain text, one line per
// block. Used to build search index bodies. Undecodable bodies yield "".
func DeltaToText(data string) string {
	lines, err := parseDelta(data)
	if err != nil {
		return ""
	}
	var out strings.Builder
	for _, l := range lines {
		for _, seg := range l.Segments {
			out.WriteString(seg.Text)
		}
		out.WriteString("\n")
	}
	return strings.TrimRight(out.String(), "\n")
}

// DeltaToHTML converts a delta JSON body to an HTML fragment.
func DeltaToHTML(data string) (string, error) {
	lines, err := parseDelta(data)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for i := 0; i < len(lines); {
		current := lines[i]
		switch {
		case listKind(current) != "":
			kind := listKind(current)
			tag := "ul"
			if kind == "ordered" {
				tag = "ol"
			}
			fmt.Fprintf(&out, "<%s>\n", tag)
			for i < len(lines) && listKind(lines[i]) == kind {
				fmt.Fprintf(&out, "<li>%s</li>\n", renderInline(lines[i].Segments))
				i++
			}
			fmt.Fprintf(&out, "</%s>\n", tag)
		case isCodeBlock(current):
			out.WriteString("<pre><code>")
			for i < len(lines) && isCodeBlock(lines[i]) {
				out.WriteString(rawText(lines[i].Segments))
				out.WriteString("\n")
				i++
			}
			out.WriteString("</code></pre>\n")
		case headerLevel(current) > 0:
			level := headerLevel(current)
			fmt.Fprintf(&out, "<h%d>%s</h%d>\n", level, renderInline(current.Segments), level)
			i++
		case isBlockquote(current):
			fmt.Fprintf(&out, "<blockquote>%s</blockquote>\n", renderInline(current.Segments))
			i++
		default:
			fmt.Fprintf(&out, "<p>%s</p>\n", renderInline(current.Segments))
			i++
		}
	}
	return out.String(), nil
}

func renderInline(segments []segment) string {
	var out strings.Builder
	for _, seg := range segments {
		if seg.Image != "" {
			fmt.Fprintf(&out, `<img src="%s">`, html.EscapeString(seg.Image))
			continue
		}
		out.WriteString(renderTextWithMarks(seg.Text, seg.Attrs))
	}
	return out.String()
}

// renderTextWithMarks wraps escaped text in its mark tags, link outermost.
func renderTextWithMarks(text string, attrs map[string]interface{}) string {
	rendered := html.EscapeString(text)
	if attrs == nil {
		return rendered
	}
	if truthy(attrs["code"]) {
		rendered = "<code>" + rendered + "</code>"
	}
	if truthy(attrs["strike"]) {
		rendered = "<s>" + rendered + "</s>"
	}
	if truthy(attrs["underline"]) {
		rendered = "<u>" + rendered + "</u>"
	}
	if truthy(attrs["italic"]) {
		rendered = "<em>" + rendered + "</em>"
	}
	if truthy(attrs["bold"]) {
		rendered = "<strong>" + rendered + "</strong>"
	}
	if href, ok := attrs["link"].(string); ok && href != "" {
		rendered = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), rendered)
	}
	return rendered
}

func rawText(segments []segment) string {
	var out strings.Builder
	for _, seg := range segments {
		out.WriteString(html.EscapeString(seg.Text))
	}
	return out.String()
}

func headerLevel(l line) int {
	if l.Attrs == nil {
		return 0
	}
	if level, ok := l.Attrs["header"].(float64); ok && level >= 1 && level <= 6 {
		return int(level)
	}
	return 0
}

func listKind(l line) string {
	if l.Attrs == nil {
		return ""
	}
	switch l.Attrs["list"] {
	case "ordered":
		return "ordered"
	case "bullet", "checked", "unchecked":
		return "bullet"
	default:
		return ""
	}
}

func isBlockquote(l line) bool {
	return l.Attrs != nil && truthy(l.Attrs["blockquote"])
}

func isCodeBlock(l line) bool {
	if l.Attrs == nil {
		return false
	}
	if truthy(l.Attrs["code-block"]) {
		return true
	}
	_, ok := l.Attrs["code-block"].(string)
	return ok
}

func truthy(value interface{}) bool {
	b, ok := value.(bool)
	return ok && b
}

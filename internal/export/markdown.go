package export

import (
	"fmt"
	"strings"
)

// DeltaToMarkdown converts a delta JSON body to Markdown.
func DeltaToMarkdown(data string) (string, error) {
	lines, err := parseDelta(data)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	ordinal := 0
	for i := 0; i < len(lines); i++ {
		current := lines[i]

		kind := listKind(current)
		if kind != "ordered" {
			ordinal = 0
		}

		switch {
		case isCodeBlock(current):
			out.WriteString("```\n")
			for i < len(lines) && isCodeBlock(lines[i]) {
				out.WriteString(markdownRawText(lines[i].Segments))
				out.WriteString("\n")
				i++
			}
			i--
			out.WriteString("```\n\n")
		case headerLevel(current) > 0:
			out.WriteString(strings.Repeat("#", headerLevel(current)))
			out.WriteString(" ")
			out.WriteString(markdownInline(current.Segments))
			out.WriteString("\n\n")
		case kind == "ordered":
			ordinal++
			fmt.Fprintf(&out, "%d. %s\n", ordinal, markdownInline(current.Segments))
			if i+1 >= len(lines) || listKind(lines[i+1]) != "ordered" {
				out.WriteString("\n")
			}
		case kind == "bullet":
			fmt.Fprintf(&out, "- %s\n", markdownInline(current.Segments))
			if i+1 >= len(lines) || listKind(lines[i+1]) != "bullet" {
				out.WriteString("\n")
			}
		case isBlockquote(current):
			fmt.Fprintf(&out, "> %s\n\n", markdownInline(current.Segments))
		default:
			out.WriteString(markdownInline(current.Segments))
			out.WriteString("\n\n")
		}
	}
	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

func markdownInline(segments []segment) string {
	var out strings.Builder
	for _, seg := range segments {
		if seg.Image != "" {
			fmt.Fprintf(&out, "![](%s)", seg.Image)
			continue
		}
		out.WriteString(markdownTextWithMarks(seg.Text, seg.Attrs))
	}
	return out.String()
}

func markdownTextWithMarks(text string, attrs map[string]interface{}) string {
	if attrs == nil {
		return text
	}
	if truthy(attrs["code"]) {
		text = "`" + text + "`"
	}
	if truthy(attrs["strike"]) {
		text = "~~" + text + "~~"
	}
	if truthy(attrs["italic"]) {
		text = "*" + text + "*"
	}
	if truthy(attrs["bold"]) {
		text = "**" + text + "**"
	}
	if href, ok := attrs["link"].(string); ok && href != "" {
		text = fmt.Sprintf("[%s](%s)", text, href)
	}
	return text
}

func markdownRawText(segments []segment) string {
	var out strings.Builder
	for _, seg := range segments {
		out.WriteString(seg.Text)
	}
	return out.String()
}

package source

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// Tags whose content is never schedule text.
var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"iframe": true, "nav": true, "svg": true, "template": true,
}

// Elements that end a line. Table rows matter most: schedules are usually
// tables and one row is one meeting.
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "section": true, "article": true, "dt": true, "dd": true,
}

// ExtractText parses HTML and returns its visible text, one block or table
// row per line, table cells separated by " | ".
func ExtractText(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == html.ElementNode {
			switch {
			case n.Data == "td" || n.Data == "th":
				sb.WriteString("| ")
			case blockTags[n.Data]:
				sb.WriteString("\n")
			}
		}
	}
	walk(doc)

	lines := strings.Split(sb.String(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		line = strings.TrimSuffix(line, " |")
		line = strings.TrimSuffix(line, "|")
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

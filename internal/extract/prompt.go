package extract

import (
	"bytes"
	"text/template"
)

// promptTmpl is sent with every document. Binary documents are attached
// separately; text documents are inlined under "Schedule:".
var promptTmpl = template.Must(template.New("schedule").Parse(`This document contains a schedule of meetings. Take each meeting on the schedule and extract the meeting title, the meeting date, and the meeting start time.

Return a JSON object with an "events" array. Each element must have:
- title: the name of the meeting or event
- date: the date in the format DD-Month (e.g. 12-January); include the year as DD-Month-YYYY only when the document states one
- time: the start time in the format HH:MM AM/PM (e.g. 1:30 PM)

If a year is not explicitly mentioned, assume {{.Year}}.
Ignore page headers and footers. Do not include any text outside the JSON object.

Example response:
{"events": [{"title": "Revenue Estimating Conference", "date": "12-January", "time": "1:30 PM"}]}
{{if .Text}}
Schedule:
{{.Text}}
{{end}}`))

// renderPrompt executes the prompt template. text is empty for binary
// documents.
func renderPrompt(year int, text string) (string, error) {
	var buf bytes.Buffer
	data := struct {
		Year int
		Text string
	}{Year: year, Text: text}
	if err := promptTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// responseSchema is the Gemini responseSchema (OpenAPI subset) for the
// {"events": [...]} object.
var responseSchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"events": map[string]any{
			"type": "ARRAY",
			"items": map[string]any{
				"type": "OBJECT",
				"properties": map[string]any{
					"title": map[string]any{"type": "STRING", "description": "The name of the meeting or event"},
					"date":  map[string]any{"type": "STRING", "description": "The date in format DD-Month (e.g. 12-January)"},
					"time":  map[string]any{"type": "STRING", "description": "The start time in format HH:MM AM/PM (e.g. 1:30 PM)"},
				},
				"required": []string{"title", "date", "time"},
			},
		},
	},
	"required": []string{"events"},
}

package flow

import (
	"bytes"
	"strings"
	"text/template"
)

// renderTemplate executes a Go template string against a data map. Missing
// keys render as empty strings.
func renderTemplate(tplStr string, data map[string]any) (string, error) {
	if tplStr == "" {
		return "", nil
	}
	tpl, err := template.New("").Parse(tplStr)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	// text/template prints missing map entries as "<no value>".
	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

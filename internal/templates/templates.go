// Package templates renders the subject and body of outbound mail with
// Liquid. Handlebars-style bracket keys such as {{[Job Role]}} are accepted
// and rewritten to Liquid index expressions before parsing.
package templates

import (
	_ "embed"
	"fmt"
	"html"
	"os"
	"regexp"
	"strings"

	"github.com/osteele/liquid"
)

// PixelBinding is the binding that holds the open-tracking URL.
const PixelBinding = "trackingPixel"

// FieldsBinding exposes every recipient field, including keys with spaces.
// The name stays out of the way of real spreadsheet columns.
const FieldsBinding = "__fields"

//go:embed default.html
var defaultBody string

var bracketKey = regexp.MustCompile(`\{\{\s*\[([^\]]+)\]\s*\}\}`)

var pixelTag = `<img src="{{ ` + PixelBinding + ` }}" width="1" height="1" alt="" style="display:none" />`

type Engine struct {
	liquid *liquid.Engine
}

func NewEngine() *Engine {
	return &Engine{liquid: liquid.NewEngine()}
}

// Template is a compiled subject/body pair.
type Template struct {
	subject *liquid.Template
	body    *liquid.Template
}

// Compile parses both parts once. A body that never references the tracking
// pixel gets one appended so opens are still observable.
func (e *Engine) Compile(subject, body string) (*Template, error) {
	if body == "" {
		body = defaultBody
	}
	if !strings.Contains(body, PixelBinding) {
		body = appendPixel(body)
	}

	s, err := e.liquid.ParseString(normalize(subject))
	if err != nil {
		return nil, fmt.Errorf("parse subject template: %w", err)
	}
	b, err := e.liquid.ParseString(normalize(body))
	if err != nil {
		return nil, fmt.Errorf("parse body template: %w", err)
	}
	return &Template{subject: s, body: b}, nil
}

// Render produces the subject as plain text and the body as HTML. String
// values are HTML-escaped for the body only.
func (t *Template) Render(bindings map[string]any) (subject string, body string, err error) {
	subject, err = t.subject.RenderString(withFields(bindings, false))
	if err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	body, err = t.body.RenderString(withFields(bindings, true))
	if err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	return strings.TrimSpace(subject), body, nil
}

// LoadBody reads the body template from path; an empty path selects the
// built-in template.
func LoadBody(path string) (string, error) {
	if path == "" {
		return defaultBody, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read template %s: %w", path, err)
	}
	return string(raw), nil
}

func normalize(src string) string {
	return bracketKey.ReplaceAllStringFunc(src, func(m string) string {
		key := strings.TrimSpace(bracketKey.FindStringSubmatch(m)[1])
		key = strings.ReplaceAll(key, `"`, `\"`)
		return `{{ ` + FieldsBinding + `["` + key + `"] }}`
	})
}

func appendPixel(body string) string {
	idx := strings.LastIndex(strings.ToLower(body), "</body>")
	if idx < 0 {
		return body + pixelTag
	}
	return body[:idx] + pixelTag + body[idx:]
}

func withFields(bindings map[string]any, escape bool) map[string]any {
	out := make(map[string]any, len(bindings)+1)
	fields := make(map[string]any, len(bindings))
	for k, v := range bindings {
		if s, ok := v.(string); ok && escape {
			v = html.EscapeString(s)
		}
		out[k] = v
		fields[k] = v
	}
	out[FieldsBinding] = fields
	return out
}

package templates

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_BracketKeys(t *testing.T) {
	tpl, err := NewEngine().Compile(
		`{{[Job Role]}} at {{ [Company Name] }}`,
		`<p>Hi {{Name}}, {{[Job Role]}}</p><img src="{{trackingPixel}}">`,
	)
	require.NoError(t, err)

	subject, body, err := tpl.Render(map[string]any{
		"Name":          "Ada",
		"Job Role":      "Backend Engineer",
		"Company Name":  "Analytical Engines",
		"trackingPixel": "https://t.example.com/track/open/abc",
	})
	require.NoError(t, err)

	assert.Equal(t, "Backend Engineer at Analytical Engines", subject)
	assert.Equal(t, `<p>Hi Ada, Backend Engineer</p><img src="https://t.example.com/track/open/abc">`, body)
}

func TestRender_RecipientColumnNamedFields(t *testing.T) {
	tpl, err := NewEngine().Compile(`{{fields}}`, `<p>{{fields}} / {{[Job Role]}}</p>{{trackingPixel}}`)
	require.NoError(t, err)

	subject, body, err := tpl.Render(map[string]any{
		"fields":        "Compilers",
		"Job Role":      "Backend Engineer",
		"trackingPixel": "",
	})
	require.NoError(t, err)

	assert.Equal(t, "Compilers", subject)
	assert.Equal(t, "<p>Compilers / Backend Engineer</p>", body)
}

func TestCompile_AppendsPixelWhenMissing(t *testing.T) {
	tpl, err := NewEngine().Compile("hello", "<html><body><p>{{Name}}</p></body></html>")
	require.NoError(t, err)

	_, body, err := tpl.Render(map[string]any{
		"Name":          "Ada",
		"trackingPixel": "https://t.example.com/track/open/abc",
	})
	require.NoError(t, err)

	assert.Contains(t, body, `<img src="https://t.example.com/track/open/abc"`)
	assert.True(t, strings.HasSuffix(body, "</body></html>"))
}

func TestRender_EscapesBodyOnly(t *testing.T) {
	tpl, err := NewEngine().Compile("{{Name}}", "{{Name}}{{trackingPixel}}")
	require.NoError(t, err)

	subject, body, err := tpl.Render(map[string]any{"Name": "<Ada & co>", "trackingPixel": ""})
	require.NoError(t, err)

	assert.Equal(t, "<Ada & co>", subject)
	assert.Equal(t, "&lt;Ada &amp; co&gt;", body)
}

func TestCompile_SyntaxError(t *testing.T) {
	_, err := NewEngine().Compile("ok", "{% if Name %}unterminated")
	assert.Error(t, err)
}

func TestDefaultBody(t *testing.T) {
	body, err := LoadBody("")
	require.NoError(t, err)
	assert.Contains(t, body, PixelBinding)

	tpl, err := NewEngine().Compile("subject", "")
	require.NoError(t, err)
	_, out, err := tpl.Render(map[string]any{
		"Name":           "Ada",
		"Job Role":       "Engineer",
		"Company Name":   "Engines",
		"hiringPlatform": "https://t.example.com/track/click/abc/hiringPlatform",
		"trackingPixel":  "https://t.example.com/track/open/abc",
		"senderName":     "Charles",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Engineer opening at Engines")
	assert.Contains(t, out, `href="https://t.example.com/track/click/abc/hiringPlatform"`)
}

func TestLoadBody_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mail.html")
	require.NoError(t, os.WriteFile(path, []byte("<p>{{Name}}</p>"), 0o600))

	body, err := LoadBody(path)
	require.NoError(t, err)
	assert.Equal(t, "<p>{{Name}}</p>", body)

	_, err = LoadBody(filepath.Join(t.TempDir(), "missing.html"))
	assert.Error(t, err)
}

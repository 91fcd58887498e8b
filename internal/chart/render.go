package chart

import (
	"bytes"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Renderer turns chart or analysis text into an HTML preview.
type Renderer struct {
	md goldmark.Markdown
}

// NewRenderer creates a Renderer. Raw HTML in model output is not passed through.
func NewRenderer() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle("github"),
				highlighting.WithFormatOptions(
					chromahtml.WithClasses(true),
				),
			),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	return &Renderer{
		md: md,
	}
}

// Render converts chart text to HTML. Line breaks are kept.
func (r *Renderer) Render(chart string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(chart), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

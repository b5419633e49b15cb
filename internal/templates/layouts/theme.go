package layouts

import (
	"context"
	"html"
	"io"
	"sort"
	"strings"

	"github.com/a-h/templ"

	"github.com/codr1/themecore/internal/bootstrap"
	"github.com/codr1/themecore/internal/document"
)

// PageData configures Page.
type PageData struct {
	Title     string
	Lang      string
	Bootstrap bootstrap.Options
}

// Page renders a full HTML page whose root element, head styles and resource
// hints mirror doc.
func Page(doc *document.Document, data PageData, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		lang := data.Lang
		if lang == "" {
			lang = "en"
		}
		var b strings.Builder
		b.WriteString("<!DOCTYPE html><html lang=\"")
		b.WriteString(html.EscapeString(lang))
		b.WriteString("\"")
		b.WriteString(rootAttributes(doc))
		b.WriteString("><head><meta charset=\"utf-8\"><meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">")
		b.WriteString("<title>")
		b.WriteString(html.EscapeString(data.Title))
		b.WriteString("</title>")
		if _, err := io.WriteString(w, b.String()); err != nil {
			return err
		}

		if err := bootstrap.Component(data.Bootstrap).Render(ctx, w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, headElements(doc)+"</head><body>"); err != nil {
			return err
		}
		if body != nil {
			if err := body.Render(ctx, w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "</body></html>")
		return err
	})
}

// rootAttributes renders the attributes, classes and inline custom
// properties of the root element.
func rootAttributes(doc *document.Document) string {
	var b strings.Builder
	attrs := doc.Attributes()
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		if name == "class" || name == "style" || name == "lang" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString(" " + html.EscapeString(name) + "=\"" + html.EscapeString(attrs[name]) + "\"")
	}
	if classes := doc.Classes(); len(classes) > 0 {
		b.WriteString(" class=\"" + html.EscapeString(strings.Join(classes, " ")) + "\"")
	}
	if style := doc.InlineStyle(); style != "" {
		b.WriteString(" style=\"" + html.EscapeString(style) + "\"")
	}
	return b.String()
}

func headElements(doc *document.Document) string {
	var b strings.Builder
	for _, hint := range doc.ResourceHints() {
		b.WriteString("<link rel=\"" + html.EscapeString(hint.Rel) + "\" href=\"" + html.EscapeString(hint.Href) + "\">")
	}
	for _, style := range doc.StyleElements() {
		b.WriteString("<style id=\"" + html.EscapeString(style.ID) + "\">")
		b.WriteString(safeStyleText(style.CSS))
		b.WriteString("</style>")
	}
	return b.String()
}

// safeStyleText keeps css from closing its style element.
func safeStyleText(css string) string {
	return strings.ReplaceAll(css, "</", `<\/`)
}

package themes

import (
	"context"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/codr1/themecore/internal/models"
)

// Picker renders the theme list as htmx buttons plus a mode toggle.
func Picker(data PickerData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<section id="theme-picker" hx-trigger="themeChanged from:body, themeInstalled from:body" hx-get="/" hx-select="#theme-picker" hx-swap="outerHTML">`)
		fmt.Fprintf(&b, `<button type="button" hx-post="/api/v1/theme/toggle" hx-swap="none">Mode: %s</button>`, html.EscapeString(string(data.Mode)))
		b.WriteString(`<ul class="theme-list">`)
		for _, theme := range data.Themes {
			writeTheme(&b, theme, data.Removable[theme.ID])
		}
		b.WriteString(`</ul></section>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func writeTheme(b *strings.Builder, theme Theme, removable bool) {
	id := html.EscapeString(theme.ID)
	b.WriteString(`<li class="theme-item`)
	if theme.IsActive {
		b.WriteString(` is-active`)
	}
	fmt.Fprintf(b, `" data-theme-id="%s">`, id)
	writeSwatches(b, theme.Preview)
	fmt.Fprintf(b,
		`<button type="button" hx-put="/api/v1/theme" hx-ext="json-enc" hx-vals='{"theme":%q}' hx-swap="none">%s</button>`,
		html.EscapeString(theme.ID), html.EscapeString(theme.Label))
	if removable {
		fmt.Fprintf(b, `<button type="button" hx-delete="/api/v1/themes/%s" hx-swap="none" hx-confirm="Remove %s?">Remove</button>`,
			id, html.EscapeString(theme.Label))
	}
	b.WriteString(`</li>`)
}

func writeSwatches(b *strings.Builder, preview models.ThemePreview) {
	b.WriteString(`<span class="theme-swatches">`)
	for _, color := range []string{preview.Primary, preview.Background, preview.Accent} {
		if !models.IsHexColor(color) {
			continue
		}
		fmt.Fprintf(b, `<span class="theme-swatch" style="background: %s"></span>`, strings.TrimSpace(color))
	}
	b.WriteString(`</span>`)
}

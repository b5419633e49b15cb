// Package bootstrap generates the inline script that paints the saved theme
// before the page's main bundle runs.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/codr1/themecore/internal/models"
	"github.com/codr1/themecore/internal/storage"
)

// Options configures the generated script. Zero values use the keys and
// attributes the theme core writes.
type Options struct {
	ThemeKey     string
	ModeKey      string
	FontsKey     string
	DefaultTheme string
	DefaultMode  models.Mode
	ThemeAttr    string
	ModeAttr     string
	// DarkClass is added to the root element when the effective mode is dark.
	DarkClass string
	// Nonce is set on the script element for CSP.
	Nonce string
}

func (o Options) withDefaults() Options {
	if o.ThemeKey == "" {
		o.ThemeKey = storage.FastThemeKey
	}
	if o.ModeKey == "" {
		o.ModeKey = storage.FastModeKey
	}
	if o.FontsKey == "" {
		o.FontsKey = storage.FastFontsKey
	}
	if o.DefaultTheme == "" {
		o.DefaultTheme = models.DefaultThemeID
	}
	if !o.DefaultMode.Valid() {
		o.DefaultMode = models.ModeAuto
	}
	if o.ThemeAttr == "" {
		o.ThemeAttr = "data-theme"
	}
	if o.ModeAttr == "" {
		o.ModeAttr = "data-mode"
	}
	if o.DarkClass == "" {
		o.DarkClass = "dark"
	}
	return o
}

const scriptTemplate = `(function(){try{` +
	`var s=window.localStorage,d=document.documentElement;` +
	`var t=s.getItem(%[1]s)||%[4]s;` +
	`var m=s.getItem(%[2]s)||%[5]s;` +
	`if(m==="auto"){m=window.matchMedia&&window.matchMedia("(prefers-color-scheme: dark)").matches?"dark":"light";}` +
	`d.setAttribute(%[6]s,t);d.setAttribute(%[7]s,m);` +
	`if(m==="dark"){d.classList.add(%[8]s);}else{d.classList.remove(%[8]s);}` +
	`var f=s.getItem(%[3]s);if(f){d.setAttribute("data-font-families",JSON.parse(f).join(","));}` +
	`}catch(e){}})();`

// Script returns the bootstrap JavaScript. It reads the fast storage keys
// synchronously and never throws.
func Script(opts Options) string {
	opts = opts.withDefaults()
	return fmt.Sprintf(scriptTemplate,
		jsString(opts.ThemeKey),
		jsString(opts.ModeKey),
		jsString(opts.FontsKey),
		jsString(opts.DefaultTheme),
		jsString(string(opts.DefaultMode)),
		jsString(opts.ThemeAttr),
		jsString(opts.ModeAttr),
		jsString(opts.DarkClass),
	)
}

// jsString quotes s as a JavaScript string literal that cannot close the
// surrounding script element.
func jsString(s string) string {
	data, _ := json.Marshal(s)
	return strings.ReplaceAll(string(data), "</", `<\/`)
}

// Component renders the script inside a <script> element.
func Component(opts Options) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		open := "<script>"
		if opts.Nonce != "" {
			open = `<script nonce="` + html.EscapeString(opts.Nonce) + `">`
		}
		if _, err := io.WriteString(w, open); err != nil {
			return err
		}
		if _, err := io.WriteString(w, Script(opts)); err != nil {
			return err
		}
		_, err := io.WriteString(w, "</script>")
		return err
	})
}

// internal/api/pages/handlers.go
package pages

import (
	"io/fs"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/codr1/themecore/assets"
	"github.com/codr1/themecore/internal/api/apiutil"
	"github.com/codr1/themecore/internal/bootstrap"
	"github.com/codr1/themecore/internal/core"
	"github.com/codr1/themecore/internal/models"
	themetempl "github.com/codr1/themecore/internal/templates/components/themes"
	"github.com/codr1/themecore/internal/templates/layouts"
)

// Handler serves the rendered page, the bootstrap script, theme assets and
// the health check.
type Handler struct {
	core  *core.Context
	title string
}

func NewHandler(c *core.Context, title string) *Handler {
	return &Handler{core: c, title: title}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.HandlePage)
	mux.HandleFunc("GET /bootstrap.js", h.HandleBootstrapScript)
	mux.HandleFunc("GET /health", h.HandleHealth)

	themesFS, err := fs.Sub(assets.StaticFS, "themes")
	if err != nil {
		log.Error().Err(err).Msg("Theme assets unavailable")
		return
	}
	mux.Handle("GET /themes/", http.StripPrefix("/themes/", http.FileServerFS(themesFS)))
}

func (h *Handler) bootstrapOptions() bootstrap.Options {
	return bootstrap.Options{DefaultTheme: models.DefaultThemeID, DefaultMode: models.ModeAuto}
}

// GET /
func (h *Handler) HandlePage(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	rows, err := h.core.Themes.AvailableThemes()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list themes")
		rows = nil
	}
	picker := themetempl.Picker(themetempl.NewPickerData(rows, h.core.Themes.CurrentTheme(), h.core.Themes.CurrentMode()))
	page := layouts.Page(h.core.Document, layouts.PageData{
		Title:     h.title,
		Bootstrap: h.bootstrapOptions(),
	}, picker)

	if !apiutil.RenderHTMLComponent(r.Context(), w, page, nil, "Failed to render page", "Failed to render page") {
		return
	}
}

// GET /bootstrap.js
func (h *Handler) HandleBootstrapScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write([]byte(bootstrap.Script(h.bootstrapOptions()))); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to write bootstrap script")
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Backend string `json:"backend,omitempty"`
	Theme   string `json:"theme,omitempty"`
}

// GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "starting"}
	select {
	case <-h.core.Ready():
		resp = healthResponse{
			Status:  "ok",
			Ready:   true,
			Backend: h.core.Store.Backend(),
			Theme:   h.core.Themes.CurrentTheme(),
		}
	default:
	}
	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	if err := apiutil.WriteJSON(w, status, resp); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to write health response")
	}
}

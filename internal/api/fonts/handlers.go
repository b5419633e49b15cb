// internal/api/fonts/handlers.go
package fonts

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/codr1/themecore/internal/api/apiutil"
	"github.com/codr1/themecore/internal/api/htmx"
	fontmanager "github.com/codr1/themecore/internal/fonts"
	"github.com/codr1/themecore/internal/models"
)

const (
	categoryParam  = "category"
	changedTrigger = "fontsChanged"
)

type fontRequest struct {
	Font string `json:"font"`
}

type previewRequest struct {
	Category models.FontCategory `json:"category"`
	Font     string              `json:"font"`
}

// OverridesResponse is the override state with the resolved fonts.
type OverridesResponse struct {
	Enabled bool                                     `json:"enabled"`
	Fonts   map[models.FontCategory]fontmanager.Font `json:"fonts"`
}

// Handler serves the font override endpoints.
type Handler struct {
	fonts *fontmanager.Manager
}

func NewHandler(fonts *fontmanager.Manager) *Handler {
	return &Handler{fonts: fonts}
}

// RegisterRoutes mounts the font endpoints on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/fonts", h.HandleCatalog)
	mux.HandleFunc("GET /api/v1/fonts/overrides", h.HandleOverrides)
	mux.HandleFunc("PUT /api/v1/fonts/overrides/{category}", h.HandleSetOverride)
	mux.HandleFunc("DELETE /api/v1/fonts/overrides/{category}", h.HandleRemoveOverride)
	mux.HandleFunc("POST /api/v1/fonts/overrides/enable", h.HandleEnable)
	mux.HandleFunc("POST /api/v1/fonts/overrides/disable", h.HandleDisable)
	mux.HandleFunc("POST /api/v1/fonts/overrides/reset", h.HandleReset)
	mux.HandleFunc("POST /api/v1/fonts/preview", h.HandlePreview)
	mux.HandleFunc("DELETE /api/v1/fonts/preview", h.HandleStopPreview)
}

// GET /api/v1/fonts?category=sans|serif|mono
func (h *Handler) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	category := models.FontCategory(r.URL.Query().Get(categoryParam))
	if category != "" && !category.Valid() {
		apiutil.WriteError(w, r, apiutil.FieldError{Field: categoryParam, Reason: "must be sans, serif or mono"})
		return
	}
	writeJSON(w, r, http.StatusOK, h.fonts.Catalog().List(category))
}

// GET /api/v1/fonts/overrides
func (h *Handler) HandleOverrides(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.overrides())
}

func (h *Handler) overrides() OverridesResponse {
	resp := OverridesResponse{
		Enabled: h.fonts.IsEnabled(),
		Fonts:   make(map[models.FontCategory]fontmanager.Font),
	}
	for _, category := range models.FontCategories {
		if font := h.fonts.GetCurrentFont(category); font != nil {
			resp.Fonts[category] = *font
		}
	}
	return resp
}

// PUT /api/v1/fonts/overrides/{category}
func (h *Handler) HandleSetOverride(w http.ResponseWriter, r *http.Request) {
	var req fontRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusBadRequest, Message: "Invalid JSON body", Err: err})
		return
	}
	category := models.FontCategory(r.PathValue(categoryParam))
	if err := h.fonts.SetFontOverride(category, req.Font); err != nil {
		apiutil.WriteError(w, r, mapError(err))
		return
	}
	log.Ctx(r.Context()).Info().Str("category", string(category)).Str("font", req.Font).Msg("Font override set")
	h.respondChanged(w, r)
}

// DELETE /api/v1/fonts/overrides/{category}
func (h *Handler) HandleRemoveOverride(w http.ResponseWriter, r *http.Request) {
	category := models.FontCategory(r.PathValue(categoryParam))
	if err := h.fonts.RemoveFontOverride(category); err != nil {
		apiutil.WriteError(w, r, mapError(err))
		return
	}
	h.respondChanged(w, r)
}

// POST /api/v1/fonts/overrides/enable
func (h *Handler) HandleEnable(w http.ResponseWriter, r *http.Request) {
	h.fonts.EnableOverride()
	h.respondChanged(w, r)
}

// POST /api/v1/fonts/overrides/disable
func (h *Handler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	h.fonts.DisableOverride()
	h.respondChanged(w, r)
}

// POST /api/v1/fonts/overrides/reset
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	h.fonts.ResetOverrides()
	h.respondChanged(w, r)
}

// POST /api/v1/fonts/preview
func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusBadRequest, Message: "Invalid JSON body", Err: err})
		return
	}
	if err := h.fonts.PreviewFont(req.Category, req.Font); err != nil {
		apiutil.WriteError(w, r, mapError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DELETE /api/v1/fonts/preview
func (h *Handler) HandleStopPreview(w http.ResponseWriter, r *http.Request) {
	h.fonts.StopPreview()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondChanged(w http.ResponseWriter, r *http.Request) {
	if htmx.IsRequest(r) {
		htmx.Trigger(w, changedTrigger)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, r, http.StatusOK, h.overrides())
}

func mapError(err error) error {
	var notFound *fontmanager.FontNotFoundError
	switch {
	case errors.Is(err, fontmanager.ErrInvalidCategory):
		return apiutil.HandlerError{Status: http.StatusBadRequest, Message: "Category must be sans, serif or mono", Err: apiutil.FieldError{Field: categoryParam, Reason: "is invalid"}}
	case errors.As(err, &notFound):
		return apiutil.HandlerError{Status: http.StatusNotFound, Message: err.Error(), Err: apiutil.FieldError{Field: "font", Reason: "is unknown"}}
	}
	return apiutil.HandlerError{Status: http.StatusInternalServerError, Message: "Failed to update fonts", Err: err}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	if err := apiutil.WriteJSON(w, status, payload); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to write response")
	}
}

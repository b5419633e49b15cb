// internal/api/themes/handlers.go
package themes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/themecore/internal/api/apiutil"
	"github.com/codr1/themecore/internal/api/htmx"
	"github.com/codr1/themecore/internal/core"
	"github.com/codr1/themecore/internal/installer"
	"github.com/codr1/themecore/internal/models"
	"github.com/codr1/themecore/internal/ratelimit"
	"github.com/codr1/themecore/internal/registry"
	"github.com/codr1/themecore/internal/resources"
	thememanager "github.com/codr1/themecore/internal/themes"
)

const (
	themeRequestTimeout = 10 * time.Second
	themeIDParam        = "id"
	changedTrigger      = "themeChanged"
	installedTrigger    = "themeInstalled"
)

type setThemeRequest struct {
	Theme string `json:"theme"`
	Mode  string `json:"mode"`
}

type installURLRequest struct {
	URL string `json:"url"`
}

type previewRequest struct {
	Payload models.ThemePayload `json:"payload"`
	Mode    string              `json:"mode"`
}

// CurrentResponse describes the active theme.
type CurrentResponse struct {
	Theme         string      `json:"theme"`
	Mode          models.Mode `json:"mode"`
	EffectiveMode models.Mode `json:"effectiveMode"`
	State         string      `json:"state"`
}

type statsResponse struct {
	thememanager.Stats
	Backend  string                       `json:"backend"`
	Prefetch []thememanager.PrefetchEntry `json:"prefetch"`
}

// Handler serves the theme endpoints of one theme core.
type Handler struct {
	core       *core.Context
	limiter    *ratelimit.Limiter
	trustProxy bool
}

// NewHandler returns a Handler. A nil limiter disables install rate limiting.
func NewHandler(c *core.Context, limiter *ratelimit.Limiter, trustProxy bool) *Handler {
	return &Handler{core: c, limiter: limiter, trustProxy: trustProxy}
}

// RegisterRoutes mounts the theme endpoints on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/theme", h.HandleCurrent)
	mux.HandleFunc("PUT /api/v1/theme", h.HandleSetTheme)
	mux.HandleFunc("POST /api/v1/theme/toggle", h.HandleToggleMode)

	mux.HandleFunc("GET /api/v1/themes", h.HandleList)
	mux.HandleFunc("POST /api/v1/themes", h.HandleInstall)
	mux.HandleFunc("POST /api/v1/themes/install", h.HandleInstallFromURL)
	mux.HandleFunc("GET /api/v1/themes/installed", h.HandleIsInstalled)
	mux.HandleFunc("GET /api/v1/themes/index", h.HandleIndex)
	mux.HandleFunc("GET /api/v1/themes/stats", h.HandleStats)
	mux.HandleFunc("POST /api/v1/themes/refresh", h.HandleRefresh)
	mux.HandleFunc("POST /api/v1/themes/preview", h.HandlePreview)
	mux.HandleFunc("DELETE /api/v1/themes/preview", h.HandleClearPreview)
	mux.HandleFunc("GET /api/v1/themes/{id}", h.HandleDetail)
	mux.HandleFunc("DELETE /api/v1/themes/{id}", h.HandleUninstall)
}

func (h *Handler) current() CurrentResponse {
	m := h.core.Themes
	return CurrentResponse{
		Theme:         m.CurrentTheme(),
		Mode:          m.CurrentMode(),
		EffectiveMode: m.EffectiveMode(),
		State:         m.State().String(),
	}
}

// GET /api/v1/theme
func (h *Handler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.current())
}

// PUT /api/v1/theme
func (h *Handler) HandleSetTheme(w http.ResponseWriter, r *http.Request) {
	var req setThemeRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusBadRequest, Message: "Invalid JSON body", Err: err})
		return
	}
	id := strings.TrimSpace(req.Theme)
	if id == "" {
		id = h.core.Themes.CurrentTheme()
	}
	var mode models.Mode
	if strings.TrimSpace(req.Mode) != "" {
		parsed, err := models.ParseMode(req.Mode)
		if err != nil {
			apiutil.WriteError(w, r, apiutil.FieldError{Field: "mode", Reason: "must be light, dark or auto"})
			return
		}
		mode = parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), themeRequestTimeout)
	defer cancel()

	if err := h.core.Themes.SetTheme(ctx, id, mode); err != nil {
		apiutil.WriteError(w, r, mapError(err, "Failed to apply theme"))
		return
	}
	log.Ctx(r.Context()).Info().Str("theme", id).Str("mode", string(mode)).Msg("Theme selected")
	h.respondChanged(w, r)
}

// POST /api/v1/theme/toggle
func (h *Handler) HandleToggleMode(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), themeRequestTimeout)
	defer cancel()

	if err := h.core.Themes.ToggleMode(ctx); err != nil {
		apiutil.WriteError(w, r, mapError(err, "Failed to toggle mode"))
		return
	}
	h.respondChanged(w, r)
}

func (h *Handler) respondChanged(w http.ResponseWriter, r *http.Request) {
	if htmx.IsRequest(r) {
		htmx.Trigger(w, changedTrigger)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, r, http.StatusOK, h.current())
}

// GET /api/v1/themes?category=built-in|installed
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	var (
		list []models.ThemeDescriptor
		err  error
	)
	switch category := models.ThemeCategory(r.URL.Query().Get("category")); category {
	case "":
		list, err = h.core.Themes.AvailableThemes()
	case models.CategoryBuiltIn:
		list, err = h.core.Registry.GetBuiltInThemes()
	case models.CategoryInstalled:
		list, err = h.core.Registry.GetInstalledThemes()
	default:
		apiutil.WriteError(w, r, apiutil.FieldError{Field: "category", Reason: "must be built-in or installed"})
		return
	}
	if err != nil {
		apiutil.WriteError(w, r, mapError(err, "Failed to list themes"))
		return
	}
	if list == nil {
		list = []models.ThemeDescriptor{}
	}
	writeJSON(w, r, http.StatusOK, list)
}

// GET /api/v1/themes/{id}
func (h *Handler) HandleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue(themeIDParam)
	descriptor, err := h.core.Registry.GetTheme(id)
	if err != nil {
		apiutil.WriteError(w, r, mapError(err, "Failed to load theme"))
		return
	}
	if descriptor == nil {
		apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusNotFound, Message: "Theme not found"})
		return
	}
	writeJSON(w, r, http.StatusOK, descriptor)
}

// POST /api/v1/themes
func (h *Handler) HandleInstall(w http.ResponseWriter, r *http.Request) {
	var payload models.ThemePayload
	if err := apiutil.DecodeJSON(r, &payload); err != nil {
		apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusBadRequest, Message: "Invalid JSON body", Err: err})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), themeRequestTimeout)
	defer cancel()

	descriptor, err := h.core.Themes.InstallTheme(ctx, payload, "")
	if err != nil {
		apiutil.WriteError(w, r, mapError(err, "Failed to install theme"))
		return
	}
	log.Ctx(r.Context()).Info().Str("theme", descriptor.ID).Msg("Theme installed")
	h.respondInstalled(w, r, descriptor)
}

// POST /api/v1/themes/install
func (h *Handler) HandleInstallFromURL(w http.ResponseWriter, r *http.Request) {
	var req installURLRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusBadRequest, Message: "Invalid JSON body", Err: err})
		return
	}

	if h.limiter != nil {
		ip := ratelimit.GetClientIP(r, h.trustProxy)
		if result := h.limiter.Check(ip); !result.Allowed {
			ratelimit.LogRateLimitExceeded(ip, result.Reason)
			w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusTooManyRequests, Message: "Too many theme installs, try again later"})
			return
		}
		h.limiter.Record(ip)
	}

	ctx, cancel := context.WithTimeout(r.Context(), themeRequestTimeout)
	defer cancel()

	descriptor, err := h.core.Installer.InstallFromURL(ctx, req.URL)
	if err != nil {
		apiutil.WriteError(w, r, mapError(err, "Failed to install theme"))
		return
	}
	h.respondInstalled(w, r, descriptor)
}

func (h *Handler) respondInstalled(w http.ResponseWriter, r *http.Request, descriptor models.ThemeDescriptor) {
	if htmx.IsRequest(r) {
		htmx.Trigger(w, installedTrigger)
	}
	writeJSON(w, r, http.StatusCreated, descriptor)
}

// GET /api/v1/themes/installed?url=
func (h *Handler) HandleIsInstalled(w http.ResponseWriter, r *http.Request) {
	installed, err := h.core.Installer.IsInstalled(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		apiutil.WriteError(w, r, mapError(err, "Failed to check theme"))
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]bool{"installed": installed})
}

// DELETE /api/v1/themes/{id}
func (h *Handler) HandleUninstall(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue(themeIDParam)

	ctx, cancel := context.WithTimeout(r.Context(), themeRequestTimeout)
	defer cancel()

	if err := h.core.Themes.UninstallTheme(ctx, id); err != nil {
		apiutil.WriteError(w, r, mapError(err, "Failed to uninstall theme"))
		return
	}
	log.Ctx(r.Context()).Info().Str("theme", id).Msg("Theme uninstalled")
	if htmx.IsRequest(r) {
		htmx.Trigger(w, changedTrigger)
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/themes/index
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	if h.core.Listings == nil {
		apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusNotFound, Message: "No theme index configured"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), themeRequestTimeout)
	defer cancel()

	listings, err := h.core.Listings.Fetch(ctx)
	if err != nil {
		apiutil.WriteError(w, r, mapError(err, "Failed to load theme index"))
		return
	}
	writeJSON(w, r, http.StatusOK, listings)
}

// GET /api/v1/themes/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, statsResponse{
		Stats:    h.core.Themes.Stats(),
		Backend:  h.core.Store.Backend(),
		Prefetch: h.core.Themes.PrefetchEntries(),
	})
}

// POST /api/v1/themes/refresh
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), themeRequestTimeout)
	defer cancel()

	if err := h.core.Refresh(ctx); err != nil {
		apiutil.WriteError(w, r, mapError(err, "Failed to refresh themes"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/themes/preview
func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusBadRequest, Message: "Invalid JSON body", Err: err})
		return
	}
	if err := req.Payload.Validate(); err != nil {
		apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusBadRequest, Message: err.Error(), Err: err})
		return
	}
	mode := h.core.Themes.EffectiveMode()
	if strings.TrimSpace(req.Mode) != "" {
		parsed, err := models.ParseMode(req.Mode)
		if err != nil {
			apiutil.WriteError(w, r, apiutil.FieldError{Field: "mode", Reason: "must be light, dark or auto"})
			return
		}
		mode = parsed
	}
	h.core.Themes.ApplyThemeVariablesTemporary(req.Payload, mode)
	w.WriteHeader(http.StatusNoContent)
}

// DELETE /api/v1/themes/preview
func (h *Handler) HandleClearPreview(w http.ResponseWriter, r *http.Request) {
	h.core.Themes.ClearTemporaryTheme()
	w.WriteHeader(http.StatusNoContent)
}

// mapError converts theme core errors into HTTP errors.
func mapError(err error, fallback string) error {
	var statusErr *resources.StatusError
	switch {
	case errors.Is(err, registry.ErrThemeNotFound):
		return apiutil.HandlerError{Status: http.StatusNotFound, Message: "Theme not found", Err: err}
	case errors.Is(err, registry.ErrNotRemovable):
		return apiutil.HandlerError{Status: http.StatusConflict, Message: "Only installed themes can be removed", Err: err}
	case errors.Is(err, registry.ErrInvalidPayload):
		return apiutil.HandlerError{Status: http.StatusBadRequest, Message: err.Error(), Err: err}
	case errors.Is(err, installer.ErrInvalidURL), errors.Is(err, installer.ErrInvalidTheme):
		return apiutil.HandlerError{Status: http.StatusBadRequest, Message: err.Error(), Err: err}
	case errors.Is(err, registry.ErrNotInitialized), errors.Is(err, thememanager.ErrNotReady):
		return apiutil.HandlerError{Status: http.StatusServiceUnavailable, Message: "Themes are not ready", Err: err}
	case errors.As(err, &statusErr):
		return apiutil.HandlerError{Status: http.StatusBadGateway, Message: fmt.Sprintf("Remote server answered %d", statusErr.Status), Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return apiutil.HandlerError{Status: http.StatusGatewayTimeout, Message: "Theme request timed out", Err: err}
	}
	return apiutil.HandlerError{Status: http.StatusInternalServerError, Message: fallback, Err: err}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	if err := apiutil.WriteJSON(w, status, payload); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to write response")
	}
}

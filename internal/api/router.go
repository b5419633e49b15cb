package api

import (
	"net/http"

	"github.com/codr1/themecore/internal/api/fonts"
	"github.com/codr1/themecore/internal/api/pages"
	"github.com/codr1/themecore/internal/api/themes"
	"github.com/codr1/themecore/internal/core"
	"github.com/codr1/themecore/internal/ratelimit"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Title string
	// Limiter throttles installs from URL. Nil disables throttling.
	Limiter    *ratelimit.Limiter
	TrustProxy bool
}

// NewRouter mounts every endpoint of c behind the standard middleware chain.
func NewRouter(c *core.Context, opts RouterOptions) http.Handler {
	mux := http.NewServeMux()
	pages.NewHandler(c, opts.Title).RegisterRoutes(mux)
	themes.NewHandler(c, opts.Limiter, opts.TrustProxy).RegisterRoutes(mux)
	fonts.NewHandler(c.Fonts).RegisterRoutes(mux)

	return ChainMiddleware(
		mux,
		WithReady(c.Ready(), "/health", "/bootstrap.js"),
		WithContentType,
		WithLogging,
		WithRecovery,
		WithRequestID,
	)
}

// cmd/server/server.go
package main

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/codr1/themecore/internal/api"
	"github.com/codr1/themecore/internal/config"
	"github.com/codr1/themecore/internal/core"
	"github.com/codr1/themecore/internal/ratelimit"
)

// newServer returns the HTTP server and a func releasing its resources.
func newServer(cfg *config.Config, themeCore *core.Context) (*http.Server, func()) {
	limiter := ratelimit.New(nil)
	trustProxy, _ := strconv.ParseBool(os.Getenv("TRUST_PROXY"))

	handler := api.NewRouter(themeCore, api.RouterOptions{
		Title:      cfg.App.Name,
		Limiter:    limiter,
		TrustProxy: trustProxy,
	})

	return &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.App.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, limiter.Close
}

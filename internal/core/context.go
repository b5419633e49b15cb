// Package core wires the theme core together. A Context owns every
// component and is passed explicitly to whoever needs it.
package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/codr1/themecore/assets"
	"github.com/codr1/themecore/internal/config"
	"github.com/codr1/themecore/internal/document"
	"github.com/codr1/themecore/internal/events"
	"github.com/codr1/themecore/internal/fonts"
	"github.com/codr1/themecore/internal/installer"
	"github.com/codr1/themecore/internal/models"
	"github.com/codr1/themecore/internal/registry"
	"github.com/codr1/themecore/internal/resources"
	"github.com/codr1/themecore/internal/scheduler"
	"github.com/codr1/themecore/internal/storage"
	"github.com/codr1/themecore/internal/themes"
)

// ReadyEvent is published once Init has finished.
type ReadyEvent struct {
	Theme    string        `json:"theme"`
	Mode     models.Mode   `json:"mode"`
	Backend  string        `json:"backend"`
	Duration time.Duration `json:"duration"`
}

type options struct {
	clock      clockwork.Clock
	client     *http.Client
	appearance document.Appearance
	flat       storage.KeyValue
}

// Option customizes New.
type Option func(*options)

func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithHTTPClient sets the client used for remote stylesheets, themes and fonts.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.client = client }
}

func WithAppearance(appearance document.Appearance) Option {
	return func(o *options) { o.appearance = appearance }
}

// WithFlatStorage replaces the configured flat key-value storage.
func WithFlatStorage(kv storage.KeyValue) Option {
	return func(o *options) { o.flat = kv }
}

// Context holds one theme core instance.
type Context struct {
	Config     config.Config
	Clock      clockwork.Clock
	Document   *document.Document
	Appearance document.Appearance
	Blobs      *resources.Registry
	Fetcher    *resources.Fetcher
	Store      *storage.Store
	Registry   *registry.Registry
	FontLoader *fonts.Loader
	Fonts      *fonts.Manager
	Themes     *themes.Manager
	Installer  *installer.Installer
	// Listings is nil when no theme index is configured.
	Listings  *installer.ListFetcher
	Scheduler *scheduler.Service

	initGroup singleflight.Group
	readyOnce sync.Once
	ready     chan struct{}
	readyEvt  *events.Topic[ReadyEvent]
	closeOnce sync.Once
	closeErr  error
}

// New builds every component from cfg. Nothing is loaded until Init.
func New(cfg config.Config, opts ...Option) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.appearance == nil {
		o.appearance = document.NewStaticAppearance(false)
	}

	flat := o.flat
	if flat == nil {
		if cfg.Storage.LocalStorage != "" {
			ls, err := storage.OpenLocalStorage(cfg.Storage.LocalStorage, cfg.Storage.QuotaBytes)
			if err != nil {
				return nil, fmt.Errorf("open local storage: %w", err)
			}
			flat = ls
		} else {
			flat = storage.NewMemoryStorage(cfg.Storage.QuotaBytes)
		}
	}

	storeOpts := storage.Options{Flat: flat, OpenTimeout: cfg.Storage.OpenTimeout}
	if cfg.Storage.Driver == "sqlite" {
		filename := cfg.Storage.Filename
		storeOpts.OpenPrimary = func(ctx context.Context) (storage.Backend, error) {
			return storage.OpenSQLiteBackend(ctx, filename)
		}
	}

	catalog, err := fonts.DefaultCatalog()
	if err != nil {
		return nil, fmt.Errorf("load font catalog: %w", err)
	}
	sched, err := scheduler.New(o.clock)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	c := &Context{
		Config:     cfg,
		Clock:      o.clock,
		Document:   document.New(),
		Appearance: o.appearance,
		Blobs:      resources.NewRegistry(),
		Store:      storage.New(storeOpts),
		Scheduler:  sched,
		ready:      make(chan struct{}),
		readyEvt:   events.NewTopic[ReadyEvent]("ready"),
	}
	c.Fetcher = resources.NewFetcher(resources.FetcherConfig{
		Client:  o.client,
		BaseURL: cfg.Themes.BaseURL,
		Static:  assets.StaticFS,
		Blobs:   c.Blobs,
	})
	c.Registry = registry.New(c.Store, c.Fetcher, c.Blobs, cfg.Themes.ManifestPath, registry.WithClock(o.clock))
	c.FontLoader = fonts.NewLoader(fonts.LoaderConfig{
		Client:        o.client,
		StylesheetURL: cfg.Fonts.StylesheetURL,
		Document:      c.Document,
		Clock:         o.clock,
		Window:        cfg.Fonts.BatchWindow,
		Timeout:       cfg.Fonts.BatchTimeout,
	})
	c.Fonts = fonts.NewManager(fonts.Options{
		Store:        c.Store,
		Catalog:      catalog,
		Loader:       c.FontLoader,
		Document:     c.Document,
		Clock:        o.clock,
		InitTimeout:  cfg.Fonts.InitTimeout,
		SaveDebounce: cfg.Fonts.SaveDebounce,
	})
	c.Themes = themes.NewManager(themes.Options{
		Registry:           c.Registry,
		Store:              c.Store,
		Fetcher:            c.Fetcher,
		Document:           c.Document,
		Appearance:         o.appearance,
		Fonts:              c.Fonts,
		Clock:              o.clock,
		InitTimeout:        cfg.Themes.InitTimeout,
		SaveDebounce:       cfg.Themes.SaveDebounce,
		TransitionDuration: cfg.Themes.TransitionDuration,
		PrefetchIDs:        cfg.Themes.PrefetchIDs,
	})
	c.Installer = installer.New(c.Fetcher, c.Themes, c.Store)
	if cfg.Themes.IndexURL != "" {
		c.Listings = installer.NewListFetcher(c.Fetcher, cfg.Themes.IndexURL, cfg.Themes.IndexTTL, o.clock)
	}
	return c, nil
}

// Init loads the store, the registry, font overrides and the saved theme,
// then schedules background work. Concurrent calls share one run. Failures
// degrade to the default theme instead of failing Init.
func (c *Context) Init(ctx context.Context) error {
	_, err, _ := c.initGroup.Do("init", func() (interface{}, error) {
		select {
		case <-c.ready:
			return nil, nil
		default:
		}
		return nil, c.initialize(ctx)
	})
	return err
}

func (c *Context) initialize(ctx context.Context) error {
	started := c.Clock.Now()
	logger := log.With().Str("component", "themecore").Logger()

	ctx, cancel := context.WithTimeout(ctx, c.Config.Themes.InitTimeout)
	defer cancel()

	if err := c.Store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	if err := c.Registry.Init(ctx); err != nil {
		logger.Warn().Err(err).Msg("Theme registry failed to load")
	}
	if err := c.Fonts.Init(ctx); err != nil {
		logger.Warn().Err(err).Msg("Font overrides unavailable")
	}
	if err := c.Themes.Init(ctx); err != nil {
		return fmt.Errorf("init themes: %w", err)
	}
	if d, err := c.Registry.GetTheme(models.DefaultThemeID); err == nil && d == nil {
		logger.Error().Msg("Default theme is not registered")
	}

	if err := scheduler.RegisterPrefetchJob(c.Scheduler, c.Themes, c.Config.Themes.PrefetchDelay); err != nil {
		logger.Warn().Err(err).Msg("Failed to schedule theme prefetch")
	}
	if c.Config.Themes.RefreshCron != "" {
		if err := scheduler.RegisterManifestRefreshJob(c.Scheduler, c, c.Config.Themes.RefreshCron); err != nil {
			logger.Warn().Err(err).Msg("Failed to schedule manifest refresh")
		}
	}
	c.Scheduler.Start()

	evt := ReadyEvent{
		Theme:    c.Themes.CurrentTheme(),
		Mode:     c.Themes.CurrentMode(),
		Backend:  c.Store.Backend(),
		Duration: c.Clock.Since(started),
	}
	c.readyOnce.Do(func() { close(c.ready) })
	c.readyEvt.Publish(evt)
	logger.Info().
		Str("theme", evt.Theme).
		Str("mode", string(evt.Mode)).
		Str("backend", evt.Backend).
		Dur("duration", evt.Duration).
		Msg("Theme core ready")
	return nil
}

// Refresh reloads the registry and re-applies the active theme, whose
// stylesheet references may have changed.
func (c *Context) Refresh(ctx context.Context) error {
	if err := c.Registry.Refresh(ctx); err != nil {
		return err
	}
	if err := c.Themes.Reapply(ctx); err != nil && !errors.Is(err, themes.ErrNotReady) {
		return err
	}
	return nil
}

// Ready is closed once Init has finished.
func (c *Context) Ready() <-chan struct{} {
	return c.ready
}

// OnReady subscribes fn to the ready event. The returned func unsubscribes.
func (c *Context) OnReady(fn func(ReadyEvent)) func() {
	return c.readyEvt.Subscribe(fn)
}

// Close flushes pending writes, stops background work and closes the store.
func (c *Context) Close() error {
	c.closeOnce.Do(func() {
		c.Themes.Close()
		c.Fonts.Close()
		var errs []error
		if err := c.Scheduler.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
		}
		if err := c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// Package registry maps theme ids to descriptors, merging the built-in
// manifest with themes installed in the durable store.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/codr1/themecore/internal/models"
	"github.com/codr1/themecore/internal/resources"
)

var (
	ErrNotInitialized = errors.New("theme registry is not initialized")
	ErrThemeNotFound  = errors.New("theme not found")
	ErrNotRemovable   = errors.New("only installed themes can be removed")
	ErrInvalidPayload = errors.New("invalid theme payload")
)

// Store is the durable store the registry reads installed themes from.
type Store interface {
	Init(ctx context.Context) error
	GetAllThemes(ctx context.Context) ([]models.CachedThemeRecord, error)
	StoreTheme(ctx context.Context, record models.CachedThemeRecord) error
	DeleteTheme(ctx context.Context, name string) error
}

// Fetcher loads the manifest document.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// forgetter is implemented by fetchers that cache content per reference.
type forgetter interface {
	Forget(refs ...string)
}

type Option func(*Registry)

// WithClock sets the clock used for install timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Registry) {
		r.clock = clock
	}
}

// Registry is safe for concurrent use. Every read fails with
// ErrNotInitialized until Init has completed.
type Registry struct {
	store       Store
	fetcher     Fetcher
	blobs       *resources.Registry
	manifestRef string
	clock       clockwork.Clock

	group singleflight.Group

	mu          sync.RWMutex
	initialized bool
	manifest    Manifest
	builtIn     []models.ThemeDescriptor
	installed   []models.ThemeDescriptor
	themes      map[string]models.ThemeDescriptor
}

func New(store Store, fetcher Fetcher, blobs *resources.Registry, manifestRef string, opts ...Option) *Registry {
	r := &Registry{
		store:       store,
		fetcher:     fetcher,
		blobs:       blobs,
		manifestRef: manifestRef,
		clock:       clockwork.NewRealClock(),
		themes:      make(map[string]models.ThemeDescriptor),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Init loads the manifest and the installed themes. Concurrent calls share
// one load; calls after a successful load return immediately.
func (r *Registry) Init(ctx context.Context) error {
	if r.isInitialized() {
		return nil
	}
	_, err, _ := r.group.Do("load", func() (interface{}, error) {
		if r.isInitialized() {
			return nil, nil
		}
		return nil, r.load(ctx)
	})
	return err
}

// Refresh drops all state, including synthesized stylesheets, and loads
// again from the manifest and the store.
func (r *Registry) Refresh(ctx context.Context) error {
	r.mu.Lock()
	r.initialized = false
	r.manifest = Manifest{}
	r.builtIn = nil
	r.installed = nil
	r.themes = make(map[string]models.ThemeDescriptor)
	r.mu.Unlock()
	r.forget(r.blobs.ReleaseAll())

	_, err, _ := r.group.Do("load", func() (interface{}, error) {
		return nil, r.load(ctx)
	})
	return err
}

func (r *Registry) load(ctx context.Context) error {
	manifest := r.loadManifest(ctx)

	if err := r.store.Init(ctx); err != nil {
		return fmt.Errorf("init theme store: %w", err)
	}
	records, err := r.store.GetAllThemes(ctx)
	if err != nil {
		return fmt.Errorf("load installed themes: %w", err)
	}

	installed := make([]models.ThemeDescriptor, 0, len(records))
	for _, record := range records {
		installed = append(installed, descriptorFromRecord(record, r.blobs))
	}

	themes := make(map[string]models.ThemeDescriptor, len(manifest.Themes)+len(installed))
	for _, theme := range manifest.Themes {
		themes[theme.ID] = theme
	}
	for _, theme := range installed {
		themes[theme.ID] = theme
	}

	r.mu.Lock()
	r.manifest = manifest
	r.builtIn = manifest.Themes
	r.installed = installed
	r.themes = themes
	r.initialized = true
	r.mu.Unlock()

	log.Info().
		Int("built_in", len(manifest.Themes)).
		Int("installed", len(installed)).
		Msg("Theme registry initialized")
	return nil
}

// loadManifest returns an empty manifest when it cannot be fetched or parsed.
func (r *Registry) loadManifest(ctx context.Context) Manifest {
	data, err := r.fetcher.Fetch(ctx, r.manifestRef)
	if err != nil {
		log.Error().Err(err).Str("ref", r.manifestRef).Msg("Failed to fetch theme manifest, continuing without built-in themes")
		return Manifest{}
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		log.Error().Err(err).Str("ref", r.manifestRef).Msg("Failed to parse theme manifest, continuing without built-in themes")
		return Manifest{}
	}
	return manifest
}

func (r *Registry) isInitialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

func (r *Registry) forget(handles []string) {
	if len(handles) == 0 {
		return
	}
	if f, ok := r.fetcher.(forgetter); ok {
		f.Forget(handles...)
	}
}

// Manifest returns the loaded built-in manifest.
func (r *Registry) Manifest() (Manifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized {
		return Manifest{}, ErrNotInitialized
	}
	return r.manifest, nil
}

// GetAvailableThemes lists built-in themes in manifest order followed by
// installed themes. A built-in theme shadowed by an installed one is listed
// once, as installed.
func (r *Registry) GetAvailableThemes() ([]models.ThemeDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized {
		return nil, ErrNotInitialized
	}
	themes := make([]models.ThemeDescriptor, 0, len(r.themes))
	for _, theme := range r.builtIn {
		if r.themes[theme.ID].Category == models.CategoryBuiltIn {
			themes = append(themes, theme)
		}
	}
	return append(themes, r.installed...), nil
}

// GetTheme returns nil when id is unknown.
func (r *Registry) GetTheme(id string) (*models.ThemeDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized {
		return nil, ErrNotInitialized
	}
	theme, ok := r.themes[id]
	if !ok {
		return nil, nil
	}
	return &theme, nil
}

func (r *Registry) GetBuiltInThemes() ([]models.ThemeDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized {
		return nil, ErrNotInitialized
	}
	return append([]models.ThemeDescriptor(nil), r.builtIn...), nil
}

func (r *Registry) GetInstalledThemes() ([]models.ThemeDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized {
		return nil, ErrNotInitialized
	}
	return append([]models.ThemeDescriptor(nil), r.installed...), nil
}

// InstallTheme persists payload and registers it under its name. Installing
// a name again overwrites the previous theme.
func (r *Registry) InstallTheme(ctx context.Context, payload models.ThemePayload, sourceURL string) (models.ThemeDescriptor, error) {
	if !r.isInitialized() {
		return models.ThemeDescriptor{}, ErrNotInitialized
	}
	if err := payload.Validate(); err != nil {
		return models.ThemeDescriptor{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	record := models.CachedThemeRecord{
		Name:      payload.Name,
		SourceURL: sourceURL,
		Payload:   payload,
		Installed: true,
		Timestamp: r.clock.Now().UnixMilli(),
	}
	if err := r.store.StoreTheme(ctx, record); err != nil {
		return models.ThemeDescriptor{}, fmt.Errorf("persist theme %q: %w", payload.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.forget(r.blobs.Release(record.Name))
	descriptor := descriptorFromRecord(record, r.blobs)

	replaced := false
	for i := range r.installed {
		if r.installed[i].ID == descriptor.ID {
			r.installed[i] = descriptor
			replaced = true
			break
		}
	}
	if !replaced {
		r.installed = append(r.installed, descriptor)
	}
	r.themes[descriptor.ID] = descriptor

	log.Info().Str("theme", descriptor.ID).Str("source_url", sourceURL).Msg("Theme installed")
	return descriptor, nil
}

// UninstallTheme removes an installed theme. A built-in theme it shadowed
// becomes visible again.
func (r *Registry) UninstallTheme(ctx context.Context, id string) error {
	r.mu.RLock()
	initialized := r.initialized
	theme, ok := r.themes[id]
	r.mu.RUnlock()
	if !initialized {
		return ErrNotInitialized
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrThemeNotFound, id)
	}
	if theme.Category != models.CategoryInstalled {
		return fmt.Errorf("%w: %s is %s", ErrNotRemovable, id, theme.Category)
	}

	if err := r.store.DeleteTheme(ctx, id); err != nil {
		return fmt.Errorf("delete theme %q: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.installed {
		if r.installed[i].ID == id {
			r.installed = append(r.installed[:i], r.installed[i+1:]...)
			break
		}
	}
	delete(r.themes, id)
	for _, builtIn := range r.builtIn {
		if builtIn.ID == id {
			r.themes[id] = builtIn
			break
		}
	}
	r.forget(r.blobs.Release(id))

	log.Info().Str("theme", id).Msg("Theme uninstalled")
	return nil
}

package fonts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/codr1/themecore/internal/cssvars"
	"github.com/codr1/themecore/internal/debounce"
	"github.com/codr1/themecore/internal/document"
	"github.com/codr1/themecore/internal/models"
)

const (
	BaseStyleID     = "themecore-font-base"
	PreviewStyleID  = "themecore-font-preview"
	OverrideAttr    = "data-font-override"
	PreviewAttr     = "data-font-preview"
	VariablePrefix  = "--font-override-"
	defaultInit     = 5 * time.Second
	defaultDebounce = 100 * time.Millisecond
	configSaveLimit = 5 * time.Second
)

var ErrInvalidCategory = errors.New("invalid font category")

// FontNotFoundError is returned for ids missing from the catalog.
type FontNotFoundError struct {
	ID string
}

func (e *FontNotFoundError) Error() string {
	return fmt.Sprintf("font %q not found", e.ID)
}

// ConfigStore persists the override config and mirrors the active families.
type ConfigStore interface {
	SaveFontConfig(ctx context.Context, cfg models.FontOverrideConfig) error
	LoadFontConfig(ctx context.Context) (*models.FontOverrideConfig, error)
	SetFastFonts(families []string)
}

// Options configures a Manager. Store, Catalog and Document are required.
type Options struct {
	Store        ConfigStore
	Catalog      *Catalog
	Loader       *Loader
	Document     *document.Document
	Clock        clockwork.Clock
	InitTimeout  time.Duration
	SaveDebounce time.Duration
}

// Manager keeps font overrides separate from theme variables: the base
// stylesheet is injected once and later changes only touch root variables.
type Manager struct {
	store       ConfigStore
	catalog     *Catalog
	loader      *Loader
	doc         *document.Document
	clock       clockwork.Clock
	initTimeout time.Duration
	saver       *debounce.Coalescer[models.FontOverrideConfig]

	mu           sync.Mutex
	cfg          models.FontOverrideConfig
	baseInjected bool
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		store:       opts.Store,
		catalog:     opts.Catalog,
		loader:      opts.Loader,
		doc:         opts.Document,
		clock:       opts.Clock,
		initTimeout: opts.InitTimeout,
		cfg:         models.DefaultFontOverrideConfig(),
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.initTimeout <= 0 {
		m.initTimeout = defaultInit
	}
	delay := opts.SaveDebounce
	if delay <= 0 {
		delay = defaultDebounce
	}
	m.saver = debounce.New(m.clock, delay, m.saveConfig)
	return m
}

func (m *Manager) saveConfig(cfg models.FontOverrideConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), configSaveLimit)
	defer cancel()
	if err := m.store.SaveFontConfig(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("Failed to persist font overrides")
	}
}

// Init loads the saved config and applies it. It never fails; a missing or
// unreadable config leaves overrides disabled.
func (m *Manager) Init(ctx context.Context) error {
	cfg := m.loadConfig(ctx)

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()

	m.injectBase()
	if cfg.Enabled {
		for _, id := range cfg.Fonts {
			if font, ok := m.catalog.Get(id); ok {
				m.requestRemote(font)
			}
		}
	}
	m.apply()
	log.Info().Bool("enabled", cfg.Enabled).Int("overrides", len(cfg.Fonts)).Msg("Font manager ready")
	return nil
}

func (m *Manager) loadConfig(ctx context.Context) models.FontOverrideConfig {
	ctx, cancel := context.WithTimeout(ctx, m.initTimeout)
	defer cancel()

	type result struct {
		cfg *models.FontOverrideConfig
		err error
	}
	done := make(chan result, 1)
	go func() {
		cfg, err := m.store.LoadFontConfig(ctx)
		done <- result{cfg: cfg, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			log.Warn().Err(r.err).Msg("Failed to load font overrides, using defaults")
			return models.DefaultFontOverrideConfig()
		}
		if r.cfg == nil {
			return models.DefaultFontOverrideConfig()
		}
		return m.sanitize(*r.cfg)
	case <-ctx.Done():
		log.Warn().Err(ctx.Err()).Msg("Loading font overrides timed out, using defaults")
		return models.DefaultFontOverrideConfig()
	}
}

// sanitize drops entries with unknown categories or fonts.
func (m *Manager) sanitize(cfg models.FontOverrideConfig) models.FontOverrideConfig {
	clean := cfg.Clone()
	for category, id := range clean.Fonts {
		if _, ok := m.catalog.Get(id); !category.Valid() || !ok {
			log.Warn().Str("category", string(category)).Str("font", id).Msg("Dropping unknown font override")
			delete(clean.Fonts, category)
		}
	}
	return clean
}

func (m *Manager) injectBase() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.baseInjected {
		return
	}
	m.doc.SetStyleElement(BaseStyleID, baseStylesheet())
	m.baseInjected = true
}

var categorySelectors = map[models.FontCategory]string{
	models.FontSans:  "body",
	models.FontSerif: ":is(h1, h2, h3, h4, h5, h6, blockquote, .font-serif)",
	models.FontMono:  ":is(code, kbd, pre, samp, .font-mono)",
}

var categoryFallbacks = map[models.FontCategory]string{
	models.FontSans:  "system-ui, sans-serif",
	models.FontSerif: "Georgia, serif",
	models.FontMono:  "ui-monospace, monospace",
}

func baseStylesheet() string {
	var b strings.Builder
	for _, category := range models.FontCategories {
		fmt.Fprintf(&b, "html[%s=\"on\"] %s, html[%s=\"on\"] %s { font-family: var(%s%s, %s); }\n",
			OverrideAttr, categorySelectors[category],
			PreviewAttr, categorySelectors[category],
			VariablePrefix, category, categoryFallbacks[category])
	}
	return b.String()
}

// apply writes the root variables for the current config.
func (m *Manager) apply() {
	m.mu.Lock()
	cfg := m.cfg.Clone()
	m.mu.Unlock()

	var families []string
	for _, category := range models.FontCategories {
		name := VariablePrefix + string(category)
		font, ok := m.catalog.Get(cfg.Fonts[category])
		if !cfg.Enabled || !ok {
			m.doc.RemoveProperty(name)
			continue
		}
		m.doc.SetProperty(name, font.Stack())
		families = append(families, font.Family)
	}

	if cfg.Enabled {
		m.doc.SetAttribute(OverrideAttr, "on")
	} else {
		m.doc.SetAttribute(OverrideAttr, "off")
	}
	m.store.SetFastFonts(families)
}

func (m *Manager) requestRemote(font Font) {
	if m.loader == nil || !font.IsRemote() {
		return
	}
	done := m.loader.Request(font)
	go func() {
		if err := <-done; err != nil {
			log.Warn().Err(err).Str("font", font.ID).Msg("Remote font unavailable")
		}
	}()
}

// update mutates the config, schedules a save and re-applies.
func (m *Manager) update(fn func(cfg *models.FontOverrideConfig)) {
	m.mu.Lock()
	fn(&m.cfg)
	m.cfg.Timestamp = m.clock.Now().UnixMilli()
	snapshot := m.cfg.Clone()
	m.mu.Unlock()

	m.saver.Push(snapshot)
	m.apply()
}

func (m *Manager) lookup(category models.FontCategory, fontID string) (Font, error) {
	if !category.Valid() {
		return Font{}, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	font, ok := m.catalog.Get(fontID)
	if !ok {
		return Font{}, &FontNotFoundError{ID: fontID}
	}
	return font, nil
}

// SetFontOverride selects fontID for category.
func (m *Manager) SetFontOverride(category models.FontCategory, fontID string) error {
	font, err := m.lookup(category, fontID)
	if err != nil {
		return err
	}
	m.requestRemote(font)
	m.update(func(cfg *models.FontOverrideConfig) {
		if cfg.Fonts == nil {
			cfg.Fonts = make(map[models.FontCategory]string)
		}
		cfg.Fonts[category] = font.ID
	})
	return nil
}

func (m *Manager) RemoveFontOverride(category models.FontCategory) error {
	if !category.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	m.update(func(cfg *models.FontOverrideConfig) {
		delete(cfg.Fonts, category)
	})
	return nil
}

// ResetOverrides clears every override and disables them.
func (m *Manager) ResetOverrides() {
	m.update(func(cfg *models.FontOverrideConfig) {
		cfg.Enabled = false
		cfg.Fonts = make(map[models.FontCategory]string)
	})
}

// GetCurrentFont returns the override of category, or nil when none is set.
func (m *Manager) GetCurrentFont(category models.FontCategory) *Font {
	m.mu.Lock()
	id := m.cfg.Fonts[category]
	m.mu.Unlock()
	font, ok := m.catalog.Get(id)
	if !ok {
		return nil
	}
	return &font
}

func (m *Manager) EnableOverride() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.cfg.Fonts))
	for _, id := range m.cfg.Fonts {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		if font, ok := m.catalog.Get(id); ok {
			m.requestRemote(font)
		}
	}
	m.update(func(cfg *models.FontOverrideConfig) { cfg.Enabled = true })
}

func (m *Manager) DisableOverride() {
	m.update(func(cfg *models.FontOverrideConfig) { cfg.Enabled = false })
}

func (m *Manager) IsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Enabled
}

// Config returns a copy of the current config.
func (m *Manager) Config() models.FontOverrideConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Clone()
}

func (m *Manager) Catalog() *Catalog {
	return m.catalog
}

// PreviewFont shows fontID in category without saving or enabling
// overrides, until StopPreview.
func (m *Manager) PreviewFont(category models.FontCategory, fontID string) error {
	font, err := m.lookup(category, fontID)
	if err != nil {
		return err
	}
	m.requestRemote(font)
	m.doc.SetStyleElement(PreviewStyleID, cssvars.ImportantStylesheet(map[string]string{
		VariablePrefix + string(category): font.Stack(),
	}))
	m.doc.SetAttribute(PreviewAttr, "on")
	return nil
}

func (m *Manager) StopPreview() {
	m.doc.RemoveStyleElement(PreviewStyleID)
	m.doc.RemoveAttribute(PreviewAttr)
}

// LoadFamilies requests the remote fonts among families. Families missing
// from the catalog are reported in the error; the rest still load.
func (m *Manager) LoadFamilies(_ context.Context, families []string) error {
	var unknown []string
	for _, family := range families {
		font, ok := m.catalog.ByFamily(family)
		if !ok {
			unknown = append(unknown, family)
			continue
		}
		m.requestRemote(font)
	}
	if len(unknown) > 0 {
		return fmt.Errorf("fonts not in catalog: %s", strings.Join(unknown, ", "))
	}
	return nil
}

// Flush writes a pending config now.
func (m *Manager) Flush() {
	m.saver.Flush()
}

// Close flushes the pending config and stops the loader.
func (m *Manager) Close() {
	m.saver.Stop()
	if m.loader != nil {
		m.loader.Close()
	}
}

// Package themes applies themes to the live document and tracks the active
// theme and mode.
package themes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/codr1/themecore/internal/cssvars"
	"github.com/codr1/themecore/internal/debounce"
	"github.com/codr1/themecore/internal/document"
	"github.com/codr1/themecore/internal/events"
	"github.com/codr1/themecore/internal/models"
)

const (
	TransitionClass  = "theme-transition"
	PreviewStyleID   = "themecore-preview"
	ThemeAttribute   = "data-theme"
	ModeAttribute    = "data-mode"
	defaultInitLimit = 10 * time.Second
	defaultDebounce  = 200 * time.Millisecond
	defaultFade      = 200 * time.Millisecond
	pointerSaveLimit = 5 * time.Second
)

var (
	ErrDefaultThemeMissing = errors.New("default theme is not registered")
	ErrNotReady            = errors.New("theme manager is not initialized")
)

// Registry resolves theme ids to descriptors.
type Registry interface {
	Init(ctx context.Context) error
	GetTheme(id string) (*models.ThemeDescriptor, error)
	GetAvailableThemes() ([]models.ThemeDescriptor, error)
	GetBuiltInThemes() ([]models.ThemeDescriptor, error)
	InstallTheme(ctx context.Context, payload models.ThemePayload, sourceURL string) (models.ThemeDescriptor, error)
	UninstallTheme(ctx context.Context, id string) error
}

// PointerStore persists the active theme and mode.
type PointerStore interface {
	SaveModePointer(ctx context.Context, p models.ModePointer) error
	LoadModePointer(ctx context.Context) (*models.ModePointer, error)
	FastPointer() (theme string, mode models.Mode, ok bool)
}

// Fetcher loads theme stylesheets.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
	Warm(ctx context.Context, ref string) error
}

// FontLoader loads the font families a theme declares.
type FontLoader interface {
	LoadFamilies(ctx context.Context, families []string) error
}

type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	}
	return "uninitialized"
}

// ThemeChangedEvent is published after a theme change has been applied.
type ThemeChangedEvent struct {
	Theme         string      `json:"theme"`
	Mode          models.Mode `json:"mode"`
	EffectiveMode models.Mode `json:"effectiveMode"`
	PreviousTheme string      `json:"previousTheme"`
	PreviousMode  models.Mode `json:"previousMode"`
}

// Stats reports apply and prefetch counters.
type Stats struct {
	Applies        int64 `json:"applies"`
	PrefetchHits   int64 `json:"prefetchHits"`
	PrefetchMisses int64 `json:"prefetchMisses"`
	Prefetched     int   `json:"prefetched"`
}

// Options configures a Manager. Registry, Store, Fetcher and Document are
// required.
type Options struct {
	Registry   Registry
	Store      PointerStore
	Fetcher    Fetcher
	Document   *document.Document
	Appearance document.Appearance
	Fonts      FontLoader
	Clock      clockwork.Clock

	InitTimeout        time.Duration
	SaveDebounce       time.Duration
	TransitionDuration time.Duration
	// PrefetchIDs limits Prefetch to these themes. Empty means every
	// built-in theme.
	PrefetchIDs []string
}

// Manager owns the active theme. SetTheme calls are not serialized against
// each other: the document reflects the application that finished last.
type Manager struct {
	registry   Registry
	store      PointerStore
	fetcher    Fetcher
	doc        *document.Document
	appearance document.Appearance
	fonts      FontLoader
	clock      clockwork.Clock

	initTimeout        time.Duration
	transitionDuration time.Duration
	prefetchIDs        []string

	initGroup singleflight.Group
	state     atomic.Int32
	saver     *debounce.Coalescer[models.ModePointer]

	mu         sync.Mutex
	theme      string
	mode       models.Mode
	applied    map[string]struct{}
	abandoned  bool
	transition clockwork.Timer
	prefetch   map[string]PrefetchState

	applies        atomic.Int64
	prefetchHits   atomic.Int64
	prefetchMisses atomic.Int64

	changed     *events.Topic[ThemeChangedEvent]
	installed   *events.Topic[models.ThemeDescriptor]
	uninstalled *events.Topic[string]
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		registry:           opts.Registry,
		store:              opts.Store,
		fetcher:            opts.Fetcher,
		doc:                opts.Document,
		appearance:         opts.Appearance,
		fonts:              opts.Fonts,
		clock:              opts.Clock,
		initTimeout:        opts.InitTimeout,
		transitionDuration: opts.TransitionDuration,
		prefetchIDs:        opts.PrefetchIDs,
		theme:              models.DefaultThemeID,
		mode:               models.ModeAuto,
		applied:            make(map[string]struct{}),
		prefetch:           make(map[string]PrefetchState),
		changed:            events.NewTopic[ThemeChangedEvent]("theme-changed"),
		installed:          events.NewTopic[models.ThemeDescriptor]("theme-installed"),
		uninstalled:        events.NewTopic[string]("theme-uninstalled"),
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.appearance == nil {
		m.appearance = document.NewStaticAppearance(false)
	}
	if m.initTimeout <= 0 {
		m.initTimeout = defaultInitLimit
	}
	if m.transitionDuration <= 0 {
		m.transitionDuration = defaultFade
	}
	saveDelay := opts.SaveDebounce
	if saveDelay <= 0 {
		saveDelay = defaultDebounce
	}
	m.saver = debounce.New(m.clock, saveDelay, m.savePointer)
	return m
}

func (m *Manager) savePointer(p models.ModePointer) {
	ctx, cancel := context.WithTimeout(context.Background(), pointerSaveLimit)
	defer cancel()
	if err := m.store.SaveModePointer(ctx, p); err != nil {
		log.Error().Err(err).Str("theme", p.CurrentTheme).Msg("Failed to persist theme selection")
	}
}

// Init initializes the registry, restores the saved theme and applies it.
// It never fails: on timeout or error the manager is ready with the default
// theme in auto mode.
func (m *Manager) Init(ctx context.Context) error {
	if m.State() == StateReady {
		return nil
	}
	_, _, _ = m.initGroup.Do("init", func() (interface{}, error) {
		if m.State() == StateReady {
			return nil, nil
		}
		m.state.Store(int32(StateInitializing))
		m.initialize(ctx)
		m.state.Store(int32(StateReady))
		return nil, nil
	})
	return nil
}

type initResult struct {
	theme string
	mode  models.Mode
	err   error
}

func (m *Manager) initialize(ctx context.Context) {
	initCtx, cancel := context.WithTimeout(ctx, m.initTimeout)
	defer cancel()

	done := make(chan initResult)
	abandon := make(chan struct{})
	go func() {
		theme, mode, err := m.restore(initCtx)
		select {
		case done <- initResult{theme: theme, mode: mode, err: err}:
		case <-abandon:
			m.resync()
		}
	}()

	var result initResult
	timedOut := false
	select {
	case result = <-done:
	case <-initCtx.Done():
		result.err = fmt.Errorf("theme initialization: %w", initCtx.Err())
		timedOut = true
	}

	m.mu.Lock()
	if result.err != nil {
		m.theme, m.mode = models.DefaultThemeID, models.ModeAuto
		m.abandoned = timedOut
	} else {
		m.theme, m.mode = result.theme, result.mode
	}
	m.mu.Unlock()

	if result.err != nil {
		if timedOut {
			close(abandon)
		}
		log.Error().Err(result.err).Msg("Theme initialization failed, using default theme")
		m.applyFallback(ctx)
		return
	}
	log.Info().Str("theme", result.theme).Str("mode", string(result.mode)).Msg("Theme manager ready")
}

// applyFallback writes the default theme in auto mode after a failed
// initialization. When the registry is still loading the write is left to
// resync.
func (m *Manager) applyFallback(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.initTimeout)
	defer cancel()
	if _, err := m.applyTheme(ctx, models.DefaultThemeID, models.ModeAuto, applyOptions{}); err != nil {
		log.Warn().Err(err).Msg("Default theme not applied, waiting for the registry")
	}
}

// resync applies the current selection once an abandoned restore returns, so
// the document matches CurrentTheme and CurrentMode.
func (m *Manager) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), m.initTimeout)
	defer cancel()
	if _, err := m.applyTheme(ctx, m.CurrentTheme(), m.CurrentMode(), applyOptions{}); err != nil {
		log.Error().Err(err).Msg("Failed to apply theme after abandoned initialization")
	}
}

// restore loads the registry and the saved pointer and applies it.
func (m *Manager) restore(ctx context.Context) (string, models.Mode, error) {
	if err := m.registry.Init(ctx); err != nil {
		return "", "", err
	}

	theme, mode := models.DefaultThemeID, models.ModeAuto
	pointer, err := m.store.LoadModePointer(ctx)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("Failed to load saved theme, trying fast storage")
		fallthrough
	case pointer == nil:
		if fastTheme, fastMode, ok := m.store.FastPointer(); ok && fastMode.Valid() {
			theme, mode = fastTheme, fastMode
		}
	default:
		if pointer.CurrentTheme != "" {
			theme = pointer.CurrentTheme
		}
		if pointer.CurrentMode.Valid() {
			mode = pointer.CurrentMode
		}
	}

	applied, err := m.applyTheme(ctx, theme, mode, applyOptions{restoring: true})
	if err != nil {
		return "", "", err
	}
	return applied, mode, nil
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) CurrentTheme() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.theme
}

func (m *Manager) CurrentMode() models.Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// EffectiveMode resolves the current mode against the system appearance.
func (m *Manager) EffectiveMode() models.Mode {
	return m.resolveMode(m.CurrentMode())
}

func (m *Manager) resolveMode(mode models.Mode) models.Mode {
	if mode != models.ModeAuto {
		return mode
	}
	if m.appearance.PrefersDark() {
		return models.ModeDark
	}
	return models.ModeLight
}

// SetTheme switches to id in mode. An empty mode keeps the current one.
// Calling it with the current theme and mode does nothing.
func (m *Manager) SetTheme(ctx context.Context, id string, mode models.Mode) error {
	if m.State() != StateReady {
		return ErrNotReady
	}

	m.mu.Lock()
	if mode == "" {
		mode = m.mode
	}
	if !mode.Valid() {
		m.mu.Unlock()
		return fmt.Errorf("invalid mode %q", mode)
	}
	if id == m.theme && mode == m.mode {
		m.mu.Unlock()
		return nil
	}
	previousTheme, previousMode := m.theme, m.mode
	m.theme, m.mode = id, mode
	m.mu.Unlock()

	m.saver.Push(models.ModePointer{
		CurrentTheme: id,
		CurrentMode:  mode,
		Timestamp:    m.clock.Now().UnixMilli(),
	})

	if _, err := m.applyTheme(ctx, id, mode, applyOptions{transition: true}); err != nil {
		return err
	}

	m.changed.Publish(ThemeChangedEvent{
		Theme:         id,
		Mode:          mode,
		EffectiveMode: m.resolveMode(mode),
		PreviousTheme: previousTheme,
		PreviousMode:  previousMode,
	})
	return nil
}

// ToggleMode switches between light and dark based on the effective mode.
func (m *Manager) ToggleMode(ctx context.Context) error {
	next := models.ModeDark
	if m.EffectiveMode() == models.ModeDark {
		next = models.ModeLight
	}
	return m.SetTheme(ctx, m.CurrentTheme(), next)
}

// Reapply writes the active theme onto the document again, for example after
// the registry reloaded and its stylesheet references changed.
func (m *Manager) Reapply(ctx context.Context) error {
	if m.State() != StateReady {
		return ErrNotReady
	}
	_, err := m.applyTheme(ctx, m.CurrentTheme(), m.CurrentMode(), applyOptions{})
	return err
}

type applyOptions struct {
	transition bool
	// restoring marks the write of the saved selection during Init. It is
	// dropped once Init gave up and fell back to the default.
	restoring bool
}

// applyTheme writes the variables of id in mode onto the document root and
// returns the id that was applied, which is the default theme when id is
// unknown.
func (m *Manager) applyTheme(ctx context.Context, id string, mode models.Mode, opts applyOptions) (string, error) {
	resolved := m.resolveMode(mode)

	applied, err := m.apply(ctx, id, resolved, opts)
	if err != nil {
		m.doc.RemoveClass(TransitionClass)
		log.Error().Err(err).Str("theme", id).Str("mode", string(resolved)).Msg("Failed to apply theme")
		return "", err
	}
	m.applies.Add(1)
	return applied, nil
}

func (m *Manager) apply(ctx context.Context, id string, resolved models.Mode, opts applyOptions) (string, error) {
	descriptor, err := m.registry.GetTheme(id)
	if err != nil {
		return "", err
	}
	if descriptor == nil {
		log.Warn().Str("theme", id).Msg("Unknown theme, falling back to default")
		descriptor, err = m.registry.GetTheme(models.DefaultThemeID)
		if err != nil {
			return "", err
		}
		if descriptor == nil {
			return "", ErrDefaultThemeMissing
		}
	}

	m.recordPrefetchUse(descriptor.ID, resolved)

	ref := descriptor.Modes.Ref(resolved)
	css, err := m.fetcher.Fetch(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("load stylesheet for %s (%s): %w", descriptor.ID, resolved, err)
	}
	vars := cssvars.ExtractRootMap(string(css))

	if opts.transition {
		m.startTransition()
	}

	m.mu.Lock()
	if opts.restoring && m.abandoned {
		m.mu.Unlock()
		log.Debug().Str("theme", descriptor.ID).Msg("Initialization abandoned, dropping restored theme")
		return descriptor.ID, nil
	}
	stale := make([]string, 0, len(m.applied))
	for name := range m.applied {
		if _, ok := vars[name]; !ok {
			stale = append(stale, name)
		}
	}
	m.applied = make(map[string]struct{}, len(vars))
	for name := range vars {
		m.applied[name] = struct{}{}
	}
	for _, name := range stale {
		m.doc.RemoveProperty(name)
	}
	m.doc.SetProperties(vars)
	m.doc.SetAttribute(ThemeAttribute, descriptor.ID)
	m.doc.SetAttribute(ModeAttribute, string(resolved))
	m.mu.Unlock()

	if families := descriptor.Fonts.Families(); m.fonts != nil && len(families) > 0 {
		if err := m.fonts.LoadFamilies(ctx, families); err != nil {
			log.Warn().Err(err).Str("theme", descriptor.ID).Msg("Failed to load theme fonts")
		}
	}

	log.Debug().
		Str("theme", descriptor.ID).
		Str("mode", string(resolved)).
		Int("variables", len(vars)).
		Msg("Theme applied")
	return descriptor.ID, nil
}

func (m *Manager) startTransition() {
	m.doc.AddClass(TransitionClass)
	doc := m.doc

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transition != nil {
		m.transition.Stop()
	}
	m.transition = m.clock.AfterFunc(m.transitionDuration, func() {
		doc.RemoveClass(TransitionClass)
	})
}

// ApplyThemeVariablesTemporary previews payload without changing the active
// theme or persisting anything. The preview overrides the applied theme until
// ClearTemporaryTheme.
func (m *Manager) ApplyThemeVariablesTemporary(payload models.ThemePayload, mode models.Mode) {
	if mode == "" {
		mode = m.CurrentMode()
	}
	vars := payload.CSSVars.ForMode(m.resolveMode(mode))
	m.doc.SetStyleElement(PreviewStyleID, cssvars.ImportantStylesheet(vars))
}

func (m *Manager) ClearTemporaryTheme() {
	m.doc.RemoveStyleElement(PreviewStyleID)
}

// AvailableThemes lists every theme of the registry.
func (m *Manager) AvailableThemes() ([]models.ThemeDescriptor, error) {
	return m.registry.GetAvailableThemes()
}

// InstallTheme registers payload and announces it. Reinstalling the active
// theme re-applies it.
func (m *Manager) InstallTheme(ctx context.Context, payload models.ThemePayload, sourceURL string) (models.ThemeDescriptor, error) {
	descriptor, err := m.registry.InstallTheme(ctx, payload, sourceURL)
	if err != nil {
		return models.ThemeDescriptor{}, err
	}
	m.installed.Publish(descriptor)

	if m.State() == StateReady && m.CurrentTheme() == descriptor.ID {
		if _, err := m.applyTheme(ctx, descriptor.ID, m.CurrentMode(), applyOptions{}); err != nil {
			return descriptor, err
		}
	}
	return descriptor, nil
}

// UninstallTheme removes an installed theme. When it is active the document
// switches to the theme now registered under the id, or to the default.
func (m *Manager) UninstallTheme(ctx context.Context, id string) error {
	if err := m.registry.UninstallTheme(ctx, id); err != nil {
		return err
	}
	m.uninstalled.Publish(id)

	if m.State() != StateReady || m.CurrentTheme() != id {
		return nil
	}
	if descriptor, err := m.registry.GetTheme(id); err == nil && descriptor != nil {
		_, err := m.applyTheme(ctx, id, m.CurrentMode(), applyOptions{transition: true})
		return err
	}
	return m.SetTheme(ctx, models.DefaultThemeID, "")
}

func (m *Manager) OnThemeChange(fn func(ThemeChangedEvent)) func() {
	return m.changed.Subscribe(fn)
}

func (m *Manager) OnThemeInstalled(fn func(models.ThemeDescriptor)) func() {
	return m.installed.Subscribe(fn)
}

func (m *Manager) OnThemeUninstalled(fn func(string)) func() {
	return m.uninstalled.Subscribe(fn)
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	prefetched := len(m.prefetch)
	m.mu.Unlock()
	return Stats{
		Applies:        m.applies.Load(),
		PrefetchHits:   m.prefetchHits.Load(),
		PrefetchMisses: m.prefetchMisses.Load(),
		Prefetched:     prefetched,
	}
}

// Flush writes a pending theme selection now.
func (m *Manager) Flush() {
	m.saver.Flush()
}

// Close flushes the pending selection and stops accepting new ones.
func (m *Manager) Close() {
	m.saver.Stop()
	m.mu.Lock()
	if m.transition != nil {
		m.transition.Stop()
		m.transition = nil
	}
	m.mu.Unlock()
}

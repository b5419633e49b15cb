// Package storage is the durable store of the theme core: theme records, the
// font override config and the theme/mode pointer, kept in SQLite when it can
// be opened and in flat key-value storage otherwise.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/codr1/themecore/internal/models"
)

const (
	// SentinelPrefix marks reserved records that are not user themes.
	SentinelPrefix  = "__themecore:"
	modePointerName = SentinelPrefix + "mode"
	fontConfigName  = SentinelPrefix + "fonts"

	legacyKeyPrefix      = "theme-cache:"
	migrationSentinelKey = "themes-migrated"

	// Fast storage keys, read synchronously before the durable store is open.
	FastThemeKey = "theme-current"
	FastModeKey  = "theme-mode"
	FastFontsKey = "font-families"

	defaultOpenTimeout = 5 * time.Second
)

var (
	ErrReservedName = errors.New("theme name is reserved")
	ErrClosed       = errors.New("theme store is closed")
)

// OpenFunc opens the primary backend.
type OpenFunc func(ctx context.Context) (Backend, error)

// Options configures a Store.
type Options struct {
	// Flat backs the fallback tier and the fast pointer keys. Nil uses an
	// unbounded MemoryStorage.
	Flat KeyValue
	// OpenPrimary opens the structured backend. Nil disables it.
	OpenPrimary OpenFunc
	// OpenTimeout bounds OpenPrimary. Zero means 5s.
	OpenTimeout time.Duration
}

// Store is safe for concurrent use.
type Store struct {
	flat        KeyValue
	openPrimary OpenFunc
	openTimeout time.Duration

	initGroup singleflight.Group

	mu      sync.RWMutex
	backend Backend
	closed  bool
}

func New(opts Options) *Store {
	flat := opts.Flat
	if flat == nil {
		flat = NewMemoryStorage(0)
	}
	timeout := opts.OpenTimeout
	if timeout <= 0 {
		timeout = defaultOpenTimeout
	}
	return &Store{
		flat:        flat,
		openPrimary: opts.OpenPrimary,
		openTimeout: timeout,
	}
}

// IsSentinel reports whether name is a reserved record name.
func IsSentinel(name string) bool {
	return strings.HasPrefix(name, SentinelPrefix)
}

// Init selects the backend for the session. It never fails because of the
// primary backend: any open failure or timeout falls back to flat storage.
// Concurrent calls share one initialization.
func (s *Store) Init(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	if s.active() != nil {
		return nil
	}
	_, err, _ := s.initGroup.Do("init", func() (interface{}, error) {
		if s.isClosed() {
			return nil, ErrClosed
		}
		if s.active() != nil {
			return nil, nil
		}
		backend := s.open(ctx)
		if backend == nil {
			backend = NewFlatBackend(s.flat)
		}
		if backend.Name() == BackendSQLite {
			s.migrateLegacy(ctx, backend)
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = backend.Close()
			return nil, ErrClosed
		}
		s.backend = backend
		s.mu.Unlock()
		log.Info().Str("backend", backend.Name()).Msg("Theme store initialized")
		return nil, nil
	})
	return err
}

// Backend returns the active backend name, or "" before Init.
func (s *Store) Backend() string {
	if b := s.active(); b != nil {
		return b.Name()
	}
	return ""
}

// Close releases the active backend. Every later call fails with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.backend == nil {
		return nil
	}
	err := s.backend.Close()
	s.backend = nil
	return err
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Store) active() Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend
}

func (s *Store) ready(ctx context.Context) (Backend, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if b := s.active(); b != nil {
		return b, nil
	}
	return nil, ErrClosed
}

func (s *Store) open(ctx context.Context) Backend {
	if s.openPrimary == nil {
		log.Info().Msg("Structured store disabled, using flat storage")
		return nil
	}

	openCtx, cancel := context.WithTimeout(ctx, s.openTimeout)
	defer cancel()

	type result struct {
		backend Backend
		err     error
	}
	done := make(chan result, 1)
	go func() {
		b, err := s.openPrimary(openCtx)
		done <- result{backend: b, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			log.Warn().Err(r.err).Msg("Structured store unavailable, falling back to flat storage")
			return nil
		}
		return r.backend
	case <-openCtx.Done():
		log.Warn().
			Err(openCtx.Err()).
			Dur("timeout", s.openTimeout).
			Msg("Structured store open timed out, falling back to flat storage")
		go func() {
			if r := <-done; r.backend != nil {
				_ = r.backend.Close()
			}
		}()
		return nil
	}
}

// migrateLegacy moves theme-cache: entries from flat storage into the
// structured backend, once.
func (s *Store) migrateLegacy(ctx context.Context, primary Backend) {
	if v, ok := s.flat.GetItem(migrationSentinelKey); ok && v == "1" {
		return
	}
	moved := 0
	for _, key := range s.flat.Keys() {
		if !strings.HasPrefix(key, legacyKeyPrefix) {
			continue
		}
		raw, ok := s.flat.GetItem(key)
		if !ok {
			continue
		}
		var record models.CachedThemeRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Skipping unreadable legacy theme entry")
			continue
		}
		if record.Name == "" {
			record.Name = strings.TrimPrefix(key, legacyKeyPrefix)
		}
		entry, err := entryFromRecord(record)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Skipping legacy theme entry")
			continue
		}
		if err := primary.Put(ctx, entry); err != nil {
			log.Warn().Err(err).Str("theme", record.Name).Msg("Failed to migrate legacy theme entry")
			continue
		}
		if err := s.flat.RemoveItem(key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to remove migrated legacy entry")
		}
		moved++
	}
	if err := s.flat.SetItem(migrationSentinelKey, "1"); err != nil {
		log.Warn().Err(err).Msg("Failed to record legacy migration")
	}
	log.Info().Int("migrated", moved).Msg("Legacy theme migration complete")
}

// put writes e. Failures of the flat backend are logged and swallowed.
func (s *Store) put(ctx context.Context, e Entry) error {
	backend, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if err := backend.Put(ctx, e); err != nil {
		if backend.Name() == BackendFlat {
			log.Warn().Err(err).Str("name", e.Name).Msg("Flat storage write failed, continuing without persistence")
			return nil
		}
		return fmt.Errorf("store %q: %w", e.Name, err)
	}
	return nil
}

func entryFromRecord(record models.CachedThemeRecord) (Entry, error) {
	payload, err := json.Marshal(record.Payload)
	if err != nil {
		return Entry{}, fmt.Errorf("encode theme %q: %w", record.Name, err)
	}
	return Entry{
		Name:      record.Name,
		SourceURL: record.SourceURL,
		Payload:   payload,
		Installed: record.Installed,
		Timestamp: record.Timestamp,
	}, nil
}

func recordFromEntry(e Entry) (models.CachedThemeRecord, error) {
	record := models.CachedThemeRecord{
		Name:      e.Name,
		SourceURL: e.SourceURL,
		Installed: e.Installed,
		Timestamp: e.Timestamp,
	}
	if err := json.Unmarshal(e.Payload, &record.Payload); err != nil {
		return models.CachedThemeRecord{}, fmt.Errorf("decode theme %q: %w", e.Name, err)
	}
	return record, nil
}

// StoreTheme inserts or overwrites the record with the same name.
func (s *Store) StoreTheme(ctx context.Context, record models.CachedThemeRecord) error {
	if strings.TrimSpace(record.Name) == "" {
		return errors.New("theme name is required")
	}
	if IsSentinel(record.Name) {
		return fmt.Errorf("%w: %s", ErrReservedName, record.Name)
	}
	entry, err := entryFromRecord(record)
	if err != nil {
		return err
	}
	return s.put(ctx, entry)
}

// GetTheme returns nil when the theme is not stored.
func (s *Store) GetTheme(ctx context.Context, name string) (*models.CachedThemeRecord, error) {
	if IsSentinel(name) {
		return nil, nil
	}
	backend, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	e, err := backend.Get(ctx, name)
	if err != nil || e == nil {
		return nil, err
	}
	record, err := recordFromEntry(*e)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// GetAllThemes returns every user theme sorted by name. Reserved records and
// unreadable entries are skipped.
func (s *Store) GetAllThemes(ctx context.Context) ([]models.CachedThemeRecord, error) {
	backend, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := backend.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list themes: %w", err)
	}
	records := make([]models.CachedThemeRecord, 0, len(entries))
	for _, e := range entries {
		if IsSentinel(e.Name) {
			continue
		}
		record, err := recordFromEntry(e)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping unreadable theme record")
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

// DeleteTheme removes name. Deleting an absent theme is not an error.
func (s *Store) DeleteTheme(ctx context.Context, name string) error {
	if IsSentinel(name) {
		return fmt.Errorf("%w: %s", ErrReservedName, name)
	}
	backend, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if err := backend.Delete(ctx, name); err != nil {
		if backend.Name() == BackendFlat {
			log.Warn().Err(err).Str("name", name).Msg("Flat storage delete failed")
			return nil
		}
		return fmt.Errorf("delete %q: %w", name, err)
	}
	return nil
}

// ThemeExistsByURL reports whether a stored theme was installed from url.
func (s *Store) ThemeExistsByURL(ctx context.Context, url string) (bool, error) {
	records, err := s.GetAllThemes(ctx)
	if err != nil {
		return false, err
	}
	for _, record := range records {
		if record.SourceURL == url {
			return true, nil
		}
	}
	return false, nil
}

// MarkInstalled sets the installed flag of name. Absent themes are ignored.
func (s *Store) MarkInstalled(ctx context.Context, name string) error {
	record, err := s.GetTheme(ctx, name)
	if err != nil || record == nil {
		return err
	}
	if record.Installed {
		return nil
	}
	record.Installed = true
	return s.StoreTheme(ctx, *record)
}

func (s *Store) putConfig(ctx context.Context, name string, v interface{}, timestamp int64) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return s.put(ctx, Entry{Name: name, Payload: payload, Timestamp: timestamp})
}

// getConfig decodes the reserved record name into v. It reports false when
// the record is absent.
func (s *Store) getConfig(ctx context.Context, name string, v interface{}) (bool, error) {
	backend, err := s.ready(ctx)
	if err != nil {
		return false, err
	}
	e, err := backend.Get(ctx, name)
	if err != nil || e == nil {
		return false, err
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

// SaveModePointer persists the pointer and, once that succeeded, mirrors it
// into fast storage.
func (s *Store) SaveModePointer(ctx context.Context, p models.ModePointer) error {
	if err := s.putConfig(ctx, modePointerName, p, p.Timestamp); err != nil {
		return err
	}
	if err := s.flat.SetItem(FastThemeKey, p.CurrentTheme); err != nil {
		log.Warn().Err(err).Msg("Failed to mirror theme into fast storage")
	}
	if err := s.flat.SetItem(FastModeKey, string(p.CurrentMode)); err != nil {
		log.Warn().Err(err).Msg("Failed to mirror mode into fast storage")
	}
	return nil
}

// LoadModePointer returns nil when no pointer was saved.
func (s *Store) LoadModePointer(ctx context.Context) (*models.ModePointer, error) {
	var p models.ModePointer
	ok, err := s.getConfig(ctx, modePointerName, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (s *Store) SaveFontConfig(ctx context.Context, cfg models.FontOverrideConfig) error {
	return s.putConfig(ctx, fontConfigName, cfg, cfg.Timestamp)
}

// LoadFontConfig returns nil when no config was saved.
func (s *Store) LoadFontConfig(ctx context.Context) (*models.FontOverrideConfig, error) {
	var cfg models.FontOverrideConfig
	ok, err := s.getConfig(ctx, fontConfigName, &cfg)
	if err != nil || !ok {
		return nil, err
	}
	return &cfg, nil
}

// FastPointer reads the mirrored theme and mode without touching the durable
// backends.
func (s *Store) FastPointer() (theme string, mode models.Mode, ok bool) {
	theme, okTheme := s.flat.GetItem(FastThemeKey)
	rawMode, okMode := s.flat.GetItem(FastModeKey)
	if !okTheme || !okMode {
		return "", "", false
	}
	return theme, models.Mode(rawMode), true
}

// SetFastFonts mirrors the active font family list into fast storage.
func (s *Store) SetFastFonts(families []string) {
	if len(families) == 0 {
		if err := s.flat.RemoveItem(FastFontsKey); err != nil {
			log.Warn().Err(err).Msg("Failed to clear fast font families")
		}
		return
	}
	data, err := json.Marshal(families)
	if err != nil {
		return
	}
	if err := s.flat.SetItem(FastFontsKey, string(data)); err != nil {
		log.Warn().Err(err).Msg("Failed to mirror font families into fast storage")
	}
}

// FastFonts returns the mirrored font family list.
func (s *Store) FastFonts() []string {
	raw, ok := s.flat.GetItem(FastFontsKey)
	if !ok {
		return nil
	}
	var families []string
	if err := json.Unmarshal([]byte(raw), &families); err != nil {
		return nil
	}
	return families
}

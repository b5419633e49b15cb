package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codr1/themecore/internal/config"
	"github.com/codr1/themecore/internal/models"
	"github.com/codr1/themecore/internal/storage"
	"github.com/codr1/themecore/internal/themes"
)

func testConfig(t *testing.T, dir string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Filename = filepath.Join(dir, "themecore.db")
	cfg.Storage.LocalStorage = filepath.Join(dir, "local.json")
	cfg.Themes.PrefetchDelay = 0
	cfg.Themes.SaveDebounce = 10 * time.Millisecond

	fontServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		_, _ = w.Write([]byte("@font-face { font-family: 'Test'; }"))
	}))
	t.Cleanup(fontServer.Close)
	cfg.Fonts.StylesheetURL = fontServer.URL
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return cfg
}

func newContext(t *testing.T, cfg config.Config, opts ...Option) *Context {
	t.Helper()
	c, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestInitAppliesDefaultAndSignalsReady(t *testing.T) {
	c := newContext(t, testConfig(t, t.TempDir()))

	var events atomic.Int32
	var got ReadyEvent
	c.OnReady(func(evt ReadyEvent) {
		got = evt
		events.Add(1)
	})

	select {
	case <-c.Ready():
		t.Fatalf("Ready() closed before Init")
	default:
	}

	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("second Init() error = %v", err)
	}

	select {
	case <-c.Ready():
	default:
		t.Fatalf("Ready() not closed after Init")
	}
	if events.Load() != 1 {
		t.Fatalf("ready events = %d, want 1", events.Load())
	}
	if got.Theme != models.DefaultThemeID || got.Mode != models.ModeAuto {
		t.Fatalf("ready event = %+v, want default/auto", got)
	}
	if got.Backend != storage.BackendSQLite {
		t.Fatalf("ready backend = %q, want sqlite", got.Backend)
	}
	if theme, _ := c.Document.Attribute(themes.ThemeAttribute); theme != models.DefaultThemeID {
		t.Fatalf("data-theme = %q, want default", theme)
	}
	if _, ok := c.Document.StyleElement("themecore-font-base"); !ok {
		t.Fatalf("font base stylesheet not injected")
	}
}

func TestInitSchedulesPrefetch(t *testing.T) {
	c := newContext(t, testConfig(t, t.TempDir()))
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	waitFor(t, "prefetched stylesheets", func() bool {
		entries := c.Themes.PrefetchEntries()
		if len(entries) == 0 {
			return false
		}
		for _, entry := range entries {
			if entry.State != themes.PrefetchResolved {
				return false
			}
		}
		return true
	})
}

func TestSelectionSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	first, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := first.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := first.Themes.SetTheme(context.Background(), "ocean", models.ModeDark); err != nil {
		t.Fatalf("SetTheme() error = %v", err)
	}
	if err := first.Fonts.SetFontOverride(models.FontMono, "system-mono"); err != nil {
		t.Fatalf("SetFontOverride() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second := newContext(t, cfg)
	if err := second.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if second.Themes.CurrentTheme() != "ocean" || second.Themes.CurrentMode() != models.ModeDark {
		t.Fatalf("restored %s/%s, want ocean/dark", second.Themes.CurrentTheme(), second.Themes.CurrentMode())
	}
	if font := second.Fonts.GetCurrentFont(models.FontMono); font == nil || font.ID != "system-mono" {
		t.Fatalf("restored mono font = %+v, want system-mono", font)
	}
}

func TestFlatDriverSkipsDatabase(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Storage.Driver = "flat"
	c := newContext(t, cfg, WithFlatStorage(storage.NewMemoryStorage(0)))

	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if got := c.Store.Backend(); got != storage.BackendFlat {
		t.Fatalf("Backend() = %q, want flat", got)
	}
}

func TestRefreshReappliesActiveTheme(t *testing.T) {
	c := newContext(t, testConfig(t, t.TempDir()))
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	payload := models.ThemePayload{
		Name:    "acme",
		CSSVars: models.CSSVariablesByMode{Light: models.CSSVariables{"--primary": "#111111"}},
	}
	if _, err := c.Themes.InstallTheme(context.Background(), payload, ""); err != nil {
		t.Fatalf("InstallTheme() error = %v", err)
	}
	if err := c.Themes.SetTheme(context.Background(), "acme", models.ModeLight); err != nil {
		t.Fatalf("SetTheme() error = %v", err)
	}
	before := c.Themes.Stats().Applies

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := c.Themes.Stats().Applies; got != before+1 {
		t.Fatalf("applies after refresh = %d, want %d", got, before+1)
	}
	if got, _ := c.Document.Property("--primary"); got != "#111111" {
		t.Fatalf("--primary = %q, want #111111", got)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(config.Config{}); err == nil {
		t.Fatalf("New(zero config) expected error")
	}

	cfg := testConfig(t, t.TempDir())
	cfg.Themes.InitTimeout = 0
	if _, err := New(cfg); err == nil {
		t.Fatalf("New(zero init timeout) expected error")
	}
}

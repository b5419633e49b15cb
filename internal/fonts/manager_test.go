package fonts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/codr1/themecore/internal/document"
	"github.com/codr1/themecore/internal/models"
)

type mockConfigStore struct {
	mu      sync.Mutex
	saved   []models.FontOverrideConfig
	load    *models.FontOverrideConfig
	loadErr error
	block   chan struct{}
	fast    []string
}

func (m *mockConfigStore) SaveFontConfig(_ context.Context, cfg models.FontOverrideConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, cfg)
	return nil
}

func (m *mockConfigStore) LoadFontConfig(ctx context.Context) (*models.FontOverrideConfig, error) {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.load, m.loadErr
}

func (m *mockConfigStore) SetFastFonts(families []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fast = families
}

func (m *mockConfigStore) savedConfigs() []models.FontOverrideConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.FontOverrideConfig(nil), m.saved...)
}

func newTestManager(t *testing.T, store *mockConfigStore) (*Manager, clockwork.FakeClock, *document.Document) {
	t.Helper()
	catalog, err := DefaultCatalog()
	if err != nil {
		t.Fatalf("DefaultCatalog() error = %v", err)
	}
	clock := clockwork.NewFakeClock()
	doc := document.New()
	m := NewManager(Options{
		Store:    store,
		Catalog:  catalog,
		Document: doc,
		Clock:    clock,
	})
	t.Cleanup(m.Close)
	return m, clock, doc
}

func TestSetFontOverrideDebouncesSaves(t *testing.T) {
	store := &mockConfigStore{}
	m, clock, _ := newTestManager(t, store)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	for _, id := range []string{"inter", "roboto", "nunito"} {
		if err := m.SetFontOverride(models.FontSans, id); err != nil {
			t.Fatalf("SetFontOverride(%s) error = %v", id, err)
		}
	}
	if got := store.savedConfigs(); len(got) != 0 {
		t.Fatalf("saved before the debounce window: %+v", got)
	}

	clock.Advance(defaultDebounce)
	deadline := time.Now().Add(2 * time.Second)
	for len(store.savedConfigs()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	saved := store.savedConfigs()
	if len(saved) != 1 {
		t.Fatalf("saves = %d, want 1", len(saved))
	}
	if saved[0].Fonts[models.FontSans] != "nunito" {
		t.Fatalf("saved sans = %q, want nunito", saved[0].Fonts[models.FontSans])
	}
}

func TestSetFontOverrideValidation(t *testing.T) {
	m, _, _ := newTestManager(t, &mockConfigStore{})

	err := m.SetFontOverride(models.FontSans, "comic-sans")
	var notFound *FontNotFoundError
	if !errors.As(err, &notFound) || notFound.ID != "comic-sans" {
		t.Fatalf("SetFontOverride(unknown) error = %v, want FontNotFoundError", err)
	}
	if err := m.SetFontOverride("cursive", "inter"); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("SetFontOverride(bad category) error = %v, want ErrInvalidCategory", err)
	}
	if err := m.RemoveFontOverride("cursive"); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("RemoveFontOverride(bad category) error = %v, want ErrInvalidCategory", err)
	}
}

func TestOverridesApplyOnlyWhenEnabled(t *testing.T) {
	store := &mockConfigStore{}
	m, _, doc := newTestManager(t, store)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if _, ok := doc.StyleElement(BaseStyleID); !ok {
		t.Fatalf("base stylesheet not injected")
	}

	if err := m.SetFontOverride(models.FontMono, "fira-code"); err != nil {
		t.Fatalf("SetFontOverride() error = %v", err)
	}
	if _, ok := doc.Property(VariablePrefix + "mono"); ok {
		t.Fatalf("variable set while overrides are disabled")
	}

	m.EnableOverride()
	got, _ := doc.Property(VariablePrefix + "mono")
	if !strings.HasPrefix(got, "'Fira Code'") {
		t.Fatalf("mono variable = %q", got)
	}
	if v, _ := doc.Attribute(OverrideAttr); v != "on" {
		t.Fatalf("%s = %q, want on", OverrideAttr, v)
	}
	store.mu.Lock()
	fast := store.fast
	store.mu.Unlock()
	if len(fast) != 1 || fast[0] != "Fira Code" {
		t.Fatalf("fast fonts = %v", fast)
	}
	if font := m.GetCurrentFont(models.FontMono); font == nil || font.ID != "fira-code" {
		t.Fatalf("GetCurrentFont(mono) = %+v", font)
	}

	if err := m.RemoveFontOverride(models.FontMono); err != nil {
		t.Fatalf("RemoveFontOverride() error = %v", err)
	}
	if _, ok := doc.Property(VariablePrefix + "mono"); ok {
		t.Fatalf("variable left after RemoveFontOverride")
	}

	m.SetFontOverride(models.FontSans, "inter")
	m.ResetOverrides()
	if m.IsEnabled() || len(m.Config().Fonts) != 0 {
		t.Fatalf("config after reset = %+v", m.Config())
	}
}

func TestInitNeverFails(t *testing.T) {
	tests := []struct {
		name  string
		store *mockConfigStore
	}{
		{name: "load_error", store: &mockConfigStore{loadErr: errors.New("corrupt")}},
		{name: "timeout", store: &mockConfigStore{block: make(chan struct{})}},
		{name: "unknown_font", store: &mockConfigStore{load: &models.FontOverrideConfig{
			Enabled: true,
			Fonts:   map[models.FontCategory]string{models.FontSans: "gone"},
		}}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			catalog, _ := DefaultCatalog()
			m := NewManager(Options{
				Store:       test.store,
				Catalog:     catalog,
				Document:    document.New(),
				InitTimeout: 20 * time.Millisecond,
			})
			defer m.Close()
			if err := m.Init(context.Background()); err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			if len(m.Config().Fonts) != 0 {
				t.Fatalf("Config() = %+v, want no overrides", m.Config())
			}
		})
	}
}

func TestPreviewFont(t *testing.T) {
	m, _, doc := newTestManager(t, &mockConfigStore{})

	if err := m.PreviewFont(models.FontSerif, "lora"); err != nil {
		t.Fatalf("PreviewFont() error = %v", err)
	}
	css, ok := doc.StyleElement(PreviewStyleID)
	if !ok || !strings.Contains(css, "!important") || !strings.Contains(css, "Lora") {
		t.Fatalf("preview css = %q", css)
	}
	if m.GetCurrentFont(models.FontSerif) != nil {
		t.Fatalf("preview changed the config")
	}
	m.StopPreview()
	if _, ok := doc.StyleElement(PreviewStyleID); ok {
		t.Fatalf("preview css left after StopPreview")
	}
	if _, ok := doc.Attribute(PreviewAttr); ok {
		t.Fatalf("preview attribute left after StopPreview")
	}
}

func TestLoadFamiliesReportsUnknown(t *testing.T) {
	m, _, _ := newTestManager(t, &mockConfigStore{})
	if err := m.LoadFamilies(context.Background(), []string{"Inter", "Lora"}); err != nil {
		t.Fatalf("LoadFamilies(known) error = %v", err)
	}
	if err := m.LoadFamilies(context.Background(), []string{"Papyrus"}); err == nil {
		t.Fatalf("LoadFamilies(unknown) expected error")
	}
}

func TestCatalog(t *testing.T) {
	catalog, err := DefaultCatalog()
	if err != nil {
		t.Fatalf("DefaultCatalog() error = %v", err)
	}
	if font, ok := catalog.ByFamily("jetbrains mono"); !ok || font.ID != "jetbrains-mono" {
		t.Fatalf("ByFamily() = %+v, %t", font, ok)
	}
	for _, font := range catalog.List(models.FontSerif) {
		if font.Category != models.FontSerif {
			t.Fatalf("List(serif) returned %+v", font)
		}
	}
	if _, err := NewCatalog([]Font{{ID: "x", Family: "X", Category: "sans", Source: "cdn"}}); err == nil {
		t.Fatalf("NewCatalog(bad source) expected error")
	}
}

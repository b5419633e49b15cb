package registry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/codr1/themecore/assets"
	"github.com/codr1/themecore/internal/cssvars"
	"github.com/codr1/themecore/internal/models"
	"github.com/codr1/themecore/internal/resources"
	"github.com/codr1/themecore/internal/testutil"
)

func newTestRegistry(t *testing.T) (*Registry, *resources.Registry, *resources.Fetcher) {
	t.Helper()
	blobs := resources.NewRegistry()
	fetcher := resources.NewFetcher(resources.FetcherConfig{Static: assets.StaticFS, Blobs: blobs})
	store := testutil.NewTestStore(t, true, nil)
	reg := New(store, fetcher, blobs, assets.ManifestPath)
	if err := reg.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return reg, blobs, fetcher
}

func acmePayload(primary string) models.ThemePayload {
	return models.ThemePayload{
		Name: "acme",
		CSSVars: models.CSSVariablesByMode{
			Theme: models.CSSVariables{"--radius": "2px"},
			Light: models.CSSVariables{"--primary": primary, "--background": "#ffffff"},
			Dark:  models.CSSVariables{"--primary": "#eeeeee"},
		},
	}
}

func TestRegistryRequiresInit(t *testing.T) {
	reg := New(testutil.NewTestStore(t, false, nil), resources.NewFetcher(resources.FetcherConfig{}), resources.NewRegistry(), assets.ManifestPath)

	if _, err := reg.GetAvailableThemes(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("GetAvailableThemes() error = %v, want ErrNotInitialized", err)
	}
	if _, err := reg.GetTheme("default"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("GetTheme() error = %v, want ErrNotInitialized", err)
	}
	if _, err := reg.GetBuiltInThemes(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("GetBuiltInThemes() error = %v, want ErrNotInitialized", err)
	}
	if _, err := reg.GetInstalledThemes(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("GetInstalledThemes() error = %v, want ErrNotInitialized", err)
	}
	if _, err := reg.InstallTheme(context.Background(), acmePayload("#111111"), ""); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("InstallTheme() error = %v, want ErrNotInitialized", err)
	}
}

func TestRegistryLoadsBuiltInManifest(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	builtIn, err := reg.GetBuiltInThemes()
	if err != nil {
		t.Fatalf("GetBuiltInThemes() error = %v", err)
	}
	if len(builtIn) != 3 || builtIn[0].ID != "default" {
		t.Fatalf("GetBuiltInThemes() = %+v", builtIn)
	}
	for _, theme := range builtIn {
		if theme.Category != models.CategoryBuiltIn {
			t.Fatalf("theme %s category = %s", theme.ID, theme.Category)
		}
	}
	theme, err := reg.GetTheme("missing")
	if err != nil || theme != nil {
		t.Fatalf("GetTheme(missing) = %+v, %v", theme, err)
	}
}

func TestRegistryManifestFailureYieldsEmptyBuiltIns(t *testing.T) {
	fetcher := resources.NewFetcher(resources.FetcherConfig{
		Static: fstest.MapFS{"themes/registry.json": {Data: []byte("{broken")}},
	})
	reg := New(testutil.NewTestStore(t, true, nil), fetcher, resources.NewRegistry(), assets.ManifestPath)
	if err := reg.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v, want nil", err)
	}
	themes, err := reg.GetAvailableThemes()
	if err != nil || len(themes) != 0 {
		t.Fatalf("GetAvailableThemes() = %+v, %v; want empty", themes, err)
	}
}

func TestRegistryInstallSynthesizesStylesheets(t *testing.T) {
	reg, _, fetcher := newTestRegistry(t)
	ctx := context.Background()

	descriptor, err := reg.InstallTheme(ctx, acmePayload("#111111"), "https://themes.example.com/acme.json")
	if err != nil {
		t.Fatalf("InstallTheme() error = %v", err)
	}
	if descriptor.Category != models.CategoryInstalled || descriptor.Source != models.SourceURL {
		t.Fatalf("descriptor = %+v", descriptor)
	}
	if !strings.HasPrefix(descriptor.Modes.Light, resources.BlobScheme) {
		t.Fatalf("light ref = %q, want blob handle", descriptor.Modes.Light)
	}
	if descriptor.Preview.Primary != "#111111" || descriptor.Config.Radius != "2px" {
		t.Fatalf("derived preview/config = %+v / %+v", descriptor.Preview, descriptor.Config)
	}

	css, err := fetcher.Fetch(ctx, descriptor.Modes.Light)
	if err != nil {
		t.Fatalf("Fetch(light) error = %v", err)
	}
	vars := cssvars.ExtractRootMap(string(css))
	if vars["--primary"] != "#111111" || vars["--radius"] != "2px" {
		t.Fatalf("light vars = %v", vars)
	}
	css, _ = fetcher.Fetch(ctx, descriptor.Modes.Dark)
	if got := cssvars.ExtractRootMap(string(css))["--primary"]; got != "#eeeeee" {
		t.Fatalf("dark --primary = %q", got)
	}

	if _, err := reg.InstallTheme(ctx, models.ThemePayload{Name: "bad"}, ""); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("InstallTheme(invalid) error = %v, want ErrInvalidPayload", err)
	}
}

func TestRegistryReinstallReleasesPreviousBlobs(t *testing.T) {
	reg, blobs, fetcher := newTestRegistry(t)
	ctx := context.Background()

	first, err := reg.InstallTheme(ctx, acmePayload("#111111"), "")
	if err != nil {
		t.Fatalf("InstallTheme() error = %v", err)
	}
	second, err := reg.InstallTheme(ctx, acmePayload("#222222"), "")
	if err != nil {
		t.Fatalf("InstallTheme() again error = %v", err)
	}
	if blobs.Len() != 2 {
		t.Fatalf("live blobs = %d, want 2", blobs.Len())
	}
	if _, err := fetcher.Fetch(ctx, first.Modes.Light); !errors.Is(err, resources.ErrBlobNotFound) {
		t.Fatalf("Fetch(old handle) error = %v, want ErrBlobNotFound", err)
	}
	installed, _ := reg.GetInstalledThemes()
	if len(installed) != 1 || installed[0].Modes.Light != second.Modes.Light {
		t.Fatalf("installed = %+v", installed)
	}
	if second.Source != models.SourceCustom {
		t.Fatalf("source = %s, want custom", second.Source)
	}
}

func TestRegistryInstalledShadowsBuiltIn(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	payload := acmePayload("#111111")
	payload.Name = "ocean"
	if _, err := reg.InstallTheme(ctx, payload, ""); err != nil {
		t.Fatalf("InstallTheme() error = %v", err)
	}

	theme, _ := reg.GetTheme("ocean")
	if theme.Category != models.CategoryInstalled {
		t.Fatalf("GetTheme(ocean) category = %s, want installed", theme.Category)
	}
	available, _ := reg.GetAvailableThemes()
	count := 0
	for _, theme := range available {
		if theme.ID == "ocean" {
			count++
		}
	}
	if count != 1 || len(available) != 3 {
		t.Fatalf("available = %+v, want ocean listed once", available)
	}

	// Shadowing survives a rebuild from the store.
	if err := reg.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	theme, _ = reg.GetTheme("ocean")
	if theme.Category != models.CategoryInstalled {
		t.Fatalf("after Refresh category = %s, want installed", theme.Category)
	}

	if err := reg.UninstallTheme(ctx, "ocean"); err != nil {
		t.Fatalf("UninstallTheme() error = %v", err)
	}
	theme, _ = reg.GetTheme("ocean")
	if theme == nil || theme.Category != models.CategoryBuiltIn {
		t.Fatalf("after uninstall GetTheme(ocean) = %+v, want built-in", theme)
	}
}

func TestRegistryUninstallGuards(t *testing.T) {
	reg, blobs, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.UninstallTheme(ctx, "nope"); !errors.Is(err, ErrThemeNotFound) {
		t.Fatalf("UninstallTheme(nope) error = %v, want ErrThemeNotFound", err)
	}
	if err := reg.UninstallTheme(ctx, "default"); !errors.Is(err, ErrNotRemovable) {
		t.Fatalf("UninstallTheme(default) error = %v, want ErrNotRemovable", err)
	}

	if _, err := reg.InstallTheme(ctx, acmePayload("#111111"), ""); err != nil {
		t.Fatalf("InstallTheme() error = %v", err)
	}
	if err := reg.UninstallTheme(ctx, "acme"); err != nil {
		t.Fatalf("UninstallTheme(acme) error = %v", err)
	}
	if blobs.Len() != 0 {
		t.Fatalf("live blobs = %d after uninstall, want 0", blobs.Len())
	}
	if theme, _ := reg.GetTheme("acme"); theme != nil {
		t.Fatalf("GetTheme(acme) = %+v after uninstall", theme)
	}
}

func TestRegistryRefreshReloadsInstalledThemes(t *testing.T) {
	blobs := resources.NewRegistry()
	fetcher := resources.NewFetcher(resources.FetcherConfig{Static: assets.StaticFS, Blobs: blobs})
	store := testutil.NewTestStore(t, true, nil)
	ctx := context.Background()

	record := models.CachedThemeRecord{Name: "stored", Payload: acmePayload("#333333"), Installed: true}
	record.Payload.Name = "stored"
	if err := store.StoreTheme(ctx, record); err != nil {
		t.Fatalf("StoreTheme() error = %v", err)
	}

	reg := New(store, fetcher, blobs, assets.ManifestPath)
	if err := reg.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	theme, _ := reg.GetTheme("stored")
	if theme == nil || theme.Category != models.CategoryInstalled {
		t.Fatalf("GetTheme(stored) = %+v", theme)
	}
	old := theme.Modes.Light

	if err := reg.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	theme, _ = reg.GetTheme("stored")
	if theme.Modes.Light == old {
		t.Fatalf("Refresh() kept the old handle")
	}
	if blobs.Len() != 2 {
		t.Fatalf("live blobs = %d, want 2", blobs.Len())
	}
}

func TestParseManifest(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{name: "valid", data: `{"version":"1","themes":[{"id":"a","modes":{"light":"/a.css","dark":"/b.css"}}]}`},
		{name: "empty", data: `{"themes":[]}`},
		{name: "missing_id", data: `{"themes":[{"modes":{"light":"/a.css","dark":"/b.css"}}]}`, wantErr: true},
		{name: "duplicate_id", data: `{"themes":[{"id":"a","modes":{"light":"x","dark":"y"}},{"id":"a","modes":{"light":"x","dark":"y"}}]}`, wantErr: true},
		{name: "missing_mode", data: `{"themes":[{"id":"a","modes":{"light":"/a.css"}}]}`, wantErr: true},
		{name: "bad_preview", data: `{"themes":[{"id":"a","modes":{"light":"x","dark":"y"},"preview":{"primary":"blue"}}]}`, wantErr: true},
		{name: "not_json", data: `nope`, wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			manifest, err := ParseManifest([]byte(test.data))
			if (err != nil) != test.wantErr {
				t.Fatalf("ParseManifest() error = %v, wantErr %t", err, test.wantErr)
			}
			if err == nil && len(manifest.Themes) > 0 {
				if manifest.Themes[0].Category != models.CategoryBuiltIn || manifest.Themes[0].Label != "a" {
					t.Fatalf("defaults not applied: %+v", manifest.Themes[0])
				}
			}
		})
	}
}

func TestInstalledThemeFontsUsePrimaryFamily(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	payload := models.ThemePayload{
		Name: "typeset",
		CSSVars: models.CSSVariablesByMode{
			Theme: models.CSSVariables{
				"--font-sans":  `"Inter", sans-serif`,
				"--font-serif": "Lora,Georgia,serif",
				"--font-mono":  "monospace",
			},
		},
	}
	descriptor, err := reg.InstallTheme(context.Background(), payload, "")
	if err != nil {
		t.Fatalf("InstallTheme() error = %v", err)
	}
	want := models.ThemeFonts{Sans: "Inter", Serif: "Lora"}
	if descriptor.Fonts != want {
		t.Fatalf("Fonts = %+v, want %+v", descriptor.Fonts, want)
	}
}

func TestPrimaryFamily(t *testing.T) {
	tests := []struct {
		stack string
		want  string
	}{
		{stack: "", want: ""},
		{stack: "Inter", want: "Inter"},
		{stack: "'JetBrains Mono', monospace", want: "JetBrains Mono"},
		{stack: ` "Fira Code" ,monospace`, want: "Fira Code"},
		{stack: "system-ui, sans-serif", want: ""},
	}
	for _, test := range tests {
		if got := primaryFamily(test.stack); got != test.want {
			t.Fatalf("primaryFamily(%q) = %q, want %q", test.stack, got, test.want)
		}
	}
}

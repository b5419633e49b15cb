package storage_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codr1/themecore/internal/models"
	"github.com/codr1/themecore/internal/storage"
	"github.com/codr1/themecore/internal/testutil"
)

func sampleRecord(name string) models.CachedThemeRecord {
	return models.CachedThemeRecord{
		Name:      name,
		SourceURL: "https://themes.example.com/" + name + ".json",
		Payload: models.ThemePayload{
			Name: name,
			CSSVars: models.CSSVariablesByMode{
				Light: models.CSSVariables{"--primary": "#111111", "--background": "#ffffff"},
				Dark:  models.CSSVariables{"--primary": "#eeeeee"},
			},
		},
		Installed: true,
		Timestamp: 1700000000000,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	tests := []struct {
		name        string
		primary     bool
		wantBackend string
	}{
		{name: "sqlite", primary: true, wantBackend: storage.BackendSQLite},
		{name: "flat_fallback", primary: false, wantBackend: storage.BackendFlat},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ctx := context.Background()
			store := testutil.NewTestStore(t, test.primary, nil)
			if got := store.Backend(); got != test.wantBackend {
				t.Fatalf("Backend() = %q, want %q", got, test.wantBackend)
			}

			record := sampleRecord("acme")
			if err := store.StoreTheme(ctx, record); err != nil {
				t.Fatalf("StoreTheme() error = %v", err)
			}
			got, err := store.GetTheme(ctx, "acme")
			if err != nil {
				t.Fatalf("GetTheme() error = %v", err)
			}
			if got == nil || !reflect.DeepEqual(*got, record) {
				t.Fatalf("GetTheme() = %+v, want %+v", got, record)
			}

			missing, err := store.GetTheme(ctx, "nope")
			if err != nil || missing != nil {
				t.Fatalf("GetTheme(missing) = %+v, %v; want nil, nil", missing, err)
			}

			record.Payload.CSSVars.Light["--primary"] = "#222222"
			if err := store.StoreTheme(ctx, record); err != nil {
				t.Fatalf("StoreTheme() overwrite error = %v", err)
			}
			got, _ = store.GetTheme(ctx, "acme")
			if got.Payload.CSSVars.Light["--primary"] != "#222222" {
				t.Fatalf("overwrite not visible: %+v", got)
			}

			if err := store.DeleteTheme(ctx, "acme"); err != nil {
				t.Fatalf("DeleteTheme() error = %v", err)
			}
			if err := store.DeleteTheme(ctx, "acme"); err != nil {
				t.Fatalf("DeleteTheme(absent) error = %v", err)
			}
			all, err := store.GetAllThemes(ctx)
			if err != nil || len(all) != 0 {
				t.Fatalf("GetAllThemes() = %v, %v; want empty", all, err)
			}
		})
	}
}

func TestStoreFallsBackWhenOpenNeverResolves(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	store := storage.New(storage.Options{
		OpenTimeout: 50 * time.Millisecond,
		OpenPrimary: func(ctx context.Context) (storage.Backend, error) {
			<-block
			return nil, errors.New("unblocked")
		},
	})

	done := make(chan error, 1)
	go func() { done <- store.Init(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Init() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Init() did not complete after the open timeout")
	}
	if got := store.Backend(); got != storage.BackendFlat {
		t.Fatalf("Backend() = %q, want flat", got)
	}
	if err := store.StoreTheme(context.Background(), sampleRecord("acme")); err != nil {
		t.Fatalf("StoreTheme() on fallback error = %v", err)
	}
}

func TestStoreFallsBackOnOpenError(t *testing.T) {
	store := storage.New(storage.Options{
		OpenPrimary: func(ctx context.Context) (storage.Backend, error) {
			return nil, errors.New("unsupported")
		},
	})
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if got := store.Backend(); got != storage.BackendFlat {
		t.Fatalf("Backend() = %q, want flat", got)
	}
}

func TestStoreConcurrentInitOpensOnce(t *testing.T) {
	var opens atomic.Int32
	dbPath := filepath.Join(t.TempDir(), "store.db")
	store := storage.New(storage.Options{
		OpenPrimary: func(ctx context.Context) (storage.Backend, error) {
			opens.Add(1)
			time.Sleep(20 * time.Millisecond)
			return storage.OpenSQLiteBackend(ctx, dbPath)
		},
	})
	defer store.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Init(context.Background()); err != nil {
				t.Errorf("Init() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if got := opens.Load(); got != 1 {
		t.Fatalf("primary opened %d times, want 1", got)
	}
}

func TestStoreConfigRecordsAreHidden(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStore(t, true, nil)

	if err := store.StoreTheme(ctx, sampleRecord("acme")); err != nil {
		t.Fatalf("StoreTheme() error = %v", err)
	}
	pointer := models.ModePointer{CurrentTheme: "acme", CurrentMode: models.ModeDark, Timestamp: 5}
	if err := store.SaveModePointer(ctx, pointer); err != nil {
		t.Fatalf("SaveModePointer() error = %v", err)
	}
	fonts := models.FontOverrideConfig{Enabled: true, Fonts: map[models.FontCategory]string{models.FontSans: "inter"}, Timestamp: 6}
	if err := store.SaveFontConfig(ctx, fonts); err != nil {
		t.Fatalf("SaveFontConfig() error = %v", err)
	}

	all, err := store.GetAllThemes(ctx)
	if err != nil {
		t.Fatalf("GetAllThemes() error = %v", err)
	}
	if len(all) != 1 || all[0].Name != "acme" {
		t.Fatalf("GetAllThemes() = %+v, want only acme", all)
	}
	if got, _ := store.GetTheme(ctx, storage.SentinelPrefix+"mode"); got != nil {
		t.Fatalf("GetTheme(sentinel) = %+v, want nil", got)
	}
	if err := store.StoreTheme(ctx, models.CachedThemeRecord{Name: storage.SentinelPrefix + "x"}); !errors.Is(err, storage.ErrReservedName) {
		t.Fatalf("StoreTheme(sentinel) error = %v, want ErrReservedName", err)
	}

	gotPointer, err := store.LoadModePointer(ctx)
	if err != nil || gotPointer == nil || *gotPointer != pointer {
		t.Fatalf("LoadModePointer() = %+v, %v", gotPointer, err)
	}
	gotFonts, err := store.LoadFontConfig(ctx)
	if err != nil || gotFonts == nil || !reflect.DeepEqual(*gotFonts, fonts) {
		t.Fatalf("LoadFontConfig() = %+v, %v", gotFonts, err)
	}
}

func TestStoreMirrorsPointerIntoFastStorage(t *testing.T) {
	ctx := context.Background()
	flat := storage.NewMemoryStorage(0)
	store := testutil.NewTestStore(t, true, flat)

	if _, _, ok := store.FastPointer(); ok {
		t.Fatalf("FastPointer() ok before any save")
	}
	if err := store.SaveModePointer(ctx, models.ModePointer{CurrentTheme: "ocean", CurrentMode: models.ModeLight}); err != nil {
		t.Fatalf("SaveModePointer() error = %v", err)
	}
	theme, mode, ok := store.FastPointer()
	if !ok || theme != "ocean" || mode != models.ModeLight {
		t.Fatalf("FastPointer() = %q, %q, %t", theme, mode, ok)
	}
	if v, _ := flat.GetItem(storage.FastThemeKey); v != "ocean" {
		t.Fatalf("fast theme key = %q", v)
	}

	store.SetFastFonts([]string{"Inter", "Lora"})
	if got := store.FastFonts(); !reflect.DeepEqual(got, []string{"Inter", "Lora"}) {
		t.Fatalf("FastFonts() = %v", got)
	}
	store.SetFastFonts(nil)
	if got := store.FastFonts(); got != nil {
		t.Fatalf("FastFonts() after clear = %v", got)
	}
}

func TestStoreMigratesLegacyEntriesOnce(t *testing.T) {
	ctx := context.Background()
	flat := storage.NewMemoryStorage(0)
	legacy, _ := json.Marshal(sampleRecord("legacy"))
	flat.SetItem("theme-cache:legacy", string(legacy))
	flat.SetItem("theme-cache:broken", "{not json")

	store := testutil.NewTestStore(t, true, flat)

	got, err := store.GetTheme(ctx, "legacy")
	if err != nil || got == nil {
		t.Fatalf("GetTheme(legacy) = %+v, %v", got, err)
	}
	if _, ok := flat.GetItem("theme-cache:legacy"); ok {
		t.Fatalf("legacy key not removed after migration")
	}
	if v, _ := flat.GetItem("themes-migrated"); v != "1" {
		t.Fatalf("migration sentinel = %q, want 1", v)
	}

	// A new legacy key after the sentinel is set is never migrated.
	flat.SetItem("theme-cache:late", string(legacy))
	again := testutil.NewTestStore(t, true, flat)
	if got, _ := again.GetTheme(ctx, "late"); got != nil {
		t.Fatalf("migration ran twice")
	}
}

func TestStoreSwallowsFlatQuotaErrors(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStore(t, false, storage.NewMemoryStorage(64))

	if err := store.StoreTheme(ctx, sampleRecord("acme")); err != nil {
		t.Fatalf("StoreTheme() over quota error = %v, want nil", err)
	}
	if got, _ := store.GetTheme(ctx, "acme"); got != nil {
		t.Fatalf("GetTheme() = %+v, want nil after dropped write", got)
	}
}

func TestStoreMarkInstalledAndLookupByURL(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStore(t, true, nil)

	record := sampleRecord("acme")
	record.Installed = false
	if err := store.StoreTheme(ctx, record); err != nil {
		t.Fatalf("StoreTheme() error = %v", err)
	}
	if err := store.MarkInstalled(ctx, "acme"); err != nil {
		t.Fatalf("MarkInstalled() error = %v", err)
	}
	if err := store.MarkInstalled(ctx, "absent"); err != nil {
		t.Fatalf("MarkInstalled(absent) error = %v", err)
	}
	got, _ := store.GetTheme(ctx, "acme")
	if !got.Installed {
		t.Fatalf("Installed = false after MarkInstalled")
	}

	exists, err := store.ThemeExistsByURL(ctx, record.SourceURL)
	if err != nil || !exists {
		t.Fatalf("ThemeExistsByURL() = %t, %v", exists, err)
	}
	exists, _ = store.ThemeExistsByURL(ctx, "https://elsewhere/x.json")
	if exists {
		t.Fatalf("ThemeExistsByURL(unknown) = true")
	}
}

func TestStoreClosedDoesNotReopen(t *testing.T) {
	ctx := context.Background()
	var opens atomic.Int32
	dbPath := filepath.Join(t.TempDir(), "store.db")
	store := storage.New(storage.Options{
		OpenPrimary: func(ctx context.Context) (storage.Backend, error) {
			opens.Add(1)
			return storage.OpenSQLiteBackend(ctx, dbPath)
		},
	})
	if err := store.StoreTheme(ctx, sampleRecord("acme")); err != nil {
		t.Fatalf("StoreTheme() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := store.GetTheme(ctx, "acme"); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("GetTheme() after Close error = %v, want ErrClosed", err)
	}
	if err := store.Init(ctx); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("Init() after Close error = %v, want ErrClosed", err)
	}
	if got := opens.Load(); got != 1 {
		t.Fatalf("primary opened %d times, want 1", got)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/codr1/themecore/internal/db"
	"github.com/codr1/themecore/internal/storage"
)

// NewTestDB creates a temporary SQLite database with migrations applied.
func NewTestDB(t *testing.T) *db.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("create test db: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	return database
}

// NewTestStore creates an initialized store. With primary set it is backed by
// a temporary SQLite database, otherwise by the flat backend over flat.
// A nil flat uses fresh memory storage.
func NewTestStore(t *testing.T, primary bool, flat storage.KeyValue) *storage.Store {
	t.Helper()

	if flat == nil {
		flat = storage.NewMemoryStorage(0)
	}
	opts := storage.Options{Flat: flat}
	if primary {
		dbPath := filepath.Join(t.TempDir(), "store.db")
		opts.OpenPrimary = func(ctx context.Context) (storage.Backend, error) {
			return storage.OpenSQLiteBackend(ctx, dbPath)
		}
	}
	store := storage.New(opts)
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init test store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

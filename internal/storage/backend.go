package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/codr1/themecore/internal/db"
)

// Entry is one row of the theme record table. Payload is opaque JSON so the
// same table can hold theme payloads and the reserved config records.
type Entry struct {
	Name      string          `json:"name"`
	SourceURL string          `json:"sourceUrl"`
	Payload   json.RawMessage `json:"payload"`
	Installed bool            `json:"installed"`
	Timestamp int64           `json:"timestamp"`
}

// Backend is one tier of the durable store.
type Backend interface {
	Name() string
	Put(ctx context.Context, e Entry) error
	// Get returns nil, nil when name is absent.
	Get(ctx context.Context, name string) (*Entry, error)
	GetAll(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, name string) error
	Close() error
}

const (
	BackendSQLite = "sqlite"
	BackendFlat   = "flat"
)

type sqliteBackend struct {
	db *db.DB
}

// NewSQLiteBackend wraps an open database.
func NewSQLiteBackend(database *db.DB) Backend {
	return &sqliteBackend{db: database}
}

// OpenSQLiteBackend opens (and migrates) the database file at path.
func OpenSQLiteBackend(ctx context.Context, path string) (Backend, error) {
	database, err := db.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return &sqliteBackend{db: database}, nil
}

func (b *sqliteBackend) Name() string { return BackendSQLite }

func (b *sqliteBackend) Put(ctx context.Context, e Entry) error {
	return b.db.Queries.UpsertThemeRecord(ctx, db.ThemeRecord{
		Name:      e.Name,
		SourceURL: e.SourceURL,
		Payload:   string(e.Payload),
		Installed: e.Installed,
		Timestamp: e.Timestamp,
	})
}

func (b *sqliteBackend) Get(ctx context.Context, name string) (*Entry, error) {
	row, err := b.db.Queries.GetThemeRecord(ctx, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	e := entryFromRow(row)
	return &e, nil
}

func (b *sqliteBackend) GetAll(ctx context.Context) ([]Entry, error) {
	rows, err := b.db.Queries.ListThemeRecords(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, entryFromRow(row))
	}
	return entries, nil
}

func (b *sqliteBackend) Delete(ctx context.Context, name string) error {
	_, err := b.db.Queries.DeleteThemeRecord(ctx, name)
	return err
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}

func entryFromRow(row db.ThemeRecord) Entry {
	return Entry{
		Name:      row.Name,
		SourceURL: row.SourceURL,
		Payload:   json.RawMessage(row.Payload),
		Installed: row.Installed,
		Timestamp: row.Timestamp,
	}
}

// flatKeyPrefix namespaces entries written by the flat backend.
const flatKeyPrefix = "themes:"

type flatBackend struct {
	kv KeyValue
}

// NewFlatBackend stores entries as JSON values in kv.
func NewFlatBackend(kv KeyValue) Backend {
	return &flatBackend{kv: kv}
}

func (b *flatBackend) Name() string { return BackendFlat }

func (b *flatBackend) Put(_ context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry %q: %w", e.Name, err)
	}
	return b.kv.SetItem(flatKeyPrefix+e.Name, string(data))
}

func (b *flatBackend) Get(_ context.Context, name string) (*Entry, error) {
	raw, ok := b.kv.GetItem(flatKeyPrefix + name)
	if !ok {
		return nil, nil
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("decode entry %q: %w", name, err)
	}
	return &e, nil
}

func (b *flatBackend) GetAll(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	for _, key := range b.kv.Keys() {
		if !strings.HasPrefix(key, flatKeyPrefix) {
			continue
		}
		e, err := b.Get(ctx, strings.TrimPrefix(key, flatKeyPrefix))
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Skipping unreadable flat storage entry")
			continue
		}
		if e != nil {
			entries = append(entries, *e)
		}
	}
	return entries, nil
}

func (b *flatBackend) Delete(_ context.Context, name string) error {
	return b.kv.RemoveItem(flatKeyPrefix + name)
}

func (b *flatBackend) Close() error { return nil }

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

var ErrQuotaExceeded = errors.New("storage quota exceeded")

// KeyValue is flat, synchronous string storage.
type KeyValue interface {
	GetItem(key string) (string, bool)
	SetItem(key, value string) error
	RemoveItem(key string) error
	Keys() []string
}

// items is the shared map logic of the KeyValue implementations.
type items struct {
	mu    sync.RWMutex
	data  map[string]string
	quota int
}

func (it *items) get(key string) (string, bool) {
	it.mu.RLock()
	defer it.mu.RUnlock()
	v, ok := it.data[key]
	return v, ok
}

func (it *items) keys() []string {
	it.mu.RLock()
	defer it.mu.RUnlock()
	keys := make([]string, 0, len(it.data))
	for k := range it.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sizeWith returns the stored size in bytes if key held value. Caller holds mu.
func (it *items) sizeWith(key, value string) int {
	size := 0
	for k, v := range it.data {
		if k == key {
			continue
		}
		size += len(k) + len(v)
	}
	return size + len(key) + len(value)
}

// MemoryStorage is a KeyValue kept in memory, with an optional byte quota.
type MemoryStorage struct {
	items
}

// NewMemoryStorage returns an empty MemoryStorage. A quota of 0 disables the limit.
func NewMemoryStorage(quotaBytes int) *MemoryStorage {
	return &MemoryStorage{items: items{data: make(map[string]string), quota: quotaBytes}}
}

func (m *MemoryStorage) GetItem(key string) (string, bool) { return m.get(key) }

func (m *MemoryStorage) Keys() []string { return m.keys() }

func (m *MemoryStorage) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quota > 0 && m.sizeWith(key, value) > m.quota {
		return ErrQuotaExceeded
	}
	m.data[key] = value
	return nil
}

func (m *MemoryStorage) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// LocalStorage is a KeyValue persisted as one JSON object in a file. Every
// write rewrites the file through a temp file and rename.
type LocalStorage struct {
	items
	path string
}

// OpenLocalStorage loads path, starting empty when the file is missing or
// unreadable. A quota of 0 disables the limit.
func OpenLocalStorage(path string, quotaBytes int) (*LocalStorage, error) {
	if path == "" {
		return nil, errors.New("local storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create local storage directory: %w", err)
	}
	ls := &LocalStorage{
		items: items{data: make(map[string]string), quota: quotaBytes},
		path:  path,
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return ls, nil
	case err != nil:
		return nil, fmt.Errorf("read local storage: %w", err)
	}
	if err := json.Unmarshal(data, &ls.data); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Local storage file is corrupt, starting empty")
		ls.data = make(map[string]string)
	}
	return ls, nil
}

func (l *LocalStorage) GetItem(key string) (string, bool) { return l.get(key) }

func (l *LocalStorage) Keys() []string { return l.keys() }

func (l *LocalStorage) SetItem(key, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.quota > 0 && l.sizeWith(key, value) > l.quota {
		return ErrQuotaExceeded
	}
	prev, had := l.data[key]
	l.data[key] = value
	if err := l.persist(); err != nil {
		if had {
			l.data[key] = prev
		} else {
			delete(l.data, key)
		}
		return err
	}
	return nil
}

func (l *LocalStorage) RemoveItem(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev, had := l.data[key]
	if !had {
		return nil
	}
	delete(l.data, key)
	if err := l.persist(); err != nil {
		l.data[key] = prev
		return err
	}
	return nil
}

// persist writes the map to disk. Caller holds mu.
func (l *LocalStorage) persist() error {
	data, err := json.MarshalIndent(l.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode local storage: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(l.path), "localstorage-*.json")
	if err != nil {
		return fmt.Errorf("write local storage: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write local storage: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write local storage: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write local storage: %w", err)
	}
	return nil
}

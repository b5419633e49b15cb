// Package resources holds synthesized in-memory stylesheets addressed by
// blob: handles, and the fetcher that resolves every kind of stylesheet
// reference.
package resources

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// BlobScheme prefixes every handle issued by a Registry.
const BlobScheme = "blob:"

var ErrBlobNotFound = errors.New("blob not found")

type blob struct {
	owner string
	data  []byte
}

// Registry owns generated text blobs. Each blob belongs to an owner (a theme
// id) so all of an owner's blobs can be released together.
type Registry struct {
	mu    sync.RWMutex
	blobs map[string]blob
}

func NewRegistry() *Registry {
	return &Registry{blobs: make(map[string]blob)}
}

// Create stores data and returns a fresh handle for it.
func (r *Registry) Create(owner string, data []byte) string {
	handle := BlobScheme + uuid.New().String()
	r.mu.Lock()
	r.blobs[handle] = blob{owner: owner, data: append([]byte(nil), data...)}
	r.mu.Unlock()
	return handle
}

// Read returns the data behind handle.
func (r *Registry) Read(handle string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.blobs[handle]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return append([]byte(nil), b.data...), nil
}

// Release drops every blob of owner and returns the released handles.
func (r *Registry) Release(owner string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var released []string
	for handle, b := range r.blobs {
		if b.owner == owner {
			delete(r.blobs, handle)
			released = append(released, handle)
		}
	}
	return released
}

// ReleaseAll drops every blob and returns the released handles.
func (r *Registry) ReleaseAll() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	released := make([]string, 0, len(r.blobs))
	for handle := range r.blobs {
		released = append(released, handle)
	}
	r.blobs = make(map[string]blob)
	return released
}

// Len returns the number of live blobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}

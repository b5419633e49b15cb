package resources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultMaxBodyBytes = 4 << 20

var (
	ErrUnresolvableRef = errors.New("reference cannot be resolved")
	ErrEmptyRef        = errors.New("reference is empty")
)

// StatusError is returned when a remote resource answers with a non-2xx status.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	// Client performs remote requests. Nil uses a client with a 15s timeout.
	Client *http.Client
	// BaseURL resolves root-relative references that Static cannot serve.
	BaseURL string
	// Static serves root-relative references such as /themes/default-light.css.
	Static fs.FS
	// Blobs resolves blob: handles.
	Blobs        *Registry
	MaxBodyBytes int64
}

// Fetcher loads stylesheet and JSON references. A reference is a blob:
// handle, an absolute http(s) URL, or a root-relative path.
//
// Warmed references are kept until the next Fetch of the same reference,
// which consumes them.
type Fetcher struct {
	client   *http.Client
	baseURL  string
	static   fs.FS
	blobs    *Registry
	maxBytes int64

	mu   sync.Mutex
	warm map[string][]byte

	loads atomic.Int64
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	return &Fetcher{
		client:   client,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		static:   cfg.Static,
		blobs:    cfg.Blobs,
		maxBytes: maxBytes,
		warm:     make(map[string][]byte),
	}
}

// Fetch returns the content behind ref.
func (f *Fetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	f.mu.Lock()
	data, ok := f.warm[ref]
	if ok {
		delete(f.warm, ref)
	}
	f.mu.Unlock()
	if ok {
		return data, nil
	}
	return f.load(ctx, ref)
}

// Warm loads ref ahead of use so the next Fetch is served from memory.
func (f *Fetcher) Warm(ctx context.Context, ref string) error {
	f.mu.Lock()
	_, ok := f.warm[ref]
	f.mu.Unlock()
	if ok {
		return nil
	}
	data, err := f.load(ctx, ref)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.warm[ref] = data
	f.mu.Unlock()
	return nil
}

// IsWarm reports whether ref has been warmed and not yet fetched.
func (f *Fetcher) IsWarm(ref string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.warm[ref]
	return ok
}

// Forget drops warmed content for refs.
func (f *Fetcher) Forget(refs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ref := range refs {
		delete(f.warm, ref)
	}
}

// Loads returns how many references were loaded from their source, warm
// hits excluded.
func (f *Fetcher) Loads() int64 {
	return f.loads.Load()
}

func (f *Fetcher) load(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrEmptyRef
	}
	f.loads.Add(1)

	switch {
	case strings.HasPrefix(ref, BlobScheme):
		if f.blobs == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnresolvableRef, ref)
		}
		return f.blobs.Read(ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return f.get(ctx, ref)
	}

	if f.static != nil {
		name := strings.TrimPrefix(path.Clean("/"+ref), "/")
		data, err := fs.ReadFile(f.static, name)
		if err == nil {
			return data, nil
		}
		if f.baseURL == "" {
			return nil, fmt.Errorf("read %s: %w", ref, err)
		}
		log.Debug().Err(err).Str("ref", ref).Msg("Static lookup failed, trying base URL")
	}
	if f.baseURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvableRef, ref)
	}
	target, err := url.JoinPath(f.baseURL, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ref, err)
	}
	return f.get(ctx, target)
}

func (f *Fetcher) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", target, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: target, Status: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("fetch %s: body exceeds %d bytes", target, f.maxBytes)
	}
	return data, nil
}

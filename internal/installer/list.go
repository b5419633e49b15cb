package installer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const defaultListTTL = 10 * time.Minute

// ThemeListing is one entry of a remote theme index.
type ThemeListing struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
}

type themeIndex struct {
	Themes []ThemeListing `json:"themes"`
}

// ListFetcher retrieves a remote theme index and caches it for a TTL.
// Concurrent fetches share one request.
type ListFetcher struct {
	fetcher  Fetcher
	indexURL string
	ttl      time.Duration
	clock    clockwork.Clock

	group singleflight.Group

	mu        sync.Mutex
	cached    []ThemeListing
	fetchedAt time.Time
}

func NewListFetcher(fetcher Fetcher, indexURL string, ttl time.Duration, clock clockwork.Clock) *ListFetcher {
	if ttl <= 0 {
		ttl = defaultListTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ListFetcher{fetcher: fetcher, indexURL: indexURL, ttl: ttl, clock: clock}
}

// Fetch returns the cached index while it is fresh and downloads it
// otherwise. Entries without a name or an http(s) url are dropped.
func (l *ListFetcher) Fetch(ctx context.Context) ([]ThemeListing, error) {
	if listings, ok := l.fresh(); ok {
		return listings, nil
	}
	v, err, _ := l.group.Do(l.indexURL, func() (interface{}, error) {
		if listings, ok := l.fresh(); ok {
			return listings, nil
		}
		return l.download(ctx)
	})
	if err != nil {
		return nil, err
	}
	return append([]ThemeListing(nil), v.([]ThemeListing)...), nil
}

// Invalidate drops the cached index.
func (l *ListFetcher) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cached = nil
	l.fetchedAt = time.Time{}
}

func (l *ListFetcher) fresh() ([]ThemeListing, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cached == nil || l.clock.Since(l.fetchedAt) >= l.ttl {
		return nil, false
	}
	return append([]ThemeListing(nil), l.cached...), true
}

func (l *ListFetcher) download(ctx context.Context) ([]ThemeListing, error) {
	if l.indexURL == "" {
		return nil, fmt.Errorf("theme index url is not configured")
	}
	data, err := l.fetcher.Fetch(ctx, l.indexURL)
	if err != nil {
		return nil, fmt.Errorf("fetch theme index: %w", err)
	}
	var index themeIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("decode theme index: %w", err)
	}

	listings := make([]ThemeListing, 0, len(index.Themes))
	for _, listing := range index.Themes {
		if listing.Name == "" {
			continue
		}
		if _, err := validateURL(listing.URL); err != nil {
			log.Warn().Str("theme", listing.Name).Str("url", listing.URL).Msg("Skipping theme listing with invalid url")
			continue
		}
		if listing.Title == "" {
			listing.Title = listing.Name
		}
		listings = append(listings, listing)
	}

	l.mu.Lock()
	l.cached = listings
	l.fetchedAt = l.clock.Now()
	l.mu.Unlock()
	log.Debug().Int("themes", len(listings)).Str("url", l.indexURL).Msg("Theme index refreshed")
	return listings, nil
}

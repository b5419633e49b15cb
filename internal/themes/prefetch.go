package themes

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/codr1/themecore/internal/models"
	"github.com/codr1/themecore/internal/resources"
)

const (
	prefetchConcurrency = 4
	prefetchRel         = "prefetch"
)

type PrefetchState string

const (
	PrefetchPending  PrefetchState = "pending"
	PrefetchResolved PrefetchState = "resolved"
)

// PrefetchEntry is the prefetch state of one theme stylesheet.
type PrefetchEntry struct {
	Key   string        `json:"key"`
	State PrefetchState `json:"state"`
}

func prefetchKey(id string, mode models.Mode) string {
	return id + "-" + string(mode)
}

// Prefetch warms the light and dark stylesheets of the prefetch themes other
// than the active one. Failures are logged and leave no entry behind, so
// they never affect applying a theme.
func (m *Manager) Prefetch(ctx context.Context) error {
	ids, err := m.prefetchCandidates()
	if err != nil {
		return err
	}
	current := m.CurrentTheme()

	var lookupErr error
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchConcurrency)
	for _, id := range ids {
		if id == current {
			continue
		}
		descriptor, err := m.registry.GetTheme(id)
		if err != nil {
			lookupErr = err
			break
		}
		if descriptor == nil {
			continue
		}
		for _, mode := range []models.Mode{models.ModeLight, models.ModeDark} {
			key := prefetchKey(descriptor.ID, mode)
			ref := descriptor.Modes.Ref(mode)

			m.mu.Lock()
			_, seen := m.prefetch[key]
			if !seen {
				m.prefetch[key] = PrefetchPending
			}
			m.mu.Unlock()
			if seen {
				continue
			}

			if !strings.HasPrefix(ref, resources.BlobScheme) {
				m.doc.AddResourceHint(prefetchRel, ref)
			}
			g.Go(func() error {
				if err := m.fetcher.Warm(gctx, ref); err != nil {
					log.Debug().Err(err).Str("key", key).Msg("Theme prefetch failed")
					m.mu.Lock()
					delete(m.prefetch, key)
					m.mu.Unlock()
					return nil
				}
				m.mu.Lock()
				m.prefetch[key] = PrefetchResolved
				m.mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return lookupErr
}

func (m *Manager) prefetchCandidates() ([]string, error) {
	if len(m.prefetchIDs) > 0 {
		return m.prefetchIDs, nil
	}
	builtIn, err := m.registry.GetBuiltInThemes()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(builtIn))
	for _, theme := range builtIn {
		ids = append(ids, theme.ID)
	}
	return ids, nil
}

// PrefetchEntries returns the current prefetch set.
func (m *Manager) PrefetchEntries() []PrefetchEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]PrefetchEntry, 0, len(m.prefetch))
	for key, state := range m.prefetch {
		entries = append(entries, PrefetchEntry{Key: key, State: state})
	}
	return entries
}

// recordPrefetchUse counts whether applying id in mode was prefetched.
func (m *Manager) recordPrefetchUse(id string, mode models.Mode) {
	key := prefetchKey(id, mode)
	m.mu.Lock()
	_, ok := m.prefetch[key]
	m.mu.Unlock()
	if ok {
		m.prefetchHits.Add(1)
		log.Debug().Str("key", key).Msg("Theme prefetch hit")
		return
	}
	m.prefetchMisses.Add(1)
	log.Debug().Str("key", key).Msg("Theme prefetch miss")
}

package fonts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/codr1/themecore/internal/document"
)

const (
	DefaultStylesheetURL = "https://fonts.googleapis.com/css2"
	defaultBatchWindow   = 50 * time.Millisecond
	defaultBatchTimeout  = 8 * time.Second
	loadedStylePrefix    = "themecore-font-load-"
	maxStylesheetBytes   = 1 << 20
)

var ErrLoaderClosed = errors.New("font loader is closed")

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	Client        *http.Client
	StylesheetURL string
	Document      *document.Document
	Clock         clockwork.Clock
	Window        time.Duration
	Timeout       time.Duration
}

// Loader coalesces remote font requests made within one window into a
// single stylesheet request. Fonts already loaded or in flight are not
// requested again.
type Loader struct {
	client        *http.Client
	stylesheetURL string
	doc           *document.Document
	clock         clockwork.Clock
	window        time.Duration
	timeout       time.Duration

	mu       sync.Mutex
	loaded   map[string]struct{}
	inflight map[string][]chan error
	queue    []Font
	timer    clockwork.Timer
	batches  int
	closed   bool
}

func NewLoader(cfg LoaderConfig) *Loader {
	l := &Loader{
		client:        cfg.Client,
		stylesheetURL: cfg.StylesheetURL,
		doc:           cfg.Document,
		clock:         cfg.Clock,
		window:        cfg.Window,
		timeout:       cfg.Timeout,
		loaded:        make(map[string]struct{}),
		inflight:      make(map[string][]chan error),
	}
	if l.client == nil {
		l.client = &http.Client{}
	}
	if l.stylesheetURL == "" {
		l.stylesheetURL = DefaultStylesheetURL
	}
	if l.clock == nil {
		l.clock = clockwork.NewRealClock()
	}
	if l.window <= 0 {
		l.window = defaultBatchWindow
	}
	if l.timeout <= 0 {
		l.timeout = defaultBatchTimeout
	}
	return l
}

// Request queues font for loading. The returned channel receives the result
// of the batch that loads it, or nil at once if it is already loaded.
func (l *Loader) Request(font Font) <-chan error {
	done := make(chan error, 1)
	key := font.requestKey()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		done <- ErrLoaderClosed
		return done
	}
	if _, ok := l.loaded[key]; ok {
		done <- nil
		return done
	}
	if waiters, ok := l.inflight[key]; ok {
		l.inflight[key] = append(waiters, done)
		return done
	}

	l.inflight[key] = []chan error{done}
	l.queue = append(l.queue, font)
	if l.timer == nil {
		l.timer = l.clock.AfterFunc(l.window, l.flush)
	}
	return done
}

// IsLoaded reports whether font has been loaded.
func (l *Loader) IsLoaded(font Font) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.loaded[font.requestKey()]
	return ok
}

func (l *Loader) flush() {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.timer = nil
	l.batches++
	seq := l.batches
	l.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	go l.load(batch, seq)
}

func (l *Loader) load(batch []Font, seq int) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	css, err := l.fetch(ctx, batch)
	if err == nil && l.doc != nil {
		l.doc.SetStyleElement(loadedStylePrefix+strconv.Itoa(seq), css)
	}

	families := make([]string, len(batch))
	for i, font := range batch {
		families[i] = font.Family
	}
	if err != nil {
		log.Warn().Err(err).Strs("families", families).Msg("Font batch failed, falling back to system fonts")
	} else {
		log.Debug().Strs("families", families).Msg("Font batch loaded")
	}

	l.mu.Lock()
	var waiters []chan error
	for _, font := range batch {
		key := font.requestKey()
		waiters = append(waiters, l.inflight[key]...)
		delete(l.inflight, key)
		if err == nil {
			l.loaded[key] = struct{}{}
		}
	}
	l.mu.Unlock()

	for _, done := range waiters {
		done <- err
	}
}

func (l *Loader) fetch(ctx context.Context, batch []Font) (string, error) {
	target, err := l.batchURL(batch)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("build font request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch fonts: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch fonts: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxStylesheetBytes))
	if err != nil {
		return "", fmt.Errorf("read font stylesheet: %w", err)
	}
	return string(data), nil
}

// batchURL builds one stylesheet URL with a family parameter per font.
func (l *Loader) batchURL(batch []Font) (string, error) {
	u, err := url.Parse(l.stylesheetURL)
	if err != nil {
		return "", fmt.Errorf("parse font stylesheet url: %w", err)
	}
	query := u.Query()
	for _, font := range batch {
		family := font.Family
		if len(font.Weights) > 0 {
			weights := make([]string, len(font.Weights))
			for i, w := range font.Weights {
				weights[i] = strconv.Itoa(w)
			}
			family += ":wght@" + strings.Join(weights, ";")
		}
		query.Add("family", family)
	}
	query.Set("display", "swap")
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// Close rejects queued and future requests. Batches already sent complete.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	for _, font := range l.queue {
		key := font.requestKey()
		for _, done := range l.inflight[key] {
			done <- ErrLoaderClosed
		}
		delete(l.inflight, key)
	}
	l.queue = nil
}

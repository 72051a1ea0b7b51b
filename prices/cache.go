package prices

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/etnz/folio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// DefaultTTL is how long a Cache keeps an answer.
const DefaultTTL = 60 * time.Second

// Cache is a Source that remembers the answers of another Source.
//
// Answers are keyed by quote currency and requested symbol set, whatever the
// order and case of the symbols. Errors are not cached.
type Cache struct {
	source   Source
	ttl      time.Duration
	now      func() time.Time
	recorder Recorder
	logger   *zap.Logger

	hits, misses prometheus.Counter

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	cur       folio.Currency
	symbols   []string
	quotes    folio.Quotes
	expiresAt time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL sets the time-to-live of cached answers.
func WithTTL(ttl time.Duration) CacheOption { return func(c *Cache) { c.ttl = ttl } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CacheOption { return func(c *Cache) { c.now = now } }

// WithRecorder persists every fetched answer, best-effort.
func WithRecorder(r Recorder) CacheOption { return func(c *Cache) { c.recorder = r } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) CacheOption { return func(c *Cache) { c.logger = l } }

// WithRegisterer registers the hit and miss counters.
func WithRegisterer(reg prometheus.Registerer) CacheOption {
	return func(c *Cache) { c.counters(reg) }
}

// NewCache wraps source.
func NewCache(source Source, opts ...CacheOption) *Cache {
	c := &Cache{
		source:  source,
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  zap.NewNop(),
		entries: make(map[string]cacheEntry),
	}
	c.counters(nil)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) counters(reg prometheus.Registerer) {
	factory := promauto.With(reg)
	c.hits = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "folio",
		Subsystem: "prices",
		Name:      "cache_hits_total",
		Help:      "Price lookups answered from the cache.",
	})
	c.misses = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "folio",
		Subsystem: "prices",
		Name:      "cache_misses_total",
		Help:      "Price lookups forwarded to the source.",
	})
}

func cacheKey(symbols []string, cur folio.Currency) string {
	return cur.String() + "|" + strings.Join(symbols, ",")
}

func (c *Cache) Quotes(ctx context.Context, symbols []string, cur folio.Currency) (folio.Quotes, error) {
	symbols = Symbols(symbols)
	key := cacheKey(symbols, cur)
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && now.Before(e.expiresAt) {
		c.hits.Inc()
		return maps.Clone(e.quotes), nil
	}

	c.misses.Inc()
	quotes, err := c.source.Quotes(ctx, symbols, cur)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{cur: cur, symbols: symbols, quotes: quotes, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	if c.recorder != nil {
		if err := c.recorder.RecordPrices(ctx, cur, quotes, now); err != nil {
			c.logger.Warn("cannot record prices", zap.String("currency", cur.String()), zap.Error(err))
		}
	}
	return maps.Clone(quotes), nil
}

// Invalidate drops the cached answers in cur that include any of symbols.
func (c *Cache) Invalidate(symbols []string, cur folio.Currency) {
	symbols = Symbols(symbols)
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.cur != cur {
			continue
		}
		if slices.ContainsFunc(symbols, func(s string) bool { _, found := slices.BinarySearch(e.symbols, s); return found }) {
			delete(c.entries, key)
		}
	}
}

// Purge drops every cached answer.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of cached answers, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

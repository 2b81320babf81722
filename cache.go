package posoffline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	runtimePrefix = "api_"
	assetPrefix   = "asset_"

	defaultEvictBatch = 16
)

// CacheEntry is one cached response with its staleness metadata.
type CacheEntry struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	StoredAt time.Time       `json:"storedAt"`
	TTL      time.Duration   `json:"ttl,omitempty"`
}

// Expired reports whether the entry outlived its TTL. Entries without a TTL never expire.
func (e *CacheEntry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.StoredAt) >= e.TTL
}

// Age is how old the cached data is.
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// ============================================================================
// Keys & Scopes
// ============================================================================

// Key derives the canonical cache key for a resource listing. Every reader and
// writer goes through it, so "/api/Customers/", "customers" and "customers?"
// all land on the same entry.
func Key(resource string, query url.Values) string {
	k := runtimePrefix + normalizeResource(resource)
	if q := canonicalQuery(query); q != "" {
		k += "?" + q
	}
	return k
}

func normalizeResource(resource string) string {
	r := strings.ToLower(strings.TrimSpace(resource))
	if i := strings.IndexAny(r, "?#"); i >= 0 {
		r = r[:i]
	}
	r = strings.Trim(r, "/")
	r = strings.TrimPrefix(r, "api/")
	return strings.Trim(r, "/")
}

func canonicalQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	sorted := make(url.Values, len(query))
	for k, vs := range query {
		if len(vs) == 0 {
			continue
		}
		cp := append([]string(nil), vs...)
		sort.Strings(cp)
		sorted[k] = cp
	}
	return sorted.Encode() // Encode sorts by key
}

// Scope selects a set of runtime cache entries for Clear.
type Scope string

// RuntimeScope covers every cached API response. Static assets are never included.
const RuntimeScope Scope = runtimePrefix

// ResourceScope covers every cached query of one resource.
func ResourceScope(resource string) Scope {
	return Scope(runtimePrefix + normalizeResource(resource))
}

func (s Scope) matches(key string) bool {
	if s == RuntimeScope {
		return strings.HasPrefix(key, runtimePrefix)
	}
	p := string(s)
	return key == p || strings.HasPrefix(key, p+"?") || strings.HasPrefix(key, p+"/")
}

// ============================================================================
// Cache
// ============================================================================

// Cache is the response cache manager. It is safe for concurrent use.
type Cache struct {
	storage Storage
	fetcher Fetcher
	logger  *slog.Logger
	now     func() time.Time

	preload    []string
	preloadTTL time.Duration
	evictBatch int

	mu sync.Mutex // serializes writers so eviction and retry do not interleave
}

type CacheOption func(*Cache)

func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithCacheClock(fn func() time.Time) CacheOption {
	return func(c *Cache) {
		if fn != nil {
			c.now = fn
		}
	}
}

// WithFetcher sets the source used by PreloadCriticalData.
func WithFetcher(f Fetcher) CacheOption {
	return func(c *Cache) { c.fetcher = f }
}

// WithPreloadResources replaces the default CriticalResources list.
func WithPreloadResources(resources ...string) CacheOption {
	return func(c *Cache) { c.preload = append([]string(nil), resources...) }
}

// WithPreloadTTL sets the TTL of preloaded entries (0 = until cleared).
func WithPreloadTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) { c.preloadTTL = ttl }
}

// WithEvictBatch sets how many of the oldest entries are dropped when storage is full.
func WithEvictBatch(n int) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.evictBatch = n
		}
	}
}

// NewCache creates a cache over storage.
func NewCache(storage Storage, opts ...CacheOption) *Cache {
	c := &Cache{
		storage:    storage,
		logger:     discardLogger(),
		now:        time.Now,
		preload:    append([]string(nil), CriticalResources...),
		evictBatch: defaultEvictBatch,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key. A miss, an expired entry, or an
// unreadable entry all report found=false; none of them is an error.
func (c *Cache) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	e, ok := c.Lookup(ctx, key)
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// Lookup is Get with the entry's metadata, for staleness display.
func (c *Cache) Lookup(ctx context.Context, key string) (*CacheEntry, bool) {
	if key == "" {
		c.logger.Debug("cache lookup with empty key")
		return nil, false
	}
	e, ok := c.read(ctx, key)
	if !ok {
		return nil, false
	}
	if e.Expired(c.now()) {
		c.evictExpired(ctx, key)
		return nil, false
	}
	return e, true
}

// evictExpired re-checks under the writer lock so a fresh Set racing with the
// read is never removed.
func (c *Cache) evictExpired(ctx context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.read(ctx, key); !ok || !e.Expired(c.now()) {
		return
	}
	if err := c.storage.RemoveItem(ctx, key); err != nil {
		c.logger.Warn("cache: evict expired entry", "key", key, "error", err)
	}
}

func (c *Cache) read(ctx context.Context, key string) (*CacheEntry, bool) {
	raw, found, err := c.storage.GetItem(ctx, key)
	if err != nil {
		c.logger.Warn("cache: read failed", "key", key, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var e CacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn("cache: corrupt entry", "key", key, "error", err)
		return nil, false
	}
	return &e, true
}

// GetAs decodes the cached value for key into T.
func GetAs[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var out T
	raw, ok := c.Get(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		c.logger.Warn("cache: decode failed", "key", key, "error", err)
		return out, false
	}
	return out, true
}

// Set stores value under key, replacing any previous entry. On failure the
// previous value, if any, is left untouched and a *StorageError is returned.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	return c.write(ctx, key, value, ttl)
}

// SetAsset stores a static asset. Assets live outside every runtime Scope.
func (c *Cache) SetAsset(ctx context.Context, name string, value interface{}) error {
	if name == "" {
		return ErrInvalidKey
	}
	return c.write(ctx, assetPrefix+name, value, 0)
}

// Asset returns a static asset stored with SetAsset.
func (c *Cache) Asset(ctx context.Context, name string) (json.RawMessage, bool) {
	if name == "" {
		return nil, false
	}
	return c.Get(ctx, assetPrefix+name)
}

func (c *Cache) write(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	v, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal %q: %w", key, err)
	}
	raw, err := json.Marshal(CacheEntry{Key: key, Value: v, StoredAt: c.now(), TTL: ttl})
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	err = c.storage.SetItem(ctx, key, raw)
	if err == nil || !errors.Is(err, ErrQuotaExceeded) {
		return wrapStorageErr("set", key, err)
	}

	n, evictErr := c.evictOldest(ctx, key)
	if evictErr != nil || n == 0 {
		return wrapStorageErr("set", key, err)
	}
	c.logger.Info("cache: evicted entries to free space", "count", n, "key", key)
	return wrapStorageErr("set", key, c.storage.SetItem(ctx, key, raw))
}

func wrapStorageErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Key: key, Err: err}
}

// evictOldest drops up to evictBatch runtime entries, oldest first, sparing keep.
func (c *Cache) evictOldest(ctx context.Context, keep string) (int, error) {
	keys, err := c.storage.Keys(ctx, runtimePrefix)
	if err != nil {
		return 0, err
	}
	type aged struct {
		key string
		at  time.Time
	}
	var entries []aged
	for _, k := range keys {
		if k == keep {
			continue
		}
		at := time.Time{}
		if e, ok := c.read(ctx, k); ok {
			at = e.StoredAt
		}
		entries = append(entries, aged{key: k, at: at})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })

	removed := 0
	for _, e := range entries {
		if removed >= c.evictBatch {
			break
		}
		if err := c.storage.RemoveItem(ctx, e.key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Clear removes the runtime entries in scope and returns how many were removed.
// Static assets are never touched.
func (c *Cache) Clear(ctx context.Context, scope Scope) (int, error) {
	if scope == "" {
		scope = RuntimeScope
	}
	if !strings.HasPrefix(string(scope), runtimePrefix) {
		return 0, fmt.Errorf("cache: scope %q outside runtime entries", scope)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.storage.Keys(ctx, runtimePrefix)
	if err != nil {
		return 0, wrapStorageErr("keys", string(scope), err)
	}
	removed := 0
	for _, k := range keys {
		if !scope.matches(k) {
			continue
		}
		if err := c.storage.RemoveItem(ctx, k); err != nil {
			return removed, wrapStorageErr("remove", k, err)
		}
		removed++
	}
	return removed, nil
}

// ClearAssets removes every static asset.
func (c *Cache) ClearAssets(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys, err := c.storage.Keys(ctx, assetPrefix)
	if err != nil {
		return 0, wrapStorageErr("keys", assetPrefix, err)
	}
	for i, k := range keys {
		if err := c.storage.RemoveItem(ctx, k); err != nil {
			return i, wrapStorageErr("remove", k, err)
		}
	}
	return len(keys), nil
}

// PreloadCriticalData warms the cache with the reference data a register needs
// offline. Resources are fetched concurrently and independently: one failure
// never stops the others. The returned error only reports what failed.
func (c *Cache) PreloadCriticalData(ctx context.Context) error {
	if c.fetcher == nil {
		return errors.New("cache: preload needs a fetcher")
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, resource := range c.preload {
		resource := resource
		g.Go(func() error {
			data, err := c.fetcher.Fetch(ctx, resource, nil)
			if err == nil {
				err = c.Set(ctx, Key(resource, nil), data, c.preloadTTL)
			}
			if err != nil {
				c.logger.Warn("cache: preload failed", "resource", resource, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("preload %s: %w", resource, err))
				mu.Unlock()
				return nil
			}
			c.logger.Debug("cache: preloaded", "resource", resource, "bytes", len(data))
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

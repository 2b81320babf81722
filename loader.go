package posoffline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"
)

// Source tells where a LoadResult's data came from.
type Source string

const (
	SourceLive  Source = "live"
	SourceCache Source = "cache"
)

// LoadResult is a page's data plus where it came from. Pages must show a
// staleness hint whenever Source is SourceCache.
type LoadResult struct {
	Key      string          `json:"key"`
	Source   Source          `json:"source"`
	Data     json.RawMessage `json:"data"`
	StoredAt time.Time       `json:"storedAt"`
	Age      time.Duration   `json:"age"`
	Stale    bool            `json:"stale"`
	// Err is the live failure that caused a cache fallback.
	Err string `json:"error,omitempty"`
}

// Loader implements live-first reads with cache fallback.
type Loader struct {
	fetcher Fetcher
	cache   *Cache
	queue   *Queue
	logger  *slog.Logger
	now     func() time.Time
	online  func() bool

	ttl        time.Duration
	staleAfter time.Duration

	group singleflight.Group
}

type LoaderOption func(*Loader)

func WithLoaderLogger(l *slog.Logger) LoaderOption {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithLoaderTTL sets the TTL of entries written by live loads (0 = until cleared).
func WithLoaderTTL(ttl time.Duration) LoaderOption {
	return func(ld *Loader) { ld.ttl = ttl }
}

// WithStaleAfter marks cached results younger than d as not stale.
// The default of 0 flags every cached result.
func WithStaleAfter(d time.Duration) LoaderOption {
	return func(ld *Loader) { ld.staleAfter = d }
}

// WithLoaderOnline skips the live fetch entirely while fn reports offline.
func WithLoaderOnline(fn func() bool) LoaderOption {
	return func(ld *Loader) {
		if fn != nil {
			ld.online = fn
		}
	}
}

func WithLoaderClock(fn func() time.Time) LoaderOption {
	return func(ld *Loader) {
		if fn != nil {
			ld.now = fn
		}
	}
}

// NewLoader creates a loader. queue may be nil when no placeholders are merged.
func NewLoader(fetcher Fetcher, cache *Cache, queue *Queue, opts ...LoaderOption) *Loader {
	ld := &Loader{
		fetcher: fetcher,
		cache:   cache,
		queue:   queue,
		logger:  discardLogger(),
		now:     time.Now,
		online:  func() bool { return true },
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Load fetches resource live and caches it. On a connectivity failure it
// answers from the cache instead; a cache miss then returns the original
// error. Rejections are returned as-is and never fall back.
func (ld *Loader) Load(ctx context.Context, resource string, query url.Values) (*LoadResult, error) {
	key := Key(resource, query)

	var liveErr error
	if ld.online() {
		// Concurrent identical loads share one fetch and one cache write.
		v, err, _ := ld.group.Do(key, func() (interface{}, error) {
			data, err := ld.fetcher.Fetch(ctx, resource, query)
			if err != nil {
				return nil, err
			}
			if err := ld.cache.Set(ctx, key, data, ld.ttl); err != nil {
				ld.logger.Warn("loader: cache write failed", "key", key, "error", err)
			}
			return data, nil
		})
		if err == nil {
			// Each caller gets its own copy of the shared result.
			data := append(json.RawMessage(nil), v.(json.RawMessage)...)
			return &LoadResult{Key: key, Source: SourceLive, Data: data, StoredAt: ld.now()}, nil
		}
		if !IsConnectivity(err) {
			return nil, err
		}
		liveErr = err
	} else {
		liveErr = ErrOffline
	}

	e, ok := ld.cache.Lookup(ctx, key)
	if !ok {
		return nil, fmt.Errorf("load %s: no cached copy: %w", key, liveErr)
	}
	age := e.Age(ld.now())
	ld.logger.Info("loader: serving cached data", "key", key, "age", age, "cause", liveErr)
	return &LoadResult{
		Key:      key,
		Source:   SourceCache,
		Data:     e.Value,
		StoredAt: e.StoredAt,
		Age:      age,
		Stale:    age >= ld.staleAfter,
		Err:      liveErr.Error(),
	}, nil
}

// LoadAs is Load with the payload decoded into T.
func LoadAs[T any](ctx context.Context, ld *Loader, resource string, query url.Values) (T, *LoadResult, error) {
	var out T
	res, err := ld.Load(ctx, resource, query)
	if err != nil {
		return out, nil, err
	}
	if len(res.Data) > 0 {
		if err := json.Unmarshal(res.Data, &out); err != nil {
			return out, res, fmt.Errorf("decode %s: %w", res.Key, err)
		}
	}
	return out, res, nil
}

// LoadOrders loads the order list with queued order placeholders ahead of the
// confirmed records. When nothing live or cached is available the placeholders
// are still returned together with the load error.
func (ld *Loader) LoadOrders(ctx context.Context, query url.Values) ([]Order, *LoadResult, error) {
	confirmed, res, err := LoadAs[[]Order](ctx, ld, ResourceOrders, query)
	if err != nil && (res != nil || !IsConnectivity(err)) {
		return nil, res, err
	}

	var actions []QueuedAction
	if ld.queue != nil {
		actions = ld.queue.GetQueue()
	}
	return MergeQueued(confirmed, actions, KindOrderCreate, SynthesizeOrder), res, err
}

package posoffline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ============================================================================
// Options
// ============================================================================

// ManagerOptions configures the OfflineManager. Zero values take defaults.
type ManagerOptions struct {
	// Signal drives IsOnline. Defaults to a ManualSignal controlled by SetOnline.
	Signal Signal
	// Fetcher serves reads. Defaults to the executor when it implements
	// Fetcher, otherwise GET requests through the executor.
	Fetcher Fetcher
	Logger  *slog.Logger
	Clock   func() time.Time

	Retry             *RetryPolicy
	FlushInterval     time.Duration // default 30s
	StreamConcurrency int
	ReplayRate        rate.Limit // 0 = unlimited
	ReplayBurst       int
	KeepSucceeded     bool
	LeaseTTL          time.Duration

	DisablePreload bool
	PreloadTTL     time.Duration
	CacheTTL       time.Duration
	StaleAfter     time.Duration
}

func (o *ManagerOptions) withDefaults() ManagerOptions {
	var out ManagerOptions
	if o != nil {
		out = *o
	}
	if out.Logger == nil {
		out.Logger = discardLogger()
	}
	if out.Clock == nil {
		out.Clock = time.Now
	}
	if out.FlushInterval == 0 {
		out.FlushInterval = 30 * time.Second
	}
	if out.ReplayBurst == 0 {
		out.ReplayBurst = 1
	}
	return out
}

// ============================================================================
// Offline Manager
// ============================================================================

// OfflineManager wires the cache, the action queue, the loader and the
// connectivity signal around one network executor. Construct one per
// process and call Init before use.
type OfflineManager struct {
	opts   ManagerOptions
	logger *slog.Logger
	exec   Executor
	signal Signal
	manual *ManualSignal

	cache  *Cache
	queue  *Queue
	loader *Loader

	mu          sync.Mutex
	isOnline    bool
	initialized bool
	stopped     bool
	preloading  bool // set while a preload runs or after one succeeded
	unsubSignal func()
	stopCh      chan struct{}
	bg          sync.WaitGroup
	bgCtx       context.Context
	bgCancel    context.CancelFunc
}

// DispatchResult is the outcome of a page-level mutation.
type DispatchResult struct {
	// Queued is true when the call was deferred to the action queue.
	Queued   bool          `json:"queued"`
	Action   *QueuedAction `json:"action,omitempty"`
	Response *Response     `json:"response,omitempty"`
}

// NewOfflineManager creates a manager over storage and exec. opts may be nil.
func NewOfflineManager(storage Storage, exec Executor, opts *ManagerOptions) *OfflineManager {
	o := opts.withDefaults()

	m := &OfflineManager{
		opts:     o,
		logger:   o.Logger,
		exec:     exec,
		signal:   o.Signal,
		isOnline: true,
		stopCh:   make(chan struct{}),
	}
	if m.signal == nil {
		m.manual = NewManualSignal(true)
		m.signal = m.manual
	}
	m.bgCtx, m.bgCancel = context.WithCancel(context.Background())

	fetcher := o.Fetcher
	if fetcher == nil {
		if f, ok := exec.(Fetcher); ok {
			fetcher = f
		} else {
			fetcher = ExecutorFetcher(exec)
		}
	}

	m.cache = NewCache(storage,
		WithCacheLogger(o.Logger.With("component", "cache")),
		WithCacheClock(o.Clock),
		WithFetcher(fetcher),
		WithPreloadTTL(o.PreloadTTL),
	)

	qopts := []QueueOption{
		WithQueueLogger(o.Logger.With("component", "queue")),
		WithQueueClock(o.Clock),
		WithOnlineFunc(m.IsOnline),
		WithRetryPolicy(o.Retry),
		WithStreamConcurrency(o.StreamConcurrency),
		WithKeepSucceeded(o.KeepSucceeded),
		WithLease("", "", o.LeaseTTL),
	}
	if o.ReplayRate > 0 {
		qopts = append(qopts, WithReplayRate(o.ReplayRate, o.ReplayBurst))
	}
	m.queue = NewQueue(storage, exec, qopts...)

	m.loader = NewLoader(fetcher, m.cache, m.queue,
		WithLoaderLogger(o.Logger.With("component", "loader")),
		WithLoaderClock(o.Clock),
		WithLoaderOnline(m.IsOnline),
		WithLoaderTTL(o.CacheTTL),
		WithStaleAfter(o.StaleAfter),
	)
	return m
}

// Init loads the queue, starts watching connectivity and the flush loop, and
// kicks off a best-effort preload of the critical data. When the network is
// down at Init the preload waits for the first reconnect. It never blocks
// Init and its failures are only logged.
func (m *OfflineManager) Init(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.initialized = true
	m.mu.Unlock()

	if err := m.queue.Init(ctx); err != nil {
		return fmt.Errorf("offline manager: %w", err)
	}

	m.mu.Lock()
	m.isOnline = m.signal.Online()
	if m.manual == nil {
		// Notifications may arrive out of order; the signal's current state wins.
		m.unsubSignal = m.signal.Subscribe(func(bool) { m.SetOnline(m.signal.Online()) })
	}
	online := m.isOnline
	m.bg.Add(1)
	m.mu.Unlock()
	go m.flushLoop()

	if online {
		m.queue.Trigger()
		m.startPreload()
	}
	return nil
}

// startPreload warms the cache once per manager. An incomplete preload is
// attempted again on the next reconnect.
func (m *OfflineManager) startPreload() {
	if m.opts.DisablePreload {
		return
	}
	m.mu.Lock()
	if !m.initialized || m.stopped || m.preloading {
		m.mu.Unlock()
		return
	}
	m.preloading = true
	m.mu.Unlock()

	m.goBackground(func(ctx context.Context) {
		err := m.cache.PreloadCriticalData(ctx)
		if err == nil {
			return
		}
		m.logger.Warn("offline manager: preload incomplete", "error", err)
		m.mu.Lock()
		m.preloading = false
		m.mu.Unlock()
	})
}

// Close stops background work and flushes the queue.
func (m *OfflineManager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	close(m.stopCh)
	unsub := m.unsubSignal
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	m.bgCancel()
	waitGroup(ctx, &m.bg)
	return m.queue.Close(ctx)
}

// IsOnline returns the current network state.
func (m *OfflineManager) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isOnline
}

// SetOnline records a connectivity change. Going online triggers a replay and,
// until one has completed, the critical data preload.
func (m *OfflineManager) SetOnline(online bool) {
	m.mu.Lock()
	if m.isOnline == online {
		m.mu.Unlock()
		return
	}
	m.isOnline = online
	manual := m.manual
	m.mu.Unlock()

	if manual != nil {
		manual.Set(online)
	}
	m.logger.Info("offline manager: connectivity changed", "online", online)
	if online {
		m.queue.emit(EventOnline)
		m.queue.Trigger()
		m.startPreload()
	} else {
		m.queue.emit(EventOffline)
	}
}

func (m *OfflineManager) Cache() *Cache   { return m.cache }
func (m *OfflineManager) Queue() *Queue   { return m.queue }
func (m *OfflineManager) Loader() *Loader { return m.loader }

// Subscribe registers l for queue and connectivity events.
func (m *OfflineManager) Subscribe(l Listener) func() {
	return m.queue.Subscribe(l)
}

// Flush runs one replay pass now.
func (m *OfflineManager) Flush(ctx context.Context) error {
	return m.queue.ProcessQueue(ctx)
}

// ── Dispatch ──────────────────────────────────────────────

// Dispatch performs a page-level mutation. While online it is sent directly;
// when offline, on a connectivity failure, or when earlier actions of the same
// endpoint family are still queued, it is enqueued instead and reported with
// Queued=true. Rejections are returned and never queued. The direct attempt
// and the queued replay share one Idempotency-Key.
func (m *OfflineManager) Dispatch(ctx context.Context, endpoint, method string, body interface{}) (*DispatchResult, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	payload, err := encodeBody(body)
	if err != nil {
		return nil, fmt.Errorf("dispatch: encode body: %w", err)
	}
	id := uuid.NewString()

	if !m.IsOnline() {
		return m.enqueueFallback(ctx, endpoint, method, payload, id, ErrOffline)
	}
	if m.queue.HasOpen(endpoint) {
		return m.enqueueFallback(ctx, endpoint, method, payload, id,
			fmt.Errorf("earlier %s actions still queued", streamOf(endpoint)))
	}

	resp, err := m.exec.Execute(ctx, &Request{
		Method:         method,
		Endpoint:       endpoint,
		Body:           payload,
		IdempotencyKey: idempotencyKey(id),
	})
	switch {
	case err == nil:
		return &DispatchResult{Response: resp}, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case IsRejected(err):
		return nil, err
	default:
		m.logger.Info("offline manager: direct call failed, queueing", "endpoint", endpoint, "error", err)
		return m.enqueueFallback(ctx, endpoint, method, payload, id, err)
	}
}

func (m *OfflineManager) enqueueFallback(ctx context.Context, endpoint, method string, payload json.RawMessage, id string, cause error) (*DispatchResult, error) {
	a, err := m.queue.enqueue(ctx, endpoint, method, payload, id)
	if a == nil {
		if errors.Is(err, ErrUnknownMutation) {
			return nil, fmt.Errorf("%w (not queueable: %v)", cause, err)
		}
		return nil, err
	}
	if m.IsOnline() {
		m.queue.Trigger()
	}
	return &DispatchResult{Queued: true, Action: a}, err
}

// ── Background ────────────────────────────────────────────

func (m *OfflineManager) flushLoop() {
	defer m.bg.Done()
	ticker := time.NewTicker(m.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if m.IsOnline() && m.queue.PendingCount() > 0 {
				m.queue.Trigger()
			}
		}
	}
}

func (m *OfflineManager) goBackground(fn func(ctx context.Context)) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.bg.Add(1)
	m.mu.Unlock()
	go func() {
		defer m.bg.Done()
		fn(m.bgCtx)
	}()
}

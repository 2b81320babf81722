package posoffline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ActionStatus is the replay state of a queued action.
type ActionStatus string

const (
	StatusPending    ActionStatus = "pending"
	StatusProcessing ActionStatus = "processing"
	StatusSucceeded  ActionStatus = "succeeded"
	StatusFailed     ActionStatus = "failed"
)

const (
	defaultQueueKey  = "offline_queue"
	defaultLeaseName = "queue.lease"
	defaultLeaseTTL  = 30 * time.Second
)

// QueuedAction is a mutation recorded locally until the server confirms it.
type QueuedAction struct {
	ID             string          `json:"id"`
	Seq            int64           `json:"seq"`
	Endpoint       string          `json:"endpoint"`
	Method         string          `json:"method"`
	Kind           string          `json:"kind"`
	Body           json.RawMessage `json:"body,omitempty"`
	Status         ActionStatus    `json:"status"`
	Timestamp      time.Time       `json:"timestamp"`
	Attempts       int             `json:"attempts"`
	NextAttemptAt  time.Time       `json:"nextAttemptAt,omitempty"`
	LastError      string          `json:"lastError,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Response       json.RawMessage `json:"response,omitempty"`
}

func (a *QueuedAction) clone() *QueuedAction {
	cp := *a
	cp.Body = append(json.RawMessage(nil), a.Body...)
	cp.Response = append(json.RawMessage(nil), a.Response...)
	return &cp
}

// Stream is the endpoint family the action is ordered within.
func (a *QueuedAction) Stream() string {
	return streamOf(a.Endpoint)
}

type enqueueInput struct {
	Endpoint string `validate:"required,startswith=/"`
	Method   string `validate:"required,oneof=POST PUT PATCH DELETE"`
}

type persistedQueue struct {
	Seq     int64           `json:"seq"`
	Actions []*QueuedAction `json:"actions"`
}

// ============================================================================
// Queue
// ============================================================================

// Queue is the durable offline action queue. Delivery to the server is
// at-least-once: an action interrupted mid-flight is replayed, so endpoints
// must deduplicate on the action's Idempotency-Key.
type Queue struct {
	storage  Storage
	exec     Executor
	policy   *RetryPolicy
	logger   *slog.Logger
	now      func() time.Time
	online   func() bool
	limiter  *rate.Limiter
	validate *validator.Validate

	mutations         []Mutation
	storageKey        string
	leaseName         string
	leaseTTL          time.Duration
	holder            string
	streamConcurrency int
	keepSucceeded     bool

	events *emitter

	mu      sync.Mutex
	actions []*QueuedAction // creation order
	seq     int64
	dirty   bool
	running bool
	rerun   bool
	closed  bool
	timer   *time.Timer
	timerAt time.Time

	bg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

type QueueOption func(*Queue)

func WithRetryPolicy(p *RetryPolicy) QueueOption {
	return func(q *Queue) {
		if p != nil {
			q.policy = p
		}
	}
}

func WithQueueLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

func WithQueueClock(fn func() time.Time) QueueOption {
	return func(q *Queue) {
		if fn != nil {
			q.now = fn
		}
	}
}

// WithOnlineFunc lets the queue skip passes while the device is offline.
func WithOnlineFunc(fn func() bool) QueueOption {
	return func(q *Queue) {
		if fn != nil {
			q.online = fn
		}
	}
}

// WithReplayRate paces replays; the default is unlimited.
func WithReplayRate(r rate.Limit, burst int) QueueOption {
	return func(q *Queue) { q.limiter = rate.NewLimiter(r, burst) }
}

// WithMutation registers an additional replayable mutation.
func WithMutation(method, pattern, kind string) QueueOption {
	return func(q *Queue) {
		q.mutations = append(q.mutations, Mutation{
			Method:  strings.ToUpper(method),
			Pattern: regexpMustCompileAnchored(pattern),
			Kind:    kind,
		})
	}
}

// WithStreamConcurrency bounds how many endpoint families replay in parallel.
func WithStreamConcurrency(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.streamConcurrency = n
		}
	}
}

// WithKeepSucceeded retains succeeded actions in the queue instead of dropping them.
func WithKeepSucceeded(keep bool) QueueOption {
	return func(q *Queue) { q.keepSucceeded = keep }
}

// WithLease configures the cross-process lease guarding replay passes.
func WithLease(name, holder string, ttl time.Duration) QueueOption {
	return func(q *Queue) {
		if name != "" {
			q.leaseName = name
		}
		if holder != "" {
			q.holder = holder
		}
		if ttl > 0 {
			q.leaseTTL = ttl
		}
	}
}

// WithQueueKey sets the storage key the queue is persisted under.
func WithQueueKey(key string) QueueOption {
	return func(q *Queue) {
		if key != "" {
			q.storageKey = key
		}
	}
}

// NewQueue creates a queue replaying through exec. Call Init before use.
func NewQueue(storage Storage, exec Executor, opts ...QueueOption) *Queue {
	q := &Queue{
		storage:           storage,
		exec:              exec,
		policy:            DefaultRetryPolicy(),
		logger:            discardLogger(),
		now:               time.Now,
		online:            func() bool { return true },
		limiter:           rate.NewLimiter(rate.Inf, 1),
		validate:          validator.New(),
		mutations:         append([]Mutation(nil), defaultMutations...),
		storageKey:        defaultQueueKey,
		leaseName:         defaultLeaseName,
		leaseTTL:          defaultLeaseTTL,
		holder:            uuid.NewString(),
		streamConcurrency: 4,
		events:            newEmitter(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.bgCtx, q.bgCancel = context.WithCancel(context.Background())
	return q
}

// Init loads the persisted queue. Actions found in processing were interrupted
// by a crash or reload and go back to pending; they are never assumed delivered.
func (q *Queue) Init(ctx context.Context) error {
	raw, found, err := q.storage.GetItem(ctx, q.storageKey)
	if err != nil {
		return fmt.Errorf("queue: load: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if found {
		var pq persistedQueue
		if err := json.Unmarshal(raw, &pq); err != nil {
			return fmt.Errorf("queue: decode persisted queue: %w", err)
		}
		known := make(map[string]bool, len(q.actions))
		for _, a := range q.actions {
			known[a.ID] = true
		}
		recovered := 0
		for _, a := range pq.Actions {
			if a == nil || known[a.ID] {
				continue
			}
			if a.Status == StatusProcessing {
				a.Status = StatusPending
				recovered++
			}
			q.actions = append(q.actions, a)
		}
		if pq.Seq > q.seq {
			q.seq = pq.Seq
		}
		sort.SliceStable(q.actions, func(i, j int) bool { return q.actions[i].Seq < q.actions[j].Seq })
		if recovered > 0 {
			q.logger.Info("queue: recovered interrupted actions", "count", recovered)
			q.persistLocked(ctx)
		}
	}

	if at, ok := q.earliestRetryLocked(); ok {
		q.scheduleLocked(at)
	}
	return nil
}

// Snapshot reads the queue persisted under the default key without loading
// it into a Queue, so nothing is recovered or rewritten.
func Snapshot(ctx context.Context, storage Storage) ([]QueuedAction, error) {
	raw, found, err := storage.GetItem(ctx, defaultQueueKey)
	if err != nil {
		return nil, fmt.Errorf("queue: load: %w", err)
	}
	if !found {
		return nil, nil
	}
	var pq persistedQueue
	if err := json.Unmarshal(raw, &pq); err != nil {
		return nil, fmt.Errorf("queue: decode persisted queue: %w", err)
	}
	out := make([]QueuedAction, 0, len(pq.Actions))
	for _, a := range pq.Actions {
		if a != nil {
			out = append(out, *a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Enqueue durably records a mutation for replay and returns it in pending state.
// If the write to storage fails the action is still queued in memory and the
// returned error wraps ErrNotDurable alongside the non-nil action.
func (q *Queue) Enqueue(ctx context.Context, endpoint, method string, body interface{}) (*QueuedAction, error) {
	return q.enqueue(ctx, endpoint, method, body, "")
}

// enqueue records the action under id, or a fresh id when empty. Callers that
// already tried the call directly pass the id whose key they sent.
func (q *Queue) enqueue(ctx context.Context, endpoint, method string, body interface{}, id string) (*QueuedAction, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if err := q.validate.Struct(enqueueInput{Endpoint: endpoint, Method: method}); err != nil {
		return nil, fmt.Errorf("queue: invalid action: %w", err)
	}
	m, ok := matchMutation(q.mutations, method, endpoint)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownMutation, method, endpoint)
	}
	payload, err := encodeBody(body)
	if err != nil {
		return nil, fmt.Errorf("queue: encode body: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}

	if id == "" {
		id = uuid.NewString()
	} else if q.findLocked(id) != nil {
		return nil, fmt.Errorf("queue: duplicate action id %s", id)
	}
	q.seq++
	a := &QueuedAction{
		ID:             id,
		Seq:            q.seq,
		Endpoint:       endpoint,
		Method:         method,
		Kind:           m.Kind,
		Body:           payload,
		Status:         StatusPending,
		Timestamp:      q.now(),
		IdempotencyKey: idempotencyKey(id),
	}
	q.actions = append(q.actions, a)
	persistErr := q.persistLocked(ctx)
	q.emitLocked(EventEnqueued, a, "")
	q.logger.Debug("queue: enqueued", "id", id, "kind", m.Kind, "endpoint", endpoint)

	if persistErr != nil {
		return a.clone(), fmt.Errorf("%w: %v", ErrNotDurable, persistErr)
	}
	return a.clone(), nil
}

func idempotencyKey(id string) string {
	return "pos-" + id
}

func encodeBody(body interface{}) (json.RawMessage, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(b) == 0 {
			return nil, nil
		}
		if !json.Valid(b) {
			return nil, errors.New("body is not valid JSON")
		}
		return append(json.RawMessage(nil), b...), nil
	case []byte:
		if len(b) == 0 {
			return nil, nil
		}
		if !json.Valid(b) {
			return nil, errors.New("body is not valid JSON")
		}
		return append(json.RawMessage(nil), b...), nil
	default:
		return json.Marshal(body)
	}
}

// GetQueue returns a snapshot of every action in creation order.
func (q *Queue) GetQueue() []QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedAction, 0, len(q.actions))
	for _, a := range q.actions {
		out = append(out, *a.clone())
	}
	return out
}

// Get returns a copy of one action.
func (q *Queue) Get(id string) (*QueuedAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	a := q.findLocked(id)
	if a == nil {
		return nil, ErrActionNotFound
	}
	return a.clone(), nil
}

// PendingCount returns the number of actions still awaiting delivery.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, a := range q.actions {
		if a.Status == StatusPending || a.Status == StatusProcessing {
			n++
		}
	}
	return n
}

// HasOpen reports whether the stream of endpoint still has undelivered
// actions. A direct call on such a stream would overtake them.
func (q *Queue) HasOpen(endpoint string) bool {
	stream := streamOf(endpoint)
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, a := range q.actions {
		if a.Stream() != stream {
			continue
		}
		if a.Status == StatusPending || a.Status == StatusProcessing {
			return true
		}
	}
	return false
}

// Subscribe registers l for every queue change and returns the unsubscribe func.
func (q *Queue) Subscribe(l Listener) func() {
	return q.events.subscribe(l)
}

// Retry puts a failed action back in pending with a fresh attempt budget.
// Later actions of the same stream may already have been delivered while it
// sat failed; the retried action replays after them.
//
// A failed write leaves the change in memory and returns an error wrapping
// ErrNotDurable.
func (q *Queue) Retry(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	a := q.findLocked(id)
	if a == nil {
		return ErrActionNotFound
	}
	if a.Status != StatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrActionBusy, id, a.Status)
	}
	a.Status = StatusPending
	a.Attempts = 0
	a.NextAttemptAt = time.Time{}
	a.LastError = ""
	err := q.persistLocked(ctx)
	q.emitLocked(EventRetrying, a, "")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotDurable, err)
	}
	return nil
}

// Remove deletes a failed or succeeded action. Failed actions are never
// removed automatically; this is the operator's way to discard one. Like
// Retry, a failed write returns an error wrapping ErrNotDurable.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, a := range q.actions {
		if a.ID != id {
			continue
		}
		if a.Status != StatusFailed && a.Status != StatusSucceeded {
			return fmt.Errorf("%w: %s is %s", ErrActionBusy, id, a.Status)
		}
		q.actions = append(q.actions[:i], q.actions[i+1:]...)
		err := q.persistLocked(ctx)
		q.emitLocked(EventRemoved, a, "")
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotDurable, err)
		}
		return nil
	}
	return ErrActionNotFound
}

// Close stops scheduled passes, flushes unsaved state and drains subscribers.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	var flushErr error
	if q.dirty {
		flushErr = q.persistLocked(ctx)
	}
	q.mu.Unlock()

	q.bgCancel()
	waitGroup(ctx, &q.bg)
	return errors.Join(flushErr, q.events.close(ctx))
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// ============================================================================
// Replay
// ============================================================================

// Trigger starts a replay pass in the background. Triggers during a running
// pass coalesce into one follow-up pass.
func (q *Queue) Trigger() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.bg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.bg.Done()
		if err := q.ProcessQueue(q.bgCtx); err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
			q.logger.Warn("queue: background pass", "error", err)
		}
	}()
}

// ProcessQueue replays every due pending action. It is never re-entered: a
// call made while a pass runs returns immediately and schedules one more pass.
func (q *Queue) ProcessQueue(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.running {
		q.rerun = true
		q.mu.Unlock()
		return nil
	}
	q.running = true
	q.mu.Unlock()

	for {
		err := q.pass(ctx)

		q.mu.Lock()
		again := q.rerun && err == nil && !q.closed && ctx.Err() == nil
		q.rerun = false
		if !again {
			q.running = false
			q.mu.Unlock()
			return err
		}
		q.mu.Unlock()
	}
}

func (q *Queue) pass(ctx context.Context) error {
	if !q.online() {
		q.logger.Debug("queue: offline, skipping pass")
		return nil
	}
	streams := q.dueStreams()
	if len(streams) == 0 {
		return nil
	}

	ok, err := acquireLease(ctx, q.storage, q.leaseName, q.holder, q.leaseTTL, q.now())
	if err != nil {
		return fmt.Errorf("queue: acquire lease: %w", err)
	}
	if !ok {
		return ErrLeaseHeld
	}
	defer func() {
		if err := releaseLease(context.WithoutCancel(ctx), q.storage, q.leaseName, q.holder); err != nil {
			q.logger.Warn("queue: release lease", "error", err)
		}
	}()

	g := new(errgroup.Group)
	g.SetLimit(q.streamConcurrency)
	for _, s := range streams {
		s := s
		g.Go(func() error { return q.replayStream(ctx, s) })
	}
	return g.Wait()
}

// dueStreams lists, in order of their oldest action, the streams whose head is due.
func (q *Queue) dueStreams() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	seen := make(map[string]bool)
	var out []string
	for _, a := range q.actions {
		if a.Status != StatusPending {
			continue
		}
		s := a.Stream()
		if seen[s] {
			continue
		}
		seen[s] = true
		if !a.NextAttemptAt.After(now) {
			out = append(out, s)
		}
	}
	return out
}

func (q *Queue) replayStream(ctx context.Context, stream string) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !q.online() {
			return nil
		}
		// Renew the lease so a long pass does not outlive it.
		if ok, err := acquireLease(ctx, q.storage, q.leaseName, q.holder, q.leaseTTL, q.now()); err != nil || !ok {
			return ErrLeaseHeld
		}
		a := q.claim(stream)
		if a == nil {
			return nil
		}
		if err := q.limiter.Wait(ctx); err != nil {
			q.revert(ctx, a, err)
			return nil
		}
		resp, err := q.exec.Execute(ctx, &Request{
			Method:         a.Method,
			Endpoint:       a.Endpoint,
			Body:           a.Body,
			IdempotencyKey: a.IdempotencyKey,
		})
		if !q.settle(ctx, a, resp, err) {
			return nil
		}
	}
}

// claim moves the stream's oldest pending action to processing before any
// network I/O, so no other pass can pick it up. It returns nil when the
// stream's head is not yet due.
func (q *Queue) claim(stream string) *QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	for _, a := range q.actions {
		if a.Stream() != stream {
			continue
		}
		switch a.Status {
		case StatusProcessing:
			return nil
		case StatusPending:
			if a.NextAttemptAt.After(q.now()) {
				return nil
			}
			a.Status = StatusProcessing
			q.persistLocked(context.Background())
			q.emitLocked(EventProcessing, a, "")
			return a.clone()
		}
	}
	return nil
}

// settle records the outcome of one attempt and reports whether the stream
// may continue with its next action.
func (q *Queue) settle(ctx context.Context, claimed *QueuedAction, resp *Response, err error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	a := q.findLocked(claimed.ID)
	if a == nil {
		return false
	}
	pctx := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		a.Attempts++
		a.Status = StatusSucceeded
		a.LastError = ""
		a.NextAttemptAt = time.Time{}
		if resp != nil {
			a.Response = append(json.RawMessage(nil), resp.Body...)
		}
		if !q.keepSucceeded {
			q.removeLocked(a.ID)
		}
		q.persistLocked(pctx)
		q.emitLocked(EventSucceeded, a, "")
		q.logger.Info("queue: action delivered", "id", a.ID, "kind", a.Kind, "attempts", a.Attempts)
		return true

	case ctx.Err() != nil:
		// The caller gave up on the pass; not a delivery attempt.
		q.revertLocked(pctx, a, err)
		return false

	case IsRejected(err):
		a.Attempts++
		a.Status = StatusFailed
		a.LastError = err.Error()
		q.persistLocked(pctx)
		q.emitLocked(EventFailed, a, a.LastError)
		q.logger.Warn("queue: action rejected", "id", a.ID, "kind", a.Kind, "error", err)
		return true

	default:
		a.Attempts++
		a.LastError = err.Error()
		if q.policy.Exhausted(a.Attempts) {
			a.Status = StatusFailed
			a.NextAttemptAt = time.Time{}
			q.persistLocked(pctx)
			q.emitLocked(EventFailed, a, a.LastError)
			q.logger.Warn("queue: retries exhausted", "id", a.ID, "kind", a.Kind, "attempts", a.Attempts, "error", err)
			return true
		}
		a.Status = StatusPending
		a.NextAttemptAt = q.now().Add(q.policy.Delay(a.Attempts))
		q.persistLocked(pctx)
		q.emitLocked(EventRetrying, a, a.LastError)
		q.scheduleLocked(a.NextAttemptAt)
		q.logger.Info("queue: will retry", "id", a.ID, "attempts", a.Attempts, "at", a.NextAttemptAt, "error", err)
		return false
	}
}

// revert returns a claimed action to pending without counting an attempt.
func (q *Queue) revert(ctx context.Context, claimed *QueuedAction, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if a := q.findLocked(claimed.ID); a != nil {
		q.revertLocked(context.WithoutCancel(ctx), a, cause)
	}
}

func (q *Queue) revertLocked(ctx context.Context, a *QueuedAction, cause error) {
	a.Status = StatusPending
	q.persistLocked(ctx)
	q.emitLocked(EventRetrying, a, cause.Error())
}

// scheduleLocked arms the retry timer for at unless an earlier one is pending.
func (q *Queue) scheduleLocked(at time.Time) {
	if q.closed {
		return
	}
	if q.timer != nil && !q.timerAt.After(at) {
		return
	}
	if q.timer != nil {
		q.timer.Stop()
	}
	d := at.Sub(q.now())
	if d < 0 {
		d = 0
	}
	q.timerAt = at
	q.timer = time.AfterFunc(d, func() {
		q.mu.Lock()
		q.timer = nil
		q.mu.Unlock()
		q.Trigger()
		q.mu.Lock()
		next, ok := q.earliestRetryLocked()
		if ok && next.After(q.now()) {
			q.scheduleLocked(next)
		}
		q.mu.Unlock()
	})
}

func (q *Queue) earliestRetryLocked() (time.Time, bool) {
	var at time.Time
	for _, a := range q.actions {
		if a.Status != StatusPending || a.NextAttemptAt.IsZero() {
			continue
		}
		if at.IsZero() || a.NextAttemptAt.Before(at) {
			at = a.NextAttemptAt
		}
	}
	return at, !at.IsZero()
}

// ============================================================================
// Internals
// ============================================================================

func (q *Queue) findLocked(id string) *QueuedAction {
	for _, a := range q.actions {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (q *Queue) removeLocked(id string) {
	for i, a := range q.actions {
		if a.ID == id {
			q.actions = append(q.actions[:i], q.actions[i+1:]...)
			return
		}
	}
}

// persistLocked writes the whole queue as one storage item. On failure the
// in-memory state stays authoritative, the queue is marked dirty and a
// storage warning is emitted; the next successful write catches up.
func (q *Queue) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(persistedQueue{Seq: q.seq, Actions: q.actions})
	if err == nil {
		err = q.storage.SetItem(ctx, q.storageKey, data)
	}
	if err != nil {
		q.dirty = true
		q.logger.Warn("queue: persist failed, keeping changes in memory", "error", err)
		q.events.emit(Event{Type: EventStorageWarning, Err: err.Error(), At: q.now()})
		return wrapStorageErr("set", q.storageKey, err)
	}
	q.dirty = false
	return nil
}

func (q *Queue) emitLocked(t EventType, a *QueuedAction, errMsg string) {
	q.events.emit(Event{Type: t, Action: a.clone(), Err: errMsg, At: q.now()})
}

// emit publishes a non-action event, e.g. connectivity changes.
func (q *Queue) emit(t EventType) {
	q.events.emit(Event{Type: t, At: q.now()})
}

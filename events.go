package posoffline

import (
	"context"
	"sync"
	"time"
)

// EventType names a queue or connectivity notification.
type EventType string

const (
	EventEnqueued       EventType = "action.enqueued"
	EventProcessing     EventType = "action.processing"
	EventSucceeded      EventType = "action.succeeded"
	EventRetrying       EventType = "action.retrying"
	EventFailed         EventType = "action.failed"
	EventRemoved        EventType = "action.removed"
	EventStorageWarning EventType = "storage.warning"
	EventOnline         EventType = "network.online"
	EventOffline        EventType = "network.offline"
)

// Event is delivered to subscribers. Action is a copy and may be nil.
type Event struct {
	Type   EventType     `json:"type"`
	Action *QueuedAction `json:"action,omitempty"`
	Err    string        `json:"error,omitempty"`
	At     time.Time     `json:"at"`
}

// Listener handles events. It runs on its own goroutine per subscription, so a
// slow listener only delays itself.
type Listener func(Event)

// ============================================================================
// Event Emitter
// ============================================================================

type emitter struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscriber
	wg     sync.WaitGroup
	closed bool
}

func newEmitter() *emitter {
	return &emitter{subs: make(map[uint64]*subscriber)}
}

func (e *emitter) subscribe(l Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return func() {}
	}
	id := e.nextID
	e.nextID++
	s := &subscriber{listener: l}
	s.cond = sync.NewCond(&s.mu)
	e.subs[id] = s
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		s.run()
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
			s.stop(false)
		})
	}
}

// emit queues ev on every subscriber's mailbox; it never waits for a listener.
func (e *emitter) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.subs {
		s.push(ev)
	}
}

// close stops accepting subscribers, lets every mailbox drain, and waits for
// the listeners until ctx is done.
func (e *emitter) close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	subs := e.subs
	e.subs = make(map[uint64]*subscriber)
	e.mu.Unlock()

	for _, s := range subs {
		s.stop(true)
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type subscriber struct {
	listener Listener

	mu      sync.Mutex
	cond    *sync.Cond
	pending []Event
	closed  bool
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	if !s.closed {
		s.pending = append(s.pending, ev)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *subscriber) stop(drain bool) {
	s.mu.Lock()
	s.closed = true
	if !drain {
		s.pending = nil
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *subscriber) run() {
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		ev := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		s.deliver(ev)
	}
}

func (s *subscriber) deliver(ev Event) {
	defer func() { recover() }() // swallow panics in user callbacks
	s.listener(ev)
}

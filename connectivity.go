package posoffline

import "sync"

// Signal reports connectivity and notifies on every online/offline transition.
type Signal interface {
	Online() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// signalHub fans transitions out to subscribers. Handlers run on their own
// goroutine so a slow one cannot stall the signal source.
type signalHub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(bool)
}

func (h *signalHub) subscribe(fn func(bool)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]func(bool))
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

func (h *signalHub) publish(online bool) {
	h.mu.RLock()
	handlers := make([]func(bool), 0, len(h.subs))
	for _, fn := range h.subs {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()
	for _, fn := range handlers {
		go fn(online)
	}
}

// ============================================================================
// ManualSignal
// ============================================================================

// ManualSignal is a Signal driven by the host application, e.g. from the
// browser's online/offline events relayed over the bridge, or from tests.
type ManualSignal struct {
	hub    signalHub
	mu     sync.Mutex
	online bool
}

// NewManualSignal returns a signal starting in the given state.
func NewManualSignal(online bool) *ManualSignal {
	return &ManualSignal{online: online}
}

func (s *ManualSignal) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set updates the state; subscribers hear about real transitions only.
func (s *ManualSignal) Set(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	s.mu.Unlock()
	s.hub.publish(online)
}

func (s *ManualSignal) Subscribe(fn func(bool)) func() {
	return s.hub.subscribe(fn)
}

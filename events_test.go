package posoffline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects events delivered to a Listener.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) count(t EventType) int {
	n := 0
	for _, et := range r.types() {
		if et == t {
			n++
		}
	}
	return n
}

func TestEmitterOrderedDelivery(t *testing.T) {
	e := newEmitter()
	rec := &recorder{}
	e.subscribe(rec.listen)

	for i := 0; i < 50; i++ {
		e.emit(Event{Type: EventType("n"), Err: string(rune('a' + i%26))})
	}
	require.NoError(t, e.close(context.Background()))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 50)
	for i, ev := range rec.events {
		assert.Equal(t, string(rune('a'+i%26)), ev.Err)
	}
}

func TestEmitterSlowAndPanickingListeners(t *testing.T) {
	e := newEmitter()
	block := make(chan struct{})
	e.subscribe(func(Event) { <-block })
	e.subscribe(func(Event) { panic("listener bug") })
	rec := &recorder{}
	e.subscribe(rec.listen)

	done := make(chan struct{})
	go func() {
		e.emit(Event{Type: EventEnqueued})
		e.emit(Event{Type: EventSucceeded})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a slow listener")
	}
	require.Eventually(t, func() bool { return len(rec.types()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []EventType{EventEnqueued, EventSucceeded}, rec.types())

	close(block)
	require.NoError(t, e.close(context.Background()))
}

func TestEmitterUnsubscribe(t *testing.T) {
	e := newEmitter()
	rec := &recorder{}
	unsub := e.subscribe(rec.listen)

	e.emit(Event{Type: EventEnqueued})
	require.Eventually(t, func() bool { return len(rec.types()) == 1 }, time.Second, 5*time.Millisecond)

	unsub()
	unsub()
	e.emit(Event{Type: EventSucceeded})
	require.NoError(t, e.close(context.Background()))
	assert.Equal(t, []EventType{EventEnqueued}, rec.types())
}

func TestEmitterCloseTimesOut(t *testing.T) {
	e := newEmitter()
	block := make(chan struct{})
	defer close(block)
	e.subscribe(func(Event) { <-block })
	e.emit(Event{Type: EventEnqueued})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.close(ctx), context.DeadlineExceeded)
}

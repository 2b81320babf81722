package posoffline

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// RetryPolicy decides how often a queued action is replayed before it is
// marked failed, and how long to wait between replays.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // fraction of the delay, 0..1

	mu   sync.Mutex
	rand *rand.Rand
}

// DefaultRetryPolicy gives up after five attempts; the wait doubles from 2s
// and never exceeds five minutes.
func DefaultRetryPolicy() *RetryPolicy {
	return NewRetryPolicy(5, 2*time.Second, 5*time.Minute, 0.2)
}

// NewRetryPolicy returns a policy with sane lower bounds applied.
func NewRetryPolicy(maxAttempts int, base, max time.Duration, jitter float64) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if max < base {
		max = base
	}
	if jitter < 0 {
		jitter = 0
	}
	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   base,
		MaxDelay:    max,
		Jitter:      math.Min(jitter, 1),
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Exhausted reports whether an action with this many attempts must stop retrying.
func (p *RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Delay returns the wait before the next replay once attempts replays have failed.
// attempts is 1 after the first failure.
func (p *RetryPolicy) Delay(attempts int) time.Duration {
	if attempts <= 1 {
		return p.addJitter(p.BaseDelay)
	}
	shift := attempts - 1
	if shift > 30 {
		shift = 30
	}
	delay := time.Duration(float64(p.BaseDelay) * float64(uint64(1)<<uint(shift)))
	if delay <= 0 || delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return p.addJitter(delay)
}

func (p *RetryPolicy) addJitter(delay time.Duration) time.Duration {
	if p.Jitter == 0 || delay <= 0 {
		return delay
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rand == nil {
		p.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	factor := 1 + (p.rand.Float64()*2-1)*p.Jitter
	return time.Duration(float64(delay) * factor)
}

package posoffline

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Storage is the durable key-value capability the cache and queue persist into.
// GetItem reports a missing key with found=false and a nil error. SetItem must
// replace the value for key in one step: readers observe the old value or the
// new one, never a mix.
type Storage interface {
	GetItem(ctx context.Context, key string) (value []byte, found bool, err error)
	SetItem(ctx context.Context, key string, value []byte) error
	RemoveItem(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// LeaseStorage is implemented by backends that can grant a named lease atomically.
// AcquireLease succeeds if the lease is free, expired, or already held by holder.
type LeaseStorage interface {
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error
}

// ============================================================================
// MemoryStorage
// ============================================================================

// MemoryStorage is a goroutine-safe in-memory storage backend.
// It is not durable across restarts; use SQLiteStorage for that.
type MemoryStorage struct {
	mu       sync.RWMutex
	items    map[string][]byte
	used     int
	maxBytes int
	leases   map[string]memLease
	now      func() time.Time
}

type memLease struct {
	holder    string
	expiresAt time.Time
}

// MemoryStorageOption configures a MemoryStorage.
type MemoryStorageOption func(*MemoryStorage)

// WithQuota caps the total bytes (keys + values) the storage accepts.
// Writes beyond the cap fail with ErrQuotaExceeded.
func WithQuota(maxBytes int) MemoryStorageOption {
	return func(s *MemoryStorage) { s.maxBytes = maxBytes }
}

// WithStorageClock overrides the clock used for lease expiry.
func WithStorageClock(fn func() time.Time) MemoryStorageOption {
	return func(s *MemoryStorage) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewMemoryStorage creates a new in-memory storage.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	s := &MemoryStorage{
		items:  make(map[string][]byte),
		leases: make(map[string]memLease),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStorage) GetItem(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryStorage) SetItem(_ context.Context, key string, value []byte) error {
	if key == "" {
		return &StorageError{Op: "set", Key: key, Err: ErrInvalidKey}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.used + len(key) + len(value)
	if old, ok := s.items[key]; ok {
		used -= len(key) + len(old)
	}
	if s.maxBytes > 0 && used > s.maxBytes {
		return &StorageError{Op: "set", Key: key, Err: ErrQuotaExceeded}
	}
	s.items[key] = append([]byte(nil), value...)
	s.used = used
	return nil
}

func (s *MemoryStorage) RemoveItem(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.items[key]; ok {
		s.used -= len(key) + len(old)
		delete(s.items, key)
	}
	return nil
}

func (s *MemoryStorage) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored items.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *MemoryStorage) AcquireLease(_ context.Context, name, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if l, ok := s.leases[name]; ok && l.holder != holder && now.Before(l.expiresAt) {
		return false, nil
	}
	s.leases[name] = memLease{holder: holder, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStorage) ReleaseLease(_ context.Context, name, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leases[name]; ok && l.holder == holder {
		delete(s.leases, name)
	}
	return nil
}

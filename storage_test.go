package posoffline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helpers
// ============================================================================

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// flakyStorage fails writes while failing is set.
type flakyStorage struct {
	*MemoryStorage
	mu      sync.Mutex
	failing bool
}

var errDiskGone = errors.New("disk unavailable")

func (s *flakyStorage) setFailing(v bool) {
	s.mu.Lock()
	s.failing = v
	s.mu.Unlock()
}

func (s *flakyStorage) SetItem(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	failing := s.failing
	s.mu.Unlock()
	if failing {
		return errDiskGone
	}
	return s.MemoryStorage.SetItem(ctx, key, value)
}

func openTestSQLite(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := OpenSQLiteStorage(filepath.Join(t.TempDir(), "offline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// ============================================================================
// Storage contract
// ============================================================================

func TestStorageBackends(t *testing.T) {
	backends := map[string]func(t *testing.T) Storage{
		"memory": func(t *testing.T) Storage { return NewMemoryStorage() },
		"sqlite": func(t *testing.T) Storage { return openTestSQLite(t) },
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			t.Run("missing key", func(t *testing.T) {
				v, found, err := s.GetItem(ctx, "nope")
				require.NoError(t, err)
				assert.False(t, found)
				assert.Nil(t, v)
			})

			t.Run("set get overwrite", func(t *testing.T) {
				require.NoError(t, s.SetItem(ctx, "api_customers", []byte(`[1]`)))
				require.NoError(t, s.SetItem(ctx, "api_customers", []byte(`[1,2]`)))
				v, found, err := s.GetItem(ctx, "api_customers")
				require.NoError(t, err)
				assert.True(t, found)
				assert.Equal(t, `[1,2]`, string(v))
			})

			t.Run("empty key rejected", func(t *testing.T) {
				err := s.SetItem(ctx, "", []byte(`1`))
				assert.ErrorIs(t, err, ErrInvalidKey)
			})

			t.Run("keys by prefix", func(t *testing.T) {
				require.NoError(t, s.SetItem(ctx, "api_services", []byte(`[]`)))
				require.NoError(t, s.SetItem(ctx, "asset_logo", []byte(`"x"`)))
				keys, err := s.Keys(ctx, "api_")
				require.NoError(t, err)
				assert.Equal(t, []string{"api_customers", "api_services"}, keys)
			})

			t.Run("remove", func(t *testing.T) {
				require.NoError(t, s.RemoveItem(ctx, "api_services"))
				require.NoError(t, s.RemoveItem(ctx, "api_services"))
				_, found, err := s.GetItem(ctx, "api_services")
				require.NoError(t, err)
				assert.False(t, found)
			})

			t.Run("lease", func(t *testing.T) {
				ls, ok := s.(LeaseStorage)
				require.True(t, ok)

				got, err := ls.AcquireLease(ctx, "queue.lease", "a", time.Minute)
				require.NoError(t, err)
				assert.True(t, got)

				got, err = ls.AcquireLease(ctx, "queue.lease", "b", time.Minute)
				require.NoError(t, err)
				assert.False(t, got, "held by a")

				got, err = ls.AcquireLease(ctx, "queue.lease", "a", time.Minute)
				require.NoError(t, err)
				assert.True(t, got, "renewal by holder")

				require.NoError(t, ls.ReleaseLease(ctx, "queue.lease", "b"))
				got, _ = ls.AcquireLease(ctx, "queue.lease", "b", time.Minute)
				assert.False(t, got, "release by non-holder is ignored")

				require.NoError(t, ls.ReleaseLease(ctx, "queue.lease", "a"))
				got, err = ls.AcquireLease(ctx, "queue.lease", "b", time.Minute)
				require.NoError(t, err)
				assert.True(t, got)
			})
		})
	}
}

func TestMemoryStorageQuota(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage(WithQuota(20))

	require.NoError(t, s.SetItem(ctx, "k1", []byte("0123456789"))) // 12 bytes
	err := s.SetItem(ctx, "k2", []byte("0123456789"))
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "k2", se.Key)

	// Overwriting an existing key only counts the difference.
	require.NoError(t, s.SetItem(ctx, "k1", []byte("0123456789abcdef")))
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStorageLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewMemoryStorage(WithStorageClock(clock.Now))

	got, _ := s.AcquireLease(ctx, "l", "a", 30*time.Second)
	require.True(t, got)
	got, _ = s.AcquireLease(ctx, "l", "b", 30*time.Second)
	require.False(t, got)

	clock.Advance(31 * time.Second)
	got, _ = s.AcquireLease(ctx, "l", "b", 30*time.Second)
	assert.True(t, got)
}

func TestFallbackLease(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	// Hide the LeaseStorage methods to exercise the read-then-write path.
	var s Storage = struct{ Storage }{NewMemoryStorage()}

	got, err := acquireLease(ctx, s, "q", "a", time.Minute, now)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = acquireLease(ctx, s, "q", "b", time.Minute, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, got)

	got, err = acquireLease(ctx, s, "q", "b", time.Minute, now.Add(61*time.Second))
	require.NoError(t, err)
	assert.True(t, got, "expired lease is taken over")

	require.NoError(t, releaseLease(ctx, s, "q", "a"))
	_, found, _ := s.GetItem(ctx, leasePrefix+"q")
	assert.True(t, found, "non-holder release keeps the lease")

	require.NoError(t, releaseLease(ctx, s, "q", "b"))
	_, found, _ = s.GetItem(ctx, leasePrefix+"q")
	assert.False(t, found)
}

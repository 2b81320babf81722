package posoffline

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name     string
		resource string
		query    url.Values
		want     string
	}{
		{"bare", "customers", nil, "api_customers"},
		{"leading slash", "/customers", nil, "api_customers"},
		{"api prefix and case", "/API/Customers/", nil, "api_customers"},
		{"inline query dropped", "customers?page=2", nil, "api_customers"},
		{"empty query", "orders", url.Values{}, "api_orders"},
		{"sorted query", "orders", url.Values{"status": {"open"}, "day": {"2026-03-01"}}, "api_orders?day=2026-03-01&status=open"},
		{"sorted values", "orders", url.Values{"id": {"b", "a"}}, "api_orders?id=a&id=b"},
		{"nested path", "/api/orders/42/items", nil, "api_orders/42/items"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(tt.resource, tt.query))
		})
	}
}

func TestCacheSetGet(t *testing.T) {
	ctx := context.Background()
	c := NewCache(NewMemoryStorage())

	customers := []Customer{{ID: "c1", Name: "Ada"}, {ID: "c2", Name: "Linus"}}
	require.NoError(t, c.Set(ctx, Key("customers", nil), customers, 0))

	got, ok := GetAs[[]Customer](ctx, c, Key("/api/customers", nil))
	require.True(t, ok)
	assert.Equal(t, customers, got)

	raw, ok := c.Get(ctx, "api_customers")
	require.True(t, ok)
	assert.JSONEq(t, `[{"id":"c1","name":"Ada"},{"id":"c2","name":"Linus"}]`, string(raw))
}

func TestCacheMissAndEmptyKey(t *testing.T) {
	ctx := context.Background()
	c := NewCache(NewMemoryStorage())

	_, ok := c.Get(ctx, "api_nothing")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "")
	assert.False(t, ok)
	assert.ErrorIs(t, c.Set(ctx, "", 1, 0), ErrInvalidKey)
}

func TestCacheTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	storage := NewMemoryStorage()
	c := NewCache(storage, WithCacheClock(clock.Now))

	require.NoError(t, c.Set(ctx, "api_stations", []Station{{ID: "s1"}}, time.Minute))

	clock.Advance(30 * time.Second)
	e, ok := c.Lookup(ctx, "api_stations")
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, e.Age(clock.Now()))
	assert.Equal(t, time.Minute, e.TTL)

	clock.Advance(30 * time.Second)
	_, ok = c.Get(ctx, "api_stations")
	assert.False(t, ok)

	_, found, err := storage.GetItem(ctx, "api_stations")
	require.NoError(t, err)
	assert.False(t, found, "expired entry removed on read")
}

func TestCacheFailedWriteKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	storage := &flakyStorage{MemoryStorage: NewMemoryStorage()}
	c := NewCache(storage)

	require.NoError(t, c.Set(ctx, "api_services", []string{"cut"}, 0))

	storage.setFailing(true)
	err := c.Set(ctx, "api_services", []string{"cut", "color"}, 0)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "set", se.Op)
	assert.ErrorIs(t, err, errDiskGone)

	got, ok := GetAs[[]string](ctx, c, "api_services")
	require.True(t, ok)
	assert.Equal(t, []string{"cut"}, got)

	// Unmarshalable values fail before touching storage.
	storage.setFailing(false)
	require.Error(t, c.Set(ctx, "api_services", make(chan int), 0))
	got, _ = GetAs[[]string](ctx, c, "api_services")
	assert.Equal(t, []string{"cut"}, got)
}

func TestCacheQuotaEviction(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	storage := NewMemoryStorage(WithQuota(400))
	c := NewCache(storage, WithCacheClock(clock.Now), WithEvictBatch(1))

	require.NoError(t, c.SetAsset(ctx, "logo", "svg"))
	require.NoError(t, c.Set(ctx, "api_customers", "old", 0))
	clock.Advance(time.Minute)
	require.NoError(t, c.Set(ctx, "api_services", "newer", 0))
	clock.Advance(time.Minute)

	big := make([]byte, 120)
	for i := range big {
		big[i] = 'x'
	}
	require.NoError(t, c.Set(ctx, "api_discounts", string(big), 0))

	_, ok := c.Get(ctx, "api_customers")
	assert.False(t, ok, "oldest runtime entry evicted")
	_, ok = c.Get(ctx, "api_services")
	assert.True(t, ok)
	_, ok = c.Asset(ctx, "logo")
	assert.True(t, ok, "assets are never evicted")
}

func TestCacheClearScopes(t *testing.T) {
	ctx := context.Background()
	c := NewCache(NewMemoryStorage())

	require.NoError(t, c.Set(ctx, Key("orders", nil), 1, 0))
	require.NoError(t, c.Set(ctx, Key("orders", url.Values{"day": {"today"}}), 2, 0))
	require.NoError(t, c.Set(ctx, Key("orders/42", nil), 3, 0))
	require.NoError(t, c.Set(ctx, Key("ordersarchive", nil), 4, 0))
	require.NoError(t, c.Set(ctx, Key("customers", nil), 5, 0))
	require.NoError(t, c.SetAsset(ctx, "app.js", "bundle"))

	n, err := c.Clear(ctx, ResourceScope("/api/orders"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, ok := c.Get(ctx, Key("ordersarchive", nil))
	assert.True(t, ok)

	n, err = c.Clear(ctx, RuntimeScope)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	v, ok := c.Asset(ctx, "app.js")
	require.True(t, ok, "runtime clear spares static assets")
	assert.JSONEq(t, `"bundle"`, string(v))

	_, err = c.Clear(ctx, Scope("asset_"))
	assert.Error(t, err)

	n, err = c.ClearAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPreloadCriticalData(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	fetcher := NewMockFetcher(ctrl)

	fetcher.EXPECT().Fetch(gomock.Any(), ResourceCustomers, gomock.Nil()).
		Return(json.RawMessage(`[{"id":"c1","name":"Ada"}]`), nil)
	fetcher.EXPECT().Fetch(gomock.Any(), ResourceServices, gomock.Nil()).
		Return(nil, &ConnectivityError{Err: errors.New("timeout")})
	fetcher.EXPECT().Fetch(gomock.Any(), ResourceDiscounts, gomock.Nil()).
		Return(json.RawMessage(`[]`), nil)
	fetcher.EXPECT().Fetch(gomock.Any(), ResourceStations, gomock.Nil()).
		Return(json.RawMessage(`[{"id":"s1","name":"Chair 1"}]`), nil)

	c := NewCache(NewMemoryStorage(), WithFetcher(fetcher))
	err := c.PreloadCriticalData(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preload services")
	assert.True(t, IsConnectivity(err))

	customers, ok := GetAs[[]Customer](ctx, c, Key(ResourceCustomers, nil))
	require.True(t, ok)
	assert.Equal(t, "Ada", customers[0].Name)
	_, ok = c.Get(ctx, Key(ResourceStations, nil))
	assert.True(t, ok)
	_, ok = c.Get(ctx, Key(ResourceServices, nil))
	assert.False(t, ok)
}

func TestPreloadWithoutFetcher(t *testing.T) {
	c := NewCache(NewMemoryStorage())
	assert.Error(t, c.PreloadCriticalData(context.Background()))
}

package cache

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		values: make(map[string]string),
		ttls:   make(map[string]time.Duration),
	}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.values[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Incr(ctx context.Context, key string) *redis.IntCmd {
	n, _ := strconv.ParseInt(f.values[key], 10, 64)
	n++
	f.values[key] = strconv.FormatInt(n, 10)
	return redis.NewIntResult(n, nil)
}

type view struct {
	SKU string `json:"sku"`
	Qty string `json:"qty"`
}

// ============================================
// Redis view cache
// ============================================

func TestRedisViewCache_RoundTripAndInvalidate(t *testing.T) {
	fake := newFakeRedis()
	c := &RedisViewCache{client: fake}
	ctx := context.Background()

	var got []view
	gen, hit, err := c.Get(ctx, KeyLowStock, &got)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Zero(t, gen)

	want := []view{{SKU: "FEED-3MM", Qty: "12.5"}}
	require.NoError(t, c.Set(ctx, gen, KeyLowStock, want, 30*time.Second))
	require.NoError(t, c.Set(ctx, gen, ExpiringKey(7), []view{}, time.Minute))
	assert.Equal(t, 30*time.Second, fake.ttls["inventory:view:low-stock@0"])

	_, hit, err = c.Get(ctx, KeyLowStock, &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, want, got)

	require.NoError(t, c.InvalidateAll(ctx))
	gen, hit, err = c.Get(ctx, KeyLowStock, &got)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int64(1), gen)
}

func TestRedisViewCache_SetAfterInvalidateIsOrphaned(t *testing.T) {
	fake := newFakeRedis()
	c := &RedisViewCache{client: fake}
	ctx := context.Background()

	// a reader misses and starts computing from pre-write state
	var got []view
	gen, hit, err := c.Get(ctx, KeyLowStock, &got)
	require.NoError(t, err)
	require.False(t, hit)

	// a writer commits and invalidates before the reader stores its view
	require.NoError(t, c.InvalidateAll(ctx))
	require.NoError(t, c.Set(ctx, gen, KeyLowStock, []view{{SKU: "FEED-3MM", Qty: "stale"}}, time.Minute))

	_, hit, err = c.Get(ctx, KeyLowStock, &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisViewCache_Errors(t *testing.T) {
	fake := newFakeRedis()
	c := &RedisViewCache{client: fake}
	ctx := context.Background()

	fake.values["bad@0"] = "{not json"
	var v view
	_, _, err := c.Get(ctx, "bad", &v)
	assert.ErrorContains(t, err, "decode bad")

	fake.err = errors.New("connection refused")
	_, _, err = c.Get(ctx, KeyLowStock, &v)
	assert.ErrorContains(t, err, "connection refused")
}

func TestExpiringKey(t *testing.T) {
	assert.Equal(t, "inventory:view:expiring:30", ExpiringKey(30))
}

// ============================================
// Memory view cache
// ============================================

func TestMemoryViewCache(t *testing.T) {
	c := NewMemoryViewCache()
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	src := []view{{SKU: "LIME", Qty: "3"}}
	require.NoError(t, c.Set(ctx, 0, KeyLowStock, src, time.Minute))
	src[0].Qty = "mutated"

	var got []view
	_, hit, err := c.Get(ctx, KeyLowStock, &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "3", got[0].Qty)

	now = now.Add(time.Minute)
	_, hit, err = c.Get(ctx, KeyLowStock, &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.InvalidateAll(ctx))
	assert.Zero(t, c.Len())
}

func TestMemoryViewCache_SetAfterInvalidateIsDropped(t *testing.T) {
	c := NewMemoryViewCache()
	ctx := context.Background()

	var got []view
	gen, _, err := c.Get(ctx, KeyLowStock, &got)
	require.NoError(t, err)

	require.NoError(t, c.InvalidateAll(ctx))
	require.NoError(t, c.Set(ctx, gen, KeyLowStock, []view{{SKU: "LIME", Qty: "stale"}}, time.Minute))
	assert.Zero(t, c.Len())

	gen, _, err = c.Get(ctx, KeyLowStock, &got)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, gen, KeyLowStock, []view{{SKU: "LIME", Qty: "fresh"}}, time.Minute))
	_, hit, err := c.Get(ctx, KeyLowStock, &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "fresh", got[0].Qty)
}

// ============================================
// Local locker
// ============================================

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	lock, err := l.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)

	_, err = l.TryLock(ctx, "sweep", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	_, err = l.TryLock(ctx, "other", time.Minute)
	assert.NoError(t, err)

	require.NoError(t, lock.Release(ctx))
	again, err := l.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)

	// expired locks can be taken over; the stale holder's release is ignored
	now = now.Add(2 * time.Minute)
	_, err = l.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
	_, err = l.TryLock(ctx, "sweep", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)
}

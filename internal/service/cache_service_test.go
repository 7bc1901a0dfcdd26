package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/invigilation-planner/pkg/errors"
)

type memoryCache struct {
	items  map[string][]byte
	ttl    map[string]time.Duration
	getErr error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: map[string][]byte{}, ttl: map[string]time.Duration{}}
}

func (m *memoryCache) Get(_ context.Context, key string, dest interface{}) error {
	if m.getErr != nil {
		return m.getErr
	}
	raw, ok := m.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.items[key] = raw
	m.ttl[key] = ttl
	return nil
}

func (m *memoryCache) DeleteByPattern(_ context.Context, _ string) error {
	m.items = map[string][]byte{}
	return nil
}

func TestCacheServiceRoundTripAndMetrics(t *testing.T) {
	repo := newMemoryCache()
	metrics := NewMetricsService()
	svc := NewCacheService(repo, metrics, 0, nil, true)
	ctx := context.Background()

	var out []int
	assert.False(t, svc.Get(ctx, "plan:x", &out))
	svc.Set(ctx, "plan:x", []int{1, 2}, 0)
	assert.Equal(t, time.Hour, repo.ttl["plan:x"])
	require.True(t, svc.Get(ctx, "plan:x", &out))
	assert.Equal(t, []int{1, 2}, out)

	snap := metrics.Snapshot()
	assert.Equal(t, 0.5, snap.CacheHitRatio)
	assert.Equal(t, uint64(1), snap.CacheHits)
	assert.Equal(t, uint64(1), snap.CacheMisses)
}

func TestCacheServiceSwallowsBackendErrors(t *testing.T) {
	repo := newMemoryCache()
	repo.getErr = errors.New("connection refused")
	svc := NewCacheService(repo, nil, time.Minute, nil, true)

	var out []int
	assert.False(t, svc.Get(context.Background(), "plan:x", &out))
}

func TestCacheServiceDisabled(t *testing.T) {
	repo := newMemoryCache()
	svc := NewCacheService(repo, nil, time.Minute, nil, false)
	svc.Set(context.Background(), "k", 1, 0)
	assert.Empty(t, repo.items)
	assert.NoError(t, svc.Invalidate(context.Background(), "*"))
}

func TestFingerprintIsStable(t *testing.T) {
	a, err := Fingerprint("cp", map[string]int{"b": 2, "a": 1})
	require.NoError(t, err)
	b, err := Fingerprint("cp", map[string]int{"a": 1, "b": 2})
	require.NoError(t, err)
	c, err := Fingerprint("glpk", map[string]int{"a": 1, "b": 2})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}

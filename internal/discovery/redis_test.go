package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "edge-router/internal/common/errors"
	"edge-router/internal/routing"
)

func newTestRedisProvider(t *testing.T) (*RedisProvider, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	provider := NewRedisProvider(RedisConfig{Address: mr.Addr()}, nil)
	t.Cleanup(func() { _ = provider.Close() })

	return provider, mr
}

func seedDefinitions(t *testing.T, mr *miniredis.Miniredis) {
	t.Helper()
	require.NoError(t, mr.Set(redisRouteKeyPrefix+"live",
		`{"id":"live","host":"live.example.test","path_prefix":"/","service":"live","entrypoint":"web"}`))
	require.NoError(t, mr.Set(redisServiceKeyPrefix+"live",
		`{"backends":[{"address":"10.0.0.1:8069","weight":1}]}`))
}

// Construction never dials; an unreachable Redis is a watch-time error so
// the watcher's backoff loop owns the retry instead of startup failing.
func TestRedisProviderUnreachableFailsOnWatchNotConstruction(t *testing.T) {
	provider := NewRedisProvider(RedisConfig{Address: "127.0.0.1:1"}, nil)
	t.Cleanup(func() { _ = provider.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events := make(chan routing.Event, 16)
	err := provider.Watch(ctx, events)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeDiscovery))
}

func TestRedisProviderLoad(t *testing.T) {
	provider, mr := newTestRedisProvider(t)
	seedDefinitions(t, mr)

	defs, err := provider.load(context.Background())
	require.NoError(t, err)

	require.Len(t, defs.Routes, 1)
	assert.Equal(t, "live", defs.Routes[0].ID)
	assert.Equal(t, "live.example.test", defs.Routes[0].Host)

	require.Contains(t, defs.Services, "live")
	require.Len(t, defs.Services["live"].Backends, 1)
	assert.Equal(t, "10.0.0.1:8069", defs.Services["live"].Backends[0].Address)
}

func TestRedisProviderLoadSkipsUndecodableEntries(t *testing.T) {
	provider, mr := newTestRedisProvider(t)
	seedDefinitions(t, mr)
	require.NoError(t, mr.Set(redisRouteKeyPrefix+"broken", "not json"))
	require.NoError(t, mr.Set(redisServiceKeyPrefix+"broken", "{"))

	defs, err := provider.load(context.Background())
	require.NoError(t, err)

	assert.Len(t, defs.Routes, 1)
	assert.Len(t, defs.Services, 1)
}

func TestRedisProviderLoadFillsIDFromKey(t *testing.T) {
	provider, mr := newTestRedisProvider(t)
	require.NoError(t, mr.Set(redisRouteKeyPrefix+"demo",
		`{"host":"demo.example.test","service":"demo"}`))

	defs, err := provider.load(context.Background())
	require.NoError(t, err)

	require.Len(t, defs.Routes, 1)
	assert.Equal(t, "demo", defs.Routes[0].ID)
}

func TestRedisProviderWatch(t *testing.T) {
	provider, mr := newTestRedisProvider(t)
	seedDefinitions(t, mr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan routing.Event)
	go func() { _ = provider.Watch(ctx, events) }()

	// Initial scan emits the seeded definitions as adds.
	got := collectEvents(t, events, 2)
	for _, ev := range got {
		assert.Equal(t, routing.EventAdd, ev.Type)
		assert.NoError(t, ev.Validate())
	}

	// A change tick triggers a re-scan that emits the delta.
	require.NoError(t, mr.Set(redisServiceKeyPrefix+"live",
		`{"backends":[{"address":"10.0.0.1:8069","weight":1},{"address":"10.0.0.2:8069","weight":1}]}`))
	mr.Publish(redisEventsChannel, "changed")

	got = collectEvents(t, events, 1)
	assert.Equal(t, routing.EventAdd, got[0].Type)
	require.NotNil(t, got[0].Backend)
	assert.Equal(t, "10.0.0.2:8069", got[0].Backend.Address)

	// Deleting a route emits a remove on the next tick.
	mr.Del(redisRouteKeyPrefix + "live")
	mr.Publish(redisEventsChannel, "changed")

	got = collectEvents(t, events, 1)
	assert.Equal(t, routing.EventRemove, got[0].Type)
	require.NotNil(t, got[0].Route)
	assert.Equal(t, "live", got[0].Route.ID)
}

func TestRedisProviderWatchStopsOnCancel(t *testing.T) {
	provider, _ := newTestRedisProvider(t)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan routing.Event, 16)
	done := make(chan error, 1)
	go func() { done <- provider.Watch(ctx, events) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop on context cancel")
	}
}

package balancer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edge-router/internal/routing"
)

func targetSet(healths ...routing.HealthState) []routing.Backend {
	targets := make([]routing.Backend, len(healths))
	for i, h := range healths {
		targets[i] = routing.Backend{
			Address: string(rune('a'+i)) + ".svc:8080",
			Weight:  1,
			Health:  h,
		}
	}
	return targets
}

func TestNew(t *testing.T) {
	t.Run("round robin", func(t *testing.T) {
		b, err := New(StrategyRoundRobin)
		require.NoError(t, err)
		assert.IsType(t, &RoundRobin{}, b)
	})

	t.Run("least connections", func(t *testing.T) {
		b, err := New(StrategyLeastConnections)
		require.NoError(t, err)
		assert.IsType(t, &LeastConnections{}, b)
	})

	t.Run("empty defaults to round robin", func(t *testing.T) {
		b, err := New("")
		require.NoError(t, err)
		assert.IsType(t, &RoundRobin{}, b)
	})

	t.Run("unknown strategy", func(t *testing.T) {
		_, err := New("magic")
		assert.ErrorIs(t, err, ErrUnsupportedStrategy)
	})
}

func TestRoundRobinVisitsEachOncePerCycle(t *testing.T) {
	rr := NewRoundRobin()
	targets := targetSet(routing.HealthHealthy, routing.HealthHealthy, routing.HealthHealthy)

	seen := make(map[string]int)
	for i := 0; i < len(targets); i++ {
		b, err := rr.Select(targets)
		require.NoError(t, err)
		seen[b.Address]++
	}

	require.Len(t, seen, len(targets))
	for addr, n := range seen {
		assert.Equal(t, 1, n, "backend %s selected %d times in one cycle", addr, n)
	}
}

func TestRoundRobinSkipsUnhealthy(t *testing.T) {
	rr := NewRoundRobin()
	targets := targetSet(routing.HealthHealthy, routing.HealthUnhealthy, routing.HealthHealthy)

	for i := 0; i < 10; i++ {
		b, err := rr.Select(targets)
		require.NoError(t, err)
		assert.NotEqual(t, targets[1].Address, b.Address)
	}
}

func TestRoundRobinTreatsUnknownAsEligible(t *testing.T) {
	rr := NewRoundRobin()
	targets := targetSet(routing.HealthUnknown)

	b, err := rr.Select(targets)
	require.NoError(t, err)
	assert.Equal(t, targets[0].Address, b.Address)
}

func TestRoundRobinNoHealthyBackend(t *testing.T) {
	rr := NewRoundRobin()
	targets := targetSet(routing.HealthUnhealthy, routing.HealthUnhealthy)

	_, err := rr.Select(targets)
	assert.ErrorIs(t, err, ErrNoHealthyBackend)

	// Marking one healthy again makes it the only selectable instance.
	targets[1].Health = routing.HealthHealthy
	for i := 0; i < 5; i++ {
		b, err := rr.Select(targets)
		require.NoError(t, err)
		assert.Equal(t, targets[1].Address, b.Address)
	}
}

func TestRoundRobinConcurrentCallers(t *testing.T) {
	rr := NewRoundRobin()
	targets := targetSet(routing.HealthHealthy, routing.HealthHealthy, routing.HealthHealthy, routing.HealthHealthy)

	const callers = 8
	const perCaller = 100 // callers*perCaller is a multiple of len(targets)

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perCaller; j++ {
				b, err := rr.Select(targets)
				assert.NoError(t, err)
				mu.Lock()
				seen[b.Address]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// The atomic cursor hands out every value exactly once, so the
	// distribution is exactly even.
	for addr, n := range seen {
		assert.Equal(t, callers*perCaller/len(targets), n, "backend %s", addr)
	}
}

func TestLeastConnectionsPrefersIdleInstance(t *testing.T) {
	lc := NewLeastConnections()
	targets := targetSet(routing.HealthHealthy, routing.HealthHealthy)

	first, err := lc.Select(targets)
	require.NoError(t, err)

	// The first instance now has one in-flight request; the second must
	// win until it is released.
	second, err := lc.Select(targets)
	require.NoError(t, err)
	assert.NotEqual(t, first.Address, second.Address)

	third, err := lc.Select(targets)
	require.NoError(t, err)

	lc.Done(first)
	lc.Done(second)
	lc.Done(third)
}

func TestLeastConnectionsReleasesOnDone(t *testing.T) {
	lc := NewLeastConnections()
	targets := targetSet(routing.HealthHealthy, routing.HealthHealthy)

	a, err := lc.Select(targets)
	require.NoError(t, err)
	lc.Done(a)

	// With both instances idle again, ties rotate round-robin.
	seen := make(map[string]bool)
	for i := 0; i < 2; i++ {
		b, err := lc.Select(targets)
		require.NoError(t, err)
		seen[b.Address] = true
		lc.Done(b)
	}
	assert.Len(t, seen, 2)
}

func TestLeastConnectionsSkipsUnhealthy(t *testing.T) {
	lc := NewLeastConnections()
	targets := targetSet(routing.HealthHealthy, routing.HealthUnhealthy)

	for i := 0; i < 5; i++ {
		b, err := lc.Select(targets)
		require.NoError(t, err)
		assert.Equal(t, targets[0].Address, b.Address)
		lc.Done(b)
	}
}

func TestLeastConnectionsNoHealthyBackend(t *testing.T) {
	lc := NewLeastConnections()

	_, err := lc.Select(targetSet(routing.HealthUnhealthy))
	assert.ErrorIs(t, err, ErrNoHealthyBackend)

	_, err = lc.Select(nil)
	assert.ErrorIs(t, err, ErrNoHealthyBackend)
}

func TestLeastConnectionsDoneWithNil(t *testing.T) {
	lc := NewLeastConnections()
	assert.NotPanics(t, func() { lc.Done(nil) })
}

// Package health probes backend instances and feeds eligibility changes
// back into the route table.
//
// Probes are plain HTTP GETs against a configurable path; any 2xx or 3xx
// response within the timeout passes. An instance becomes unhealthy after a
// configurable number of consecutive failures and healthy again after a
// single success. State transitions go through the same copy-on-write
// rebuild path as discovery events, so request handlers always observe a
// consistent snapshot.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"edge-router/internal/common/logging"
	"edge-router/internal/metrics"
	"edge-router/internal/routing"
)

// Config holds health checker settings.
type Config struct {
	Interval         time.Duration // time between probe cycles
	Timeout          time.Duration // per-probe timeout
	Path             string        // probe path, e.g. "/health"
	FailureThreshold int           // consecutive failures before unhealthy
}

// DefaultConfig returns the default probe settings. The 30s interval and
// threshold of 3 mirror the conventional container health check defaults.
func DefaultConfig() Config {
	return Config{
		Interval:         30 * time.Second,
		Timeout:          5 * time.Second,
		Path:             "/",
		FailureThreshold: 3,
	}
}

// Checker periodically probes every backend instance known to the route
// table.
type Checker struct {
	table  *routing.Table
	config Config
	client *http.Client
	logger logging.Logger

	mu       sync.Mutex
	failures map[string]int // backend address -> consecutive probe failures
}

// NewChecker creates a health checker over the given table.
func NewChecker(table *routing.Table, config Config, logger logging.Logger) *Checker {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Path == "" {
		config.Path = "/"
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Checker{
		table:  table,
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				// A redirect already proves liveness.
				return http.ErrUseLastResponse
			},
		},
		logger:   logger,
		failures: make(map[string]int),
	}
}

// Run probes all known instances at the configured interval until ctx is
// canceled.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs a single probe cycle over the current snapshot and applies
// any eligibility transitions to the table.
func (c *Checker) CheckOnce(ctx context.Context) {
	snapshot := c.table.Current()

	type result struct {
		service string
		backend routing.Backend
		passed  bool
	}

	var wg sync.WaitGroup
	results := make(chan result)

	probed := make(map[string]struct{})
	for _, service := range snapshot.Services() {
		for _, backend := range snapshot.Backends(service) {
			probed[backend.Address] = struct{}{}
			wg.Add(1)
			go func(service string, backend routing.Backend) {
				defer wg.Done()
				passed := c.probe(ctx, backend.Address)
				select {
				case results <- result{service, backend, passed}:
				case <-ctx.Done():
				}
			}(service, backend)
		}
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	events := make([]routing.Event, 0)
	eligible := make(map[string]int)

	for res := range results {
		outcome := "pass"
		if !res.passed {
			outcome = "fail"
		}
		metrics.HealthProbesTotal.WithLabelValues(res.service, outcome).Inc()

		if next, changed := c.transition(res.backend, res.passed); changed {
			updated := res.backend
			updated.Health = next
			events = append(events, routing.Event{
				Type:      routing.EventUpdate,
				Service:   res.service,
				Backend:   &updated,
				Timestamp: time.Now(),
			})
			c.logger.Info("Backend health changed",
				logging.Field{Key: "service", Value: res.service},
				logging.Field{Key: "backend", Value: res.backend.Address},
				logging.Field{Key: "health", Value: next.String()},
			)
			if next != routing.HealthUnhealthy {
				eligible[res.service]++
			}
		} else if res.backend.Eligible() {
			eligible[res.service]++
		}
	}

	for _, service := range snapshot.Services() {
		metrics.HealthyBackends.WithLabelValues(service).Set(float64(eligible[service]))
	}

	// Instances withdrawn by discovery must not pin failure counters
	// forever under churn.
	c.mu.Lock()
	for address := range c.failures {
		if _, ok := probed[address]; !ok {
			delete(c.failures, address)
		}
	}
	c.mu.Unlock()

	if len(events) > 0 {
		updated := c.table.Rebuild(events)
		metrics.SnapshotRevision.Set(float64(updated.Revision()))
	}
}

// transition updates the consecutive-failure count for an instance and
// returns its new health state when it changes.
func (c *Checker) transition(backend routing.Backend, passed bool) (routing.HealthState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if passed {
		c.failures[backend.Address] = 0
		if backend.Health != routing.HealthHealthy {
			return routing.HealthHealthy, true
		}
		return backend.Health, false
	}

	c.failures[backend.Address]++
	if c.failures[backend.Address] >= c.config.FailureThreshold && backend.Health != routing.HealthUnhealthy {
		return routing.HealthUnhealthy, true
	}
	return backend.Health, false
}

// probe issues one liveness probe; any 2xx or 3xx response within the
// timeout passes.
func (c *Checker) probe(ctx context.Context, address string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s%s", address, c.config.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

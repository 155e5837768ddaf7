package discovery

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"

	"edge-router/internal/common/logging"
	"edge-router/internal/metrics"
	"edge-router/internal/routing"
)

// Backoff bounds for provider restarts.
const (
	restartBaseInterval = 1 * time.Second
	restartMaxInterval  = 30 * time.Second
	restartJitter       = 0.2
)

// Watcher drives a discovery provider and applies its events to the route
// table. Provider failures are retried with exponential backoff and never
// terminate the watcher; malformed events are dropped with a diagnostic
// before they can reach the table.
type Watcher struct {
	provider Provider
	table    *routing.Table
	logger   logging.Logger
}

// NewWatcher creates a watcher for the given provider and table.
func NewWatcher(provider Provider, table *routing.Table, logger logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Watcher{
		provider: provider,
		table:    table,
		logger:   logger.WithFields(logging.Field{Key: "provider", Value: provider.Name()}),
	}
}

// Run watches the provider until ctx is canceled. It restarts the provider
// after source failures with exponential backoff (base 1s, cap 30s, ±20%
// jitter) and resets the backoff once a watch session survives past the
// cap.
func (w *Watcher) Run(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = restartBaseInterval
	policy.MaxInterval = restartMaxInterval
	policy.RandomizationFactor = restartJitter
	policy.MaxElapsedTime = 0 // retry forever

	events := make(chan routing.Event)
	go w.apply(ctx, events)

	for {
		started := time.Now()
		err := w.provider.Watch(ctx, events)
		if ctx.Err() != nil {
			return
		}

		if time.Since(started) > restartMaxInterval {
			policy.Reset()
		}
		delay := policy.NextBackOff()

		metrics.DiscoveryRestartsTotal.WithLabelValues(w.provider.Name()).Inc()
		w.logger.Warn("Discovery source unavailable, retrying",
			logging.Field{Key: "error", Value: errString(err)},
			logging.Field{Key: "retry_in", Value: delay.String()},
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// apply consumes events from the provider, drops malformed ones, and
// rebuilds the table.
func (w *Watcher) apply(ctx context.Context, events <-chan routing.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if ev.Timestamp.IsZero() {
				ev.Timestamp = time.Now()
			}
			if err := ev.Validate(); err != nil {
				metrics.DiscoveryEventsTotal.WithLabelValues(w.provider.Name(), "dropped").Inc()
				w.logger.Warn("Dropping malformed discovery event",
					logging.Field{Key: "error", Value: err.Error()},
					logging.Field{Key: "type", Value: ev.Type.String()},
				)
				continue
			}

			snapshot := w.table.Rebuild([]routing.Event{ev})
			metrics.DiscoveryEventsTotal.WithLabelValues(w.provider.Name(), "applied").Inc()
			metrics.SnapshotRevision.Set(float64(snapshot.Revision()))

			w.logger.Debug("Applied discovery event",
				logging.Field{Key: "type", Value: ev.Type.String()},
				logging.Field{Key: "revision", Value: snapshot.Revision()},
			)
		}
	}
}

func errString(err error) string {
	if err == nil {
		return "source closed"
	}
	return err.Error()
}

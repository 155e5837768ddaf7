// Package metrics exposes Prometheus collectors for the edge router.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts dispatched requests by entrypoint, route and
	// status class. Rejected requests carry the reserved route "none".
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_router_requests_total",
		Help: "Requests dispatched, by entrypoint, route and status class.",
	}, []string{"entrypoint", "route", "status"})

	// UpstreamLatency observes time spent waiting on the backend.
	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edge_router_upstream_latency_seconds",
		Help:    "Backend round-trip latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"service"})

	// RetriesTotal counts failover retries against a second instance.
	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_router_retries_total",
		Help: "Backend failover retries, by service.",
	}, []string{"service"})

	// DiscoveryEventsTotal counts discovery events by provider and outcome
	// (applied or dropped).
	DiscoveryEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_router_discovery_events_total",
		Help: "Discovery events received, by provider and outcome.",
	}, []string{"provider", "outcome"})

	// DiscoveryRestartsTotal counts provider watch restarts.
	DiscoveryRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_router_discovery_restarts_total",
		Help: "Discovery provider restarts after source failures.",
	}, []string{"provider"})

	// HealthyBackends tracks eligible instances per service.
	HealthyBackends = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "edge_router_healthy_backends",
		Help: "Backend instances currently eligible for selection, by service.",
	}, []string{"service"})

	// SnapshotRevision tracks the published route table revision.
	SnapshotRevision = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edge_router_snapshot_revision",
		Help: "Revision of the currently published route table snapshot.",
	})

	// HealthProbesTotal counts health probes by service and result.
	HealthProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_router_health_probes_total",
		Help: "Health probes issued, by service and result.",
	}, []string{"service", "result"})
)

// Package metrics exposes the enforcer's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Decisions counts authorization checks by outcome, ok or denied.
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "enforcer",
		Name:      "decisions_total",
		Help:      "Authorization check decisions by outcome.",
	}, []string{"outcome"})

	// TokenCacheHits counts token cache hits by cache, valid or invalid.
	TokenCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "enforcer",
		Name:      "token_cache_hits_total",
		Help:      "Token cache hits by cache.",
	}, []string{"cache"})

	// ThrottleDenials counts throttle denials by level.
	ThrottleDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "enforcer",
		Name:      "throttle_denials_total",
		Help:      "Throttled requests by throttling level.",
	}, []string{"level"})

	// EventsDropped counts usage events dropped before publishing.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "enforcer",
		Subsystem: "publisher",
		Name:      "events_dropped_total",
		Help:      "Usage events dropped by reason.",
	}, []string{"reason"})

	// EventsPublished counts usage events delivered to a receiver.
	EventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "enforcer",
		Subsystem: "publisher",
		Name:      "events_published_total",
		Help:      "Usage events delivered to the traffic manager.",
	})

	// PoolConnections tracks open receiver connections per pool.
	PoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "enforcer",
		Subsystem: "publisher",
		Name:      "pool_connections",
		Help:      "Open receiver connections per pool.",
	}, []string{"receiver"})
)

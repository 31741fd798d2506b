// Package cache is the read-through, write-back layer between the
// presentation layer, the local store and the restaurant backend.
//
// Reads are served from the store whenever it holds data and fall back to
// the backend otherwise, writing fetched rows back in the background. Local
// read failures degrade to the backend and are never surfaced. Writes which
// cannot reach the backend are queued for replay rather than failed.
package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	readsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restokitt_cache_reads_total",
		Help: "Cumulative number of entity reads, by entity and source (local, network, miss).",
	}, []string{"entity", "source"})
	writeBacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restokitt_cache_write_backs_total",
		Help: "Cumulative number of background write-backs, by entity and status.",
	}, []string{"entity", "status"})
	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restokitt_cache_writes_total",
		Help: "Cumulative number of user writes, by kind and outcome.",
	}, []string{"kind", "outcome"})
)

const (
	sourceLocal   = "local"
	sourceNetwork = "network"
	sourceMiss    = "miss"
)

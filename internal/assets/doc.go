// Package assets serves static assets and restaurant images from named,
// versioned caches held in a hackpadfs.FS, falling back to the network.
//
// An Interceptor applies, in order: the image rule (canonicalized image
// cache, placeholder on failure), the app shell rule (shell documents only
// ever come from the primary cache) and cache-first with network fallback
// for everything else. Install fills the primary cache from a manifest and
// Activate drops cache generations which are no longer current.
package assets

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restokitt_assets_requests_total",
		Help: "Cumulative number of intercepted requests, by rule and result (hit, miss, fallback, error).",
	}, []string{"rule", "result"})
	hotHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "restokitt_assets_hot_hits_total",
		Help: "Cumulative number of cache matches served from memory.",
	})
)

const (
	ruleImage = "image"
	ruleShell = "shell"
	ruleOther = "other"

	resultHit      = "hit"
	resultMiss     = "miss"
	resultFallback = "fallback"
	resultError    = "error"
)

// Package gateway performs HTTP requests against the restaurant backend and
// normalizes their failures. A request that cannot complete at all yields a
// *NetworkError; a completed request with a non-2xx status yields an
// *HTTPError from FetchJSON. The gateway never retries.
package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restokitt_gateway_requests_total",
		Help: "Cumulative number of backend requests, by method and outcome.",
	}, []string{"method", "outcome"})
)

const (
	outcomeOK      = "ok"
	outcomeStatus  = "status"
	outcomeNetwork = "network"
)

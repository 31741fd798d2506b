// Package queue is a durable FIFO of outbound mutations which could not be
// delivered, replayed in submission order when connectivity returns.
//
// An entry is deleted before it is sent and re-appended if the send fails
// or is rejected. A send that reached the backend but whose response was
// lost is therefore sent again by a later drain, so replay is at-least-once
// with respect to the backend. A crash after the delete commits but before
// a failed entry is re-appended loses that entry; cancellation does not, as
// the delete and re-append ignore it.
package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restokitt_queue_mutations_total",
		Help: "Cumulative number of queued mutation transitions, by resulting state.",
	}, []string{"state"})
	drainsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "restokitt_queue_drains_total",
		Help: "Cumulative number of queue drains.",
	})
	pendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "restokitt_queue_pending",
		Help: "Number of mutations pending after the last enqueue or drain.",
	})
)

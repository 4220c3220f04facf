// Package metrics exposes process-level Prometheus counters. These are
// write-only from the simulation's point of view: results are derived from
// the in-simulation collector, never from these counters, so determinism
// is unaffected.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blobsim_runs_executed_total",
		Help: "Number of simulation runs executed by this process",
	})

	EventsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blobsim_events_dispatched_total",
		Help: "Number of kernel events dispatched",
	})

	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blobsim_messages_delivered_total",
		Help: "Number of network messages delivered",
	})

	BytesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blobsim_bytes_delivered_total",
		Help: "Accounted bytes of all delivered network messages",
	})
)

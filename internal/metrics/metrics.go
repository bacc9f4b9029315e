// Package metrics exposes the pipeline's prometheus counters and an
// optional /metrics listener.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FilingsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "filingwatch",
		Name:      "filings_fetched_total",
		Help:      "Filings returned by the source detail endpoint",
	})
	EventsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filingwatch",
		Name:      "events_detected_total",
		Help:      "Change events emitted by the detector",
	}, []string{"kind"})
	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filingwatch",
		Name:      "fetch_errors_total",
		Help:      "Classified source call failures",
	}, []string{"kind"})
	Enqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "filingwatch",
		Name:      "notifications_enqueued_total",
		Help:      "Queue entries actually inserted (conflicts excluded)",
	})
	Dispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filingwatch",
		Name:      "notifications_dispatched_total",
		Help:      "Dispatcher outcomes by final status",
	}, []string{"status"})
	PersistentFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "filingwatch",
		Name:      "persistent_failures_total",
		Help:      "Items that exhausted every retry pass",
	})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

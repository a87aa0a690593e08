package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	BidsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_bids_total",
			Help: "Bids processed by result",
		},
		[]string{"result"}, // accepted|outbid|rejected|retryable
	)

	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_settlements_total",
			Help: "Settlement attempts by outcome",
		},
		[]string{"outcome"}, // sold|expired|already_settled|not_yet_ended|missing
	)

	JobRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auction_job_retries_total",
			Help: "Background jobs re-queued after a failed attempt",
		},
	)

	JobFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auction_job_failures_total",
			Help: "Background jobs that exhausted their retry budget",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "auction_job_queue_depth",
			Help: "Jobs currently buffered in the queue",
		},
	)
)

var registerOnce sync.Once

// Init registers all collectors. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(BidsTotal)
		prometheus.MustRegister(SettlementsTotal)
		prometheus.MustRegister(JobRetriesTotal)
		prometheus.MustRegister(JobFailuresTotal)
		prometheus.MustRegister(QueueDepth)
	})
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	voteRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fairvote_vote_requests_total",
		Help: "Vote submissions received, labeled by outcome",
	}, []string{"status"})

	publishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fairvote_publishes_total",
		Help: "Publish operations, labeled by tally path (running or recount)",
	}, []string{"path"})

	recountDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fairvote_recount_duration_seconds",
		Help:    "Time to recompute a tally from the ballot log",
		Buckets: prometheus.DefBuckets,
	})
)

func ObserveVoteRequest(status string) {
	voteRequestsTotal.WithLabelValues(status).Inc()
}

func IncPublish(path string) {
	publishesTotal.WithLabelValues(path).Inc()
}

func ObserveRecountDuration(seconds float64) {
	recountDuration.Observe(seconds)
}

package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	expiredFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_expired_bookings_total",
		Help: "Expired INITIATED bookings found by reconciliation scans.",
	})

	releasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_releases_total",
		Help: "Release-on-timeout outcomes grouped by result.",
	}, []string{"result"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reconciler_run_seconds",
		Help:    "Duration of reconciliation runs that found expired bookings.",
		Buckets: prometheus.DefBuckets,
	})
)

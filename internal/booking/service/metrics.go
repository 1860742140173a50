package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_transitions_total",
		Help: "Booking transitions grouped by transition and outcome.",
	}, []string{"transition", "result"})

	conflictRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_write_conflict_retries_total",
		Help: "Optimistic write conflicts that triggered a re-read retry.",
	}, []string{"transition"})
)

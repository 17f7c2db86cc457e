package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnswersScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "battleroyale",
		Name:      "answers_scored_total",
		Help:      "Answers scored, labeled by correctness.",
	}, []string{"result"})

	RoundsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "battleroyale",
		Name:      "rounds_processed_total",
		Help:      "Elimination rounds processed.",
	})

	Eliminations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "battleroyale",
		Name:      "eliminations_total",
		Help:      "Participants eliminated, labeled by cause (round or forced).",
	}, []string{"cause"})

	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "battleroyale",
		Name:      "notification_failures_total",
		Help:      "Notification publishes that failed. State is never rolled back for these.",
	})
)

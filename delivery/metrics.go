package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "organizer",
		Subsystem: "delivery",
		Name:      "runs_total",
		Help:      "Delivery runs by result.",
	}, []string{"result"})

	remindersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "organizer",
		Subsystem: "delivery",
		Name:      "reminders_total",
		Help:      "Due reminders by delivery outcome.",
	}, []string{"outcome"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "organizer",
		Subsystem: "delivery",
		Name:      "run_duration_seconds",
		Help:      "Duration of delivery runs.",
		Buckets:   prometheus.DefBuckets,
	})

	broadcastMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "organizer",
		Subsystem: "broadcast",
		Name:      "messages_total",
		Help:      "Broadcast messages by result.",
	}, []string{"result"})
)

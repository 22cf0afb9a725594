package call

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "peercall",
		Subsystem: "call",
		Name:      "started_total",
		Help:      "Calls started, by local role.",
	}, []string{"role"})

	callOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "peercall",
		Subsystem: "call",
		Name:      "outcomes_total",
		Help:      "Calls finished, by outcome.",
	}, []string{"outcome"})

	activeCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "peercall",
		Subsystem: "call",
		Name:      "active",
		Help:      "Calls currently active on this client.",
	})

	callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "peercall",
		Subsystem: "call",
		Name:      "duration_seconds",
		Help:      "Duration of calls ended locally.",
		Buckets:   prometheus.ExponentialBuckets(5, 2, 10),
	})

	negotiationTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "peercall",
		Subsystem: "negotiation",
		Name:      "transitions_total",
		Help:      "Negotiation state transitions.",
	}, []string{"from", "to"})

	candidateEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "peercall",
		Subsystem: "negotiation",
		Name:      "candidates_total",
		Help:      "Network candidates handled, by result.",
	}, []string{"result"})
)

const (
	outcomeEnded      = "ended"
	outcomeDeclined   = "declined"
	outcomeMissed     = "missed"
	outcomeRemoteEnd  = "remote_end"
	outcomeFailed     = "failed"
	outcomeMediaError = "media_error"
	outcomeSuperseded = "superseded"
)

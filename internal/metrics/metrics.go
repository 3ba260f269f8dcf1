// Package metrics exposes the engine's Prometheus counters.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prenotabot",
			Name:      "turns_total",
			Help:      "Count of handled conversation turns by shop.",
		},
		[]string{"shop"},
	)

	bookingsConfirmed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prenotabot",
			Name:      "bookings_confirmed_total",
			Help:      "Count of confirmed bookings by shop.",
		},
		[]string{"shop"},
	)

	capacityConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "prenotabot",
			Name:      "capacity_conflicts_total",
			Help:      "Count of slots lost between offer and confirmation.",
		},
	)

	webhookRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prenotabot",
			Name:      "webhook_rejected_total",
			Help:      "Count of rejected webhook deliveries by reason.",
		},
		[]string{"reason"},
	)

	dedupHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "prenotabot",
			Name:      "dedup_hits_total",
			Help:      "Count of redelivered messages dropped by the dedup cache.",
		},
	)

	externalErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prenotabot",
			Name:      "external_errors_total",
			Help:      "Count of collaborator failures by collaborator.",
		},
		[]string{"collaborator"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(turns, bookingsConfirmed, capacityConflicts,
			webhookRejected, dedupHits, externalErrors)
	})
}

func IncTurn(shop string) { turns.WithLabelValues(shop).Inc() }

func IncBookingConfirmed(shop string) { bookingsConfirmed.WithLabelValues(shop).Inc() }

func IncCapacityConflict() { capacityConflicts.Inc() }

func IncWebhookRejected(reason string) { webhookRejected.WithLabelValues(reason).Inc() }

func IncDedupHit() { dedupHits.Inc() }

func IncExternalError(collaborator string) { externalErrors.WithLabelValues(collaborator).Inc() }
